package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyComponent    = "component"
	KeyVersion      = "version"
	KeyState        = "state"
	KeyOldState     = "old_state"
	KeyNewState     = "new_state"
	KeyDeploymentID = "deployment_id"
	KeyTaskID       = "task_id"
	KeyStep         = "step"
	KeyStage        = "stage"
	KeyRetry        = "retry"
	KeyExitCode     = "exit_code"
	KeyDurationMS   = "duration_ms"
	KeyDependency   = "dependency"
	KeyPath         = "path"
	KeyError        = "error"
	KeyMethod       = "method"
	KeyStatus       = "status"
	KeyRemoteAddr   = "remote_addr"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Component(name string) slog.Attr   { return slog.String(KeyComponent, name) }
func Version(v string) slog.Attr        { return slog.String(KeyVersion, v) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func OldState(s string) slog.Attr       { return slog.String(KeyOldState, s) }
func NewState(s string) slog.Attr       { return slog.String(KeyNewState, s) }
func DeploymentID(id string) slog.Attr  { return slog.String(KeyDeploymentID, id) }
func TaskID(id string) slog.Attr        { return slog.String(KeyTaskID, id) }
func Step(name string) slog.Attr        { return slog.String(KeyStep, name) }
func Stage(name string) slog.Attr       { return slog.String(KeyStage, name) }
func Retry(n int) slog.Attr             { return slog.Int(KeyRetry, n) }
func ExitCode(code int) slog.Attr       { return slog.Int(KeyExitCode, code) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Dependency(name string) slog.Attr  { return slog.String(KeyDependency, name) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Method(m string) slog.Attr         { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr         { return slog.Int(KeyStatus, code) }
func RemoteAddr(addr string) slog.Attr  { return slog.String(KeyRemoteAddr, addr) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
