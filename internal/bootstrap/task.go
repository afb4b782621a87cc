// Package bootstrap sequences and persists the lifecycle steps that require
// a device-level restart to apply safely.
package bootstrap

import "time"

// TaskStatus tracks a bootstrap task across process and device restarts.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
)

// Task is one persisted bootstrap step. Tasks run in dependency order; a
// task interrupted while IN_PROGRESS is re-run on resume, so bootstrap
// commands must be safe to re-run or self-check their own effect (a contract
// on component authors, not enforced here).
type Task struct {
	ID           string        `json:"id"`
	DeploymentID string        `json:"deploymentId"`
	Seq          int           `json:"seq"`
	Component    string        `json:"component"`
	Command      string        `json:"command"`
	Timeout      time.Duration `json:"timeout"`
	Status       TaskStatus    `json:"status"`
}

// RestartKind distinguishes what a completed bootstrap step requested.
type RestartKind int

const (
	// RestartNone: continue with the next task.
	RestartNone RestartKind = iota
	// RestartProcess: the runtime process must restart (exit code 100).
	RestartProcess
	// RestartDevice: the device must reboot (exit code 101).
	RestartDevice
)

func (k RestartKind) String() string {
	switch k {
	case RestartProcess:
		return "process"
	case RestartDevice:
		return "device"
	default:
		return "none"
	}
}

// Bootstrap step exit codes carrying a restart request.
const (
	exitCodeRestartProcess = 100
	exitCodeRebootDevice   = 101
)

// RestartRequest reports that activation must pause for a restart and resume
// from persisted task state afterwards.
type RestartRequest struct {
	Kind         RestartKind
	DeploymentID string
	AfterTask    string
}

func (r *RestartRequest) Error() string {
	if r.Kind == RestartDevice {
		return "bootstrap requested device reboot"
	}
	return "bootstrap requested runtime restart"
}
