// Package api exposes the daemon's local control surface over HTTP: submit
// deployments, inspect deployment and component status, and receive state
// self-reports from managed processes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/edged/internal/deployment"
	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
	"git.home.luguber.info/inful/edged/internal/orchestrator"
)

// Runtime is what the handlers need from the daemon.
type Runtime interface {
	SubmitDeployment(doc model.DeploymentDocument) (string, error)
	DeploymentStatus(id string) (deployment.Status, bool)
	Deployments() []deployment.Status
	ComponentStates() map[string]model.State
	ComponentDetail(name string) (ComponentDetail, error)
	ReportState(name string, state model.State) error
	Healthy() bool
}

// ComponentDetail is the component inspection payload.
type ComponentDetail struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	State   model.State `json:"state"`
	Kind    string      `json:"kind"`
	Retries int         `json:"retries"`
}

// Server is the local HTTP control endpoint. It binds loopback by default;
// authentication is left to network isolation on the device.
type Server struct {
	runtime Runtime
	srv     *http.Server
}

// NewServer wires routes. metricsHandler may be nil when metrics are
// disabled.
func NewServer(listen string, runtime Runtime, metricsHandler http.Handler) *Server {
	s := &Server{runtime: runtime}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/deployments", s.handleSubmitDeployment)
	mux.HandleFunc("GET /api/v1/deployments", s.handleListDeployments)
	mux.HandleFunc("GET /api/v1/deployments/{id}", s.handleGetDeployment)
	mux.HandleFunc("GET /api/v1/components", s.handleListComponents)
	mux.HandleFunc("GET /api/v1/components/{name}", s.handleGetComponent)
	mux.HandleFunc("POST /api/v1/components/{name}/state", s.handleReportState)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	s.srv = &http.Server{
		Addr:              listen,
		Handler:           chain(slog.Default(), mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the wired handler for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	slog.Info("control API listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("control API shutdown", logfields.Error(err))
		}
		return nil
	}
}

// OrchestratorDetail adapts the orchestrator into ComponentDetail lookups for
// daemon wiring.
func OrchestratorDetail(o *orchestrator.Orchestrator) func(name string) (ComponentDetail, error) {
	return func(name string) (ComponentDetail, error) {
		inst, err := o.Instance(name)
		if err != nil {
			return ComponentDetail{}, err
		}
		def := inst.Definition()
		return ComponentDetail{
			Name:    def.Name,
			Version: def.Version,
			State:   inst.State(),
			Kind:    string(def.KindOrDefault()),
			Retries: inst.Retries(),
		}, nil
	}
}
