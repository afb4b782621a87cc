package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
	"git.home.luguber.info/inful/edged/internal/runner"
)

// Manager executes bootstrap task sequences, persisting progress around
// every step so the sequence can resume after a process or device restart.
type Manager struct {
	store   *TaskStore
	runner  runner.Runner
	workDir string
	// DefaultTimeout bounds tasks whose recipe omits a bootstrap timeout.
	DefaultTimeout time.Duration
}

// NewManager wires a bootstrap manager.
func NewManager(store *TaskStore, r runner.Runner, workDir string, defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = 120 * time.Second
	}
	return &Manager{store: store, runner: r, workDir: workDir, DefaultTimeout: defaultTimeout}
}

// PlanTasks builds the persisted task list for the components (in dependency
// order) whose change requires a bootstrap step.
func (m *Manager) PlanTasks(ctx context.Context, deploymentID string, defs []model.ComponentDefinition) ([]Task, error) {
	tasks := make([]Task, 0, len(defs))
	for i, def := range defs {
		step := def.Lifecycle.Bootstrap
		if step == nil {
			continue
		}
		tasks = append(tasks, Task{
			ID:           uuid.NewString(),
			DeploymentID: deploymentID,
			Seq:          i,
			Component:    def.Name,
			Command:      step.Script,
			Timeout:      step.Timeout(m.DefaultTimeout),
			Status:       TaskPending,
		})
	}
	if err := m.store.Put(ctx, deploymentID, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Run executes the persisted task sequence for a deployment from the first
// task not yet DONE. It returns a *RestartRequest when a task demands a
// restart; the caller persists the pending deployment and triggers it.
func (m *Manager) Run(ctx context.Context, deploymentID string) (*RestartRequest, error) {
	tasks, err := m.store.Get(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if t.Status == TaskDone {
			continue
		}
		req, err := m.runTask(ctx, t)
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}
	}
	return nil, nil
}

// Resume is Run under its intended name for the post-restart path: tasks
// already DONE are skipped, and a task that was IN_PROGRESS when the process
// died is re-executed.
func (m *Manager) Resume(ctx context.Context, deploymentID string) (*RestartRequest, error) {
	slog.Info("resuming bootstrap sequence", logfields.DeploymentID(deploymentID))
	return m.Run(ctx, deploymentID)
}

func (m *Manager) runTask(ctx context.Context, t Task) (*RestartRequest, error) {
	if err := m.store.SetStatus(ctx, t.ID, TaskInProgress); err != nil {
		return nil, err
	}

	slog.Info("executing bootstrap task",
		logfields.DeploymentID(t.DeploymentID),
		logfields.TaskID(t.ID),
		logfields.Component(t.Component))

	res, err := m.runner.Execute(ctx, runner.Command{
		Script:     t.Command,
		WorkingDir: m.workDir,
		Timeout:    t.Timeout,
		Env: []string{
			"EDGED_COMPONENT_NAME=" + t.Component,
			"EDGED_DEPLOYMENT_ID=" + t.DeploymentID,
		},
	})
	if err != nil {
		return nil, errors.BootstrapFailure(err, t.Component)
	}

	switch {
	case res.TimedOut:
		return nil, errors.BootstrapFailure(fmt.Errorf("timed out after %s", t.Timeout), t.Component)
	case res.ExitCode == 0:
		return nil, m.store.SetStatus(ctx, t.ID, TaskDone)
	case res.ExitCode == exitCodeRebootDevice:
		if err := m.store.SetStatus(ctx, t.ID, TaskDone); err != nil {
			return nil, err
		}
		return &RestartRequest{Kind: RestartDevice, DeploymentID: t.DeploymentID, AfterTask: t.ID}, nil
	case res.ExitCode == exitCodeRestartProcess:
		if err := m.store.SetStatus(ctx, t.ID, TaskDone); err != nil {
			return nil, err
		}
		return &RestartRequest{Kind: RestartProcess, DeploymentID: t.DeploymentID, AfterTask: t.ID}, nil
	default:
		return nil, errors.BootstrapFailure(
			fmt.Errorf("exit code %d: %s", res.ExitCode, res.Stderr), t.Component)
	}
}

// Pending reports whether a deployment still has tasks to run.
func (m *Manager) Pending(ctx context.Context, deploymentID string) (bool, error) {
	tasks, err := m.store.Get(ctx, deploymentID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Status != TaskDone {
			return true, nil
		}
	}
	return false, nil
}

// Clear drops the persisted tasks once activation completed.
func (m *Manager) Clear(ctx context.Context, deploymentID string) error {
	return m.store.Clear(ctx, deploymentID)
}
