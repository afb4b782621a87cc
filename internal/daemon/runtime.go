package daemon

import (
	"git.home.luguber.info/inful/edged/internal/api"
	"git.home.luguber.info/inful/edged/internal/deployment"
	"git.home.luguber.info/inful/edged/internal/model"
)

// The daemon is the api.Runtime: handlers talk to subsystems through it.

func (d *Daemon) SubmitDeployment(doc model.DeploymentDocument) (string, error) {
	return d.rec.Submit(doc)
}

func (d *Daemon) DeploymentStatus(id string) (deployment.Status, bool) {
	return d.tracker.Get(id)
}

func (d *Daemon) Deployments() []deployment.Status {
	return d.tracker.List()
}

func (d *Daemon) ComponentStates() map[string]model.State {
	return d.orch.States()
}

func (d *Daemon) ComponentDetail(name string) (api.ComponentDetail, error) {
	return api.OrchestratorDetail(d.orch)(name)
}

func (d *Daemon) ReportState(name string, state model.State) error {
	return d.orch.ReportState(name, state)
}

// Healthy reports liveness: degraded only when a component the device needs
// is BROKEN.
func (d *Daemon) Healthy() bool {
	for _, st := range d.orch.States() {
		if st == model.StateBroken {
			return false
		}
	}
	return true
}
