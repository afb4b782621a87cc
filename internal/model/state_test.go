package model

import "testing"

func TestStateReady(t *testing.T) {
	ready := []State{StateRunning, StateFinished}
	for _, s := range ready {
		if !s.Ready() {
			t.Errorf("%s should satisfy dependents", s)
		}
	}
	notReady := []State{StateNew, StateInstalled, StateStarting, StateStopping, StateErrored, StateBroken}
	for _, s := range notReady {
		if s.Ready() {
			t.Errorf("%s should not satisfy dependents", s)
		}
	}
}

func TestStateIsActive(t *testing.T) {
	for _, s := range []State{StateStarting, StateRunning, StateStopping} {
		if !s.IsActive() {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range []State{StateNew, StateInstalled, StateFinished, StateErrored, StateBroken} {
		if s.IsActive() {
			t.Errorf("%s should not be active", s)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	if !StateBroken.IsTerminal() {
		t.Error("BROKEN is terminal")
	}
	if StateErrored.IsTerminal() {
		t.Error("ERRORED is recoverable, not terminal")
	}
}

func TestTargetState(t *testing.T) {
	long := ComponentDefinition{Lifecycle: Lifecycle{Run: &Step{Script: "./svc"}}}
	if long.TargetState() != StateRunning {
		t.Errorf("long-running component targets RUNNING, got %s", long.TargetState())
	}
	installOnly := ComponentDefinition{Lifecycle: Lifecycle{Install: &Step{Script: "install.sh"}}}
	if installOnly.TargetState() != StateFinished {
		t.Errorf("install-only component targets FINISHED, got %s", installOnly.TargetState())
	}
}

func TestDependencyKindDefaultsHard(t *testing.T) {
	if (Dependency{}).Kind() != DependencyHard {
		t.Error("unset dependency type must default to HARD")
	}
	if (Dependency{Type: DependencySoft}).Kind() != DependencySoft {
		t.Error("SOFT must be preserved")
	}
}

func TestDeploymentDocumentPolicyDefault(t *testing.T) {
	if (DeploymentDocument{}).Policy() != PolicyDoNothing {
		t.Error("unset failure policy must default to DO_NOTHING")
	}
}
