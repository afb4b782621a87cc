package model

import "time"

// FailurePolicy controls what the reconciler does when an activation fails.
type FailurePolicy string

const (
	PolicyRollback  FailurePolicy = "ROLLBACK"
	PolicyDoNothing FailurePolicy = "DO_NOTHING"
)

// DeploymentStatus is the externally visible outcome of one activation.
type DeploymentStatus string

const (
	DeploymentInProgress        DeploymentStatus = "IN_PROGRESS"
	DeploymentSucceeded         DeploymentStatus = "SUCCEEDED"
	DeploymentFailed            DeploymentStatus = "FAILED"
	DeploymentRollbackSucceeded DeploymentStatus = "ROLLBACK_SUCCEEDED"
	DeploymentRollbackFailed    DeploymentStatus = "ROLLBACK_FAILED"
)

// DeploymentStage tracks where an activation is across process restarts.
type DeploymentStage string

const (
	StageDefault   DeploymentStage = "DEFAULT"
	StageBootstrap DeploymentStage = "BOOTSTRAP"
	StageRollback  DeploymentStage = "ROLLBACK"
)

// DeploymentDocument declares the desired component set for one
// reconciliation cycle. It is immutable once submitted; the reconciler
// retains the previously applied document as the rollback target.
type DeploymentDocument struct {
	ID        string    `yaml:"id" json:"id"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// RootComponents maps component name to a semver constraint.
	RootComponents map[string]string `yaml:"rootComponents" json:"rootComponents"`
	// ConfigOverrides maps component name to configuration overlaid on the
	// component's defaults at activation time.
	ConfigOverrides map[string]map[string]any `yaml:"configOverrides,omitempty" json:"configOverrides,omitempty"`
	FailurePolicy   FailurePolicy             `yaml:"failurePolicy,omitempty" json:"failurePolicy,omitempty"`
	// TimeoutSeconds bounds the whole activation; zero means the daemon
	// default.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// Policy returns the failure policy, defaulting to DO_NOTHING.
func (d DeploymentDocument) Policy() FailurePolicy {
	if d.FailurePolicy == PolicyRollback {
		return PolicyRollback
	}
	return PolicyDoNothing
}

// Timeout returns the activation deadline or fallback when unset.
func (d DeploymentDocument) Timeout(fallback time.Duration) time.Duration {
	if d.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}
