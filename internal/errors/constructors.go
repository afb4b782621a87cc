package errors

import (
	"errors"
	"fmt"
	"strings"
)

// CyclicDependencyError reports that the component dependency graph could not
// be topologically ordered. Remaining lists the nodes that could not be
// ordered; at least one of them lies on a cycle.
type CyclicDependencyError struct {
	// Node is one component known to lie on a cycle (the lexicographically
	// smallest unordered node, so the message is deterministic).
	Node      string
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency involving %q (unordered: %s)",
		e.Node, strings.Join(e.Remaining, ", "))
}

// UnknownComponentError reports a lookup of a component the registry does not
// hold.
type UnknownComponentError struct {
	Name string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("unknown component %q", e.Name)
}

// ErrDeploymentRejected is returned by Submit when validation fails before
// any running-state mutation.
var ErrDeploymentRejected = errors.New("deployment rejected")

// ConfigError builds a validation-time configuration error.
func ConfigError(message string) *EdgedError {
	return New(CategoryConfig, SeverityFatal, message)
}

// RecipeError wraps a recipe resolution failure.
func RecipeError(err error, message string) *EdgedError {
	return Wrap(err, CategoryRecipe, SeverityFatal, message)
}

// StepFailure builds a retryable lifecycle step failure.
func StepFailure(err error, step string, exitCode int) *EdgedError {
	e := Retryable(CategoryLifecycle, SeverityError, fmt.Sprintf("%s step failed", step))
	e.Cause = err
	return e.WithContext("step", step).WithContext("exit_code", exitCode)
}

// DependencyFailure reports a HARD dependency that left its required state.
// It is not retryable against the dependent's own retry budget.
func DependencyFailure(dependent, dependency string) *EdgedError {
	return New(CategoryDependency, SeverityError,
		fmt.Sprintf("dependency %s of %s is unavailable", dependency, dependent)).
		WithContext("dependent", dependent).
		WithContext("dependency", dependency)
}

// BootstrapFailure wraps a bootstrap task failure. Non-retryable by default.
func BootstrapFailure(err error, component string) *EdgedError {
	return Wrap(err, CategoryBootstrap, SeverityFatal,
		fmt.Sprintf("bootstrap step for %s failed", component)).
		WithContext("component", component)
}

// DeploymentTimeout reports that the whole-activation deadline was exceeded.
func DeploymentTimeout(deploymentID string) *EdgedError {
	return New(CategoryDeployment, SeverityFatal, "deployment timed out").
		WithContext("deployment_id", deploymentID)
}
