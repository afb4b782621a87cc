package model

import "time"

// DependencyType classifies how strongly a component depends on another.
type DependencyType string

const (
	// DependencyHard gates startup and forces dependents to stop when the
	// dependency leaves RUNNING.
	DependencyHard DependencyType = "HARD"
	// DependencySoft only influences ordering; it never gates or forces
	// transitions.
	DependencySoft DependencyType = "SOFT"
)

// ComponentKind distinguishes how a component participates in the runtime.
type ComponentKind string

const (
	// KindNucleus is the root-of-trust runtime component. Changing its
	// version always requires the bootstrap activation path.
	KindNucleus ComponentKind = "nucleus"
	KindPlugin  ComponentKind = "plugin"
	KindGeneric ComponentKind = "generic"
)

// Dependency is one entry in a component's ordered dependency list.
type Dependency struct {
	Name              string         `yaml:"name" json:"name"`
	Type              DependencyType `yaml:"type,omitempty" json:"type,omitempty"`
	VersionConstraint string         `yaml:"versionConstraint,omitempty" json:"versionConstraint,omitempty"`
}

// Kind returns the dependency type, defaulting to HARD when unset.
func (d Dependency) Kind() DependencyType {
	if d.Type == DependencySoft {
		return DependencySoft
	}
	return DependencyHard
}

// Step is a single lifecycle step command.
type Step struct {
	Script string `yaml:"script" json:"script"`
	// TimeoutSeconds bounds the step; zero means the per-step default.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"`
	// RequiresReport makes a long-lived run step wait for the managed
	// process to self-report readiness instead of being considered RUNNING
	// as soon as it is spawned.
	RequiresReport bool `yaml:"requiresReport,omitempty" json:"requiresReport,omitempty"`
}

// Timeout returns the configured timeout or fallback when unset.
func (s *Step) Timeout(fallback time.Duration) time.Duration {
	if s == nil || s.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Lifecycle holds the per-platform step commands of a component.
// Startup is a short script that exits 0 once the component is ready;
// Run is the long-lived process itself. A component declares at most one
// of the two.
type Lifecycle struct {
	Install   *Step `yaml:"install,omitempty" json:"install,omitempty"`
	Startup   *Step `yaml:"startup,omitempty" json:"startup,omitempty"`
	Run       *Step `yaml:"run,omitempty" json:"run,omitempty"`
	Shutdown  *Step `yaml:"shutdown,omitempty" json:"shutdown,omitempty"`
	Recover   *Step `yaml:"recover,omitempty" json:"recover,omitempty"`
	Bootstrap *Step `yaml:"bootstrap,omitempty" json:"bootstrap,omitempty"`
}

// ResourceLimits are best-effort limits applied to lifecycle steps.
type ResourceLimits struct {
	MemoryMB int     `yaml:"memoryMB,omitempty" json:"memoryMB,omitempty"`
	CPUs     float64 `yaml:"cpus,omitempty" json:"cpus,omitempty"`
}

// ComponentDefinition is the immutable definition of one component at one
// version, as loaded from its recipe for a given deployment.
type ComponentDefinition struct {
	Name          string         `yaml:"name" json:"name"`
	Version       string         `yaml:"version" json:"version"`
	Kind          ComponentKind  `yaml:"kind,omitempty" json:"kind,omitempty"`
	Dependencies  []Dependency   `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Lifecycle     Lifecycle      `yaml:"lifecycle" json:"lifecycle"`
	DefaultConfig map[string]any `yaml:"defaultConfig,omitempty" json:"defaultConfig,omitempty"`
	RunAs         string         `yaml:"runAs,omitempty" json:"runAs,omitempty"`
	Limits        ResourceLimits `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// IsLongRunning reports whether the component stays up after startup.
// Install-only components finish instead of running.
func (d ComponentDefinition) IsLongRunning() bool {
	return d.Lifecycle.Startup != nil || d.Lifecycle.Run != nil
}

// TargetState is the state a healthy instance of this component settles in.
func (d ComponentDefinition) TargetState() State {
	if d.IsLongRunning() {
		return StateRunning
	}
	return StateFinished
}

// HasBootstrap reports whether the component declares a bootstrap step.
func (d ComponentDefinition) HasBootstrap() bool {
	return d.Lifecycle.Bootstrap != nil
}

// KindOrDefault returns the component kind, defaulting to generic.
func (d ComponentDefinition) KindOrDefault() ComponentKind {
	if d.Kind == "" {
		return KindGeneric
	}
	return d.Kind
}
