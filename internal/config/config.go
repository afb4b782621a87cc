// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryBackoffMode selects the backoff curve for lifecycle step retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// Config represents the daemon configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Deployment DeploymentConfig `yaml:"deployment"`
	RecipeRepo RecipeRepoConfig `yaml:"recipe_repo,omitempty"`
	API        APIConfig        `yaml:"api"`
	Events     EventsConfig     `yaml:"events,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// PathsConfig locates the on-disk directories the daemon owns.
type PathsConfig struct {
	// StateDir holds persisted runtime state: config tree, bootstrap task
	// store, event journal, pending/last deployment documents.
	StateDir string `yaml:"state_dir"`
	// RecipeDir holds component recipes (one YAML file per name-version).
	RecipeDir string `yaml:"recipe_dir"`
	// DeployDir is watched for dropped-in deployment documents.
	DeployDir string `yaml:"deploy_dir,omitempty"`
	// WorkDir is the working directory for lifecycle step processes.
	WorkDir string `yaml:"work_dir,omitempty"`
}

// LifecycleConfig tunes the per-instance state machine.
type LifecycleConfig struct {
	MaxRetries        int              `yaml:"max_retries,omitempty"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff,omitempty"`
	RetryInitialDelay string           `yaml:"retry_initial_delay,omitempty"`
	RetryMaxDelay     string           `yaml:"retry_max_delay,omitempty"`
	// StepWorkers bounds how many lifecycle steps execute at once.
	StepWorkers int `yaml:"step_workers,omitempty"`
	// Default step timeouts, overridable per recipe step.
	InstallTimeout  string `yaml:"install_timeout,omitempty"`
	StartupTimeout  string `yaml:"startup_timeout,omitempty"`
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

// DeploymentConfig tunes the reconciler.
type DeploymentConfig struct {
	// Timeout bounds a whole activation unless the document overrides it.
	Timeout string `yaml:"timeout,omitempty"`
	// BootstrapTimeout is the default per-task bootstrap timeout.
	BootstrapTimeout string `yaml:"bootstrap_timeout,omitempty"`
}

// RecipeRepoConfig optionally syncs the recipe directory from a git repository.
type RecipeRepoConfig struct {
	URL          string           `yaml:"url,omitempty"`
	Branch       string           `yaml:"branch,omitempty"`
	SyncInterval string           `yaml:"sync_interval,omitempty"`
	Auth         RecipeAuthConfig `yaml:"auth,omitempty"`
}

// RecipeAuthConfig selects credentials for the recipe repository. Secrets
// arrive through ${VAR} expansion so they never sit in the file itself.
type RecipeAuthConfig struct {
	Type     string `yaml:"type,omitempty"` // none|ssh|token|basic
	KeyPath  string `yaml:"key_path,omitempty"`
	Token    string `yaml:"token,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// APIConfig configures the local HTTP API.
type APIConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// EventsConfig configures external event publication.
type EventsConfig struct {
	// NATSURL enables forwarding of global state-change events when set.
	NATSURL string `yaml:"nats_url,omitempty"`
	// SubjectPrefix defaults to "edged.state".
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	// JournalRetention bounds how long state-change journal entries are kept.
	// Defaults to 168h.
	JournalRetention string `yaml:"journal_retention,omitempty"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug|info|warn|error
	Format string `yaml:"format,omitempty"` // text|json
}

// Load reads, expands, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := expandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if c.Paths.RecipeDir == "" {
		return fmt.Errorf("paths.recipe_dir is required")
	}
	for name, raw := range map[string]string{
		"lifecycle.retry_initial_delay": c.Lifecycle.RetryInitialDelay,
		"lifecycle.retry_max_delay":     c.Lifecycle.RetryMaxDelay,
		"lifecycle.install_timeout":     c.Lifecycle.InstallTimeout,
		"lifecycle.startup_timeout":     c.Lifecycle.StartupTimeout,
		"lifecycle.shutdown_timeout":    c.Lifecycle.ShutdownTimeout,
		"deployment.timeout":            c.Deployment.Timeout,
		"deployment.bootstrap_timeout":  c.Deployment.BootstrapTimeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, raw)
		}
	}
	switch c.Lifecycle.RetryBackoff {
	case "", RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
	default:
		return fmt.Errorf("lifecycle.retry_backoff: unknown mode %q", c.Lifecycle.RetryBackoff)
	}
	switch c.RecipeRepo.Auth.Type {
	case "", "none", "ssh", "token", "basic":
	default:
		return fmt.Errorf("recipe_repo.auth.type: unknown type %q", c.RecipeRepo.Auth.Type)
	}
	return nil
}

// Duration parses a validated duration field, returning fallback when unset.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
