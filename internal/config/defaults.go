package config

// applyDefaults fills zero values with operational defaults. Step timeout
// defaults mirror the install/startup/shutdown budgets the runtime grants a
// recipe that does not declare its own.
func applyDefaults(cfg *Config) {
	if cfg.Paths.WorkDir == "" {
		cfg.Paths.WorkDir = cfg.Paths.StateDir
	}

	if cfg.Lifecycle.MaxRetries == 0 {
		cfg.Lifecycle.MaxRetries = 3
	}
	if cfg.Lifecycle.RetryBackoff == "" {
		cfg.Lifecycle.RetryBackoff = RetryBackoffExponential
	}
	if cfg.Lifecycle.RetryInitialDelay == "" {
		cfg.Lifecycle.RetryInitialDelay = "1s"
	}
	if cfg.Lifecycle.RetryMaxDelay == "" {
		cfg.Lifecycle.RetryMaxDelay = "1m"
	}
	if cfg.Lifecycle.StepWorkers <= 0 {
		cfg.Lifecycle.StepWorkers = 4
	}
	if cfg.Lifecycle.InstallTimeout == "" {
		cfg.Lifecycle.InstallTimeout = "120s"
	}
	if cfg.Lifecycle.StartupTimeout == "" {
		cfg.Lifecycle.StartupTimeout = "120s"
	}
	if cfg.Lifecycle.ShutdownTimeout == "" {
		cfg.Lifecycle.ShutdownTimeout = "15s"
	}

	if cfg.Deployment.Timeout == "" {
		cfg.Deployment.Timeout = "10m"
	}
	if cfg.Deployment.BootstrapTimeout == "" {
		cfg.Deployment.BootstrapTimeout = "120s"
	}

	if cfg.RecipeRepo.URL != "" {
		if cfg.RecipeRepo.Branch == "" {
			cfg.RecipeRepo.Branch = "main"
		}
		if cfg.RecipeRepo.SyncInterval == "" {
			cfg.RecipeRepo.SyncInterval = "5m"
		}
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:9125"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "edged.state"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
