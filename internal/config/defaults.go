package config

// DefaultWeights returns the factor weights used when none are configured
// or when configured weights fail sanitization.
func DefaultWeights() ScoringWeights {
	return ScoringWeights{
		Capability:     0.40,
		Specialization: 0.25,
		Type:           0.20,
		Workload:       0.10,
		Performance:    0.05,
	}
}

// DefaultConfig returns the default configuration with built-in worker seeds.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			AutoAssign:            true,
			Weights:               DefaultWeights(),
			MinScore:              0,
			CustomWorkerThreshold: 0.4,
		},
		Pool: PoolConfig{
			MaxConcurrent: 4,
			Retry: RetryConfig{
				InitialIntervalMS:   100,
				MaxIntervalMS:       10_000,
				MaxElapsedTimeMS:    120_000,
				Multiplier:          2.0,
				RandomizationFactor: 0.5,
			},
			Breaker: BreakerConfig{
				MaxRequests:         3,
				TimeoutMS:           30_000,
				ConsecutiveFailures: 5,
			},
		},
		Storage: StorageConfig{
			Path: "", // In-memory unless a path is configured
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Metrics: MetricsConfig{
			Addr:      "",
			Namespace: "taskhive",
		},
		Workers: []WorkerSeed{
			{
				Name:           "frontend-1",
				Type:           "frontend",
				Specialization: "react components styling accessibility",
				Capabilities:   []string{"react", "css", "html", "typescript"},
			},
			{
				Name:           "backend-1",
				Type:           "backend",
				Specialization: "api endpoints database migrations",
				Capabilities:   []string{"api", "sql", "go"},
			},
			{
				Name:           "generalist-1",
				Type:           "general",
				Specialization: "documentation refactoring maintenance",
				Capabilities:   []string{"docs", "testing"},
			},
		},
	}
}
