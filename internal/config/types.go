package config

import (
	"math"
	"time"
)

// ScoringWeights control how the five worker-match factors combine.
// Each weight is independently adjustable; Sanitized guards against
// configurations that would make the combined score meaningless.
type ScoringWeights struct {
	Capability     float64 `json:"capability"`     // Required-capability coverage
	Specialization float64 `json:"specialization"` // Specialization text overlap
	Type           float64 `json:"type"`           // Worker type vs inferred task type
	Workload       float64 `json:"workload"`       // Idle vs occupied
	Performance    float64 `json:"performance"`    // Completed-task history
}

// Sanitized returns weights safe to combine: every weight finite and
// non-negative, and at least one positive. Anything else falls back to
// the defaults wholesale rather than guessing at partial repair.
func (w ScoringWeights) Sanitized() ScoringWeights {
	vals := []float64{w.Capability, w.Specialization, w.Type, w.Workload, w.Performance}
	sum := 0.0
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return DefaultWeights()
		}
		sum += v
	}
	if sum <= 0 {
		return DefaultWeights()
	}
	return w
}

// SchedulerConfig tunes the coordinator and scorer.
type SchedulerConfig struct {
	AutoAssign            bool           `json:"auto_assign"`             // Sweep after every create/complete/worker event
	Weights               ScoringWeights `json:"weights"`                 // Factor weights for worker matching
	MinScore              float64        `json:"min_score"`               // Best score below this refuses assignment (0 disables)
	CustomWorkerThreshold float64        `json:"custom_worker_threshold"` // Best score below this emits a custom-worker advisory (0 disables)
}

// RetryConfig controls exponential backoff for execution hand-offs.
// Durations are expressed in milliseconds for JSON friendliness.
type RetryConfig struct {
	InitialIntervalMS   int     `json:"initial_interval_ms"`
	MaxIntervalMS       int     `json:"max_interval_ms"`
	MaxElapsedTimeMS    int     `json:"max_elapsed_time_ms"`
	Multiplier          float64 `json:"multiplier"`
	RandomizationFactor float64 `json:"randomization_factor"`
}

// InitialInterval returns the first retry delay.
func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMS) * time.Millisecond
}

// MaxInterval returns the backoff ceiling.
func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMS) * time.Millisecond
}

// MaxElapsedTime returns the total time allowed across retries.
func (r RetryConfig) MaxElapsedTime() time.Duration {
	return time.Duration(r.MaxElapsedTimeMS) * time.Millisecond
}

// BreakerConfig controls the per-worker circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32 `json:"max_requests"`         // Probes allowed in half-open state
	TimeoutMS           int    `json:"timeout_ms"`           // Open -> half-open delay
	ConsecutiveFailures uint32 `json:"consecutive_failures"` // Failures before the breaker trips
}

// Timeout returns the open-state duration.
func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	MaxConcurrent int           `json:"max_concurrent"` // Simultaneous executions across all workers
	Retry         RetryConfig   `json:"retry"`
	Breaker       BreakerConfig `json:"breaker"`
}

// StorageConfig selects the persistence backend.
// An empty path selects an in-memory database.
type StorageConfig struct {
	Path string `json:"path"`
}

// LoggingConfig tunes the zap logger.
type LoggingConfig struct {
	Level    string `json:"level"`    // debug, info, warn, error
	Encoding string `json:"encoding"` // console or json
}

// MetricsConfig controls the Prometheus endpoint.
// An empty address disables the HTTP listener; metrics are still collected.
type MetricsConfig struct {
	Addr      string `json:"addr"`
	Namespace string `json:"namespace"`
}

// WorkerSeed declares a worker to register at startup.
type WorkerSeed struct {
	ID                 string   `json:"id,omitempty"` // Generated when absent
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Specialization     string   `json:"specialization,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Pool      PoolConfig      `json:"pool"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Workers   []WorkerSeed    `json:"workers,omitempty"`
}
