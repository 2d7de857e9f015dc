package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as a string such as "30s" or "5m".
type Duration time.Duration

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText parses a time.ParseDuration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderConfig defines how workers are executed.
// Providers are separate from workers -- multiple workers can share one provider.
type ProviderConfig struct {
	Type    string   `json:"type" toml:"type"`                           // backend type: "command" or "echo"
	Command string   `json:"command,omitempty" toml:"command,omitempty"` // executable for command providers
	Args    []string `json:"args,omitempty" toml:"args,omitempty"`       // arguments appended to every invocation
	Timeout Duration `json:"timeout,omitempty" toml:"timeout,omitempty"` // per-invocation limit
}

// WorkerConfig defines a worker and the provider it runs on.
type WorkerConfig struct {
	Provider     string   `json:"provider" toml:"provider"` // key into Providers
	Capabilities []string `json:"capabilities" toml:"capabilities"`
	SystemPrompt string   `json:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
}

// RetryConfig mirrors backend.RetryConfig with string durations.
type RetryConfig struct {
	InitialInterval     Duration `json:"initial_interval" toml:"initial_interval"`
	MaxInterval         Duration `json:"max_interval" toml:"max_interval"`
	MaxElapsedTime      Duration `json:"max_elapsed_time,omitempty" toml:"max_elapsed_time,omitempty"`
	Multiplier          float64  `json:"multiplier" toml:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor" toml:"randomization_factor"`
}

// SchedulerConfig tunes task dispatch.
type SchedulerConfig struct {
	MaxParallel       int         `json:"max_parallel" toml:"max_parallel"`
	DispatchInterval  Duration    `json:"dispatch_interval" toml:"dispatch_interval"`
	TaskTimeout       Duration    `json:"task_timeout" toml:"task_timeout"`
	MaxWorkersPerTask int         `json:"max_workers_per_task" toml:"max_workers_per_task"`
	MaxAssignAttempts int         `json:"max_assign_attempts" toml:"max_assign_attempts"` // 0 retries forever
	CascadeFailures   bool        `json:"cascade_failures" toml:"cascade_failures"`
	Retry             RetryConfig `json:"retry" toml:"retry"` // requeue delay for unassignable tasks
}

// NetworkConfig tunes activation propagation.
type NetworkConfig struct {
	ActivationThreshold float64 `json:"activation_threshold" toml:"activation_threshold"`
	MemorySize          int     `json:"memory_size" toml:"memory_size"`
	SeedMin             int     `json:"seed_min" toml:"seed_min"`
	SeedMax             int     `json:"seed_max" toml:"seed_max"`
	WeightMin           float64 `json:"weight_min" toml:"weight_min"`
	WeightMax           float64 `json:"weight_max" toml:"weight_max"`
	RoundConcurrency    int     `json:"round_concurrency" toml:"round_concurrency"`
	MaxSteps            int     `json:"max_steps" toml:"max_steps"`
	Selector            string  `json:"selector" toml:"selector"`                         // "random", "keyword" or "worker:<name>"
	Integrator          string  `json:"integrator,omitempty" toml:"integrator,omitempty"` // preferred integrating worker
}

// BreakerConfig mirrors backend.BreakerConfig with string durations.
type BreakerConfig struct {
	MaxRequests         uint32   `json:"max_requests" toml:"max_requests"`
	Timeout             Duration `json:"timeout" toml:"timeout"`
	ConsecutiveFailures uint32   `json:"consecutive_failures" toml:"consecutive_failures"`
}

// ResilienceConfig wraps every worker invocation in retries and a breaker.
type ResilienceConfig struct {
	Enabled bool          `json:"enabled" toml:"enabled"`
	Retry   RetryConfig   `json:"retry" toml:"retry"`
	Breaker BreakerConfig `json:"breaker" toml:"breaker"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level    string `json:"level" toml:"level"`       // debug, info, warn, error
	Encoding string `json:"encoding" toml:"encoding"` // "console" or "json"
}

// StoreConfig locates the SQLite database. An empty path disables persistence.
type StoreConfig struct {
	Path string `json:"path,omitempty" toml:"path,omitempty"`
}

// HiveConfig is the top-level configuration.
type HiveConfig struct {
	Providers  map[string]ProviderConfig `json:"providers" toml:"providers"`
	Workers    map[string]WorkerConfig   `json:"workers" toml:"workers"`
	Scheduler  SchedulerConfig           `json:"scheduler" toml:"scheduler"`
	Network    NetworkConfig             `json:"network" toml:"network"`
	Resilience ResilienceConfig          `json:"resilience" toml:"resilience"`
	Logging    LoggingConfig             `json:"logging" toml:"logging"`
	Store      StoreConfig               `json:"store" toml:"store"`
}
