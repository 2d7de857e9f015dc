package config

import "time"

// DefaultConfig returns the default configuration: one echo provider and a
// worker for each task type plus a synthesizing coordinator.
func DefaultConfig() *HiveConfig {
	return &HiveConfig{
		Providers: map[string]ProviderConfig{
			"echo": {Type: "echo"},
		},
		Workers: map[string]WorkerConfig{
			"analyst": {
				Provider:     "echo",
				Capabilities: []string{"analysis", "reasoning", "logical_reasoning"},
				SystemPrompt: "You break problems down and reason about them carefully.",
			},
			"creative": {
				Provider:     "echo",
				Capabilities: []string{"generation", "creativity", "brainstorming"},
				SystemPrompt: "You generate ideas and alternative perspectives.",
			},
			"researcher": {
				Provider:     "echo",
				Capabilities: []string{"research", "information_retrieval", "fact_checking"},
				SystemPrompt: "You gather and verify information.",
			},
			"strategist": {
				Provider:     "echo",
				Capabilities: []string{"planning", "strategy", "risk_assessment"},
				SystemPrompt: "You plan and weigh risks.",
			},
			"engineer": {
				Provider:     "echo",
				Capabilities: []string{"implementation", "execution", "code_generation"},
				SystemPrompt: "You turn plans into working implementations.",
			},
			"synthesizer": {
				Provider:     "echo",
				Capabilities: []string{"synthesis", "coordination", "response_integration"},
				SystemPrompt: "You merge the work of other workers into one answer.",
			},
		},
		Scheduler: SchedulerConfig{
			MaxParallel:       3,
			DispatchInterval:  Duration(time.Second),
			TaskTimeout:       Duration(5 * time.Minute),
			MaxWorkersPerTask: 3,
			Retry: RetryConfig{
				InitialInterval:     Duration(time.Second),
				MaxInterval:         Duration(30 * time.Second),
				Multiplier:          2.0,
				RandomizationFactor: 0.2,
			},
		},
		Network: NetworkConfig{
			ActivationThreshold: 0.5,
			MemorySize:          5,
			SeedMin:             2,
			SeedMax:             3,
			WeightMin:           0.3,
			WeightMax:           0.9,
			RoundConcurrency:    4,
			MaxSteps:            5,
			Selector:            "keyword",
		},
		Resilience: ResilienceConfig{
			Enabled: true,
			Retry: RetryConfig{
				InitialInterval:     Duration(100 * time.Millisecond),
				MaxInterval:         Duration(10 * time.Second),
				MaxElapsedTime:      Duration(2 * time.Minute),
				Multiplier:          2.0,
				RandomizationFactor: 0.5,
			},
			Breaker: BreakerConfig{
				MaxRequests:         3,
				Timeout:             Duration(30 * time.Second),
				ConsecutiveFailures: 5,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}
