// Package orchestrator assembles a hive session from configuration: worker
// backends, the registry, the task scheduler, the activation network and
// their shared logger, event bus and store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/hive/internal/backend"
	"github.com/aristath/hive/internal/config"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/integrator"
	"github.com/aristath/hive/internal/logging"
	"github.com/aristath/hive/internal/network"
	"github.com/aristath/hive/internal/persistence"
	"github.com/aristath/hive/internal/registry"
	"github.com/aristath/hive/internal/scheduler"
)

// BackendFactory creates the backend for one worker.
type BackendFactory func(cfg backend.Config, pm *backend.ProcessManager) (backend.Backend, error)

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger  *zap.Logger
	factory BackendFactory
	rng     *rand.Rand
}

// WithLogger uses l instead of building a logger from the configuration.
func WithLogger(l *zap.Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithBackendFactory overrides backend.New, mainly for tests.
func WithBackendFactory(f BackendFactory) Option {
	return func(o *sessionOptions) { o.factory = f }
}

// WithRand fixes the random source shared by the scheduler and network.
func WithRand(r *rand.Rand) Option {
	return func(o *sessionOptions) { o.rng = r }
}

// Session owns every long-lived component of a hive run.
type Session struct {
	cfg *config.HiveConfig

	Logger     *zap.Logger
	Bus        *events.EventBus
	Processes  *backend.ProcessManager
	Breakers   *backend.CircuitBreakerRegistry
	Registry   *registry.Registry
	Scheduler  *scheduler.Scheduler
	Network    *network.Network
	Integrator *integrator.Integrator
	Store      *persistence.SQLiteStore // nil when persistence is disabled

	startOnce sync.Once
	loop      errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// NewSession builds a session from cfg. Every configured worker is
// registered and joins the activation network.
func NewSession(ctx context.Context, cfg *config.HiveConfig, opts ...Option) (*Session, error) {
	o := sessionOptions{factory: backend.New}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, _, err = logging.Build(logging.Options{
			Level:    cfg.Logging.Level,
			Encoding: cfg.Logging.Encoding,
		})
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	s := &Session{
		cfg:       cfg,
		Logger:    logger,
		Bus:       events.NewEventBus(),
		Processes: backend.NewProcessManager(),
		Breakers: backend.NewCircuitBreakerRegistry(backend.BreakerConfig{
			MaxRequests:         cfg.Resilience.Breaker.MaxRequests,
			Timeout:             cfg.Resilience.Breaker.Timeout.Std(),
			ConsecutiveFailures: cfg.Resilience.Breaker.ConsecutiveFailures,
		}, logger.Named("breaker")),
		Registry: registry.New(logger.Named("registry")),
	}

	if cfg.Store.Path != "" {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		s.Store = store
	}

	names, err := s.registerWorkers(o.factory)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Each component locks its source under its own mutex, so none of them
	// may share one.
	schedRand, netRand, selRand := derive(o.rng), derive(o.rng), derive(o.rng)

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithEventBus(s.Bus),
		scheduler.WithRand(schedRand),
	}
	integOpts := []integrator.Option{integrator.WithLogger(logger.Named("integrator"))}
	if cfg.Network.Integrator != "" {
		integOpts = append(integOpts, integrator.WithPreferred(cfg.Network.Integrator))
	}
	s.Integrator = integrator.New(s.Registry, integOpts...)

	netOpts := []network.Option{
		network.WithLogger(logger.Named("network")),
		network.WithEventBus(s.Bus),
		network.WithRand(netRand),
	}
	if sel := s.selector(selRand); sel != nil {
		netOpts = append(netOpts, network.WithSelector(sel))
	}
	if s.Store != nil {
		schedOpts = append(schedOpts, scheduler.WithRecorder(s.Store))
		netOpts = append(netOpts, network.WithRecorder(s.Store))
	}

	s.Scheduler = scheduler.New(s.Registry, schedulerConfig(cfg.Scheduler), schedOpts...)
	s.Network = network.New(s.Registry, s.Integrator, networkConfig(cfg.Network), netOpts...)

	if len(names) > 0 {
		if err := s.Network.InitializeNetwork(names, nil); err != nil {
			s.Close()
			return nil, fmt.Errorf("initializing network: %w", err)
		}
	}

	logger.Info("session ready",
		zap.Strings("workers", names),
		zap.Bool("persistent", s.Store != nil))
	return s, nil
}

// registerWorkers creates a backend per configured worker and registers it.
// Workers are registered in name order.
func (s *Session) registerWorkers(factory BackendFactory) ([]string, error) {
	names := make([]string, 0, len(s.cfg.Workers))
	for name := range s.cfg.Workers {
		names = append(names, name)
	}
	slices.Sort(names)

	retry := retryConfig(s.cfg.Resilience.Retry)
	for _, name := range names {
		w := s.cfg.Workers[name]
		p := s.cfg.Providers[w.Provider]

		b, err := factory(backend.Config{
			Type:         p.Type,
			Name:         name,
			Command:      p.Command,
			Args:         p.Args,
			Timeout:      p.Timeout.Std(),
			SystemPrompt: w.SystemPrompt,
			Capabilities: w.Capabilities,
		}, s.Processes)
		if err != nil {
			return nil, fmt.Errorf("creating backend for worker %s: %w", name, err)
		}
		if s.cfg.Resilience.Enabled {
			b = backend.NewResilient(name, b, s.Breakers, retry)
		}

		s.Registry.RegisterWorker(name, w.Capabilities, b)
	}
	return names, nil
}

// derive returns an independent source seeded from rng.
func derive(rng *rand.Rand) *rand.Rand {
	return rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))
}

func (s *Session) selector(rng *rand.Rand) network.Selector {
	sel := s.cfg.Network.Selector
	if name, ok := strings.CutPrefix(sel, "worker:"); ok {
		return network.WorkerSelector{Invoker: s.Registry, Worker: name}
	}
	switch sel {
	case "keyword":
		return network.KeywordSelector{}
	case "random":
		return network.NewRandomSelector(rng)
	}
	return nil
}

// Start runs the scheduler's dispatch loop in the background until Close or
// until ctx is done. Calling it again has no effect.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		maxParallel := max(s.cfg.Scheduler.MaxParallel, 1)
		s.loop.Go(func() error {
			return s.Scheduler.RunDispatchLoop(ctx, maxParallel)
		})
	})
}

// Submit queues every spec and checks that the resulting dependency graph
// can complete.
func (s *Session) Submit(specs []TaskSpec) ([]string, error) {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id, err := s.Scheduler.AddTask(spec.Payload, spec.options()...)
		if err != nil {
			return ids, fmt.Errorf("queueing task %q: %w", spec.ID, err)
		}
		ids = append(ids, id)
	}

	if _, err := s.Scheduler.Order(); err != nil {
		return ids, fmt.Errorf("tasks can never complete: %w", err)
	}
	return ids, nil
}

// RunTasks queues specs, starts dispatching if needed and waits until every
// queued task has finished or can never start. It returns the final snapshot
// of each submitted task in submission order. Tasks left pending carry an
// Err wrapping scheduler.ErrTaskStranded that says why.
func (s *Session) RunTasks(ctx context.Context, specs []TaskSpec) ([]scheduler.Task, error) {
	ids, err := s.Submit(specs)
	if err != nil {
		return nil, err
	}

	s.Start(ctx)
	stranded, err := s.Scheduler.WaitSettled(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("waiting for tasks: %w", err)
	}
	s.Scheduler.Wait()

	tasks := make([]scheduler.Task, 0, len(ids))
	for _, id := range ids {
		t, ok := s.Scheduler.GetTaskStatus(id)
		if !ok {
			continue
		}
		if err, ok := stranded[id]; ok && t.Status == scheduler.TaskPending {
			t.Err = err
			s.Logger.Warn("task stranded", zap.String("task_id", id), zap.Error(err))
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Query runs a query through the activation network. A maxSteps of zero
// uses the configured default.
func (s *Session) Query(ctx context.Context, query string, maxSteps int) (network.QueryResult, error) {
	if maxSteps == 0 {
		maxSteps = s.cfg.Network.MaxSteps
	}
	return s.Network.ProcessQuery(ctx, query, maxSteps)
}

// Close stops dispatching, waits for running tasks, kills leftover
// subprocesses and releases the store and event bus.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.Scheduler != nil {
			s.Scheduler.Stop()
			if err := s.loop.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				errs = append(errs, fmt.Errorf("dispatch loop: %w", err))
			}
			s.Scheduler.Wait()
		}

		if err := s.Processes.KillAll(); err != nil {
			errs = append(errs, fmt.Errorf("killing processes: %w", err))
		}
		if s.Store != nil {
			if err := s.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing store: %w", err))
			}
		}
		s.Bus.Close()
		_ = s.Logger.Sync()

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func retryConfig(c config.RetryConfig) backend.RetryConfig {
	return backend.RetryConfig{
		InitialInterval:     c.InitialInterval.Std(),
		MaxInterval:         c.MaxInterval.Std(),
		MaxElapsedTime:      c.MaxElapsedTime.Std(),
		Multiplier:          c.Multiplier,
		RandomizationFactor: c.RandomizationFactor,
	}
}

func schedulerConfig(c config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		DispatchInterval:  c.DispatchInterval.Std(),
		TaskTimeout:       c.TaskTimeout.Std(),
		MaxWorkersPerTask: c.MaxWorkersPerTask,
		MaxAssignAttempts: c.MaxAssignAttempts,
		CascadeFailures:   c.CascadeFailures,
		Requeue:           retryConfig(c.Retry),
	}
}

func networkConfig(c config.NetworkConfig) network.Config {
	return network.Config{
		Threshold:        c.ActivationThreshold,
		MemorySize:       c.MemorySize,
		SeedMin:          c.SeedMin,
		SeedMax:          c.SeedMax,
		WeightMin:        c.WeightMin,
		WeightMax:        c.WeightMax,
		RoundConcurrency: c.RoundConcurrency,
	}
}
