// Package scheduler queues tasks by priority, waits for their dependencies,
// assigns them to capable workers and runs them under a parallelism limit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/hive/internal/backend"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/logging"
	"github.com/aristath/hive/internal/registry"
)

var (
	// ErrNoEligibleWorker means no available worker covers any required capability.
	ErrNoEligibleWorker = errors.New("no eligible worker")
	// ErrUnmetDependency means a task still waits on a dependency.
	ErrUnmetDependency = errors.New("unmet dependency")
	// ErrDependencyFailed is recorded on tasks failed because a dependency failed.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrTaskTimeout is recorded on tasks that outlived Config.TaskTimeout.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrDuplicateTask is returned by AddTask for an explicit ID already in use.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrTaskStranded marks a pending task that can never be dispatched.
	ErrTaskStranded = errors.New("task can never start")
)

// Config holds the scheduler's tunables.
type Config struct {
	DispatchInterval  time.Duration       // pause between dispatch cycles
	TaskTimeout       time.Duration       // upper bound on one task's execution
	MaxWorkersPerTask int                 // workers assigned to a capability-matched task
	MaxAssignAttempts int                 // fail after this many unassignable cycles; 0 retries forever
	CascadeFailures   bool                // fail dependents of failed tasks instead of leaving them queued
	Requeue           backend.RetryConfig // delay before retrying an unassignable task
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		DispatchInterval:  time.Second,
		TaskTimeout:       5 * time.Minute,
		MaxWorkersPerTask: DefaultMaxWorkersPerTask,
		Requeue: backend.RetryConfig{
			InitialInterval:     time.Second,
			MaxInterval:         30 * time.Second,
			Multiplier:          2.0,
			RandomizationFactor: 0.2,
		},
	}
}

// Recorder persists task snapshots. persistence.SQLiteStore implements it.
type Recorder interface {
	SaveTask(ctx context.Context, task Task) error
}

// Stats counts tasks by status.
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrNop(l) }
}

// WithEventBus publishes task lifecycle events to p.
func WithEventBus(p events.Publisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.bus = p
		}
	}
}

// WithRecorder persists every task state change through r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithRand sets the random source used for unconstrained assignment.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// Scheduler dispatches queued tasks to workers from a registry.
type Scheduler struct {
	cfg      Config
	registry *registry.Registry
	logger   *zap.Logger
	bus      events.Publisher
	recorder Recorder

	mu       sync.Mutex
	rng      *rand.Rand
	queue    taskQueue
	tasks    map[string]*Task // every task ever added
	inflight map[string]*Task
	graph    *dependencyGraph
	seq      uint64

	wg       sync.WaitGroup
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler drawing workers from reg. Zero fields of cfg take
// their defaults.
func New(reg *registry.Registry, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = def.DispatchInterval
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.MaxWorkersPerTask <= 0 {
		cfg.MaxWorkersPerTask = def.MaxWorkersPerTask
	}
	if cfg.Requeue.InitialInterval <= 0 {
		cfg.Requeue = def.Requeue
	}
	// Requeue delays never give up on their own.
	cfg.Requeue.MaxElapsedTime = 0

	s := &Scheduler{
		cfg:      cfg,
		registry: reg,
		logger:   zap.NewNop(),
		bus:      (*events.EventBus)(nil),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		tasks:    make(map[string]*Task),
		inflight: make(map[string]*Task),
		graph:    newDependencyGraph(),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type addOptions struct {
	id          string
	priority    int
	hasPriority bool
	taskType    TaskType
	deps        []string
}

// TaskOption configures a task passed to AddTask.
type TaskOption func(*addOptions)

// WithPriority sets an explicit priority, clamped to [MinPriority, MaxPriority].
func WithPriority(p int) TaskOption {
	return func(o *addOptions) {
		o.priority = p
		o.hasPriority = true
	}
}

// WithType sets the task type.
func WithType(t TaskType) TaskOption {
	return func(o *addOptions) { o.taskType = t }
}

// WithDependencies lists tasks that must complete before this one runs.
func WithDependencies(ids ...string) TaskOption {
	return func(o *addOptions) { o.deps = append(o.deps, ids...) }
}

// WithID uses id instead of a generated one.
func WithID(id string) TaskOption {
	return func(o *addOptions) { o.id = id }
}

// AddTask queues a task and returns its ID. It never waits: dependencies
// that name no known task are logged and kept. The only error is an explicit
// ID that is already taken.
func (s *Scheduler) AddTask(payload map[string]any, opts ...TaskOption) (string, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	priority := DefaultPriority
	if o.taskType != "" {
		if p, ok := Profile(o.taskType); ok {
			priority = p.Priority
		} else {
			s.logger.Warn("unknown task type, using no default capabilities",
				zap.String("task_type", string(o.taskType)))
		}
	}
	if o.hasPriority {
		priority = o.priority
	}

	id := o.id
	if id == "" {
		id = uuid.NewString()
	}

	if payload == nil {
		payload = map[string]any{}
	}

	s.mu.Lock()
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}

	s.seq++
	task := &Task{
		ID:           id,
		Priority:     clampPriority(priority),
		Type:         o.taskType,
		Payload:      maps.Clone(payload),
		Dependencies: dedupe(o.deps),
		Status:       TaskPending,
		CreatedAt:    time.Now(),
		seq:          s.seq,
	}

	for _, dep := range task.Dependencies {
		if _, ok := s.tasks[dep]; !ok {
			s.logger.Warn("task depends on unknown task",
				zap.String("task_id", id),
				zap.String("dependency", dep))
		}
	}

	s.tasks[id] = task
	s.graph.add(id, task.Dependencies)
	s.queue.push(task)
	snap := cloneTask(task)
	stats := s.statsLocked()
	s.mu.Unlock()

	s.logger.Info("task queued",
		zap.String("task_id", id),
		zap.Int("priority", snap.Priority),
		zap.String("task_type", string(snap.Type)))

	s.record(context.Background(), snap)
	s.bus.Publish(events.TopicTask, events.TaskQueuedEvent{
		ID:        id,
		TaskType:  string(snap.Type),
		Priority:  snap.Priority,
		Timestamp: snap.CreatedAt,
	})
	s.publishProgress(stats)
	s.poke()

	return id, nil
}

// RunDispatchLoop dispatches queued tasks until Stop is called or ctx is
// done, keeping at most maxParallel tasks in flight. Tasks already running
// when the loop exits are left to finish; use Wait to block on them.
func (s *Scheduler) RunDispatchLoop(ctx context.Context, maxParallel int) error {
	if maxParallel < 1 {
		return fmt.Errorf("max parallel must be at least 1, got %d", maxParallel)
	}

	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()

	s.logger.Info("dispatch loop started", zap.Int("max_parallel", maxParallel))
	defer s.logger.Info("dispatch loop stopped")

	for {
		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.dispatchOnce(ctx, maxParallel)

		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// Stop ends the dispatch loop after its current cycle. It is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until every dispatched task has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// WaitIdle blocks until no task is pending or processing, or ctx is done.
// Stranded tasks keep it waiting; see WaitSettled.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(max(s.cfg.DispatchInterval/4, time.Millisecond))
	defer ticker.Stop()

	for {
		st := s.Stats()
		if st.Pending == 0 && st.Processing == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitSettled blocks until none of ids is processing and each pending one
// is stranded, or ctx is done. Unknown IDs are ignored. It returns the
// stranded tasks keyed by ID, each error wrapping ErrTaskStranded.
func (s *Scheduler) WaitSettled(ctx context.Context, ids []string) (map[string]error, error) {
	ticker := time.NewTicker(max(s.cfg.DispatchInterval/4, time.Millisecond))
	defer ticker.Stop()

	for {
		if stranded, ok := s.settled(ids); ok {
			return stranded, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) settled(ids []string) (map[string]error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stranded := make(map[string]error)
	for _, id := range ids {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		switch task.Status {
		case TaskProcessing:
			return nil, false
		case TaskPending:
			err := s.strandedLocked(task)
			if err == nil {
				return nil, false
			}
			stranded[id] = err
		}
	}
	return stranded, true
}

// Stranded returns the pending tasks that can never be dispatched, keyed by
// ID. A task is stranded when a dependency anywhere up its chain has failed,
// or when no registered worker offers any capability it requires.
func (s *Scheduler) Stranded() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]error)
	for id, task := range s.tasks {
		if task.Status != TaskPending {
			continue
		}
		if err := s.strandedLocked(task); err != nil {
			out[id] = err
		}
	}
	return out
}

func (s *Scheduler) strandedLocked(task *Task) error {
	if dep := s.failedAncestorLocked(task, make(map[string]bool)); dep != "" {
		return fmt.Errorf("%w: dependency %q failed", ErrTaskStranded, dep)
	}

	// With bounded attempts the dispatcher fails such tasks itself.
	if s.cfg.MaxAssignAttempts > 0 {
		return nil
	}
	workers := s.registry.Snapshot()
	required := RequiredCapabilities(task.Type, task.Payload)
	if len(required) == 0 {
		if len(workers) == 0 {
			return fmt.Errorf("%w: no workers registered", ErrTaskStranded)
		}
		return nil
	}
	for _, w := range workers {
		if matchScore(required, w.Capabilities) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no worker offers %v", ErrTaskStranded, required)
}

// failedAncestorLocked returns the first failed task found among the
// transitive dependencies of task, or "".
func (s *Scheduler) failedAncestorLocked(task *Task, seen map[string]bool) string {
	for _, dep := range task.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		d, ok := s.tasks[dep]
		if !ok {
			continue
		}
		if d.Status == TaskFailed {
			return dep
		}
		if found := s.failedAncestorLocked(d, seen); found != "" {
			return found
		}
	}
	return ""
}

// dispatchOnce runs a single dispatch cycle and returns how many tasks it started.
func (s *Scheduler) dispatchOnce(ctx context.Context, maxParallel int) int {
	type requeued struct {
		task    Task
		retryAt time.Time
		reason  error
	}

	var (
		launches []Task
		retries  []requeued
		failed   []Task
	)

	s.mu.Lock()
	slots := maxParallel - len(s.inflight)
	if slots <= 0 || s.queue.Len() == 0 {
		s.mu.Unlock()
		return 0
	}

	now := time.Now()
	var deferred []*Task

	for slots > 0 && s.queue.Len() > 0 {
		task := s.queue.pop()

		if failedDep, blocked := s.blockedLocked(task); blocked {
			if failedDep != "" && s.cfg.CascadeFailures {
				s.failLocked(task, fmt.Errorf("%w: %s", ErrDependencyFailed, failedDep), now)
				failed = append(failed, cloneTask(task))
				continue
			}
			s.logger.Debug("task requeued",
				zap.String("task_id", task.ID),
				zap.Strings("dependencies", task.Dependencies),
				zap.Error(ErrUnmetDependency))
			deferred = append(deferred, task)
			continue
		}

		if now.Before(task.notBefore) {
			deferred = append(deferred, task)
			continue
		}

		required := RequiredCapabilities(task.Type, task.Payload)
		workers := selectWorkers(required, s.registry.Available(), s.cfg.MaxWorkersPerTask, s.rng)
		if len(workers) == 0 || !s.registry.Reserve(workers) {
			task.Attempts++
			if s.cfg.MaxAssignAttempts > 0 && task.Attempts >= s.cfg.MaxAssignAttempts {
				s.failLocked(task, fmt.Errorf("%w after %d attempts", ErrNoEligibleWorker, task.Attempts), now)
				failed = append(failed, cloneTask(task))
				continue
			}
			task.notBefore = now.Add(s.nextDelayLocked(task))
			deferred = append(deferred, task)
			retries = append(retries, requeued{task: cloneTask(task), retryAt: task.notBefore, reason: ErrNoEligibleWorker})
			continue
		}

		task.AssignedWorkers = workers
		task.Status = TaskProcessing
		task.StartedAt = now
		task.backoff = nil
		s.inflight[task.ID] = task
		slots--
		launches = append(launches, cloneTask(task))
	}

	for _, task := range deferred {
		s.queue.push(task)
	}
	stats := s.statsLocked()
	s.wg.Add(len(launches))
	s.mu.Unlock()

	for _, r := range retries {
		s.logger.Warn("no eligible worker, task requeued",
			zap.String("task_id", r.task.ID),
			zap.Strings("required_capabilities", RequiredCapabilities(r.task.Type, r.task.Payload)),
			zap.Int("attempts", r.task.Attempts),
			zap.Time("retry_at", r.retryAt))
		s.bus.Publish(events.TopicTask, events.TaskRequeuedEvent{
			ID:        r.task.ID,
			Reason:    r.reason.Error(),
			Attempts:  r.task.Attempts,
			RetryAt:   r.retryAt,
			Timestamp: now,
		})
	}

	for _, task := range failed {
		s.logger.Error("task failed before dispatch",
			zap.String("task_id", task.ID),
			zap.Error(task.Err))
		s.record(ctx, task)
		s.bus.Publish(events.TopicTask, events.TaskFailedEvent{
			ID:        task.ID,
			Err:       task.Err,
			Timestamp: now,
		})
	}

	for _, task := range launches {
		s.logger.Info("task dispatched",
			zap.String("task_id", task.ID),
			zap.Int("priority", task.Priority),
			zap.Strings("workers", task.AssignedWorkers))
		s.record(ctx, task)
		s.bus.Publish(events.TopicTask, events.TaskStartedEvent{
			ID:        task.ID,
			TaskType:  string(task.Type),
			Workers:   task.AssignedWorkers,
			Timestamp: now,
		})
		go s.execute(ctx, task)
	}

	if len(launches) > 0 || len(failed) > 0 {
		s.publishProgress(stats)
	}

	return len(launches)
}

// blockedLocked reports whether task still waits on a dependency. When a
// dependency has failed its ID is returned as well.
func (s *Scheduler) blockedLocked(task *Task) (failedDep string, blocked bool) {
	for _, dep := range task.Dependencies {
		d, ok := s.tasks[dep]
		if !ok {
			blocked = true
			continue
		}
		switch d.Status {
		case TaskCompleted:
		case TaskFailed:
			return dep, true
		default:
			blocked = true
		}
	}
	return "", blocked
}

func (s *Scheduler) nextDelayLocked(task *Task) time.Duration {
	if task.backoff == nil {
		task.backoff = s.cfg.Requeue.NewBackOff()
	}
	d := task.backoff.NextBackOff()
	if d < 0 {
		d = s.cfg.Requeue.MaxInterval
	}
	return d
}

func (s *Scheduler) failLocked(task *Task, err error, now time.Time) {
	task.Status = TaskFailed
	task.Err = err
	task.Result = &TaskResult{Error: err.Error(), CompletedAt: now}
}

// finish records the outcome of an executed task and frees its workers.
func (s *Scheduler) finish(ctx context.Context, id string, result TaskResult, err error) {
	s.mu.Lock()
	task, ok := s.inflight[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.inflight, id)
	workers := task.AssignedWorkers

	task.Result = &result
	if err != nil {
		task.Status = TaskFailed
		task.Err = err
		task.Result.Error = err.Error()
	} else {
		task.Status = TaskCompleted
	}
	snap := cloneTask(task)
	stats := s.statsLocked()
	s.mu.Unlock()

	for _, name := range workers {
		s.registry.UpdatePerformance(name, result.ProcessingTime, err == nil)
	}
	s.registry.Release(workers)

	s.record(ctx, snap)

	if err != nil {
		s.logger.Error("task failed",
			zap.String("task_id", id),
			zap.Strings("workers", workers),
			zap.Duration("duration", result.ProcessingTime),
			zap.Error(err))
		s.bus.Publish(events.TopicTask, events.TaskFailedEvent{
			ID:        id,
			Workers:   workers,
			Err:       err,
			Duration:  result.ProcessingTime,
			Timestamp: result.CompletedAt,
		})
	} else {
		s.logger.Info("task completed",
			zap.String("task_id", id),
			zap.Strings("workers", workers),
			zap.Duration("duration", result.ProcessingTime))
		s.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
			ID:        id,
			Workers:   workers,
			Result:    result.FinalOutput,
			Duration:  result.ProcessingTime,
			Timestamp: result.CompletedAt,
		})
	}
	s.publishProgress(stats)
	s.poke()
}

// GetTaskStatus returns a copy of the task, whatever its status.
func (s *Scheduler) GetTaskStatus(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return cloneTask(task), true
}

// GetAgentStatus returns every worker's state with the IDs of the in-flight
// tasks assigned to it.
func (s *Scheduler) GetAgentStatus() map[string]registry.WorkerStatus {
	s.mu.Lock()
	active := make(map[string][]string)
	for id, task := range s.inflight {
		for _, name := range task.AssignedWorkers {
			active[name] = append(active[name], id)
		}
	}
	s.mu.Unlock()

	out := make(map[string]registry.WorkerStatus)
	for _, st := range s.registry.Snapshot() {
		ids := active[st.Name]
		sort.Strings(ids)
		st.ActiveTasks = ids
		out[st.Name] = st
	}
	return out
}

// Tasks returns copies of all tasks in the order they were added.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Stats counts tasks by status.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

// Order returns every task ID in an order that satisfies all dependencies.
// It fails on dependency cycles and on dependencies naming unknown tasks,
// both of which would leave tasks queued forever.
func (s *Scheduler) Order() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.order()
}

// Dependents returns the IDs of tasks that directly depend on id.
func (s *Scheduler) Dependents(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.dependentsOf(id)
}

func (s *Scheduler) statsLocked() Stats {
	st := Stats{Total: len(s.tasks)}
	for _, task := range s.tasks {
		switch task.Status {
		case TaskPending:
			st.Pending++
		case TaskProcessing:
			st.Processing++
		case TaskCompleted:
			st.Completed++
		case TaskFailed:
			st.Failed++
		}
	}
	return st
}

func (s *Scheduler) publishProgress(st Stats) {
	s.bus.Publish(events.TopicQueue, events.QueueProgressEvent{
		Total:      st.Total,
		Pending:    st.Pending,
		Processing: st.Processing,
		Completed:  st.Completed,
		Failed:     st.Failed,
		Timestamp:  time.Now(),
	})
}

func (s *Scheduler) record(ctx context.Context, task Task) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveTask(context.WithoutCancel(ctx), task); err != nil {
		s.logger.Warn("failed to persist task", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// poke wakes the dispatch loop early without blocking.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
