package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aristath/hive/internal/backend"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/registry"
)

// gateBackend blocks every invocation until the gate is opened.
type gateBackend struct {
	gate  chan struct{}
	calls atomic.Int32
	out   string
}

func newGate(out string) *gateBackend {
	return &gateBackend{gate: make(chan struct{}), out: out}
}

func (g *gateBackend) Invoke(ctx context.Context, in backend.Input) (string, error) {
	g.calls.Add(1)
	select {
	case <-g.gate:
		return g.out, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gateBackend) open() { close(g.gate) }

// concurrencyProbe records peak concurrency across all workers and detects a
// worker running two invocations at once.
type concurrencyProbe struct {
	delay   time.Duration
	current atomic.Int32
	peak    atomic.Int32
	overlap atomic.Bool

	mu      sync.Mutex
	running map[string]bool
	done    map[string]int
}

func newProbe(delay time.Duration) *concurrencyProbe {
	return &concurrencyProbe{delay: delay, running: map[string]bool{}, done: map[string]int{}}
}

func (p *concurrencyProbe) backendFor(name string) backend.Backend {
	return backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		p.mu.Lock()
		if p.running[name] {
			p.overlap.Store(true)
		}
		p.running[name] = true
		p.mu.Unlock()

		n := p.current.Add(1)
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}

		time.Sleep(p.delay)

		p.current.Add(-1)
		p.mu.Lock()
		p.running[name] = false
		p.done[name]++
		p.mu.Unlock()
		return name + " done", nil
	})
}

type memoryRecorder struct {
	mu    sync.Mutex
	saved map[string][]TaskStatus
}

func (r *memoryRecorder) SaveTask(ctx context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = make(map[string][]TaskStatus)
	}
	r.saved[task.ID] = append(r.saved[task.ID], task.Status)
	return nil
}

func (r *memoryRecorder) statuses(id string) []TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TaskStatus(nil), r.saved[id]...)
}

func testConfig() Config {
	return Config{
		DispatchInterval: 10 * time.Millisecond,
		TaskTimeout:      5 * time.Second,
		Requeue: backend.RetryConfig{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

func newTestScheduler(t *testing.T, cfg Config, opts ...Option) (*Scheduler, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(1, 1)))}, opts...)
	return New(reg, cfg, opts...), reg
}

func status(t *testing.T, s *Scheduler, id string) Task {
	t.Helper()
	task, ok := s.GetTaskStatus(id)
	require.True(t, ok, "task %s not found", id)
	return task
}

func TestAddTask_Defaults(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())

	tests := []struct {
		name string
		opts []TaskOption
		want int
	}{
		{name: "no type", want: DefaultPriority},
		{name: "type default", opts: []TaskOption{WithType(TypePlanning)}, want: 1},
		{name: "explicit wins", opts: []TaskOption{WithType(TypePlanning), WithPriority(4)}, want: 4},
		{name: "clamped high", opts: []TaskOption{WithPriority(99)}, want: MaxPriority},
		{name: "clamped low", opts: []TaskOption{WithPriority(-1)}, want: MinPriority},
		{name: "unknown type", opts: []TaskOption{WithType("dreaming")}, want: DefaultPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.AddTask(map[string]any{"query": tt.name}, tt.opts...)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			task := status(t, s, id)
			assert.Equal(t, tt.want, task.Priority)
			assert.Equal(t, TaskPending, task.Status)
			assert.False(t, task.CreatedAt.IsZero())
		})
	}
}

func TestAddTask_UnknownDependencyWarnsButAccepts(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, _ := newTestScheduler(t, testConfig(), WithLogger(zap.New(core)))

	id, err := s.AddTask(nil, WithDependencies("ghost"))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("task depends on unknown task").Len())
	assert.Equal(t, TaskPending, status(t, s, id).Status)

	_, err = s.Order()
	assert.ErrorContains(t, err, "unknown task")
}

func TestAddTask_DuplicateID(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())

	_, err := s.AddTask(nil, WithID("fixed"))
	require.NoError(t, err)

	_, err = s.AddTask(nil, WithID("fixed"))
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestGetTaskStatus_Unknown(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())
	_, ok := s.GetTaskStatus("nope")
	assert.False(t, ok)
}

func TestDispatch_AssignsByCapability(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	a, b := newGate("A out"), newGate("B out")
	reg.RegisterWorker("A", []string{"analysis"}, a)
	reg.RegisterWorker("B", []string{"creation"}, b)

	id, err := s.AddTask(map[string]any{}, WithType(TypeAnalysis))
	require.NoError(t, err)

	require.Equal(t, 1, s.dispatchOnce(context.Background(), 2))

	task := status(t, s, id)
	assert.Equal(t, TaskProcessing, task.Status)
	assert.Equal(t, []string{"A"}, task.AssignedWorkers)

	st, _ := reg.Status("A")
	assert.False(t, st.Available, "assigned worker must be reserved")
	st, _ = reg.Status("B")
	assert.True(t, st.Available)

	a.open()
	s.Wait()

	task = status(t, s, id)
	assert.Equal(t, TaskCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "A out", task.Result.FinalOutput)
	assert.Zero(t, b.calls.Load())

	st, _ = reg.Status("A")
	assert.True(t, st.Available)
	assert.Equal(t, 1, st.Performance.TasksCompleted)
}

func TestDispatch_ReRegistrationKeepsReservation(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	g := newGate("A out")
	reg.RegisterWorker("A", []string{"analysis"}, g)

	first, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)
	require.Equal(t, 1, s.dispatchOnce(context.Background(), 2))

	reg.RegisterWorker("A", []string{"analysis", "reasoning"}, nil)

	second, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)
	assert.Equal(t, 0, s.dispatchOnce(context.Background(), 2))
	assert.Equal(t, TaskPending, status(t, s, second).Status, "A is still busy with the first task")
	assert.Empty(t, status(t, s, second).AssignedWorkers)

	st, _ := reg.Status("A")
	assert.False(t, st.Available)

	g.open()
	s.Wait()
	require.Equal(t, TaskCompleted, status(t, s, first).Status)

	require.Eventually(t, func() bool {
		s.dispatchOnce(context.Background(), 2)
		return status(t, s, second).Status != TaskPending
	}, 2*time.Second, 10*time.Millisecond)
	s.Wait()
	assert.Equal(t, TaskCompleted, status(t, s, second).Status)
	assert.Equal(t, int32(2), g.calls.Load())
}

func TestDispatch_DependencyOrdering(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	g := newGate("ok")
	reg.RegisterWorker("A", []string{"analysis"}, g)
	reg.RegisterWorker("B", []string{"analysis"}, g)

	y, err := s.AddTask(nil, WithType(TypeAnalysis), WithPriority(1))
	require.NoError(t, err)
	x, err := s.AddTask(nil, WithType(TypeAnalysis), WithPriority(5), WithDependencies(y))
	require.NoError(t, err)

	// x has the higher priority but must wait for y.
	assert.Equal(t, 1, s.dispatchOnce(context.Background(), 2))
	assert.Equal(t, TaskPending, status(t, s, x).Status)
	assert.Equal(t, TaskProcessing, status(t, s, y).Status)

	assert.Equal(t, 0, s.dispatchOnce(context.Background(), 2))
	assert.Equal(t, TaskPending, status(t, s, x).Status)

	g.open()
	s.Wait()
	require.Equal(t, TaskCompleted, status(t, s, y).Status)

	assert.Equal(t, 1, s.dispatchOnce(context.Background(), 2))
	assert.Contains(t, []TaskStatus{TaskProcessing, TaskCompleted}, status(t, s, x).Status)
	s.Wait()
	assert.Equal(t, TaskCompleted, status(t, s, x).Status)
}

func TestDispatch_UnmetDependencyDoesNotConsumeSlot(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	g := newGate("ok")
	reg.RegisterWorker("A", nil, g)
	reg.RegisterWorker("B", nil, g)

	blocker, err := s.AddTask(nil, WithID("blocker"))
	require.NoError(t, err)
	require.Equal(t, 1, s.dispatchOnce(context.Background(), 1))

	_, err = s.AddTask(nil, WithPriority(5), WithDependencies(blocker))
	require.NoError(t, err)
	free, err := s.AddTask(nil, WithPriority(1))
	require.NoError(t, err)

	// One slot left: the waiting high-priority task is skipped, the free one runs.
	assert.Equal(t, 1, s.dispatchOnce(context.Background(), 2))
	assert.Equal(t, TaskProcessing, status(t, s, free).Status)

	g.open()
	s.Wait()
}

func TestDispatch_PriorityOrderWithFIFOTies(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())

	var mu sync.Mutex
	var order []string
	reg.RegisterWorker("solo", nil, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		mu.Lock()
		order = append(order, in.Query())
		mu.Unlock()
		return "", nil
	}))

	for _, tc := range []struct {
		name string
		prio int
	}{{"p1", 1}, {"p5-a", 5}, {"p3", 3}, {"p5-b", 5}} {
		_, err := s.AddTask(map[string]any{"query": tc.name}, WithPriority(tc.prio))
		require.NoError(t, err)
	}

	for range 4 {
		require.Equal(t, 1, s.dispatchOnce(context.Background(), 1))
		s.Wait()
	}

	assert.Equal(t, []string{"p5-a", "p5-b", "p3", "p1"}, order)
}

func TestDispatch_NoEligibleWorkerRequeuesWithBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Requeue.InitialInterval = time.Hour
	cfg.Requeue.MaxInterval = time.Hour
	core, logs := observer.New(zap.WarnLevel)
	s, reg := newTestScheduler(t, cfg, WithLogger(zap.New(core)))
	reg.RegisterWorker("B", []string{"creation"}, newGate("x"))

	id, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)

	assert.Equal(t, 0, s.dispatchOnce(context.Background(), 2))
	task := status(t, s, id)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, 1, logs.FilterMessage("no eligible worker, task requeued").Len())

	// Still backing off: the next cycle leaves it alone.
	assert.Equal(t, 0, s.dispatchOnce(context.Background(), 2))
	assert.Equal(t, 1, status(t, s, id).Attempts)
	assert.Equal(t, 1, s.Stats().Pending)
}

func TestDispatch_MaxAssignAttemptsFails(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAssignAttempts = 1
	s, reg := newTestScheduler(t, cfg)
	reg.RegisterWorker("B", []string{"creation"}, newGate("x"))

	id, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)

	assert.Equal(t, 0, s.dispatchOnce(context.Background(), 2))

	task := status(t, s, id)
	assert.Equal(t, TaskFailed, task.Status)
	assert.ErrorIs(t, task.Err, ErrNoEligibleWorker)
	require.NotNil(t, task.Result)
	assert.NotEmpty(t, task.Result.Error)
}

func TestDispatch_WorkerErrorFailsTaskAndReleasesWorkers(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	reg.RegisterWorker("broken", []string{"analysis"}, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		return "", errors.New("work function exploded")
	}))

	id, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)

	require.Equal(t, 1, s.dispatchOnce(context.Background(), 1))
	s.Wait()

	task := status(t, s, id)
	assert.Equal(t, TaskFailed, task.Status)
	require.NotNil(t, task.Result)
	assert.Contains(t, task.Result.Error, "work function exploded")
	assert.ErrorIs(t, task.Err, backend.ErrInvocation)

	st, _ := reg.Status("broken")
	assert.True(t, st.Available)
	assert.Equal(t, 1, st.Performance.TasksCompleted)
	assert.Equal(t, 0.0, st.Performance.SuccessRate)
}

func TestDispatch_TaskTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = 50 * time.Millisecond
	s, reg := newTestScheduler(t, cfg)
	reg.RegisterWorker("slow", nil, newGate("never"))

	id, err := s.AddTask(nil)
	require.NoError(t, err)

	require.Equal(t, 1, s.dispatchOnce(context.Background(), 1))
	s.Wait()

	task := status(t, s, id)
	assert.Equal(t, TaskFailed, task.Status)
	assert.ErrorIs(t, task.Err, ErrTaskTimeout)
	assert.ErrorIs(t, task.Err, backend.ErrInvocation)

	st, _ := reg.Status("slow")
	assert.True(t, st.Available)
}

func TestDispatch_CascadeFailures(t *testing.T) {
	for _, cascade := range []bool{false, true} {
		t.Run(fmt.Sprintf("cascade=%v", cascade), func(t *testing.T) {
			cfg := testConfig()
			cfg.CascadeFailures = cascade
			s, reg := newTestScheduler(t, cfg)
			reg.RegisterWorker("w", nil, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
				return "", errors.New("nope")
			}))

			parent, err := s.AddTask(nil)
			require.NoError(t, err)
			child, err := s.AddTask(nil, WithDependencies(parent))
			require.NoError(t, err)

			s.dispatchOnce(context.Background(), 1)
			s.Wait()
			require.Equal(t, TaskFailed, status(t, s, parent).Status)

			s.dispatchOnce(context.Background(), 1)
			s.Wait()

			task := status(t, s, child)
			if cascade {
				assert.Equal(t, TaskFailed, task.Status)
				assert.ErrorIs(t, task.Err, ErrDependencyFailed)
			} else {
				assert.Equal(t, TaskPending, task.Status)
			}
		})
	}
}

func TestStranded(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	reg.RegisterWorker("w", []string{"analysis"}, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		return "", errors.New("nope")
	}))

	root, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)
	child, err := s.AddTask(nil, WithType(TypeAnalysis), WithDependencies(root))
	require.NoError(t, err)
	grandchild, err := s.AddTask(nil, WithType(TypeAnalysis), WithDependencies(child))
	require.NoError(t, err)
	orphan, err := s.AddTask(map[string]any{"required_capabilities": []string{"telepathy"}})
	require.NoError(t, err)

	stranded := s.Stranded()
	require.Len(t, stranded, 1, "only the task nobody can serve is stranded before anything fails")
	assert.ErrorIs(t, stranded[orphan], ErrTaskStranded)

	s.dispatchOnce(context.Background(), 1)
	s.Wait()
	require.Equal(t, TaskFailed, status(t, s, root).Status)

	stranded = s.Stranded()
	require.Len(t, stranded, 3)
	assert.ErrorIs(t, stranded[child], ErrTaskStranded)
	assert.ErrorContains(t, stranded[grandchild], root)
	assert.Equal(t, TaskPending, status(t, s, grandchild).Status)
}

func TestStranded_BoundedAttemptsLeaveUnservedTasksToDispatcher(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAssignAttempts = 2
	s, reg := newTestScheduler(t, cfg)
	reg.RegisterWorker("w", []string{"analysis"}, newGate("ok"))

	_, err := s.AddTask(map[string]any{"required_capabilities": []string{"telepathy"}})
	require.NoError(t, err)
	assert.Empty(t, s.Stranded())
}

func TestWaitSettled(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	reg.RegisterWorker("w", []string{"analysis"}, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		if in.Query() == "fail" {
			return "", errors.New("nope")
		}
		return "fine", nil
	}))

	bad, err := s.AddTask(map[string]any{"query": "fail"}, WithType(TypeAnalysis))
	require.NoError(t, err)
	good, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)
	blocked, err := s.AddTask(nil, WithType(TypeAnalysis), WithDependencies(bad))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.RunDispatchLoop(ctx, 2) }()

	stranded, err := s.WaitSettled(ctx, []string{bad, good, blocked, "missing"})
	require.NoError(t, err)
	s.Stop()
	require.NoError(t, <-done)
	s.Wait()

	require.Len(t, stranded, 1)
	assert.ErrorIs(t, stranded[blocked], ErrTaskStranded)
	assert.Equal(t, TaskFailed, status(t, s, bad).Status)
	assert.Equal(t, TaskCompleted, status(t, s, good).Status)
	assert.Equal(t, TaskPending, status(t, s, blocked).Status)
}

func TestDispatch_PipelinePassesPreviousOutputs(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())

	var seen map[string]string
	reg.RegisterWorker("alpha", []string{"analysis"}, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		return "alpha says hi", nil
	}))
	reg.RegisterWorker("beta", []string{"analysis"}, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		seen, _ = in[backend.KeyPreviousOutputs].(map[string]string)
		assert.Equal(t, 2, in.Step())
		return "beta builds on it", nil
	}))

	id, err := s.AddTask(map[string]any{"required_capabilities": []string{"analysis"}})
	require.NoError(t, err)

	require.Equal(t, 1, s.dispatchOnce(context.Background(), 1))
	s.Wait()

	task := status(t, s, id)
	require.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, []string{"alpha", "beta"}, task.AssignedWorkers)
	assert.Equal(t, map[string]string{"alpha": "alpha says hi"}, seen)
	assert.Equal(t, "beta builds on it", task.Result.FinalOutput)
	assert.Len(t, task.Result.Outputs, 2)
}

func TestGetAgentStatus_ActiveTasks(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	g := newGate("ok")
	reg.RegisterWorker("A", []string{"analysis"}, g)
	reg.RegisterWorker("idle", []string{"creation"}, g)

	id, err := s.AddTask(nil, WithType(TypeAnalysis))
	require.NoError(t, err)
	require.Equal(t, 1, s.dispatchOnce(context.Background(), 1))

	agents := s.GetAgentStatus()
	require.Len(t, agents, 2)
	assert.Equal(t, []string{id}, agents["A"].ActiveTasks)
	assert.False(t, agents["A"].Available)
	assert.Empty(t, agents["idle"].ActiveTasks)

	g.open()
	s.Wait()
	assert.Empty(t, s.GetAgentStatus()["A"].ActiveTasks)
}

func TestRunDispatchLoop_CapacityAndExclusion(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	probe := newProbe(20 * time.Millisecond)
	for i := range 5 {
		name := fmt.Sprintf("w%d", i)
		reg.RegisterWorker(name, []string{"generic"}, probe.backendFor(name))
	}

	const total = 12
	for i := range total {
		_, err := s.AddTask(map[string]any{"n": i})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.RunDispatchLoop(ctx, 2) }()

	require.NoError(t, s.WaitIdle(ctx))
	s.Stop()
	require.NoError(t, <-done)
	s.Wait()

	assert.LessOrEqual(t, probe.peak.Load(), int32(2))
	assert.False(t, probe.overlap.Load(), "a worker ran two tasks at once")

	st := s.Stats()
	assert.Equal(t, total, st.Completed)

	completions := 0
	for name, ws := range s.GetAgentStatus() {
		probe.mu.Lock()
		assert.Equal(t, probe.done[name], ws.Performance.TasksCompleted, "worker %s", name)
		probe.mu.Unlock()
		completions += ws.Performance.TasksCompleted
		assert.True(t, ws.Available)
	}
	assert.Equal(t, total, completions)
}

func TestRunDispatchLoop_StopAndCancel(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())

	done := make(chan error, 1)
	go func() { done <- s.RunDispatchLoop(context.Background(), 1) }()

	s.Stop()
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not stop")
	}

	s2, _ := newTestScheduler(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- s2.RunDispatchLoop(ctx, 1) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatch loop ignored cancellation")
	}

	assert.Error(t, s2.RunDispatchLoop(context.Background(), 0))
}

func TestRunDispatchLoop_InFlightFinishAfterStop(t *testing.T) {
	s, reg := newTestScheduler(t, testConfig())
	g := newGate("finished")
	reg.RegisterWorker("w", nil, g)

	id, err := s.AddTask(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunDispatchLoop(ctx, 1) }()

	require.Eventually(t, func() bool {
		task, _ := s.GetTaskStatus(id)
		return task.Status == TaskProcessing
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	cancel()
	<-done

	g.open()
	s.Wait()
	assert.Equal(t, TaskCompleted, status(t, s, id).Status)
}

func TestScheduler_RecorderAndEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	sub := bus.Subscribe(64, events.TopicTask)

	rec := &memoryRecorder{}
	s, reg := newTestScheduler(t, testConfig(), WithRecorder(rec), WithEventBus(bus))
	reg.RegisterWorker("w", nil, backend.Func(func(ctx context.Context, in backend.Input) (string, error) {
		return "out", nil
	}))

	id, err := s.AddTask(nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.dispatchOnce(context.Background(), 1))
	s.Wait()

	assert.Equal(t, []TaskStatus{TaskPending, TaskProcessing, TaskCompleted}, rec.statuses(id))

	var types []string
	for len(types) < 4 {
		select {
		case ev := <-sub:
			assert.Equal(t, id, ev.Subject())
			types = append(types, ev.EventType())
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{
		events.EventTypeTaskQueued,
		events.EventTypeTaskStarted,
		events.EventTypeTaskOutput,
		events.EventTypeTaskCompleted,
	}, types)
}

func TestScheduler_OrderDetectsCycle(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())
	_, err := s.AddTask(nil, WithID("a"), WithDependencies("b"))
	require.NoError(t, err)
	_, err = s.AddTask(nil, WithID("b"), WithDependencies("a"))
	require.NoError(t, err)

	_, err = s.Order()
	assert.ErrorContains(t, err, "cycle")
	assert.Equal(t, []string{"b"}, s.Dependents("a"))
}

func TestScheduler_TasksInInsertionOrder(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig())
	var ids []string
	for range 5 {
		id, err := s.AddTask(nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var got []string
	for _, task := range s.Tasks() {
		got = append(got, task.ID)
	}
	assert.Equal(t, ids, got)
}
