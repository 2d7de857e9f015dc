// Package registry tracks the workers available to the scheduler and the
// activation network: their capabilities, availability and performance.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/hive/internal/backend"
	"github.com/aristath/hive/internal/logging"
)

var (
	// ErrUnknownWorker is returned when a name does not match a registered worker.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrNoBackend is returned when invoking a worker registered without a backend.
	ErrNoBackend = errors.New("worker has no backend")
)

// Performance holds rolling statistics for a worker.
type Performance struct {
	TasksCompleted    int     `json:"tasks_completed"`
	AvgProcessingTime float64 `json:"avg_processing_time"` // seconds
	SuccessRate       float64 `json:"success_rate"`
}

// WorkerStatus is a point-in-time copy of a worker's state.
type WorkerStatus struct {
	Name         string      `json:"name"`
	Capabilities []string    `json:"capabilities"`
	Available    bool        `json:"available"`
	Performance  Performance `json:"performance"`
	ActiveTasks  []string    `json:"active_tasks,omitempty"`
}

type worker struct {
	name         string
	capabilities []string
	available    bool
	performance  Performance
	backend      backend.Backend
}

// Registry is the set of registered workers. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*worker
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		workers: make(map[string]*worker),
		logger:  logging.OrNop(logger),
	}
}

// RegisterWorker adds a worker or replaces an existing one. Every
// registration resets performance to neutral. New workers start available;
// re-registering keeps the current availability so a worker reserved by an
// in-flight task stays reserved until that task releases it. A nil backend
// keeps the previously registered one.
func (r *Registry) RegisterWorker(name string, capabilities []string, b backend.Backend) {
	caps := dedupe(capabilities)

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[name]
	if !ok {
		w = &worker{name: name, available: true}
		r.workers[name] = w
	}
	w.capabilities = caps
	w.performance = Performance{SuccessRate: 1.0}
	if b != nil {
		w.backend = b
	}

	r.logger.Debug("worker registered",
		zap.String("worker", name),
		zap.Strings("capabilities", caps),
		zap.Bool("new", !ok),
	)
}

// Status returns a copy of the named worker's state.
func (r *Registry) Status(name string) (WorkerStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[name]
	if !ok {
		return WorkerStatus{}, false
	}
	return w.status(), true
}

// Snapshot returns the state of every worker, sorted by name.
func (r *Registry) Snapshot() []WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]WorkerStatus, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered worker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a worker with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[name]
	return ok
}

// Capabilities returns a copy of the named worker's capabilities.
func (r *Registry) Capabilities(name string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(w.capabilities), true
}

// Available returns the currently available workers, sorted by name.
func (r *Registry) Available() []WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []WorkerStatus
	for _, w := range r.workers {
		if w.available {
			out = append(out, w.status())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reserve marks every named worker unavailable. It is all-or-nothing: if any
// worker is unknown or already reserved nothing changes and false is returned.
func (r *Registry) Reserve(names []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		w, ok := r.workers[name]
		if !ok || !w.available {
			return false
		}
	}
	for _, name := range names {
		r.workers[name].available = false
	}
	return true
}

// Release marks the named workers available again.
func (r *Registry) Release(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if w, ok := r.workers[name]; ok {
			w.available = true
		}
	}
}

// UpdatePerformance folds one completed unit of work into the worker's
// statistics. Unknown workers are logged and ignored.
func (r *Registry) UpdatePerformance(name string, processingTime time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[name]
	if !ok {
		r.logger.Warn("performance update for unknown worker", zap.String("worker", name))
		return
	}

	p := &w.performance
	p.TasksCompleted++
	n := float64(p.TasksCompleted)

	p.AvgProcessingTime = (p.AvgProcessingTime*(n-1) + processingTime.Seconds()) / n

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.SuccessRate = (p.SuccessRate*(n-1) + outcome) / n
}

// Invoke runs the named worker's backend. Work-function failures are wrapped
// in a *backend.InvocationError.
func (r *Registry) Invoke(ctx context.Context, name string, in backend.Input) (string, error) {
	r.mu.Lock()
	w, ok := r.workers[name]
	var b backend.Backend
	if ok {
		b = w.backend
	}
	r.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	if b == nil {
		return "", fmt.Errorf("%w: %s", ErrNoBackend, name)
	}

	out, err := b.Invoke(ctx, in)
	if err != nil {
		return "", &backend.InvocationError{Worker: name, Err: err}
	}
	return out, nil
}

func (w *worker) status() WorkerStatus {
	return WorkerStatus{
		Name:         w.name,
		Capabilities: slices.Clone(w.capabilities),
		Available:    w.available,
		Performance:  w.performance,
	}
}

func dedupe(in []string) []string {
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
