package backend

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the work function behind a worker. Implementations receive a
// structured input and return free-form text.
type Backend interface {
	Invoke(ctx context.Context, in Input) (string, error)
}

// Func adapts an ordinary function to the Backend interface.
type Func func(ctx context.Context, in Input) (string, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, in Input) (string, error) {
	return f(ctx, in)
}

// ErrInvocation marks every failure that originates in a worker's work function.
var ErrInvocation = errors.New("worker invocation failed")

// InvocationError wraps a work-function failure with the worker that produced it.
type InvocationError struct {
	Worker string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("worker %s: %v", e.Worker, e.Err)
}

// Unwrap exposes both ErrInvocation and the underlying cause to errors.Is/As.
func (e *InvocationError) Unwrap() []error {
	return []error{ErrInvocation, e.Err}
}

// New creates a backend for a worker based on cfg.Type.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case TypeCommand:
		return NewCommandBackend(cfg, pm)
	case TypeEcho, "":
		return NewEchoBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
