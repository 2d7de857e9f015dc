package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/aristath/hive/internal/backend"
	"github.com/aristath/hive/internal/events"
)

// execute runs a dispatched task on its assigned workers and hands the
// outcome to finish. The task context survives cancellation of the dispatch
// loop but is bounded by Config.TaskTimeout.
func (s *Scheduler) execute(ctx context.Context, task Task) {
	defer s.wg.Done()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.runPipeline(runCtx, task)
	result.ProcessingTime = time.Since(start)
	result.CompletedAt = time.Now()

	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrTaskTimeout, s.cfg.TaskTimeout, err)
	}

	s.finish(ctx, task.ID, result, err)
}

// runPipeline invokes the assigned workers in order. Each worker sees the
// outputs of the workers before it; the last output is the task's final
// output. The first failure stops the pipeline.
func (s *Scheduler) runPipeline(ctx context.Context, task Task) (TaskResult, error) {
	result := TaskResult{Outputs: make(map[string]string, len(task.AssignedWorkers))}

	for i, name := range task.AssignedWorkers {
		if err := ctx.Err(); err != nil {
			return result, &backend.InvocationError{Worker: name, Err: err}
		}

		in := backend.Input{
			backend.KeyTaskID:          task.ID,
			backend.KeyTaskType:        string(task.Type),
			backend.KeyPayload:         task.Payload,
			backend.KeyStep:            i + 1,
			backend.KeyPreviousOutputs: maps.Clone(result.Outputs),
		}

		out, err := s.registry.Invoke(ctx, name, in)
		if err != nil {
			return result, err
		}

		result.Outputs[name] = out
		result.FinalOutput = out

		s.bus.Publish(events.TopicTask, events.TaskOutputEvent{
			ID:        task.ID,
			Worker:    name,
			Output:    out,
			Timestamp: time.Now(),
		})
	}

	return result, nil
}
