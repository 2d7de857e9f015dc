package scheduler

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending    TaskStatus = iota // Queued, waiting for dependencies or workers
	TaskProcessing                   // Assigned and executing
	TaskCompleted                    // Finished successfully
	TaskFailed                       // Finished with error
)

var statusNames = [...]string{"pending", "processing", "completed", "failed"}

func (s TaskStatus) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText renders the status by name in JSON and logs.
func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *TaskStatus) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = TaskStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown task status %q", string(b))
}

// Priority bounds. Higher values are dispatched first.
const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

// TaskType classifies a task and selects its default capabilities and priority.
type TaskType string

const (
	TypeAnalysis  TaskType = "analysis"
	TypeCreation  TaskType = "creation"
	TypeResearch  TaskType = "research"
	TypePlanning  TaskType = "planning"
	TypeExecution TaskType = "execution"
)

// TypeProfile holds the defaults attached to a task type.
type TypeProfile struct {
	Capabilities      []string
	Priority          int
	EstimatedDuration time.Duration
}

var typeProfiles = map[TaskType]TypeProfile{
	TypeAnalysis:  {Capabilities: []string{"analysis", "reasoning"}, Priority: 3, EstimatedDuration: 60 * time.Second},
	TypeCreation:  {Capabilities: []string{"generation", "creativity"}, Priority: 2, EstimatedDuration: 120 * time.Second},
	TypeResearch:  {Capabilities: []string{"research", "information_retrieval"}, Priority: 4, EstimatedDuration: 180 * time.Second},
	TypePlanning:  {Capabilities: []string{"planning", "strategy"}, Priority: 1, EstimatedDuration: 90 * time.Second},
	TypeExecution: {Capabilities: []string{"implementation", "execution"}, Priority: 5, EstimatedDuration: 30 * time.Second},
}

// Profile returns a copy of the defaults for t.
func Profile(t TaskType) (TypeProfile, bool) {
	p, ok := typeProfiles[t]
	if !ok {
		return TypeProfile{}, false
	}
	p.Capabilities = slices.Clone(p.Capabilities)
	return p, true
}

// TaskResult is the outcome of a finished task.
type TaskResult struct {
	Outputs        map[string]string `json:"outputs,omitempty"` // worker name -> output
	FinalOutput    string            `json:"final_output,omitempty"`
	Error          string            `json:"error,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time"`
	CompletedAt    time.Time         `json:"completed_at"`
}

// Task is a unit of work handed to one or more workers.
type Task struct {
	ID              string         `json:"id"`
	Priority        int            `json:"priority"`
	Type            TaskType       `json:"task_type,omitempty"`
	Payload         map[string]any `json:"payload"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	AssignedWorkers []string       `json:"assigned_workers,omitempty"`
	Status          TaskStatus     `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       time.Time      `json:"started_at,omitzero"`
	Attempts        int            `json:"assign_attempts,omitempty"` // cycles in which no worker could be assigned
	Result          *TaskResult    `json:"result,omitempty"`
	Err             error          `json:"-"`

	seq       uint64
	notBefore time.Time
	backoff   *backoff.ExponentialBackOff
}

// RequiredCapabilities returns the union of the type's default capabilities
// and payload["required_capabilities"], in first-seen order.
func RequiredCapabilities(t TaskType, payload map[string]any) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	if p, ok := typeProfiles[t]; ok {
		for _, c := range p.Capabilities {
			add(c)
		}
	}

	switch extra := payload["required_capabilities"].(type) {
	case []string:
		for _, c := range extra {
			add(c)
		}
	case []any:
		for _, c := range extra {
			if s, ok := c.(string); ok {
				add(s)
			}
		}
	case string:
		add(extra)
	}

	return out
}

func clampPriority(p int) int {
	return min(max(p, MinPriority), MaxPriority)
}

func cloneTask(task *Task) Task {
	cp := *task
	cp.Payload = maps.Clone(task.Payload)
	cp.Dependencies = slices.Clone(task.Dependencies)
	cp.AssignedWorkers = slices.Clone(task.AssignedWorkers)
	if task.Result != nil {
		r := *task.Result
		r.Outputs = maps.Clone(task.Result.Outputs)
		cp.Result = &r
	}
	cp.backoff = nil
	return cp
}
