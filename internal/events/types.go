package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	// Subject identifies what the event is about: a task ID, a query ID or
	// empty for aggregate events.
	Subject() string
}

// Topic constants
const (
	TopicTask    = "task"
	TopicQueue   = "queue"
	TopicNetwork = "network"
)

// Event type constants
const (
	EventTypeTaskQueued      = "task.queued"
	EventTypeTaskRequeued    = "task.requeued"
	EventTypeTaskStarted     = "task.started"
	EventTypeTaskOutput      = "task.output"
	EventTypeTaskCompleted   = "task.completed"
	EventTypeTaskFailed      = "task.failed"
	EventTypeQueueProgress   = "queue.progress"
	EventTypeActivationRound = "network.round"
	EventTypeQueryCompleted  = "network.query_completed"
)

// TaskQueuedEvent is published when a task is accepted by the scheduler.
type TaskQueuedEvent struct {
	ID        string
	TaskType  string
	Priority  int
	Timestamp time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) Subject() string   { return e.ID }

// TaskRequeuedEvent is published when a popped task goes back to the queue
// because no worker could take it.
type TaskRequeuedEvent struct {
	ID        string
	Reason    string
	Attempts  int
	RetryAt   time.Time
	Timestamp time.Time
}

func (e TaskRequeuedEvent) EventType() string { return EventTypeTaskRequeued }
func (e TaskRequeuedEvent) Subject() string   { return e.ID }

// TaskStartedEvent is published when a task is dispatched to its workers.
type TaskStartedEvent struct {
	ID        string
	TaskType  string
	Workers   []string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Subject() string   { return e.ID }

// TaskOutputEvent is published when one worker of a task produces output.
type TaskOutputEvent struct {
	ID        string
	Worker    string
	Output    string
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) Subject() string   { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Workers   []string
	Result    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Subject() string   { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	Workers   []string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Subject() string   { return e.ID }

// QueueProgressEvent is published whenever the scheduler's task counts change.
type QueueProgressEvent struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Timestamp  time.Time
}

func (e QueueProgressEvent) EventType() string { return EventTypeQueueProgress }
func (e QueueProgressEvent) Subject() string   { return "" }

// ActivationRoundEvent is published after each propagation round of a query.
type ActivationRoundEvent struct {
	QueryID        string
	Step           int
	Executed       []string
	NewlyActivated []string
	Activations    map[string]float64
	Timestamp      time.Time
}

func (e ActivationRoundEvent) EventType() string { return EventTypeActivationRound }
func (e ActivationRoundEvent) Subject() string   { return e.QueryID }

// QueryCompletedEvent is published when a query has been integrated.
type QueryCompletedEvent struct {
	QueryID      string
	Contributors []string
	Steps        int
	Duration     time.Duration
	Timestamp    time.Time
}

func (e QueryCompletedEvent) EventType() string { return EventTypeQueryCompleted }
func (e QueryCompletedEvent) Subject() string   { return e.QueryID }
