package backend

import (
	"fmt"
	"time"
)

// Backend types accepted by New.
const (
	TypeCommand = "command"
	TypeEcho    = "echo"
)

// Well-known Input keys.
const (
	KeyQuery           = "query"
	KeyContext         = "context"
	KeyStep            = "step"
	KeyTaskID          = "task_id"
	KeyTaskType        = "task_type"
	KeyPayload         = "payload"
	KeyPreviousOutputs = "previous_outputs"
	KeySystemPrompt    = "system_prompt"
)

// Input is the structured argument handed to a worker. Task dispatch fills
// the task keys; activation rounds fill query, context and step.
type Input map[string]any

// Query returns the textual request carried by the input. Task inputs fall
// back to the payload's "query" or "prompt" entry.
func (in Input) Query() string {
	if q, ok := in[KeyQuery].(string); ok && q != "" {
		return q
	}
	if payload, ok := in[KeyPayload].(map[string]any); ok {
		for _, k := range []string{"query", "prompt"} {
			if q, ok := payload[k].(string); ok && q != "" {
				return q
			}
		}
	}
	return ""
}

// Step returns the activation round or pipeline position, or 0.
func (in Input) Step() int {
	switch v := in[KeyStep].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// String returns the named entry rendered as text.
func (in Input) String(key string) string {
	v, ok := in[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Config defines how a worker's backend is built.
type Config struct {
	Type         string        // "command" or "echo"
	Name         string        // worker name, used for labels and breakers
	Command      string        // executable for command backends
	Args         []string      // extra arguments for command backends
	Timeout      time.Duration // per-invocation limit for command backends; 0 means none
	WorkDir      string
	Env          []string
	SystemPrompt string
	Capabilities []string
}
