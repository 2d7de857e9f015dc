package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// TestFactory_CreatesCommandBackend verifies command backend creation
func TestFactory_CreatesCommandBackend(t *testing.T) {
	b, err := New(Config{Type: TypeCommand, Name: "analyst", Command: "cat"}, NewProcessManager())
	if err != nil {
		t.Fatalf("Expected no error creating command backend, got: %v", err)
	}
	if _, ok := b.(*CommandBackend); !ok {
		t.Errorf("Expected *CommandBackend, got %T", b)
	}
}

// TestFactory_DefaultsToEcho verifies an empty type yields the echo backend
func TestFactory_DefaultsToEcho(t *testing.T) {
	b, err := New(Config{Name: "analyst"}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := b.(*EchoBackend); !ok {
		t.Errorf("Expected *EchoBackend, got %T", b)
	}
}

// TestFactory_UnknownType verifies unknown types are rejected
func TestFactory_UnknownType(t *testing.T) {
	_, err := New(Config{Type: "carrier-pigeon"}, nil)
	if err == nil {
		t.Fatal("Expected error for unknown backend type, got nil")
	}
	if !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("Expected 'unknown backend type' error, got: %v", err)
	}
}

// TestFactory_CommandRequired verifies command backends need an executable
func TestFactory_CommandRequired(t *testing.T) {
	if _, err := New(Config{Type: TypeCommand, Name: "x"}, nil); err == nil {
		t.Fatal("Expected error for missing command, got nil")
	}
}

// TestCommandBackend_SendsJSONInput verifies the input and system prompt reach stdin as JSON
func TestCommandBackend_SendsJSONInput(t *testing.T) {
	b, err := NewCommandBackend(Config{Name: "analyst", Command: "cat", SystemPrompt: "be brief"}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	out, err := b.Invoke(context.Background(), Input{KeyQuery: "what is up", KeyStep: 2})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	if decoded[KeyQuery] != "what is up" {
		t.Errorf("Expected query to round-trip, got %v", decoded[KeyQuery])
	}
	if decoded[KeySystemPrompt] != "be brief" {
		t.Errorf("Expected system prompt in input, got %v", decoded[KeySystemPrompt])
	}
}

// TestCommandBackend_Failure verifies a failing command surfaces an error
func TestCommandBackend_Failure(t *testing.T) {
	b, err := NewCommandBackend(Config{Name: "broken", Command: "sh", Args: []string{"-c", "echo nope >&2; exit 1"}}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := b.Invoke(context.Background(), Input{}); err == nil {
		t.Fatal("Expected invocation error, got nil")
	}
}

// TestEchoBackend_DescribesInput verifies the echo output names the worker, step and query
func TestEchoBackend_DescribesInput(t *testing.T) {
	b := NewEchoBackend(Config{Name: "researcher", Capabilities: []string{"research", "analysis"}})

	out, err := b.Invoke(context.Background(), Input{KeyQuery: "market size", KeyStep: 1})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for _, want := range []string{"researcher", "step 1", "research, analysis", "market size"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got %q", want, out)
		}
	}
}

// TestInput_QueryFallsBackToPayload verifies task inputs expose their payload prompt
func TestInput_QueryFallsBackToPayload(t *testing.T) {
	in := Input{KeyPayload: map[string]any{"prompt": "summarise"}}
	if got := in.Query(); got != "summarise" {
		t.Errorf("Expected payload prompt, got %q", got)
	}
}

// TestInvocationError_Unwrap verifies both the sentinel and the cause are reachable
func TestInvocationError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&InvocationError{Worker: "writer", Err: cause})

	if !errors.Is(err, ErrInvocation) {
		t.Error("Expected errors.Is(err, ErrInvocation)")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is(err, cause)")
	}
	if !strings.Contains(err.Error(), "writer") {
		t.Errorf("Expected worker name in message, got %q", err.Error())
	}
}

// TestCommandBackend_Timeout verifies the configured timeout bounds one invocation
func TestCommandBackend_Timeout(t *testing.T) {
	b, err := NewCommandBackend(Config{Name: "slow", Command: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond}, NewProcessManager())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	start := time.Now()
	if _, err := b.Invoke(context.Background(), Input{}); err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Expected invocation to stop near the timeout, took %s", elapsed)
	}
}
