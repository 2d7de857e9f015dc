package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// CommandBackend runs an external program once per invocation. The input is
// written to the program's stdin as a JSON object and its trimmed stdout is
// the worker output.
type CommandBackend struct {
	name         string
	command      string
	args         []string
	workDir      string
	env          []string
	timeout      time.Duration
	systemPrompt string
	procMgr      *ProcessManager
}

// NewCommandBackend creates a subprocess backend. The ProcessManager is
// optional; without it subprocesses are not tracked for shutdown.
func NewCommandBackend(cfg Config, procMgr *ProcessManager) (*CommandBackend, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command backend %q: command is required", cfg.Name)
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &CommandBackend{
		name:         cfg.Name,
		command:      cfg.Command,
		args:         append([]string(nil), cfg.Args...),
		workDir:      workDir,
		env:          append([]string(nil), cfg.Env...),
		timeout:      cfg.Timeout,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Invoke runs the command with the JSON-encoded input on stdin.
func (b *CommandBackend) Invoke(ctx context.Context, in Input) (string, error) {
	payload := make(map[string]any, len(in)+1)
	for k, v := range in {
		payload[k] = v
	}
	if b.systemPrompt != "" {
		payload[KeySystemPrompt] = b.systemPrompt
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode input: %w", err)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	cmd := newCommand(ctx, b.command, b.args...)
	cmd.Dir = b.workDir
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	stdout, _, err := executeCommand(ctx, cmd, b.procMgr, data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.command, err)
	}

	return strings.TrimSpace(string(stdout)), nil
}
