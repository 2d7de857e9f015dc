package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aristath/hive/internal/scheduler"
)

// TaskSpec describes a task to queue, as written in a task file.
type TaskSpec struct {
	ID           string         `json:"id,omitempty" toml:"id,omitempty"`
	Type         string         `json:"type,omitempty" toml:"type,omitempty"`
	Priority     int            `json:"priority,omitempty" toml:"priority,omitempty"` // 0 uses the type's default
	Payload      map[string]any `json:"payload" toml:"payload"`
	Dependencies []string       `json:"dependencies,omitempty" toml:"dependencies,omitempty"`
}

func (t TaskSpec) options() []scheduler.TaskOption {
	var opts []scheduler.TaskOption
	if t.ID != "" {
		opts = append(opts, scheduler.WithID(t.ID))
	}
	if t.Type != "" {
		opts = append(opts, scheduler.WithType(scheduler.TaskType(t.Type)))
	}
	if t.Priority != 0 {
		opts = append(opts, scheduler.WithPriority(t.Priority))
	}
	if len(t.Dependencies) > 0 {
		opts = append(opts, scheduler.WithDependencies(t.Dependencies...))
	}
	return opts
}

type taskFile struct {
	Tasks []TaskSpec `json:"tasks" toml:"tasks"`
}

// LoadTaskFile reads task specs from a JSON or TOML file holding a top-level
// "tasks" list. Dependencies name the IDs of other tasks in the file.
func LoadTaskFile(path string) ([]TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f taskFile
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	ids := make(map[string]bool, len(f.Tasks))
	for i, t := range f.Tasks {
		if t.ID == "" {
			continue
		}
		if ids[t.ID] {
			return nil, fmt.Errorf("%s: task %d reuses id %q", path, i+1, t.ID)
		}
		ids[t.ID] = true
	}
	for i, t := range f.Tasks {
		for _, dep := range t.Dependencies {
			if !ids[dep] {
				return nil, fmt.Errorf("%s: task %d depends on unknown task %q", path, i+1, dep)
			}
		}
	}

	return f.Tasks, nil
}
