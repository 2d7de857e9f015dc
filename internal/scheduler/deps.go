package scheduler

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// dependencyGraph records which tasks wait on which. Dependencies may name
// tasks that do not exist yet.
type dependencyGraph struct {
	deps       map[string][]string // task -> tasks it waits on
	dependents map[string][]string // task -> tasks waiting on it
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

func (g *dependencyGraph) add(id string, deps []string) {
	g.deps[id] = slices.Clone(deps)
	for _, dep := range deps {
		g.dependents[dep] = append(g.dependents[dep], id)
	}
}

// dependentsOf returns the tasks that directly wait on id.
func (g *dependencyGraph) dependentsOf(id string) []string {
	return slices.Clone(g.dependents[id])
}

// order returns the task IDs in an order that respects every dependency.
// It fails when a dependency names an unknown task or when the graph has a cycle.
func (g *dependencyGraph) order() ([]string, error) {
	ids := make([]string, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var edges []toposort.Edge
	for _, id := range ids {
		deps := g.deps[id]
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range deps {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", id, dep)
			}
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task dependencies contain a cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.deps) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("dependency sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}
