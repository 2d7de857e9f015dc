package scheduler

import (
	"strings"
	"testing"
)

// TestDependencyGraphOrder tests ordering with various graph structures.
func TestDependencyGraphOrder(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *dependencyGraph
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			setup: func() *dependencyGraph {
				g := newDependencyGraph()
				g.add("A", nil)
				g.add("B", []string{"A"})
				g.add("C", []string{"B"})
				return g
			},
		},
		{
			name: "valid diamond",
			setup: func() *dependencyGraph {
				g := newDependencyGraph()
				g.add("A", nil)
				g.add("B", []string{"A"})
				g.add("C", []string{"A"})
				g.add("D", []string{"B", "C"})
				return g
			},
		},
		{
			name: "direct cycle",
			setup: func() *dependencyGraph {
				g := newDependencyGraph()
				g.add("A", []string{"B"})
				g.add("B", []string{"A"})
				return g
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "transitive cycle",
			setup: func() *dependencyGraph {
				g := newDependencyGraph()
				g.add("A", []string{"C"})
				g.add("B", []string{"A"})
				g.add("C", []string{"B"})
				return g
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "unknown dependency",
			setup: func() *dependencyGraph {
				g := newDependencyGraph()
				g.add("A", []string{"ghost"})
				return g
			},
			wantErr:     true,
			errContains: "unknown task",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.setup()
			order, err := g.order()

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got order %v", order)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			if len(pos) != len(g.deps) {
				t.Fatalf("expected %d ids in order, got %v", len(g.deps), order)
			}
			for id, deps := range g.deps {
				for _, dep := range deps {
					if pos[dep] > pos[id] {
						t.Errorf("%s ordered before its dependency %s: %v", id, dep, order)
					}
				}
			}
		})
	}
}

func TestDependencyGraph_Dependents(t *testing.T) {
	g := newDependencyGraph()
	g.add("A", nil)
	g.add("B", []string{"A"})
	g.add("C", []string{"A"})

	got := g.dependentsOf("A")
	if len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("expected [B C], got %v", got)
	}
	if len(g.dependentsOf("C")) != 0 {
		t.Errorf("expected no dependents of C")
	}
}
