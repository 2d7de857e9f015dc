package scheduler

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aristath/hive/internal/registry"
)

func ws(name string, caps ...string) registry.WorkerStatus {
	return registry.WorkerStatus{Name: name, Capabilities: caps, Available: true}
}

func TestSelectWorkers(t *testing.T) {
	tests := []struct {
		name      string
		required  []string
		available []registry.WorkerStatus
		limit     int
		want      []string
	}{
		{
			name:      "nothing available",
			required:  []string{"analysis"},
			available: nil,
			want:      nil,
		},
		{
			name:      "zero score workers are dropped",
			required:  []string{"analysis"},
			available: []registry.WorkerStatus{ws("A", "analysis"), ws("B", "creation")},
			want:      []string{"A"},
		},
		{
			name:      "ranked by coverage",
			required:  []string{"analysis", "reasoning"},
			available: []registry.WorkerStatus{ws("half", "analysis"), ws("full", "analysis", "reasoning"), ws("other", "reasoning", "x")},
			want:      []string{"full", "half", "other"},
		},
		{
			name:      "capped at limit",
			required:  []string{"analysis"},
			available: []registry.WorkerStatus{ws("a", "analysis"), ws("b", "analysis"), ws("c", "analysis"), ws("d", "analysis")},
			limit:     3,
			want:      []string{"a", "b", "c"},
		},
		{
			name:      "no match at all",
			required:  []string{"planning"},
			available: []registry.WorkerStatus{ws("a", "analysis")},
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectWorkers(tt.required, tt.available, tt.limit, rand.New(rand.NewPCG(1, 2)))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("selectWorkers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectWorkers_NoRequirementsPicksOne(t *testing.T) {
	available := []registry.WorkerStatus{ws("a"), ws("b"), ws("c")}
	rng := rand.New(rand.NewPCG(7, 7))

	seen := make(map[string]bool)
	for range 200 {
		got := selectWorkers(nil, available, 3, rng)
		if len(got) != 1 {
			t.Fatalf("expected exactly one worker, got %v", got)
		}
		seen[got[0]] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected random choice to reach every worker, saw %v", seen)
	}
}

func TestMatchScore(t *testing.T) {
	if got := matchScore([]string{"a", "b", "c", "d"}, []string{"a", "c", "z"}); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
	if got := matchScore(nil, []string{"a"}); got != 0 {
		t.Errorf("expected 0 for empty requirements, got %v", got)
	}
}
