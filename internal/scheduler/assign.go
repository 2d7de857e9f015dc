package scheduler

import (
	"math/rand/v2"
	"sort"

	"github.com/aristath/hive/internal/registry"
)

// DefaultMaxWorkersPerTask caps how many workers a single task is given.
const DefaultMaxWorkersPerTask = 3

type candidate struct {
	name  string
	score float64
}

// selectWorkers picks workers for a task from the available set. With no
// required capabilities one worker is chosen at random. Otherwise workers
// are ranked by the fraction of required capabilities they cover; workers
// covering none are dropped and at most limit are returned. Ties keep the
// order of available, which callers sort by name.
func selectWorkers(required []string, available []registry.WorkerStatus, limit int, rng *rand.Rand) []string {
	if len(available) == 0 {
		return nil
	}

	if len(required) == 0 {
		return []string{available[rng.IntN(len(available))].Name}
	}

	if limit <= 0 {
		limit = DefaultMaxWorkersPerTask
	}

	var ranked []candidate
	for _, w := range available {
		if score := matchScore(required, w.Capabilities); score > 0 {
			ranked = append(ranked, candidate{name: w.Name, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	names := make([]string, len(ranked))
	for i, c := range ranked {
		names[i] = c.name
	}
	return names
}

// matchScore is |required ∩ capabilities| / |required|.
func matchScore(required, capabilities []string) float64 {
	if len(required) == 0 {
		return 0
	}
	have := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		have[c] = struct{}{}
	}
	hits := 0
	for _, r := range required {
		if _, ok := have[r]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(required))
}
