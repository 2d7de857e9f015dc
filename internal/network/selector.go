package network

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/aristath/hive/internal/backend"
)

// Selector chooses the workers that seed a query. It may return fewer or
// more than count names, or names outside candidates; the network filters
// the result and tops it up at random.
type Selector interface {
	Select(ctx context.Context, query string, candidates []Node, count int) ([]string, error)
}

// Invoker runs a named worker. *registry.Registry implements it.
type Invoker interface {
	Invoke(ctx context.Context, name string, in backend.Input) (string, error)
}

// RandomSelector picks seeds uniformly at random.
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector creates a RandomSelector drawing from rng.
func NewRandomSelector(rng *rand.Rand) *RandomSelector {
	return &RandomSelector{rng: rng}
}

func (s *RandomSelector) Select(ctx context.Context, query string, candidates []Node, count int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perm := s.rng.Perm(len(candidates))
	count = min(count, len(candidates))
	out := make([]string, count)
	for i := range count {
		out[i] = candidates[perm[i]].Name
	}
	return out, nil
}

// KeywordSelector ranks workers by how many of their capability and name
// terms appear in the query.
type KeywordSelector struct{}

func (KeywordSelector) Select(ctx context.Context, query string, candidates []Node, count int) ([]string, error) {
	words := make(map[string]bool)
	for _, w := range terms(query) {
		words[w] = true
	}

	type scored struct {
		name  string
		score int
	}
	var ranked []scored
	for _, c := range candidates {
		score := 0
		for _, t := range terms(c.Name) {
			if words[t] {
				score++
			}
		}
		for _, capability := range c.Capabilities {
			for _, t := range terms(capability) {
				if words[t] {
					score++
				}
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{name: c.Name, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]string, 0, min(count, len(ranked)))
	for _, r := range ranked[:min(count, len(ranked))] {
		out = append(out, r.name)
	}
	return out, nil
}

// WorkerSelector asks a designated worker which peers should start on the
// query. The worker is expected to answer with a comma-separated list of names.
type WorkerSelector struct {
	Invoker Invoker
	Worker  string
}

func (s WorkerSelector) Select(ctx context.Context, query string, candidates []Node, count int) ([]string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze this query and decide which workers are best suited to begin working on it.\n\nQUERY: %s\n\nAVAILABLE WORKERS:\n", query)
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, strings.Join(c.Capabilities, ", "))
	}
	fmt.Fprintf(&sb, "\nSelect %d workers. Return only the worker names as a comma-separated list.\n", count)

	out, err := s.Invoker.Invoke(ctx, s.Worker, backend.Input{backend.KeyQuery: sb.String()})
	if err != nil {
		return nil, fmt.Errorf("seed selection by %s: %w", s.Worker, err)
	}
	return parseNameList(out), nil
}

func parseNameList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' })
	var names []string
	for _, f := range fields {
		name := strings.Trim(strings.TrimSpace(f), "\"'`.-* ")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// terms splits s into lower-case words, treating underscores and
// punctuation as separators.
func terms(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
