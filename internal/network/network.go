// Package network answers queries by spreading activation through a weighted
// graph of workers. Seed workers run first; their outputs raise the
// activation of connected peers, which run in later rounds once they cross
// the threshold. The outputs of every worker that ran are then integrated
// into one response.
package network

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/hive/internal/backend"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/integrator"
	"github.com/aristath/hive/internal/logging"
	"github.com/aristath/hive/internal/registry"
)

// ErrEmptyNetwork is returned when a query arrives before any worker joined
// the network.
var ErrEmptyNetwork = errors.New("activation network has no workers")

// Config holds the network's tunables.
type Config struct {
	Threshold        float64 // activation at which a worker runs
	MemorySize       int     // memory entries kept per worker
	SummaryLength    int     // runes kept per memory summary
	SeedMin          int
	SeedMax          int
	WeightMin        float64 // bounds for RandomConnectivity weights
	WeightMax        float64
	RoundConcurrency int // workers invoked at once within a round
}

// DefaultConfig returns the default network configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.5,
		MemorySize:       5,
		SummaryLength:    100,
		SeedMin:          2,
		SeedMax:          3,
		WeightMin:        0.3,
		WeightMax:        0.9,
		RoundConcurrency: 4,
	}
}

// Integrator merges the contributions of a query into one response.
type Integrator interface {
	Integrate(ctx context.Context, request string, contributions []integrator.Contribution) string
}

// Recorder persists query results. persistence.SQLiteStore implements it.
type Recorder interface {
	SaveQueryResult(ctx context.Context, result QueryResult) error
}

// Round records one propagation round.
type Round struct {
	Step           int                `json:"step"`
	Executed       []string           `json:"executed"`
	Outputs        map[string]string  `json:"outputs"`
	Failed         []string           `json:"failed,omitempty"`
	NewlyActivated []string           `json:"newly_activated,omitempty"`
	Activations    map[string]float64 `json:"activations"`
}

// QueryResult is the outcome of ProcessQuery.
type QueryResult struct {
	ID                  string        `json:"id"`
	Query               string        `json:"query"`
	FinalResponse       string        `json:"final_response"`
	ContributingWorkers []string      `json:"contributing_workers"`
	StepsTaken          int           `json:"steps_taken"`
	RoundHistory        []Round       `json:"round_history"`
	Timestamp           time.Time     `json:"timestamp"`
	Duration            time.Duration `json:"duration"`
}

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(n *Network) { n.logger = logging.OrNop(l) }
}

// WithEventBus publishes round and query events to p.
func WithEventBus(p events.Publisher) Option {
	return func(n *Network) {
		if p != nil {
			n.bus = p
		}
	}
}

// WithRecorder persists every query result through r.
func WithRecorder(r Recorder) Option {
	return func(n *Network) { n.recorder = r }
}

// WithSelector sets how seeds are chosen. The default is random.
func WithSelector(s Selector) Option {
	return func(n *Network) { n.selector = s }
}

// WithRelevance replaces KeywordRelevance.
func WithRelevance(f RelevanceFunc) Option {
	return func(n *Network) {
		if f != nil {
			n.relevance = f
		}
	}
}

// WithRand sets the random source for seeding and random connectivity.
func WithRand(r *rand.Rand) Option {
	return func(n *Network) { n.rng = r }
}

// Network is an activation network over workers from a registry.
type Network struct {
	cfg        Config
	registry   *registry.Registry
	integrator Integrator
	logger     *zap.Logger
	bus        events.Publisher
	recorder   Recorder
	selector   Selector
	relevance  RelevanceFunc

	// queryMu serializes queries; mu guards the graph and states.
	queryMu sync.Mutex
	mu      sync.Mutex
	rng     *rand.Rand
	nodes   []string
	edges   map[string][]Edge // by source
	states  map[string]*ActivationState
}

// New creates an empty network. Zero fields of cfg take their defaults.
func New(reg *registry.Registry, integ Integrator, cfg Config, opts ...Option) *Network {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = def.MemorySize
	}
	if cfg.SummaryLength <= 0 {
		cfg.SummaryLength = def.SummaryLength
	}
	if cfg.SeedMin <= 0 {
		cfg.SeedMin = def.SeedMin
	}
	if cfg.SeedMax < cfg.SeedMin {
		cfg.SeedMax = max(cfg.SeedMin, def.SeedMax)
	}
	if cfg.WeightMax <= 0 {
		cfg.WeightMin, cfg.WeightMax = def.WeightMin, def.WeightMax
	}
	if cfg.RoundConcurrency <= 0 {
		cfg.RoundConcurrency = def.RoundConcurrency
	}

	n := &Network{
		cfg:        cfg,
		registry:   reg,
		integrator: integ,
		logger:     zap.NewNop(),
		bus:        (*events.EventBus)(nil),
		relevance:  KeywordRelevance,
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		edges:      make(map[string][]Edge),
		states:     make(map[string]*ActivationState),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// InitializeNetwork replaces the graph with the given workers, connected by
// connectivity (RandomConnectivity with the configured weights when nil).
// Unknown workers are skipped. Every worker starts with zero activation and
// empty memory.
func (n *Network) InitializeNetwork(workers []string, connectivity ConnectivityFunc) error {
	n.queryMu.Lock()
	defer n.queryMu.Unlock()

	var nodes []string
	seen := make(map[string]bool)
	for _, w := range workers {
		if seen[w] {
			continue
		}
		if !n.registry.Has(w) {
			n.logger.Warn("skipping unknown worker", zap.String("worker", w))
			continue
		}
		seen[w] = true
		nodes = append(nodes, w)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if connectivity == nil {
		connectivity = RandomConnectivity(n.rng, n.cfg.WeightMin, n.cfg.WeightMax)
	}

	edges := make(map[string][]Edge)
	linked := make(map[[2]string]bool)
	count := 0
	for _, e := range connectivity(slices.Clone(nodes)) {
		key := [2]string{e.Source, e.Target}
		if e.Source == e.Target || !seen[e.Source] || !seen[e.Target] || e.Weight <= 0 || linked[key] {
			continue
		}
		linked[key] = true
		e.Weight = min(e.Weight, 1)
		edges[e.Source] = append(edges[e.Source], e)
		count++
	}

	states := make(map[string]*ActivationState, len(nodes))
	for _, w := range nodes {
		states[w] = &ActivationState{}
	}

	n.nodes, n.edges, n.states = nodes, edges, states

	if len(nodes) == 0 {
		return ErrEmptyNetwork
	}
	n.logger.Info("activation network initialized",
		zap.Int("workers", len(nodes)),
		zap.Int("edges", count))
	return nil
}

// Workers returns the workers in the network in insertion order.
func (n *Network) Workers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.nodes)
}

// Edges returns every edge, grouped by source in worker order.
func (n *Network) Edges() []Edge {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Edge
	for _, w := range n.nodes {
		out = append(out, n.edges[w]...)
	}
	return out
}

// State returns a copy of the worker's activation state.
func (n *Network) State(name string) (ActivationState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.states[name]
	if !ok {
		return ActivationState{}, false
	}
	return st.clone(), true
}

// ProcessQuery runs one query through the network for at most maxSteps
// rounds and integrates the outputs of every worker that ran.
func (n *Network) ProcessQuery(ctx context.Context, query string, maxSteps int) (QueryResult, error) {
	n.queryMu.Lock()
	defer n.queryMu.Unlock()

	start := time.Now()
	result := QueryResult{
		ID:        uuid.NewString(),
		Query:     query,
		Timestamp: start,
	}

	n.mu.Lock()
	if len(n.nodes) == 0 {
		n.mu.Unlock()
		return QueryResult{}, ErrEmptyNetwork
	}
	nodes := make([]Node, 0, len(n.nodes))
	for _, name := range n.nodes {
		n.states[name].Activation = 0
		caps, _ := n.registry.Capabilities(name)
		nodes = append(nodes, Node{Name: name, Capabilities: caps})
	}
	n.mu.Unlock()

	seeds := n.seed(ctx, query, nodes)

	n.mu.Lock()
	for _, s := range seeds {
		n.states[s].Activation = 1.0
	}
	n.mu.Unlock()

	n.logger.Info("query started",
		zap.String("query_id", result.ID),
		zap.Strings("seeds", seeds),
		zap.Int("max_steps", maxSteps))

	byName := make(map[string]Node, len(nodes))
	for _, nd := range nodes {
		byName[nd.Name] = nd
	}

	var contributors []string
	ran := make(map[string]bool)

	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return QueryResult{}, fmt.Errorf("query interrupted: %w", err)
		}

		active, contexts := n.activeWorkers()
		if len(active) == 0 {
			break
		}

		outputs, failed := n.runRound(ctx, query, step, active, contexts)

		round := Round{
			Step:     step,
			Executed: active,
			Outputs:  outputs,
			Failed:   failed,
		}
		round.NewlyActivated, round.Activations = n.propagate(query, step, active, outputs, byName)
		result.RoundHistory = append(result.RoundHistory, round)
		result.StepsTaken = step

		for _, name := range active {
			if !ran[name] {
				ran[name] = true
				contributors = append(contributors, name)
			}
		}

		n.logger.Debug("activation round finished",
			zap.String("query_id", result.ID),
			zap.Int("step", step),
			zap.Strings("executed", active),
			zap.Strings("newly_activated", round.NewlyActivated))
		n.bus.Publish(events.TopicNetwork, events.ActivationRoundEvent{
			QueryID:        result.ID,
			Step:           step,
			Executed:       slices.Clone(active),
			NewlyActivated: slices.Clone(round.NewlyActivated),
			Activations:    maps.Clone(round.Activations),
			Timestamp:      time.Now(),
		})

		if len(round.NewlyActivated) == 0 {
			break
		}
	}

	n.mu.Lock()
	contributions := make([]integrator.Contribution, 0, len(contributors))
	for _, name := range contributors {
		contributions = append(contributions, integrator.Contribution{
			Worker: name,
			Output: n.states[name].LastOutput,
		})
	}
	n.mu.Unlock()

	result.ContributingWorkers = contributors
	result.FinalResponse = n.integrator.Integrate(ctx, query, contributions)
	result.Duration = time.Since(start)

	n.logger.Info("query completed",
		zap.String("query_id", result.ID),
		zap.Strings("contributors", contributors),
		zap.Int("steps", result.StepsTaken),
		zap.Duration("duration", result.Duration))
	n.bus.Publish(events.TopicNetwork, events.QueryCompletedEvent{
		QueryID:      result.ID,
		Contributors: slices.Clone(contributors),
		Steps:        result.StepsTaken,
		Duration:     result.Duration,
		Timestamp:    time.Now(),
	})

	if n.recorder != nil {
		if err := n.recorder.SaveQueryResult(ctx, result); err != nil {
			n.logger.Warn("failed to persist query result",
				zap.String("query_id", result.ID),
				zap.Error(err))
		}
	}

	return result, nil
}

// seed picks between SeedMin and SeedMax workers, asking the selector first
// and filling any shortfall at random.
func (n *Network) seed(ctx context.Context, query string, nodes []Node) []string {
	n.mu.Lock()
	count := n.cfg.SeedMin + n.rng.IntN(n.cfg.SeedMax-n.cfg.SeedMin+1)
	n.mu.Unlock()
	count = min(count, len(nodes))

	known := make(map[string]bool, len(nodes))
	for _, nd := range nodes {
		known[nd.Name] = true
	}

	var seeds []string
	chosen := make(map[string]bool)
	if n.selector != nil {
		picked, err := n.selector.Select(ctx, query, nodes, count)
		if err != nil {
			n.logger.Warn("seed selection failed, falling back to random", zap.Error(err))
		}
		for _, name := range picked {
			if len(seeds) == count {
				break
			}
			if known[name] && !chosen[name] {
				chosen[name] = true
				seeds = append(seeds, name)
			}
		}
	}

	if len(seeds) < count {
		var rest []string
		for _, nd := range nodes {
			if !chosen[nd.Name] {
				rest = append(rest, nd.Name)
			}
		}
		n.mu.Lock()
		n.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		n.mu.Unlock()
		seeds = append(seeds, rest[:count-len(seeds)]...)
	}

	return seeds
}

// activeWorkers returns the workers at or above the threshold, in node
// order, with the context each will be given.
func (n *Network) activeWorkers() ([]string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var active, contexts []string
	for _, name := range n.nodes {
		st := n.states[name]
		if st.Activation >= n.cfg.Threshold {
			active = append(active, name)
			contexts = append(contexts, st.context())
		}
	}
	return active, contexts
}

// runRound invokes the active workers concurrently. A failed worker yields
// a placeholder output so the round can still propagate.
func (n *Network) runRound(ctx context.Context, query string, step int, active, contexts []string) (map[string]string, []string) {
	outs := make([]string, len(active))
	errs := make([]error, len(active))

	var g errgroup.Group
	g.SetLimit(n.cfg.RoundConcurrency)
	for i, name := range active {
		g.Go(func() error {
			in := backend.Input{
				backend.KeyQuery:   query,
				backend.KeyContext: contexts[i],
				backend.KeyStep:    step,
			}
			start := time.Now()
			out, err := n.registry.Invoke(ctx, name, in)
			n.registry.UpdatePerformance(name, time.Since(start), err == nil)
			if err != nil {
				n.logger.Warn("worker failed during activation round",
					zap.String("worker", name),
					zap.Int("step", step),
					zap.Error(err))
				out = fmt.Sprintf("Error processing with %s: %v", name, err)
			}
			outs[i], errs[i] = out, err
			return nil
		})
	}
	_ = g.Wait()

	outputs := make(map[string]string, len(active))
	var failed []string
	for i, name := range active {
		outputs[name] = outs[i]
		if errs[i] != nil {
			failed = append(failed, name)
		}
	}
	return outputs, failed
}

// propagate stores each executed worker's output and raises the activation
// of its targets. It returns the workers that crossed the threshold during
// the round and a snapshot of every activation.
func (n *Network) propagate(query string, step int, executed []string, outputs map[string]string, byName map[string]Node) ([]string, map[string]float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	wasActive := make(map[string]bool, len(n.nodes))
	for _, name := range n.nodes {
		wasActive[name] = n.states[name].Activation >= n.cfg.Threshold
	}

	for _, source := range executed {
		out := outputs[source]
		n.states[source].LastOutput = out

		for _, e := range n.edges[source] {
			target := n.states[e.Target]
			rel := min(max(n.relevance(byName[source], byName[e.Target], query, out), 0), 1)
			next := min(1, target.Activation+e.Weight*rel)
			if next <= target.Activation {
				continue
			}
			target.Activation = next
			target.remember(MemoryEntry{
				From:    source,
				Summary: summarize(out, n.cfg.SummaryLength),
				Step:    step,
			}, n.cfg.MemorySize)
		}
	}

	var newly []string
	activations := make(map[string]float64, len(n.nodes))
	for _, name := range n.nodes {
		a := n.states[name].Activation
		activations[name] = a
		if a >= n.cfg.Threshold && !wasActive[name] {
			newly = append(newly, name)
		}
	}
	return newly, activations
}
