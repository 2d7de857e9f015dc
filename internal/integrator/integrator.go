// Package integrator merges the outputs of several workers into one response,
// delegating the synthesis to a coordinating worker when one is registered.
package integrator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/aristath/hive/internal/backend"
	"github.com/aristath/hive/internal/logging"
	"github.com/aristath/hive/internal/registry"
)

// Input keys set on the synthesis call in addition to backend.KeyQuery.
const (
	KeyRequest       = "request"
	KeyContributions = "contributions"
)

var (
	coordinationCapabilities = []string{"coordination", "integration", "synthesis"}
	coordinatorNameHints     = []string{"general", "orchestrator"}
)

// Contribution is one worker's output for a request.
type Contribution struct {
	Worker string `json:"worker"`
	Output string `json:"output"`
}

// Integrator synthesizes contributions through a selected worker.
type Integrator struct {
	registry  *registry.Registry
	preferred string
	logger    *zap.Logger
}

// Option configures an Integrator.
type Option func(*Integrator)

// WithPreferred makes name the integrating worker whenever it is registered.
func WithPreferred(name string) Option {
	return func(i *Integrator) { i.preferred = name }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Integrator) { i.logger = logging.OrNop(l) }
}

// New creates an integrator that draws workers from reg.
func New(reg *registry.Registry, opts ...Option) *Integrator {
	i := &Integrator{registry: reg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Integrate returns a single response for request. It never fails: without
// contributions it returns a fixed message, and when synthesis is impossible
// it falls back to the labelled concatenation of every output.
func (i *Integrator) Integrate(ctx context.Context, request string, contributions []Contribution) string {
	if len(contributions) == 0 {
		return fmt.Sprintf("No worker output was available to integrate for: %s", request)
	}

	name, ok := i.Select(contributions)
	if !ok {
		return Concatenate(request, contributions)
	}

	in := backend.Input{
		backend.KeyQuery: Prompt(request, contributions),
		KeyRequest:       request,
		KeyContributions: contributionMap(contributions),
	}

	out, err := i.registry.Invoke(ctx, name, in)
	if err != nil {
		i.logger.Warn("integration failed, concatenating outputs",
			zap.String("integrator", name),
			zap.Error(err))
		return Concatenate(request, contributions)
	}
	if strings.TrimSpace(out) == "" {
		i.logger.Warn("integrator returned empty output, concatenating outputs",
			zap.String("integrator", name))
		return Concatenate(request, contributions)
	}
	return out
}

// Select picks the integrating worker. Candidates are the contributors in
// order followed by every other registered worker by name. The configured
// preferred worker wins; then the first candidate advertising a coordination
// capability; then the first whose name suggests a generalist; then the
// first contributor.
func (i *Integrator) Select(contributions []Contribution) (string, bool) {
	if i.preferred != "" && i.registry.Has(i.preferred) {
		return i.preferred, true
	}

	var candidates []string
	seen := make(map[string]bool)
	for _, c := range contributions {
		if !seen[c.Worker] && i.registry.Has(c.Worker) {
			seen[c.Worker] = true
			candidates = append(candidates, c.Worker)
		}
	}
	for _, name := range i.registry.Names() {
		if !seen[name] {
			seen[name] = true
			candidates = append(candidates, name)
		}
	}

	for _, name := range candidates {
		caps, _ := i.registry.Capabilities(name)
		if slices.ContainsFunc(caps, func(c string) bool { return containsAny(c, coordinationCapabilities) }) {
			return name, true
		}
	}
	for _, name := range candidates {
		if containsAny(name, coordinatorNameHints) {
			return name, true
		}
	}

	for _, c := range contributions {
		if i.registry.Has(c.Worker) {
			return c.Worker, true
		}
	}
	return "", false
}

// Prompt builds the synthesis request sent to the integrating worker.
func Prompt(request string, contributions []Contribution) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "QUERY: %s\n\nINSIGHTS FROM WORKERS:\n", request)
	for _, c := range contributions {
		fmt.Fprintf(&sb, "\n[%s]: %s\n", c.Worker, c.Output)
	}
	sb.WriteString("\nSynthesize these insights into one coherent, complete response to the query. ")
	sb.WriteString("Resolve contradictions, keep the strongest points and drop repetition.\n")
	return sb.String()
}

// Concatenate joins every output under a heading naming its worker.
func Concatenate(request string, contributions []Contribution) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Integrated response to: %s\n\n", request)
	for _, c := range contributions {
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", c.Worker, c.Output)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func contributionMap(contributions []Contribution) map[string]string {
	m := make(map[string]string, len(contributions))
	for _, c := range contributions {
		m[c.Worker] = c.Output
	}
	return m
}

func containsAny(s string, needles []string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
