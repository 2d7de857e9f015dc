package backend

import (
	"context"
	"fmt"
	"strings"
)

// EchoBackend is an offline worker that describes what it was asked to do.
// It is used for dry runs and demos where no real work function is wired.
type EchoBackend struct {
	name         string
	capabilities []string
}

// NewEchoBackend creates an echo backend labelled with the worker name.
func NewEchoBackend(cfg Config) *EchoBackend {
	return &EchoBackend{
		name:         cfg.Name,
		capabilities: append([]string(nil), cfg.Capabilities...),
	}
}

// Invoke returns a short analysis line built from the input.
func (b *EchoBackend) Invoke(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Analysis from %s at step %d", b.name, in.Step())
	if len(b.capabilities) > 0 {
		fmt.Fprintf(&sb, " using %s", strings.Join(b.capabilities, ", "))
	}
	if q := in.Query(); q != "" {
		fmt.Fprintf(&sb, ": %s", q)
	}
	if prev, ok := in[KeyPreviousOutputs].(map[string]string); ok && len(prev) > 0 {
		fmt.Fprintf(&sb, " (building on %d previous outputs)", len(prev))
	}
	return sb.String(), nil
}
