package network

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MemoryEntry is a summary of an output that raised a worker's activation.
type MemoryEntry struct {
	From    string `json:"from"`
	Summary string `json:"summary"`
	Step    int    `json:"step"`
}

// ActivationState is a worker's per-network state.
type ActivationState struct {
	Activation float64       `json:"activation"`
	Memory     []MemoryEntry `json:"memory"`
	LastOutput string        `json:"last_output"`
}

func (s *ActivationState) remember(e MemoryEntry, limit int) {
	s.Memory = append(s.Memory, e)
	if over := len(s.Memory) - limit; over > 0 {
		s.Memory = append([]MemoryEntry(nil), s.Memory[over:]...)
	}
}

// context renders the worker's inbound memory for its next invocation.
func (s *ActivationState) context() string {
	if len(s.Memory) == 0 {
		return "No context available from other workers."
	}
	var sb strings.Builder
	for _, m := range s.Memory {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.From, m.Summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s ActivationState) clone() ActivationState {
	s.Memory = append([]MemoryEntry(nil), s.Memory...)
	return s
}

// summarize shortens text to at most limit runes, marking the cut.
func summarize(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
