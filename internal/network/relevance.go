package network

import "strings"

// Node is the view of a worker used when scoring relevance.
type Node struct {
	Name         string
	Capabilities []string
}

// RelevanceFunc scores how relevant source's output is to target, in [0, 1].
type RelevanceFunc func(source, target Node, query, output string) float64

// KeywordRelevance starts at 0.3 and adds 0.1 for every target capability
// mentioned in the output and 0.1 for every capability shared with the
// source, capped at 0.9.
func KeywordRelevance(source, target Node, query, output string) float64 {
	score := 0.3
	lower := strings.ToLower(output)
	for _, c := range target.Capabilities {
		if c != "" && strings.Contains(lower, strings.ToLower(c)) {
			score += 0.1
		}
	}

	have := make(map[string]struct{}, len(source.Capabilities))
	for _, c := range source.Capabilities {
		have[c] = struct{}{}
	}
	for _, c := range target.Capabilities {
		if _, ok := have[c]; ok {
			score += 0.1
		}
	}

	return min(score, 0.9)
}
