package network

import (
	"math/rand/v2"
)

// Edge is a directed, weighted link between two workers.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// ConnectivityFunc builds the edges of the network for the given workers.
// Edges naming unknown workers, self-loops and non-positive weights are
// discarded by InitializeNetwork; weights above 1 are clamped.
type ConnectivityFunc func(workers []string) []Edge

// RandomConnectivity links each worker to max(1, n/3) distinct random peers
// with weights drawn uniformly from (minWeight, maxWeight].
func RandomConnectivity(rng *rand.Rand, minWeight, maxWeight float64) ConnectivityFunc {
	return func(workers []string) []Edge {
		n := len(workers)
		if n < 2 {
			return nil
		}
		fanout := min(max(1, n/3), n-1)

		var edges []Edge
		for i, source := range workers {
			peers := make([]string, 0, n-1)
			for j, w := range workers {
				if j != i {
					peers = append(peers, w)
				}
			}
			rng.Shuffle(len(peers), func(a, b int) { peers[a], peers[b] = peers[b], peers[a] })

			for _, target := range peers[:fanout] {
				edges = append(edges, Edge{
					Source: source,
					Target: target,
					Weight: maxWeight - rng.Float64()*(maxWeight-minWeight),
				})
			}
		}
		return edges
	}
}

// FullyConnected links every worker to every other with the same weight.
func FullyConnected(weight float64) ConnectivityFunc {
	return func(workers []string) []Edge {
		var edges []Edge
		for _, source := range workers {
			for _, target := range workers {
				if source != target {
					edges = append(edges, Edge{Source: source, Target: target, Weight: weight})
				}
			}
		}
		return edges
	}
}
