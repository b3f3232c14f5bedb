// Package index implements the per-tenant vector index: one persistent
// similarity collection per user with additive batch insert, folder-scoped
// filtering, and Maximal Marginal Relevance re-ranking at query time.
// Two backends are provided: an embedded chromem store (default, pure Go,
// survives restarts on local disk) and a remote Qdrant cluster.
package index

import (
	"math"
)

// candidate is one entry of the nearest-neighbour pool handed to MMR
// selection. Relevance is the backend's similarity to the query vector.
type candidate struct {
	// relevance is the similarity between this candidate and the query.
	relevance float32
	// embedding is the candidate's stored vector.
	embedding []float32
}

// mmrSelect picks up to k candidates by Maximal Marginal Relevance: at each
// step the candidate maximizing
//
//	lambda*relevance - (1-lambda)*maxSimilarityToSelected
//
// is chosen. lambda=1 reduces to pure relevance ranking, lambda=0 to pure
// diversity. Returns the indices of the selected candidates in selection
// order. Selection is deterministic: ties keep the earliest candidate, and
// candidates are expected in descending-relevance order as returned by the
// backends.
func mmrSelect(candidates []candidate, k int, lambda float64) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]int, 0, k)
	remaining := make([]bool, len(candidates))
	for i := range remaining {
		remaining[i] = true
	}

	// maxSim[i] tracks the highest similarity between candidate i and any
	// already-selected candidate, updated incrementally per selection round.
	maxSim := make([]float64, len(candidates))

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range candidates {
			if !remaining[i] {
				continue
			}
			penalty := 0.0
			if len(selected) > 0 {
				penalty = maxSim[i]
			}
			score := lambda*float64(candidates[i].relevance) - (1-lambda)*penalty
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}

		selected = append(selected, best)
		remaining[best] = false

		for i := range candidates {
			if !remaining[i] {
				continue
			}
			sim := float64(cosineSimilarity(candidates[i].embedding, candidates[best].embedding))
			if sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}

	return selected
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or zero vectors yield 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
