// Package similarity compares face embeddings.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrUndefinedSimilarity = errors.New("cosine similarity undefined")
)

// Compare returns the cosine similarity of live and stored and whether it
// reaches threshold. A zero vector has no direction, so comparing against one
// is an error rather than a non-match.
func Compare(live, stored []float64, threshold float64) (bool, float64, error) {
	if len(live) != len(stored) {
		return false, 0, fmt.Errorf("%w: live=%d stored=%d", ErrDimensionMismatch, len(live), len(stored))
	}

	var dot, normLive, normStored float64
	for i := range live {
		dot += live[i] * stored[i]
		normLive += live[i] * live[i]
		normStored += stored[i] * stored[i]
	}

	if normLive == 0 || normStored == 0 {
		return false, 0, fmt.Errorf("%w: zero-length vector", ErrUndefinedSimilarity)
	}

	sim := dot / (math.Sqrt(normLive) * math.Sqrt(normStored))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return false, 0, fmt.Errorf("%w: non-finite result", ErrUndefinedSimilarity)
	}

	// rounding can push identical vectors slightly past 1
	sim = math.Max(-1, math.Min(1, sim))

	return sim >= threshold, sim, nil
}
