package similarity

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name      string
		live      []float64
		stored    []float64
		threshold float64
		wantMatch bool
		wantSim   float64
	}{
		{
			name:      "identical unit vectors",
			live:      []float64{1, 0, 0},
			stored:    []float64{1, 0, 0},
			threshold: 1.0,
			wantMatch: true,
			wantSim:   1.0,
		},
		{
			name:      "identical non-unit vectors",
			live:      []float64{0.3, 0.4, 0.5},
			stored:    []float64{0.3, 0.4, 0.5},
			threshold: 0.6,
			wantMatch: true,
			wantSim:   1.0,
		},
		{
			name:      "orthogonal",
			live:      []float64{0, 1, 0},
			stored:    []float64{1, 0, 0},
			threshold: 0.01,
			wantMatch: false,
			wantSim:   0.0,
		},
		{
			name:      "opposite",
			live:      []float64{-1, 0},
			stored:    []float64{1, 0},
			threshold: 0.5,
			wantMatch: false,
			wantSim:   -1.0,
		},
		{
			name:      "scaled copy still matches",
			live:      []float64{2, 2},
			stored:    []float64{1, 1},
			threshold: 0.6,
			wantMatch: true,
			wantSim:   1.0,
		},
		{
			name:      "45 degrees below 0.75",
			live:      []float64{1, 1},
			stored:    []float64{1, 0},
			threshold: 0.75,
			wantMatch: false,
			wantSim:   math.Sqrt2 / 2,
		},
		{
			name:      "45 degrees above 0.5",
			live:      []float64{1, 1},
			stored:    []float64{1, 0},
			threshold: 0.5,
			wantMatch: true,
			wantSim:   math.Sqrt2 / 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, sim, err := Compare(tt.live, tt.stored, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, match)
			assert.InDelta(t, tt.wantSim, sim, 1e-9)
		})
	}
}

func TestCompare_SelfMatchesForAnyThresholdUpToOne(t *testing.T) {
	v := []float64{0.12, -0.5, 0.33, 0.8}
	for _, threshold := range []float64{-1, 0, 0.5, 0.6, 0.99, 1.0} {
		match, sim, err := Compare(v, v, threshold)
		require.NoError(t, err)
		assert.True(t, match, "threshold %v", threshold)
		assert.LessOrEqual(t, sim, 1.0)
	}
}

func TestCompare_Errors(t *testing.T) {
	tests := []struct {
		name    string
		live    []float64
		stored  []float64
		wantErr error
	}{
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, ErrDimensionMismatch},
		{"nil against vector", nil, []float64{1}, ErrDimensionMismatch},
		{"zero live vector", []float64{0, 0, 0}, []float64{1, 0, 0}, ErrUndefinedSimilarity},
		{"zero stored vector", []float64{1, 0, 0}, []float64{0, 0, 0}, ErrUndefinedSimilarity},
		{"both empty", []float64{}, []float64{}, ErrUndefinedSimilarity},
		{"nan component", []float64{math.NaN(), 1}, []float64{1, 1}, ErrUndefinedSimilarity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, sim, err := Compare(tt.live, tt.stored, 0.5)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.False(t, match)
			assert.Zero(t, sim)
		})
	}
}
