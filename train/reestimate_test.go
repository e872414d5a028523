package train

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/align"
)

// newModel returns a 3-emitting-state single-mixture prototype.
func newModel(t *testing.T, width int, cov acoustic.CovKind) *acoustic.HMM {
	t.Helper()
	h, err := acoustic.NewPrototype(acoustic.Proto{
		Name:         "m",
		NumStates:    5,
		StreamWidths: []int{width},
		CovKind:      cov,
	})
	require.NoError(t, err)
	return h
}

// accumulate adds one segment whose frames are assigned to the given
// states, all to mixture 0.
func accumulate(t *testing.T, acc *Accumulator, h *acoustic.HMM, states []int, frames ...[]float64) {
	t.Helper()
	require.Len(t, frames, len(states))
	obs := make([]acoustic.Observation, len(frames))
	for i, f := range frames {
		obs[i] = acoustic.Observation{{Vec: f}}
	}
	res := &align.Result{States: states, Mixes: [][]int{make([]int, len(states))}}
	require.NoError(t, acc.Add(h, obs, res))
}

func pdf(h *acoustic.HMM, state int) *acoustic.Gaussian {
	return h.States[state].Streams[0].Mixtures[0].PDF
}

func TestReestimateFullCovariance(t *testing.T) {
	h := newModel(t, 2, acoustic.FullC)
	set := acoustic.NewSet(acoustic.Continuous, []int{2}, nil)
	require.NoError(t, set.Add(h))
	require.NoError(t, set.Precompute())

	cfg := DefaultConfig()
	cfg.Update = UpdateMeans | UpdateVars
	acc := NewAccumulator(cfg.Update)
	var states []int
	var frames [][]float64
	for s := 1; s <= 3; s++ {
		off := float64(10 * (s - 1))
		for _, p := range [][2]float64{{0, 0}, {4, 2}, {4, 0}, {8, 2}} {
			states = append(states, s)
			frames = append(frames, []float64{p[0] + off, p[1] + off})
		}
	}
	accumulate(t, acc, h, states, frames...)
	require.NoError(t, NewReestimator(cfg).Apply(set, h, acc))

	for s := 1; s <= 3; s++ {
		g := pdf(h, s)
		off := float64(10 * (s - 1))
		assert.InDeltaSlice(t, []float64{4 + off, 1 + off}, g.Mean.Vector, 1e-12)

		full := g.Cov.Full
		assert.InDelta(t, 8.0, full.At(0, 0), 1e-9)
		assert.InDelta(t, 2.0, full.At(1, 0), 1e-9)
		assert.InDelta(t, 2.0, full.At(0, 1), 1e-9)
		assert.InDelta(t, 1.0, full.At(1, 1), 1e-9)

		// the cached inverse, log-determinant and constant follow the update
		assert.InDelta(t, math.Log(4), g.Cov.LogDet(), 1e-9)
		inv := g.Cov.Inverse()
		assert.InDelta(t, 0.25, inv.At(0, 0), 1e-9)
		assert.InDelta(t, -0.5, inv.At(0, 1), 1e-9)
		assert.InDelta(t, 2.0, inv.At(1, 1), 1e-9)
		assert.InDelta(t, 2*math.Log(2*math.Pi)+math.Log(4), g.GConst(), 1e-9)
	}
}

func TestTiedMeanSharesAccumulator(t *testing.T) {
	h := newModel(t, 1, acoustic.DiagC)
	tied := pdf(h, 1).Mean
	tied.Name = "tied"
	pdf(h, 3).Mean = tied
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	require.NoError(t, set.Add(h))
	require.NoError(t, set.Precompute())

	cfg := DefaultConfig()
	cfg.Update = UpdateMeans
	acc := NewAccumulator(cfg.Update)
	accumulate(t, acc, h, []int{1, 1, 1, 2, 2, 2, 3, 3, 3},
		[]float64{1}, []float64{2}, []float64{3},
		[]float64{4}, []float64{5}, []float64{7},
		[]float64{7}, []float64{8}, []float64{9})

	require.Contains(t, acc.means, tied)
	assert.Equal(t, 6.0, acc.means[tied].occ)
	assert.Len(t, acc.means, 2)

	require.NoError(t, NewReestimator(cfg).Apply(set, h, acc))
	assert.InDelta(t, 5.0, pdf(h, 1).Mean.Vector[0], 1e-12)
	assert.Same(t, pdf(h, 1).Mean, pdf(h, 3).Mean)
	assert.InDelta(t, 16.0/3, pdf(h, 2).Mean.Vector[0], 1e-12)
}

func TestSharedCovarianceKeepsDeviationsAboutOldMeans(t *testing.T) {
	h := newModel(t, 1, acoustic.DiagC)
	shared := pdf(h, 1).Cov
	shared.Name = "shared"
	pdf(h, 2).Cov = shared
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	require.NoError(t, set.Add(h))
	require.NoError(t, set.Precompute())
	require.Equal(t, 2, covarianceUse(set)[shared])

	cfg := DefaultConfig()
	cfg.Update = UpdateMeans | UpdateVars
	acc := NewAccumulator(cfg.Update)
	accumulate(t, acc, h, []int{1, 1, 2, 2, 3, 3},
		[]float64{1}, []float64{3},
		[]float64{1}, []float64{3},
		[]float64{10}, []float64{12})
	require.NoError(t, NewReestimator(cfg).Apply(set, h, acc))

	// means move as usual
	assert.InDelta(t, 2.0, pdf(h, 1).Mean.Vector[0], 1e-12)
	assert.InDelta(t, 2.0, pdf(h, 2).Mean.Vector[0], 1e-12)
	assert.InDelta(t, 11.0, pdf(h, 3).Mean.Vector[0], 1e-12)
	// shared: Σx²/n about the old zero means, no shift correction
	assert.InDelta(t, 5.0, shared.Var[0], 1e-12)
	// private: corrected by the mean shift, Σx²/n - μ²
	assert.InDelta(t, 1.0, pdf(h, 3).Cov.Var[0], 1e-12)
}
