package train

import (
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/hsmm"
	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// makeTestSet returns a set holding one 3-emitting-state, one-dimensional
// prototype named "a" with nmix mixtures per state.
func makeTestSet(t *testing.T, nmix int) (*acoustic.Set, *acoustic.HMM) {
	t.Helper()
	h, err := acoustic.NewPrototype(acoustic.Proto{
		Name:         "a",
		NumStates:    5,
		StreamWidths: []int{1},
		NumMix:       []int{nmix},
	})
	require.NoError(t, err)
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	require.NoError(t, set.Add(h))
	require.NoError(t, set.Precompute())
	return set, h
}

func makeSegment(name string, values ...float64) corpus.Segment {
	obs := make([]acoustic.Observation, len(values))
	for i, v := range values {
		obs[i] = acoustic.Observation{{Vec: []float64{v}}}
	}
	return corpus.Segment{Source: name, Obs: obs}
}

func quietLogger() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

func stateMeans(h *acoustic.HMM) []float64 {
	var out []float64
	for i := 1; i <= h.NumEmitting(); i++ {
		out = append(out, h.States[i].Streams[0].Mixtures[0].PDF.Mean.Vector[0])
	}
	return out
}

func TestParseUpdateFlags(t *testing.T) {
	f, err := ParseUpdateFlags("mvwt")
	require.NoError(t, err)
	assert.Equal(t, UpdateAll, f)
	assert.True(t, f.Has(UpdateMeans|UpdateTrans))
	assert.False(t, f.Has(UpdateDurations))

	f, err = ParseUpdateFlags("dm")
	require.NoError(t, err)
	assert.Equal(t, "md", f.String())

	_, err = ParseUpdateFlags("mvx")
	assert.Error(t, err)
}

func TestUniformState(t *testing.T) {
	var got []int
	for i := 0; i < 9; i++ {
		got = append(got, uniformState(i, 9, 3))
	}
	assert.Equal(t, []int{1, 1, 1, 2, 2, 2, 3, 3, 3}, got)

	got = got[:0]
	for i := 0; i < 4; i++ {
		got = append(got, uniformState(i, 4, 3))
	}
	assert.Equal(t, []int{1, 1, 2, 3}, got)
}

func TestTrainerEndToEnd(t *testing.T) {
	set, h := makeTestSet(t, 1)
	seg := makeSegment("u1", 1, 2, 3, 11, 12, 13, 21, 22, 23)
	cfg := DefaultConfig()
	cfg.MinSegments = 1
	cfg.MaxIterations = 1

	tr, err := NewTrainer(set, "a", []corpus.Segment{seg}, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, tr.Status())

	require.NoError(t, tr.Initialize())
	assert.Equal(t, ClusterInitialized, tr.Status())
	means := stateMeans(h)
	assert.InDeltaSlice(t, []float64{2, 12, 22}, means, 1e-9)
	for i := 1; i <= 3; i++ {
		assert.InDelta(t, 2.0/3, h.States[i].Streams[0].Mixtures[0].PDF.Cov.Var[0], 1e-9)
	}

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Aborted, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, tr.RunID(), res.RunID)
	require.Len(t, res.History, 1)

	assert.InDeltaSlice(t, []float64{2, 12, 22}, stateMeans(h), 1e-9)
	lp := h.Trans.LogP
	assert.InDelta(t, 0, lp[0][1], 1e-12)
	assert.InDelta(t, math.Log(2.0/3), lp[1][1], 1e-9)
	assert.InDelta(t, math.Log(1.0/3), lp[1][2], 1e-9)
	assert.InDelta(t, math.Log(1.0/3), lp[3][4], 1e-9)
	for i := 0; i < 4; i++ {
		assert.Equal(t, mathutil.LogZero, lp[i][0])
	}
}

func TestTrainerConvergesOnConstantData(t *testing.T) {
	set, h := makeTestSet(t, 1)
	var segs []corpus.Segment
	for _, name := range []string{"u1", "u2", "u3"} {
		segs = append(segs, makeSegment(name, 1, 1, 1, 1, 1, 1))
	}
	cfg := DefaultConfig()
	cfg.Update = UpdateMeans | UpdateVars

	logger, hook := test.NewNullLogger()
	tr, err := NewTrainer(set, "a", segs, cfg, WithLogger(logger))
	require.NoError(t, err)

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.History, 2)
	assert.Equal(t, 0.0, res.History[1].Delta)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, stateMeans(h), 1e-12)
	assert.Equal(t, cfg.MinVariance, h.States[1].Streams[0].Mixtures[0].PDF.Cov.Var[0])

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "estimation converged", last.Message)
	assert.Equal(t, res.RunID.String(), last.Data["run"])
	assert.Equal(t, "a", last.Data["hmm"])
}

func TestTrainerMixturesAndTransitionsSumToOne(t *testing.T) {
	set, h := makeTestSet(t, 2)
	var segs []corpus.Segment
	for k, name := range []string{"u1", "u2", "u3"} {
		d := 0.5 * float64(k)
		segs = append(segs, makeSegment(name, 100+d, 110+d, 200+d, 210+d, 300+d, 310+d))
	}
	cfg := DefaultConfig()
	cfg.MaxIterations = 2

	tr, err := NewTrainer(set, "a", segs, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)

	for i := 1; i <= 3; i++ {
		str := h.States[i].Streams[0]
		var sum float64
		for _, mx := range str.Mixtures {
			assert.InDelta(t, 0.5, mx.Weight, 1e-9)
			sum += mx.Weight
		}
		assert.InDelta(t, 1, sum, 1e-3)
	}
	for i := 0; i < h.N()-1; i++ {
		var sum float64
		for j := 1; j < h.N(); j++ {
			sum += math.Exp(h.Trans.LogP[i][j])
		}
		assert.InDelta(t, 1, sum, 1e-3, "row %d", i)
	}
}

func TestTrainerKeepInitial(t *testing.T) {
	set, h := makeTestSet(t, 1)
	for i, m := range []float64{2, 12, 22} {
		h.States[i+1].Streams[0].Mixtures[0].PDF.Mean.Vector[0] = m
	}
	cfg := DefaultConfig()
	cfg.MinSegments = 1
	cfg.MaxIterations = 1
	cfg.KeepInitial = true

	tr, err := NewTrainer(set, "a", []corpus.Segment{makeSegment("u1", 1, 2, 3, 11, 12, 13, 21, 22, 23)}, cfg,
		WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = tr.Run(context.Background())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 12, 22}, stateMeans(h), 1e-9)
	assert.InDelta(t, 2.0/3, h.States[2].Streams[0].Mixtures[0].PDF.Cov.Var[0], 1e-9)
}

func TestNewTrainerRejectsData(t *testing.T) {
	set, _ := makeTestSet(t, 1)
	cfg := DefaultConfig()

	t.Run("too few segments", func(t *testing.T) {
		_, err := NewTrainer(set, "a", []corpus.Segment{makeSegment("u1", 1, 2, 3)}, cfg)
		var de *acoustic.DataError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "NewTrainer", de.Op)
	})

	t.Run("segment shorter than the model", func(t *testing.T) {
		c := cfg
		c.MinSegments = 1
		_, err := NewTrainer(set, "a", []corpus.Segment{makeSegment("u1", 1, 2)}, c)
		var de *acoustic.DataError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "u1:0+2", de.Source)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		c := cfg
		c.MinSegments = 1
		seg := makeSegment("u1", 1, 2, 3)
		seg.Obs[1] = acoustic.Observation{{Vec: []float64{1, 2}}}
		_, err := NewTrainer(set, "a", []corpus.Segment{seg}, c)
		var de *acoustic.DataError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 1, de.Frame)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := NewTrainer(set, "zz", nil, cfg)
		assert.Error(t, err)
	})
}

func TestTrainerCancelled(t *testing.T) {
	set, _ := makeTestSet(t, 1)
	cfg := DefaultConfig()
	cfg.MinSegments = 1
	tr, err := NewTrainer(set, "a", []corpus.Segment{makeSegment("u1", 1, 2, 3)}, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReestimatorZeroOccupancy(t *testing.T) {
	set, h := makeTestSet(t, 1)
	cfg := DefaultConfig()
	cfg.Update = UpdateMeans

	err := NewReestimator(cfg).Apply(set, h, NewAccumulator(cfg.Update))
	var ne *acoustic.NumericError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "UpMeans", ne.Op)
}

func TestUpTrans(t *testing.T) {
	tr := &acoustic.Trans{Name: "t", LogP: mathutil.NewMatFill(4, 4, mathutil.LogZero)}
	ta := &transAcc{occ: []float64{2, 4, 3, 0}, tran: mathutil.NewMat(4, 4)}
	ta.tran[0][1] = 2
	ta.tran[1][1] = 3
	ta.tran[1][2] = 1
	ta.tran[2][3] = 3

	require.NoError(t, upTrans(tr, ta, "m"))
	assert.Equal(t, 0.0, tr.LogP[0][1])
	assert.InDelta(t, math.Log(0.75), tr.LogP[1][1], 1e-12)
	assert.InDelta(t, math.Log(0.25), tr.LogP[1][2], 1e-12)
	assert.Equal(t, mathutil.LogZero, tr.LogP[2][2])
	assert.Equal(t, 0.0, tr.LogP[2][3])
	for i := 0; i < 3; i++ {
		assert.Equal(t, mathutil.LogZero, tr.LogP[i][0])
	}

	t.Run("row sum mismatch", func(t *testing.T) {
		ta.tran[1][1] = 2
		err := upTrans(tr, ta, "m")
		var ne *acoustic.NumericError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, "UpTrans", ne.Op)
	})

	t.Run("zero occupancy", func(t *testing.T) {
		ta.tran[1][1] = 3
		ta.occ[2] = 0
		var ne *acoustic.NumericError
		require.ErrorAs(t, upTrans(tr, ta, "m"), &ne)
	})
}

func TestInitContinuousMultiSpace(t *testing.T) {
	str := &acoustic.Stream{Mixtures: []acoustic.Mixture{
		{Weight: 0.5, PDF: &acoustic.Gaussian{Mean: &acoustic.Mean{Vector: []float64{0}}, Cov: acoustic.NewDiagCovariance("", []float64{1})}},
		{Weight: 0.5, PDF: &acoustic.Gaussian{Mean: &acoustic.Mean{Vector: []float64{}}, Cov: acoustic.NewDiagCovariance("", []float64{})}},
	}}
	obs := []acoustic.StreamObs{{Vec: []float64{1}}, {Vec: []float64{}}, {Vec: []float64{2}}, {Vec: []float64{3}}, {Vec: []float64{7, 7}}}
	cfg := DefaultConfig()

	require.NoError(t, initContinuous(str, obs, cfg))
	assert.InDelta(t, 0.75, str.Mixtures[0].Weight, 1e-12)
	assert.InDelta(t, 0.25, str.Mixtures[1].Weight, 1e-12)
	assert.InDelta(t, 2, str.Mixtures[0].PDF.Mean.Vector[0], 1e-12)
	assert.InDelta(t, 2.0/3, str.Mixtures[0].PDF.Cov.Var[0], 1e-12)

	cfg.IgnoreOutliers = false
	var de *acoustic.DataError
	require.ErrorAs(t, initContinuous(str, obs, cfg), &de)
}

func TestInitDiscrete(t *testing.T) {
	str := &acoustic.Stream{DProbs: make([]float64, 4)}
	cfg := DefaultConfig()
	cfg.MixWeightFloor = 0.1
	obs := []acoustic.StreamObs{{Index: 0}, {Index: 0}, {Index: 1}, {Index: 3}}

	require.NoError(t, initDiscrete(str, obs, cfg))
	assert.InDeltaSlice(t, []float64{math.Log(0.5), math.Log(0.25), math.Log(0.1), math.Log(0.25)}, str.DProbs, 1e-12)

	var de *acoustic.DataError
	require.ErrorAs(t, initDiscrete(str, []acoustic.StreamObs{{Index: 4}}, cfg), &de)
}

func TestUpdateDurations(t *testing.T) {
	_, h := makeTestSet(t, 1)
	d := &acoustic.Duration{Name: "d", Mean: 1, Var: 1}
	h.States[1].Dur = d

	acc := NewAccumulator(UpdateDurations)
	acc.AddDurations(&hsmm.Alignment{Spans: []hsmm.Span{
		{HMM: h, State: 1, Frames: 2},
		{HMM: h, State: 2, Frames: 9},
		{HMM: h, State: 1, Frames: 6},
	}})
	require.NoError(t, NewReestimator(DefaultConfig()).UpdateDurations(acc))
	assert.InDelta(t, 4, d.Mean, 1e-12)
	assert.InDelta(t, 4, d.Var, 1e-12)

	acc.Reset()
	acc.AddDurations(&hsmm.Alignment{Spans: []hsmm.Span{{HMM: h, State: 1, Frames: 3}}})
	require.NoError(t, NewReestimator(DefaultConfig()).UpdateDurations(acc))
	assert.InDelta(t, 3, d.Mean, 1e-12)
	assert.InDelta(t, DefaultConfig().MinDurVariance, d.Var, 1e-12)
}
