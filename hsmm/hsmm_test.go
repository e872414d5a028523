package hsmm

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/corpus"
)

const period = 50000

// newUnit builds a one-dimensional model with one emitting state per mean,
// each with the same duration model.
func newUnit(t *testing.T, set *acoustic.Set, name string, means []float64, durMean, durVar float64) *acoustic.HMM {
	t.Helper()
	h, err := acoustic.NewPrototype(acoustic.Proto{Name: name, NumStates: len(means) + 2, StreamWidths: []int{1}})
	require.NoError(t, err)
	for i, m := range means {
		st := h.States[i+1]
		st.Streams[0].Mixtures[0].PDF.Mean.Vector[0] = m
		st.Dur = &acoustic.Duration{Mean: durMean, Var: durVar}
	}
	require.NoError(t, set.Add(h))
	require.NoError(t, set.Precompute())
	return h
}

func makeFeatures(values ...float64) []acoustic.Observation {
	obs := make([]acoustic.Observation, len(values))
	for i, v := range values {
		obs[i] = acoustic.Observation{{Vec: []float64{v}}}
	}
	return obs
}

func durLogProb(d, mean, variance float64) float64 {
	return -0.5 * (math.Log(2*math.Pi*variance) + (d-mean)*(d-mean)/variance)
}

func TestAlignMatchesExhaustiveSearch(t *testing.T) {
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	h := newUnit(t, set, "x", []float64{0, 10}, 3, 2)
	frames := makeFeatures(0.5, 1, 8, 9, 10)
	labels := []corpus.Label{{Start: corpus.NoTime, End: corpus.NoTime, Name: "x"}}

	bestP := math.Inf(-1)
	bestD := 0
	for d1 := 1; d1 < len(frames); d1++ {
		p := durLogProb(float64(d1), 3, 2)
		for t, o := range frames {
			if t < d1 {
				p += h.States[1].LogProb(o)
			} else {
				p += h.States[2].LogProb(o)
			}
		}
		if p > bestP {
			bestP, bestD = p, d1
		}
	}

	for _, beam := range []int{0, 100} {
		cfg := DefaultConfig()
		cfg.Beam = beam
		al, err := New(cfg).Align(set, "utt", frames, period, labels)
		require.NoError(t, err)
		assert.InDelta(t, bestP, al.LogP, 1e-9, "beam %d", beam)
		require.Len(t, al.Spans, 2)
		assert.Equal(t, bestD, al.Spans[0].Frames)
		assert.Equal(t, len(frames)-bestD, al.Spans[1].Frames)
		assert.Equal(t, bestD, al.Spans[1].First)
	}
}

func TestDurationWeight(t *testing.T) {
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	newUnit(t, set, "x", []float64{0, 0}, 1, 0.01)
	frames := makeFeatures(0, 0, 0, 0, 0, 0)
	labels := []corpus.Label{{Start: corpus.NoTime, End: corpus.NoTime, Name: "x"}}

	// outputs are identical, so only the duration of the first state matters
	al, err := New(DefaultConfig()).Align(set, "utt", frames, period, labels)
	require.NoError(t, err)
	assert.Equal(t, 1, al.Spans[0].Frames)

	cfg := DefaultConfig()
	cfg.DurWeight = 0
	al0, err := New(cfg).Align(set, "utt", frames, period, labels)
	require.NoError(t, err)
	assert.InDelta(t, al.LogP-durLogProb(1, 1, 0.01), al0.LogP, 1e-9)
}

func TestBeamThreshold(t *testing.T) {
	a := New(Config{Beam: 2})
	a.toks = []token{{prob: -5}, {prob: -1}, {prob: -3}, {prob: -3}}

	th, on := a.beamThreshold(0, 4)
	require.True(t, on)
	assert.Equal(t, -3.0, th)
	kept := 0
	for _, tk := range a.toks {
		if tk.prob >= th {
			kept++
		}
	}
	// ties with the threshold survive and the best token is never dropped
	assert.Equal(t, 3, kept)

	_, on = a.beamThreshold(0, 2)
	assert.False(t, on)
	_, on = New(Config{}).beamThreshold(0, 4)
	assert.False(t, on)
}

func TestPruneByLabel(t *testing.T) {
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	newUnit(t, set, "a", []float64{0}, 2, 100)
	newUnit(t, set, "b", []float64{10}, 2, 100)
	frames := makeFeatures(0, 0, 0, 0, 10)
	labels := []corpus.Label{
		{Start: 0, End: 1 * period, Name: "a"},
		{Start: 2 * period, End: 5 * period, Name: "b"},
	}

	al, err := New(DefaultConfig()).Align(set, "utt", frames, period, labels)
	require.NoError(t, err)
	assert.Equal(t, 4, al.Spans[0].Frames)

	cfg := DefaultConfig()
	cfg.PruneByLabel = true
	al, err = New(cfg).Align(set, "utt", frames, period, labels)
	require.NoError(t, err)
	assert.Equal(t, 2, al.Spans[0].Frames)
	assert.Equal(t, 3, al.Spans[1].Frames)
}

func TestSearchFailure(t *testing.T) {
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	newUnit(t, set, "a", []float64{0}, 2, 1)
	newUnit(t, set, "b", []float64{10}, 2, 1)
	cfg := DefaultConfig()
	cfg.PruneByLabel = true
	labels := []corpus.Label{
		{Start: 0, End: 0, Name: "a"},
		{Start: 3 * period, End: 5 * period, Name: "b"},
	}
	_, err := New(cfg).Align(set, "utt", makeFeatures(0, 0, 0, 10, 10), period, labels)
	assert.ErrorIs(t, err, ErrSearchFailed)

	t.Run("too few frames", func(t *testing.T) {
		labels := []corpus.Label{{Name: "a"}, {Name: "b"}}
		_, err := New(DefaultConfig()).Align(set, "utt", makeFeatures(0), period, labels)
		assert.ErrorIs(t, err, ErrSearchFailed)
	})
}

func TestAlignErrors(t *testing.T) {
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	h := newUnit(t, set, "a", []float64{0}, 2, 1)
	frames := makeFeatures(0, 0)

	_, err := New(DefaultConfig()).Align(set, "utt", frames, period, []corpus.Label{{Name: "zz"}})
	assert.Error(t, err)

	h.States[1].Dur = nil
	_, err = New(DefaultConfig()).Align(set, "utt", frames, period, []corpus.Label{{Name: "a"}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSearchFailed)
}

func TestLabels(t *testing.T) {
	al := &Alignment{
		Period: 10,
		Spans: []Span{
			{Unit: "a", State: 1, Frames: 2},
			{Unit: "a", State: 2, Frames: 3},
			{Unit: "b", State: 1, Frames: 1},
		},
	}
	want := []corpus.Label{{Start: 0, End: 50, Name: "a"}, {Start: 50, End: 60, Name: "b"}}
	if diff := cmp.Diff(want, al.Labels(false)); diff != "" {
		t.Errorf("unit labels (-want +got):\n%s", diff)
	}
	want = []corpus.Label{
		{Start: 0, End: 20, Name: "a[2] a"},
		{Start: 20, End: 50, Name: "a[3]"},
		{Start: 50, End: 60, Name: "b[2] b"},
	}
	if diff := cmp.Diff(want, al.Labels(true)); diff != "" {
		t.Errorf("state labels (-want +got):\n%s", diff)
	}
}

func TestAlignBatch(t *testing.T) {
	set := acoustic.NewSet(acoustic.Continuous, []int{1}, nil)
	newUnit(t, set, "a", []float64{0}, 2, 1)
	newUnit(t, set, "b", []float64{10}, 2, 1)

	logger, hook := test.NewNullLogger()
	dir := t.TempDir()
	collected := &Collector{}
	sink := MultiSink{collected, &LabelWriter{Dir: dir}}

	jobs := []Job{
		{
			Utterance: &corpus.Utterance{Name: "short", Period: period, Frames: makeFeatures(0)},
			Labels:    []corpus.Label{{Name: "a"}, {Name: "b"}},
		},
		{
			Utterance: &corpus.Utterance{Name: "ok", Period: period, Frames: makeFeatures(0, 0, 10, 10)},
			Labels:    []corpus.Label{{Name: "a"}, {Name: "b"}},
		},
	}
	stats, err := New(DefaultConfig(), WithLogger(logger)).AlignBatch(context.Background(), set, jobs, sink)
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Aligned: 1, Skipped: 1}, stats)
	require.Len(t, collected.Alignments, 1)
	assert.Equal(t, "ok", collected.Alignments[0].Utterance)

	require.NotNil(t, hook.LastEntry())
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, "short", e.Data["utterance"])
		}
	}
	assert.True(t, warned)

	data, err := os.ReadFile(filepath.Join(dir, "ok.lab"))
	require.NoError(t, err)
	assert.Equal(t, "0 100000 a\n100000 200000 b\n", string(data))

	t.Run("fatal errors stop the batch", func(t *testing.T) {
		bad := []Job{{Utterance: jobs[1].Utterance, Labels: []corpus.Label{{Name: "missing"}}}}
		_, err := New(DefaultConfig(), WithLogger(logger)).AlignBatch(context.Background(), set, bad, collected)
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New(DefaultConfig()).AlignBatch(ctx, set, jobs, collected)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
