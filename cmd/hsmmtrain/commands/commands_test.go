package commands

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/hsmmtrain/audio"
	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/store"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestCommands(t *testing.T) {
	testStore = store.NewMemory()
	t.Cleanup(func() { testStore = nil })

	assert.Contains(t, run(t, "show"), "No model sets found.")

	run(t, "proto", "a", "b", "--width", "3", "--states", "5", "--dur-mean", "2", "--dur-var", "1")

	listing := run(t, "show")
	assert.Contains(t, listing, "NAME")
	assert.Contains(t, listing, "hmms")

	desc := run(t, "show", "hmms")
	assert.Contains(t, desc, "continuous set")
	assert.Contains(t, desc, "[2.0 2.0 2.0]")

	dir := t.TempDir()
	in := filepath.Join(dir, "utt.lab")
	require.NoError(t, os.WriteFile(in, []byte("a\nb\n"), 0o644))
	out := filepath.Join(dir, "out")
	run(t, "durations", "-o", out, in)

	labels, err := corpus.LoadLabels(filepath.Join(out, "utt.lab"))
	require.NoError(t, err)
	assert.Equal(t, []corpus.Label{
		{Start: 0, End: 300000, Name: "a"},
		{Start: 300000, End: 600000, Name: "b"},
	}, labels)
}

func TestFeaturesAndInit(t *testing.T) {
	testStore = store.NewMemory()
	t.Cleanup(func() { testStore = nil })

	dir := t.TempDir()
	feats := filepath.Join(dir, "feats")
	rng := rand.New(rand.NewSource(7))
	var wavs []string
	for i := 0; i < 3; i++ {
		w := &audio.Wave{SampleRate: 8000, Samples: make([]float64, 4000)}
		for j := range w.Samples {
			w.Samples[j] = 0.3 * (rng.Float64() - 0.5)
		}
		path := filepath.Join(dir, fmt.Sprintf("utt%d.wav", i))
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, audio.WriteWAV(f, w))
		require.NoError(t, f.Close())
		wavs = append(wavs, path)
	}

	run(t, append([]string{"features", "-o", feats}, wavs...)...)
	u, err := corpus.LoadFeatures(filepath.Join(feats, "utt0.feat"))
	require.NoError(t, err)
	assert.Equal(t, []int{39}, u.StreamWidths)
	assert.Equal(t, 48, u.NumFrames())

	run(t, "--set", "e2e", "proto", "sil", "--width", "39", "--states", "5")
	run(t, "--set", "e2e", "init", "sil", "-i", "3",
		filepath.Join(feats, "utt0.feat"), filepath.Join(feats, "utt1.feat"), filepath.Join(feats, "utt2.feat"))

	set, err := store.LoadSet(context.Background(), testStore, "e2e")
	require.NoError(t, err)
	h, ok := set.HMM("sil")
	require.True(t, ok)
	assert.NotEqual(t, 0.0, h.States[1].Streams[0].Mixtures[0].PDF.Mean.Vector[0])

	assert.Contains(t, run(t, "show", "e2e"), "sil")
}

func TestInputFiles(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "list.scp")
	require.NoError(t, os.WriteFile(script, []byte("x.feat\n\n  y.feat \n"), 0o644))

	files, err := inputFiles([]string{"w.feat"}, script)
	require.NoError(t, err)
	assert.Equal(t, []string{"w.feat", "x.feat", "y.feat"}, files)

	_, err = inputFiles(nil, "")
	assert.Error(t, err)
}

func TestOpenStoreNeedsDir(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"show"})
	assert.ErrorContains(t, root.Execute(), "no model store")
}

func TestFlagsDoNotLeakBetweenRuns(t *testing.T) {
	testStore = store.NewMemory()
	t.Cleanup(func() { testStore = nil })
	ctx := context.Background()

	run(t, "--set", "narrow", "proto", "a", "--width", "3", "--dur-mean", "2")
	run(t, "--set", "wide", "proto", "a", "--width", "39")

	narrow, err := store.LoadSet(ctx, testStore, "narrow")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, narrow.StreamWidths)

	wide, err := store.LoadSet(ctx, testStore, "wide")
	require.NoError(t, err)
	assert.Equal(t, []int{39}, wide.StreamWidths)
	h, ok := wide.HMM("a")
	require.True(t, ok)
	assert.Nil(t, h.Durations())

	// --set falls back to its default once omitted
	run(t, "proto", "b", "--width", "5")
	_, err = store.LoadSet(ctx, testStore, "hmms")
	assert.NoError(t, err)
}
