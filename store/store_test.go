package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/hsmmtrain/acoustic"
)

func newBadgerStore(t *testing.T) Store {
	t.Helper()
	l, _ := test.NewNullLogger()
	s, err := OpenBadger(BadgerOptions{InMemory: true, Logger: l})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"badger": newBadgerStore(t),
	}
}

func makeSet(t *testing.T) *acoustic.Set {
	t.Helper()
	set := acoustic.NewSet(acoustic.Continuous, []int{2}, nil)
	for _, name := range []string{"a", "b"} {
		h, err := acoustic.NewPrototype(acoustic.Proto{Name: name, NumStates: 4, StreamWidths: []int{2}})
		require.NoError(t, err)
		require.NoError(t, set.Add(h))
	}
	require.NoError(t, set.Precompute())
	return set
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "hmms")
			require.ErrorIs(t, err, ErrNotFound)

			set := makeSet(t)
			set.HMMs()[0].States[1].Streams[0].Mixtures[0].PDF.Mean.Vector[1] = 3.5
			run := uuid.New()
			require.NoError(t, SaveSet(ctx, s, "hmms", set, run))

			rec, err := s.Get(ctx, "hmms")
			require.NoError(t, err)
			assert.Equal(t, "hmms", rec.Name)
			assert.Equal(t, run.String(), rec.RunID)
			assert.Equal(t, 2, rec.HMMs)
			assert.False(t, rec.Saved.IsZero())

			got, err := LoadSet(ctx, s, "hmms")
			require.NoError(t, err)
			require.Len(t, got.HMMs(), 2)
			h, ok := got.HMM("a")
			require.True(t, ok)
			assert.Equal(t, 3.5, h.States[1].Streams[0].Mixtures[0].PDF.Mean.Vector[1])
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			set := makeSet(t)
			for _, n := range []string{"zeta", "alpha", "mid"} {
				require.NoError(t, SaveSet(ctx, s, n, set, uuid.Nil))
			}
			infos, err := s.List(ctx)
			require.NoError(t, err)
			var names []string
			for _, in := range infos {
				names = append(names, in.Name)
				assert.Empty(t, in.RunID)
			}
			assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

			require.NoError(t, s.Delete(ctx, "mid"))
			require.NoError(t, s.Delete(ctx, "mid"))
			_, err = s.Get(ctx, "mid")
			assert.ErrorIs(t, err, ErrNotFound)

			infos, err = s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, infos, 2)
		})
	}
}

func TestStoreRejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Put(ctx, &Record{}))
		})
	}
}

func TestLoadSetCorruptPayload(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Put(ctx, &Record{Info: Info{Name: "bad"}, Payload: []byte{0xc1}}))
	_, err := LoadSet(ctx, s, "bad")
	assert.Error(t, err)
}

func TestOpenBadgerRequiresDir(t *testing.T) {
	_, err := OpenBadger(BadgerOptions{})
	assert.Error(t, err)
}
