package train

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// uniformState returns the emitting state (1-based within the HMM, entry
// being 0) that frame t of a T-frame segment is assigned to when E emitting
// states share the segment equally.
func uniformState(t, T, E int) int {
	return t*E/T + 1
}

// uniformSegment divides every segment equally among the emitting states
// of h and initialises each state's streams from the vectors it receives.
func uniformSegment(set *acoustic.Set, h *acoustic.HMM, segs []corpus.Segment, cfg Config) error {
	const op = "UniformSegment"
	E := h.NumEmitting()
	S := set.NumStreams()
	// items[state][stream] collects the observations of that state
	items := make([][][]acoustic.StreamObs, h.N())
	for i := 1; i <= E; i++ {
		items[i] = make([][]acoustic.StreamObs, S)
	}
	for _, seg := range segs {
		T := len(seg.Obs)
		for t, o := range seg.Obs {
			i := uniformState(t, T, E)
			for s := 0; s < S; s++ {
				items[i][s] = append(items[i][s], o[s])
			}
		}
	}

	for i := 1; i <= E; i++ {
		for s, str := range h.States[i].Streams {
			var err error
			if str.IsDiscrete() {
				err = initDiscrete(str, items[i][s], cfg)
			} else {
				err = initContinuous(str, items[i][s], cfg)
			}
			if err != nil {
				var de *acoustic.DataError
				if errors.As(err, &de) {
					de.Source = fmt.Sprintf("%s state %d stream %d", h.Name, i+1, s+1)
					return de
				}
				return fmt.Errorf("%s: %s state %d stream %d: %w", op, h.Name, i+1, s+1, err)
			}
		}
	}
	return set.Precompute()
}

func initDiscrete(str *acoustic.Stream, obs []acoustic.StreamObs, cfg Config) error {
	M := len(str.DProbs)
	counts := make([]float64, M)
	for _, o := range obs {
		if o.Index < 0 || o.Index >= M {
			return &acoustic.DataError{Op: "UniformSegment", Frame: -1, Index: o.Index,
				Msg: fmt.Sprintf("codeword %d out of range 0..%d", o.Index, M-1)}
		}
		counts[o.Index]++
	}
	if len(obs) == 0 {
		return &acoustic.DataError{Op: "UniformSegment", Frame: -1, Index: -1, Msg: "no codewords"}
	}
	for m, c := range counts {
		x := c / float64(len(obs))
		if x < cfg.MixWeightFloor {
			x = cfg.MixWeightFloor
		}
		str.DProbs[m] = mathutil.SafeLog(x)
	}
	return nil
}

// initContinuous clusters the vectors of each space into as many clusters
// as the space has mixtures. Mixture weights are cluster sizes relative to
// all vectors of the stream, so a space that received no vectors gets zero
// weight.
func initContinuous(str *acoustic.Stream, obs []acoustic.StreamObs, cfg Config) error {
	ck := str.Mixtures[0].PDF.Cov.Kind
	spaces := str.Spaces()
	data := make([][][]float64, len(spaces))
	total := 0
	for _, o := range obs {
		k := -1
		for j := range spaces {
			if spaces[j].Order == len(o.Vec) {
				k = j
				break
			}
		}
		if k < 0 {
			if cfg.IgnoreOutliers {
				continue
			}
			return &acoustic.DataError{Op: "UniformSegment", Frame: -1, Index: -1,
				Msg: fmt.Sprintf("no space of order %d", len(o.Vec))}
		}
		data[k] = append(data[k], o.Vec)
		total++
	}

	for j, sp := range spaces {
		if len(data[j]) == 0 {
			if cfg.Update.Has(UpdateWeights) {
				for _, m := range sp.Mixtures {
					str.Mixtures[m].Weight = 0
				}
			}
			continue
		}
		cls, err := flatCluster(data[j], len(sp.Mixtures), ck)
		if err != nil {
			return &acoustic.DataError{Op: "UniformSegment", Frame: -1, Index: -1, Msg: err.Error()}
		}
		for n, m := range sp.Mixtures {
			mx := &str.Mixtures[m]
			g := mx.PDF
			if g.Cov.Kind != ck {
				return &acoustic.NumericError{Op: "UniformSegment", Param: g.Name, Msg: "different covariance kinds within a mixture"}
			}
			c := cls[n]
			if cfg.Update.Has(UpdateWeights) {
				mx.Weight = float64(len(c.items)) / float64(total)
			}
			if cfg.Update.Has(UpdateMeans) {
				copy(g.Mean.Vector, c.mean)
			}
			if cfg.Update.Has(UpdateVars) {
				setClusterCovariance(g.Cov, c, cfg.MinVariance)
			}
		}
	}
	return nil
}

func setClusterCovariance(cov *acoustic.Covariance, c *cluster, floor float64) {
	if cov.Kind == acoustic.DiagC {
		for j, v := range c.vars {
			if v < floor {
				v = floor
			}
			cov.Var[j] = v
		}
		return
	}
	if c.cov == nil {
		return
	}
	n := c.cov.SymmetricDim()
	full := mat.NewSymDense(n, nil)
	full.CopySym(c.cov)
	for j := 0; j < n; j++ {
		if full.At(j, j) < floor {
			full.SetSym(j, j, floor)
		}
	}
	cov.Full = full
}
