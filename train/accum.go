package train

import (
	"fmt"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/align"
	"github.com/ieee0824/hsmmtrain/hsmm"
	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

type meanAcc struct {
	occ     float64
	sum     []float64 // Σ(x - μ)
	oldMean []float64 // mean before the last update
}

type varAcc struct {
	occ  float64
	diag []float64    // Σ(x - μ)²
	full mathutil.Mat // lower triangle of Σ(x - μ)(x - μ)ᵀ
}

type weightAcc struct {
	occ float64
	c   []float64
}

type transAcc struct {
	occ  []float64
	tran mathutil.Mat
}

type durAcc struct {
	occ float64
	sum float64
	sqr float64
}

// Accumulator collects sufficient statistics. Statistics are keyed by the
// parameter record so tied parameters share one accumulator.
type Accumulator struct {
	flags   UpdateFlags
	means   map[*acoustic.Mean]*meanAcc
	vars    map[*acoustic.Covariance]*varAcc
	weights map[*acoustic.Stream]*weightAcc
	trans   map[*acoustic.Trans]*transAcc
	durs    map[*acoustic.Duration]*durAcc
}

// NewAccumulator returns an empty accumulator for the given update flags.
func NewAccumulator(flags UpdateFlags) *Accumulator {
	a := &Accumulator{flags: flags}
	a.Reset()
	return a
}

// Reset zeroes all statistics.
func (a *Accumulator) Reset() {
	a.means = make(map[*acoustic.Mean]*meanAcc)
	a.vars = make(map[*acoustic.Covariance]*varAcc)
	a.weights = make(map[*acoustic.Stream]*weightAcc)
	a.trans = make(map[*acoustic.Trans]*transAcc)
	a.durs = make(map[*acoustic.Duration]*durAcc)
}

func (a *Accumulator) mean(m *acoustic.Mean) *meanAcc {
	acc, ok := a.means[m]
	if !ok {
		acc = &meanAcc{sum: make([]float64, len(m.Vector))}
		a.means[m] = acc
	}
	return acc
}

func (a *Accumulator) cov(c *acoustic.Covariance) *varAcc {
	acc, ok := a.vars[c]
	if !ok {
		acc = &varAcc{}
		if c.Kind == acoustic.FullC {
			acc.full = mathutil.NewMat(c.Dim(), c.Dim())
		} else {
			acc.diag = make([]float64, c.Dim())
		}
		a.vars[c] = acc
	}
	return acc
}

func (a *Accumulator) weight(s *acoustic.Stream) *weightAcc {
	acc, ok := a.weights[s]
	if !ok {
		acc = &weightAcc{c: make([]float64, s.NumMix())}
		a.weights[s] = acc
	}
	return acc
}

func (a *Accumulator) transition(tr *acoustic.Trans) *transAcc {
	acc, ok := a.trans[tr]
	if !ok {
		acc = &transAcc{occ: make([]float64, tr.N()), tran: mathutil.NewMat(tr.N(), tr.N())}
		a.trans[tr] = acc
	}
	return acc
}

// Add accumulates the statistics of one aligned segment: each frame counts
// once for its state's mixture weights, for the best mixture component's
// mean and variance, and for the transition into its state.
func (a *Accumulator) Add(h *acoustic.HMM, obs []acoustic.Observation, res *align.Result) error {
	if len(res.States) != len(obs) {
		return fmt.Errorf("alignment covers %d frames, segment has %d", len(res.States), len(obs))
	}
	updStates := a.flags&(UpdateMeans|UpdateVars|UpdateWeights) != 0
	last := 0
	for t, state := range res.States {
		if updStates {
			for s, str := range h.States[state].Streams {
				if err := a.addStream(str, obs[t][s], res, s, t); err != nil {
					return err
				}
			}
		}
		if a.flags.Has(UpdateTrans) {
			ta := a.transition(h.Trans)
			ta.occ[last]++
			ta.tran[last][state]++
			last = state
			if t == len(res.States)-1 {
				ta.occ[state]++
				ta.tran[state][h.N()-1]++
			}
		}
	}
	return nil
}

func (a *Accumulator) addStream(str *acoustic.Stream, o acoustic.StreamObs, res *align.Result, s, t int) error {
	var m int
	if str.IsDiscrete() {
		m = o.Index
	} else {
		m = res.Mixes[s][t]
	}
	M := str.NumMix()
	if m < 0 || m >= M {
		return &acoustic.DataError{Op: "UpdateCounts", Frame: t, Index: s,
			Msg: fmt.Sprintf("mixture or codeword %d out of range 0..%d", m, M-1)}
	}
	if M > 1 && a.flags.Has(UpdateWeights) {
		wa := a.weight(str)
		wa.occ++
		wa.c[m]++
	}
	if str.IsDiscrete() {
		return nil
	}

	g := str.Mixtures[m].PDF
	ma := a.mean(g.Mean)
	va := a.cov(g.Cov)
	ma.occ++
	va.occ++
	mean := g.Mean.Vector
	for j := range mean {
		x := o.Vec[j] - mean[j]
		ma.sum[j] += x
		if !a.flags.Has(UpdateVars) {
			continue
		}
		if g.Cov.Kind == acoustic.FullC {
			row := va.full[j]
			for k := 0; k <= j; k++ {
				row[k] += x * (o.Vec[k] - mean[k])
			}
		} else {
			va.diag[j] += x * x
		}
	}
	return nil
}

// AddDurations accumulates the state durations of an HSMM alignment.
func (a *Accumulator) AddDurations(al *hsmm.Alignment) {
	for _, sp := range al.Spans {
		d := sp.HMM.States[sp.State].Dur
		if d == nil {
			continue
		}
		acc, ok := a.durs[d]
		if !ok {
			acc = &durAcc{}
			a.durs[d] = acc
		}
		n := float64(sp.Frames)
		acc.occ++
		acc.sum += n
		acc.sqr += n * n
	}
}
