package acoustic

import (
	"fmt"
	"math"

	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// StreamObs is the observation of one stream at one frame: a vector for
// continuous streams (its length is the space order) or a 0-based codeword
// index for discrete streams.
type StreamObs struct {
	Vec   []float64
	Index int
}

// Observation holds one StreamObs per stream.
type Observation []StreamObs

// Duration is the Gaussian state-duration model used by the HSMM aligner,
// in frames.
type Duration struct {
	Name string
	Mean float64
	Var  float64
}

// State is an emitting state: one output distribution per stream and an
// optional duration model.
type State struct {
	Name    string
	Streams []*Stream
	Dur     *Duration
}

// LogProb returns log b(o), the sum of the stream log probabilities.
func (s *State) LogProb(o Observation) float64 {
	var lp float64
	for i, st := range s.Streams {
		p := st.LogProb(o[i])
		if mathutil.IsZero(p) {
			return mathutil.LogZero
		}
		lp += p
	}
	return lp
}

// Trans is a shareable N×N log transition matrix. Row N-1 (exit) is unused.
type Trans struct {
	Name string
	LogP mathutil.Mat
}

// N returns the number of states including entry and exit.
func (tr *Trans) N() int { return len(tr.LogP) }

// HMM is a model unit. States[0] and States[N-1] are the non-emitting entry
// and exit states and are nil.
type HMM struct {
	Name   string
	States []*State
	Trans  *Trans
}

// N returns the number of states including entry and exit.
func (h *HMM) N() int { return len(h.States) }

// NumEmitting returns the number of emitting states.
func (h *HMM) NumEmitting() int { return len(h.States) - 2 }

// IsEmitting reports whether state i is an emitting state of h.
func (h *HMM) IsEmitting(i int) bool { return i >= 1 && i <= len(h.States)-2 }

// Proto describes a prototype model.
type Proto struct {
	Name         string
	NumStates    int   // including entry and exit
	StreamWidths []int // vector size (continuous) or codebook size (discrete) per stream
	NumMix       []int // mixtures per stream, continuous only; nil means 1
	Kind         Kind
	CovKind      CovKind
	Skip         bool    // allow i -> i+2 transitions
	SelfLoop     float64 // initial self-loop probability, default 0.6
}

// NewPrototype creates a left-to-right HMM with zero means, unit variances,
// uniform mixture weights and uniform codeword probabilities.
func NewPrototype(p Proto) (*HMM, error) {
	if p.NumStates < 3 {
		return nil, fmt.Errorf("prototype %q: need at least 3 states, got %d", p.Name, p.NumStates)
	}
	if len(p.StreamWidths) == 0 {
		return nil, fmt.Errorf("prototype %q: no streams", p.Name)
	}
	if p.NumMix != nil && len(p.NumMix) != len(p.StreamWidths) {
		return nil, fmt.Errorf("prototype %q: %d mixture counts for %d streams", p.Name, len(p.NumMix), len(p.StreamWidths))
	}
	self := p.SelfLoop
	if self == 0 {
		self = 0.6
	}
	if self < 0 || self >= 1 {
		return nil, fmt.Errorf("prototype %q: self-loop probability %g out of range", p.Name, self)
	}

	n := p.NumStates
	h := &HMM{
		Name:   p.Name,
		States: make([]*State, n),
		Trans:  &Trans{Name: p.Name, LogP: mathutil.NewMatFill(n, n, mathutil.LogZero)},
	}
	for i := 1; i <= n-2; i++ {
		st := &State{Name: fmt.Sprintf("%s.state[%d]", p.Name, i+1), Streams: make([]*Stream, len(p.StreamWidths))}
		for s, width := range p.StreamWidths {
			if width <= 0 {
				return nil, fmt.Errorf("prototype %q: stream %d has width %d", p.Name, s+1, width)
			}
			if p.Kind == Discrete {
				st.Streams[s] = &Stream{DProbs: mathutil.NewVecFill(width, -math.Log(float64(width)))}
				continue
			}
			m := 1
			if p.NumMix != nil {
				m = p.NumMix[s]
			}
			if m < 1 {
				return nil, fmt.Errorf("prototype %q: stream %d has %d mixtures", p.Name, s+1, m)
			}
			stream := &Stream{Mixtures: make([]Mixture, m)}
			for k := range stream.Mixtures {
				stream.Mixtures[k] = Mixture{Weight: 1 / float64(m), PDF: newUnitGaussian(width, p.CovKind)}
			}
			st.Streams[s] = stream
		}
		h.States[i] = st
	}

	// entry -> first emitting state; each emitting state loops or moves on
	h.Trans.LogP[0][1] = 0
	for i := 1; i <= n-2; i++ {
		if p.Skip && i+2 <= n-1 {
			rest := (1 - self) / 2
			h.Trans.LogP[i][i] = math.Log(self)
			h.Trans.LogP[i][i+1] = math.Log(rest)
			h.Trans.LogP[i][i+2] = math.Log(rest)
			continue
		}
		h.Trans.LogP[i][i] = math.Log(self)
		h.Trans.LogP[i][i+1] = math.Log(1 - self)
	}
	return h, nil
}

func newUnitGaussian(dim int, kind CovKind) *Gaussian {
	cov := &Covariance{Kind: kind}
	if kind == FullC {
		cov = NewFullCovariance("", identity(dim))
	} else {
		cov.Var = mathutil.NewVecFill(dim, 1)
	}
	return &Gaussian{Mean: &Mean{Vector: mathutil.NewVec(dim)}, Cov: cov}
}
