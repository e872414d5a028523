package acoustic

import (
	"fmt"
	"math"
)

// Kind is the kind of output distributions of a model set.
type Kind int

const (
	Continuous Kind = iota // Gaussian mixtures
	Discrete               // codeword probability tables
)

func (k Kind) String() string {
	if k == Discrete {
		return "discrete"
	}
	return "continuous"
}

// Set holds HMMs together with tables of their named, shareable parameter
// records. Records with an empty name are private to their owner.
type Set struct {
	Kind         Kind
	StreamWidths []int
	MSD          []bool // per stream, multi-space distribution

	hmms    []*HMM
	byName  map[string]*HMM
	means   map[string]*Mean
	covs    map[string]*Covariance
	pdfs    map[string]*Gaussian
	streams map[string]*Stream
	states  map[string]*State
	durs    map[string]*Duration
	trans   map[string]*Trans
}

// NewSet creates an empty model set. msd may be nil.
func NewSet(kind Kind, streamWidths []int, msd []bool) *Set {
	if msd == nil {
		msd = make([]bool, len(streamWidths))
	}
	return &Set{
		Kind:         kind,
		StreamWidths: append([]int(nil), streamWidths...),
		MSD:          append([]bool(nil), msd...),
		byName:       make(map[string]*HMM),
		means:        make(map[string]*Mean),
		covs:         make(map[string]*Covariance),
		pdfs:         make(map[string]*Gaussian),
		streams:      make(map[string]*Stream),
		states:       make(map[string]*State),
		durs:         make(map[string]*Duration),
		trans:        make(map[string]*Trans),
	}
}

// NumStreams returns the number of streams.
func (s *Set) NumStreams() int { return len(s.StreamWidths) }

// HMMs returns the models in insertion order.
func (s *Set) HMMs() []*HMM { return s.hmms }

// HMM returns the named model.
func (s *Set) HMM(name string) (*HMM, bool) {
	h, ok := s.byName[name]
	return h, ok
}

// Add validates h against the set and registers it with its named records.
// Adding a model whose name already exists replaces it.
func (s *Set) Add(h *HMM) error {
	if err := s.validateHMM(h); err != nil {
		return err
	}
	if err := s.register(h); err != nil {
		return err
	}
	if _, ok := s.byName[h.Name]; ok {
		for i, old := range s.hmms {
			if old.Name == h.Name {
				s.hmms[i] = h
			}
		}
	} else {
		s.hmms = append(s.hmms, h)
	}
	s.byName[h.Name] = h
	return nil
}

func registerName[T any](table map[string]*T, kind, name string, rec *T) error {
	if name == "" {
		return nil
	}
	if old, ok := table[name]; ok && old != rec {
		return fmt.Errorf("%s %q is defined twice", kind, name)
	}
	table[name] = rec
	return nil
}

func (s *Set) register(h *HMM) error {
	if err := registerName(s.trans, "transition matrix", h.Trans.Name, h.Trans); err != nil {
		return err
	}
	for _, st := range h.States[1 : h.N()-1] {
		if err := registerName(s.states, "state", st.Name, st); err != nil {
			return err
		}
		if st.Dur != nil {
			if err := registerName(s.durs, "duration", st.Dur.Name, st.Dur); err != nil {
				return err
			}
		}
		for _, str := range st.Streams {
			if err := registerName(s.streams, "stream", str.Name, str); err != nil {
				return err
			}
			for _, mx := range str.Mixtures {
				g := mx.PDF
				if err := registerName(s.pdfs, "gaussian", g.Name, g); err != nil {
					return err
				}
				if err := registerName(s.means, "mean", g.Mean.Name, g.Mean); err != nil {
					return err
				}
				if err := registerName(s.covs, "covariance", g.Cov.Name, g.Cov); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ResolveMean returns the named mean record.
func (s *Set) ResolveMean(name string) (*Mean, bool) { m, ok := s.means[name]; return m, ok }

// ResolveCovariance returns the named covariance record.
func (s *Set) ResolveCovariance(name string) (*Covariance, bool) {
	c, ok := s.covs[name]
	return c, ok
}

// ResolveGaussian returns the named mixture component.
func (s *Set) ResolveGaussian(name string) (*Gaussian, bool) { g, ok := s.pdfs[name]; return g, ok }

// ResolveStream returns the named stream distribution.
func (s *Set) ResolveStream(name string) (*Stream, bool) { st, ok := s.streams[name]; return st, ok }

// ResolveState returns the named state.
func (s *Set) ResolveState(name string) (*State, bool) { st, ok := s.states[name]; return st, ok }

// ResolveDuration returns the named duration model.
func (s *Set) ResolveDuration(name string) (*Duration, bool) { d, ok := s.durs[name]; return d, ok }

// ResolveTrans returns the named transition matrix.
func (s *Set) ResolveTrans(name string) (*Trans, bool) { tr, ok := s.trans[name]; return tr, ok }

// Validate checks every model of the set.
func (s *Set) Validate() error {
	for _, h := range s.hmms {
		if err := s.validateHMM(h); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) validateHMM(h *HMM) error {
	const op = "Validate"
	if h == nil || h.Name == "" {
		return dataErr(op, "model without a name", -1)
	}
	n := h.N()
	if n < 3 {
		return dataErr(op, fmt.Sprintf("model %q has %d states", h.Name, n), -1)
	}
	if h.Trans == nil || h.Trans.N() != n {
		return dataErr(op, fmt.Sprintf("model %q: transition matrix does not match %d states", h.Name, n), -1)
	}
	for i, row := range h.Trans.LogP {
		if len(row) != n {
			return dataErr(op, fmt.Sprintf("model %q: transition row %d has %d columns", h.Name, i, len(row)), i)
		}
	}
	if h.States[0] != nil || h.States[n-1] != nil {
		return dataErr(op, fmt.Sprintf("model %q: entry and exit states must be non-emitting", h.Name), -1)
	}
	for i := 1; i <= n-2; i++ {
		st := h.States[i]
		if st == nil {
			return dataErr(op, fmt.Sprintf("model %q: emitting state %d is missing", h.Name, i), i)
		}
		if len(st.Streams) != s.NumStreams() {
			return dataErr(op, fmt.Sprintf("model %q state %d: %d streams, set has %d", h.Name, i, len(st.Streams), s.NumStreams()), i)
		}
		for j, str := range st.Streams {
			if err := s.validateStream(h.Name, i, j, str); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Set) validateStream(model string, state, idx int, str *Stream) error {
	const op = "Validate"
	width := s.StreamWidths[idx]
	where := fmt.Sprintf("model %q state %d stream %d", model, state, idx+1)
	if str == nil {
		return dataErr(op, where+": missing", idx)
	}
	if s.Kind == Discrete {
		if len(str.Mixtures) != 0 || len(str.DProbs) != width {
			return dataErr(op, fmt.Sprintf("%s: want %d codeword probabilities, got %d", where, width, len(str.DProbs)), idx)
		}
		return nil
	}
	if len(str.Mixtures) == 0 {
		return dataErr(op, where+": no mixtures", idx)
	}
	for m, mx := range str.Mixtures {
		g := mx.PDF
		if g == nil || g.Mean == nil || g.Cov == nil {
			return dataErr(op, fmt.Sprintf("%s mixture %d: incomplete gaussian", where, m+1), idx)
		}
		dim := g.Dim()
		if s.MSD[idx] {
			if dim > width {
				return dataErr(op, fmt.Sprintf("%s mixture %d: order %d exceeds width %d", where, m+1, dim, width), idx)
			}
		} else if dim != width {
			return dataErr(op, fmt.Sprintf("%s mixture %d: dimension %d, want %d", where, m+1, dim, width), idx)
		}
		if g.Cov.Dim() != dim {
			return dataErr(op, fmt.Sprintf("%s mixture %d: covariance dimension %d, mean %d", where, m+1, g.Cov.Dim(), dim), idx)
		}
		if g.Cov.Kind == FullC && s.MSD[idx] {
			return dataErr(op, fmt.Sprintf("%s mixture %d: full covariance in a multi-space stream", where, m+1), idx)
		}
		if mx.Weight < 0 || math.IsNaN(mx.Weight) {
			return dataErr(op, fmt.Sprintf("%s mixture %d: bad weight %g", where, m+1, mx.Weight), idx)
		}
	}
	return nil
}

// CheckObservation verifies that o can be evaluated by the set's models.
func (s *Set) CheckObservation(o Observation) error {
	const op = "CheckObservation"
	if len(o) != s.NumStreams() {
		return dataErr(op, fmt.Sprintf("%d streams, model has %d", len(o), s.NumStreams()), -1)
	}
	for i, so := range o {
		width := s.StreamWidths[i]
		switch {
		case s.Kind == Discrete:
			if so.Index < 0 || so.Index >= width {
				return dataErr(op, fmt.Sprintf("codeword %d out of range 0..%d", so.Index, width-1), i)
			}
		case s.MSD[i]:
			if len(so.Vec) > width {
				return dataErr(op, fmt.Sprintf("space order %d exceeds width %d", len(so.Vec), width), i)
			}
		default:
			if len(so.Vec) != width {
				return dataErr(op, fmt.Sprintf("vector size %d, want %d", len(so.Vec), width), i)
			}
		}
	}
	return nil
}

// Precompute rebuilds the cached covariance inverses and Gaussian
// normalisation constants. Must be called after parameters change.
func (s *Set) Precompute() error {
	seen := make(map[*Covariance]bool)
	var err error
	s.EachGaussian(func(g *Gaussian) {
		if err != nil {
			return
		}
		if !seen[g.Cov] {
			seen[g.Cov] = true
			if err = g.Cov.Precompute(); err != nil {
				return
			}
		}
		g.Precompute()
	})
	return err
}

// EachGaussian calls fn once for every distinct Gaussian in model order.
func (s *Set) EachGaussian(fn func(*Gaussian)) {
	seen := make(map[*Gaussian]bool)
	for _, h := range s.hmms {
		for _, st := range h.States[1 : h.N()-1] {
			for _, str := range st.Streams {
				for _, mx := range str.Mixtures {
					if !seen[mx.PDF] {
						seen[mx.PDF] = true
						fn(mx.PDF)
					}
				}
			}
		}
	}
}

// NumGaussians returns the number of distinct Gaussians.
func (s *Set) NumGaussians() int {
	n := 0
	s.EachGaussian(func(*Gaussian) { n++ })
	return n
}

