package hsmm

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// ErrSearchFailed is returned when no token reaches the last state at the
// last frame. It only concerns the utterance being aligned.
var ErrSearchFailed = errors.New("no tokens survived to the final state")

// seqState is one emitting state in the concatenated state sequence.
type seqState struct {
	unit  int // index of the label
	hmm   *acoustic.HMM
	index int // state index within the HMM
	state *acoustic.State
	dur   distuv.Normal
	start int // first frame the state may occupy
	end   int // last frame the state may occupy
	outT  int // frame of the cached output probability
	outP  float64
	entry int32 // token that entered this state most recently, -1 if none
}

// token is a hypothesis in the lattice arena. up links the same state at
// the previous frame, left the previous state.
type token struct {
	frame int
	prob  float64
	dur   int
	state int32
	up    int32
	left  int32
}

const noToken = -1

// Aligner runs the lattice search. Its token arena and state sequence are
// reused between utterances, so an Aligner must not be shared between
// goroutines.
type Aligner struct {
	cfg   Config
	log   logrus.FieldLogger
	toks  []token
	seq   []seqState
	probs []float64
}

// New creates an Aligner.
func New(cfg Config, opts ...Option) *Aligner {
	a := &Aligner{cfg: cfg, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the aligner's search parameters.
func (a *Aligner) Config() Config { return a.cfg }

// Span is the stretch of frames assigned to one state of the sequence.
type Span struct {
	Unit   string
	HMM    *acoustic.HMM
	State  int // state index within the HMM
	First  int
	Frames int
}

// Alignment is the result for one utterance.
type Alignment struct {
	Utterance string
	Period    int64
	LogP      float64
	Spans     []Span
}

// build concatenates the emitting states of every label's model.
func (a *Aligner) build(set *acoustic.Set, labels []corpus.Label, period int64, T int) error {
	a.seq = a.seq[:0]
	for l, lab := range labels {
		h, ok := set.HMM(lab.Name)
		if !ok {
			return fmt.Errorf("label %d: no model for %q", l, lab.Name)
		}
		start, end := 0, T-1
		if a.cfg.PruneByLabel {
			if lab.Start == corpus.NoTime {
				return fmt.Errorf("label %d (%s): pruning by label needs boundary times", l, lab.Name)
			}
			start = clampFrame(lab.Start/period, T)
			end = clampFrame(lab.End/period, T)
		}
		for i := 1; i <= h.NumEmitting(); i++ {
			st := h.States[i]
			if st.Dur == nil {
				return fmt.Errorf("model %q state %d has no duration model", h.Name, i)
			}
			if !(st.Dur.Var > 0) {
				return &acoustic.NumericError{Op: "HSMMAlign", Param: st.Dur.Name,
					Msg: fmt.Sprintf("duration variance %g of model %q state %d", st.Dur.Var, h.Name, i)}
			}
			a.seq = append(a.seq, seqState{
				unit:  l,
				hmm:   h,
				index: i,
				state: st,
				dur:   distuv.Normal{Mu: st.Dur.Mean, Sigma: math.Sqrt(st.Dur.Var)},
				start: start,
				end:   end,
				outT:  -1,
				entry: noToken,
			})
		}
	}
	if len(a.seq) == 0 {
		return errors.New("empty label sequence")
	}
	a.seq[0].start = 0
	a.seq[len(a.seq)-1].end = T - 1
	return nil
}

func clampFrame(f int64, T int) int {
	if f < 0 {
		return 0
	}
	if f > int64(T-1) {
		return T - 1
	}
	return int(f)
}

func (a *Aligner) output(s int, o acoustic.Observation, t int) float64 {
	ss := &a.seq[s]
	if ss.outT != t {
		ss.outT = t
		ss.outP = ss.state.LogProb(o)
	}
	return ss.outP
}

func (a *Aligner) push(tk token) int32 {
	a.toks = append(a.toks, tk)
	return int32(len(a.toks) - 1)
}

// Align finds the best segmentation of frames into the states of the models
// named by labels. Each state scores its duration when it is left; the last
// state's duration is not scored.
func (a *Aligner) Align(set *acoustic.Set, name string, frames []acoustic.Observation, period int64, labels []corpus.Label) (*Alignment, error) {
	if set.Kind != acoustic.Continuous {
		return nil, errors.New("hsmm alignment needs a continuous model set")
	}
	T := len(frames)
	if T == 0 {
		return nil, &acoustic.DataError{Op: "HSMMAlign", Source: name, Frame: -1, Index: -1, Msg: "no frames"}
	}
	if period <= 0 {
		return nil, fmt.Errorf("%s: bad frame period %d", name, period)
	}
	if err := a.build(set, labels, period, T); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	S := len(a.seq)
	a.toks = a.toks[:0]
	w := a.cfg.DurWeight

	first := a.push(token{frame: 0, prob: a.output(0, frames[0], 0), dur: 1, state: 0, up: noToken, left: noToken})
	a.seq[0].entry = first
	lo, hi := 0, len(a.toks)

	threshold := mathutil.LogZero
	pruning := false
	for t := 1; t < T; t++ {
		for h := lo; h < hi; h++ {
			prev := a.toks[h]
			if pruning && prev.prob < threshold {
				continue
			}
			s := int(prev.state)
			if s+1 < S {
				next := &a.seq[s+1]
				p := prev.prob + w*a.seq[s].dur.LogProb(float64(prev.dur))
				if e := next.entry; e != noToken && a.toks[e].frame == t {
					if a.toks[e].prob < p {
						a.toks[e].prob = p
						a.toks[e].dur = 1
						a.toks[e].left = int32(h)
					}
				} else if next.start <= t && t <= next.end {
					next.entry = a.push(token{frame: t, prob: p, dur: 1, state: int32(s + 1), up: noToken, left: int32(h)})
				}
			}
			if cur := &a.seq[s]; cur.start <= t && t <= cur.end {
				a.push(token{frame: t, prob: prev.prob, dur: prev.dur + 1, state: int32(s), up: int32(h), left: noToken})
			}
		}
		lo, hi = hi, len(a.toks)
		if lo == hi {
			return nil, fmt.Errorf("%s: frame %d: %w", name, t, ErrSearchFailed)
		}
		for h := lo; h < hi; h++ {
			a.toks[h].prob += a.output(int(a.toks[h].state), frames[t], t)
		}
		if t < T-1 {
			threshold, pruning = a.beamThreshold(lo, hi)
		}
	}

	best := int32(noToken)
	bestP := mathutil.LogZero
	for h := lo; h < hi; h++ {
		tk := &a.toks[h]
		if int(tk.state) == S-1 && (best == noToken || tk.prob > bestP) {
			best, bestP = int32(h), tk.prob
		}
	}
	if best == noToken {
		return nil, fmt.Errorf("%s: beam %d: %w", name, a.cfg.Beam, ErrSearchFailed)
	}
	return &Alignment{Utterance: name, Period: period, LogP: bestP, Spans: a.backtrace(best)}, nil
}

// beamThreshold returns the Beam-th highest score among tokens [lo,hi) when
// there are more than Beam of them.
func (a *Aligner) beamThreshold(lo, hi int) (float64, bool) {
	size := hi - lo
	if a.cfg.Beam <= 0 || size <= a.cfg.Beam {
		return 0, false
	}
	a.probs = a.probs[:0]
	for h := lo; h < hi; h++ {
		a.probs = append(a.probs, a.toks[h].prob)
	}
	sort.Float64s(a.probs)
	return a.probs[size-a.cfg.Beam], true
}

// backtrace follows up links, falling back to left links, from the final
// token and returns the frames spent in each sequence state.
func (a *Aligner) backtrace(final int32) []Span {
	spans := make([]Span, len(a.seq))
	cur := final
	last := a.toks[cur].frame
	for cur != noToken {
		tk := a.toks[cur]
		pred := tk.up
		if pred == noToken {
			pred = tk.left
		}
		if pred == noToken || a.toks[pred].state != tk.state {
			ss := a.seq[tk.state]
			spans[tk.state] = Span{
				Unit:   ss.hmm.Name,
				HMM:    ss.hmm,
				State:  ss.index,
				First:  tk.frame,
				Frames: last - tk.frame + 1,
			}
			if pred != noToken {
				last = a.toks[pred].frame
			}
		}
		cur = pred
	}
	return spans
}
