// Package align implements Viterbi state alignment of a segment against a
// single HMM, as used for initial per-unit training.
package align

import (
	"fmt"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// Result is the alignment of one segment.
type Result struct {
	States []int   // emitting state index (1..N-2) per frame
	Mixes  [][]int // best mixture per stream and frame; nil for discrete models
	LogP   float64 // log probability of the best path including the exit transition
}

// Aligner performs Viterbi alignment. Its score and traceback buffers are
// reused across calls, so an Aligner must not be shared between goroutines.
type Aligner struct {
	prev  []float64
	curr  []float64
	trace []int32 // T×N backpointers, row-major
}

// New creates an Aligner.
func New() *Aligner {
	return &Aligner{}
}

func (a *Aligner) reset(T, N int) {
	if cap(a.prev) < N {
		a.prev = make([]float64, N)
		a.curr = make([]float64, N)
	}
	a.prev = a.prev[:N]
	a.curr = a.curr[:N]
	if cap(a.trace) < T*N {
		a.trace = make([]int32, T*N)
	}
	a.trace = a.trace[:T*N]
}

func addTrans(tr, prevP float64) float64 {
	if tr < mathutil.LogSmall {
		return mathutil.LogZero
	}
	return tr + prevP
}

// Align finds the most likely state sequence of obs through h. Transitions
// below the log-small threshold are treated as impossible, and a state
// whose best predecessor is impossible is not evaluated. source names the
// segment in errors.
func (a *Aligner) Align(h *acoustic.HMM, obs []acoustic.Observation, source string) (*Result, error) {
	T := len(obs)
	N := h.N()
	if T == 0 {
		return nil, &acoustic.DataError{Op: "ViterbiAlign", Source: source, Frame: -1, Index: -1, Msg: "empty segment"}
	}
	a.reset(T, N)
	tr := h.Trans.LogP
	prev, curr := a.prev, a.curr

	// frame 0: from the entry state
	mathutil.FillVec(prev, mathutil.LogZero)
	for j := 1; j <= N-2; j++ {
		if tr[0][j] < mathutil.LogSmall {
			prev[j] = mathutil.LogZero
		} else {
			prev[j] = tr[0][j] + h.States[j].LogProb(obs[0])
		}
		a.trace[j] = 0
	}

	for t := 1; t < T; t++ {
		mathutil.FillVec(curr, mathutil.LogZero)
		row := a.trace[t*N : (t+1)*N]
		for j := 1; j <= N-2; j++ {
			bestPrev := 1
			bestP := addTrans(tr[1][j], prev[1])
			for i := 2; i <= N-2; i++ {
				if p := addTrans(tr[i][j], prev[i]); p > bestP {
					bestPrev, bestP = i, p
				}
			}
			if bestP < mathutil.LogSmall {
				curr[j] = mathutil.LogZero
			} else {
				curr[j] = bestP + h.States[j].LogProb(obs[t])
			}
			row[j] = int32(bestPrev)
		}
		prev, curr = curr, prev
	}

	// last frame -> exit
	exit := N - 1
	bestPrev := 1
	bestP := addTrans(tr[1][exit], prev[1])
	for i := 2; i <= N-2; i++ {
		if p := addTrans(tr[i][exit], prev[i]); p > bestP {
			bestPrev, bestP = i, p
		}
	}
	if bestP < mathutil.LogSmall {
		return nil, &acoustic.DataError{Op: "ViterbiAlign", Source: source, Frame: -1, Index: -1,
			Msg: fmt.Sprintf("no path found through %q for %d frames", h.Name, T)}
	}

	res := &Result{States: make([]int, T), LogP: bestP}
	res.States[T-1] = bestPrev
	for t := T - 1; t > 0; t-- {
		res.States[t-1] = int(a.trace[t*N+res.States[t]])
	}

	if err := findBestMixes(h, obs, res, source); err != nil {
		return nil, err
	}
	return res, nil
}

// findBestMixes records, for every frame and continuous stream, the mixture
// component of the aligned state that best explains the observation.
func findBestMixes(h *acoustic.HMM, obs []acoustic.Observation, res *Result, source string) error {
	first := h.States[1]
	if len(first.Streams) == 0 || first.Streams[0].IsDiscrete() {
		return nil
	}
	S := len(first.Streams)
	T := len(obs)
	res.Mixes = make([][]int, S)
	for s := range res.Mixes {
		res.Mixes[s] = make([]int, T)
	}
	for t, state := range res.States {
		for s, str := range h.States[state].Streams {
			m := str.BestMixture(obs[t][s])
			if m < 0 {
				return &acoustic.DataError{Op: "FindBestMixes", Source: source, Frame: t, Index: s,
					Msg: fmt.Sprintf("no mixture of state %d matches space order %d", state, len(obs[t][s].Vec))}
			}
			res.Mixes[s][t] = m
		}
	}
	return nil
}
