package acoustic

import (
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

const codecVersion = 1

const (
	dLogScale = -2371.8 // 32767/ln(minDProb)
	dLogZero  = 32767
	minDProb  = 0.000001
)

// QuantizeDProb converts a log probability to the scaled short form used
// when discrete distributions are written.
func QuantizeDProb(logP float64) int16 {
	if logP < math.Log(minDProb) {
		return dLogZero
	}
	return int16(logP * dLogScale)
}

// DequantizeDProb is the inverse of QuantizeDProb.
func DequantizeDProb(q int16) float64 {
	if q == dLogZero {
		return mathutil.LogZero
	}
	return float64(q) / dLogScale
}

// serializable types for msgpack encoding. Shared records are written once
// and referenced by table index, so tying survives a round trip.
type serializedSet struct {
	Version      int                  `msgpack:"version"`
	Kind         Kind                 `msgpack:"kind"`
	StreamWidths []int                `msgpack:"stream_widths"`
	MSD          []bool               `msgpack:"msd"`
	Means        []serializedMean     `msgpack:"means"`
	Covs         []serializedCov      `msgpack:"covs"`
	PDFs         []serializedGaussian `msgpack:"pdfs"`
	Streams      []serializedStream   `msgpack:"streams"`
	Durations    []Duration           `msgpack:"durations"`
	States       []serializedState    `msgpack:"states"`
	Trans        []serializedTrans    `msgpack:"trans"`
	HMMs         []serializedHMM      `msgpack:"hmms"`
}

type serializedMean struct {
	Name   string    `msgpack:"name"`
	Vector []float64 `msgpack:"vector"`
}

type serializedCov struct {
	Name string    `msgpack:"name"`
	Kind CovKind   `msgpack:"kind"`
	Var  []float64 `msgpack:"var,omitempty"`
	Full []float64 `msgpack:"full,omitempty"` // row-major n×n
}

type serializedGaussian struct {
	Name string `msgpack:"name"`
	Mean int    `msgpack:"mean"`
	Cov  int    `msgpack:"cov"`
}

type serializedStream struct {
	Name    string    `msgpack:"name"`
	Weights []float64 `msgpack:"weights,omitempty"`
	PDFs    []int     `msgpack:"pdfs,omitempty"`
	DProbs  []int16   `msgpack:"dprobs,omitempty"`
}

type serializedState struct {
	Name    string `msgpack:"name"`
	Streams []int  `msgpack:"streams"`
	Dur     int    `msgpack:"dur"` // -1 if none
}

type serializedTrans struct {
	Name string      `msgpack:"name"`
	LogP [][]float64 `msgpack:"logp"`
}

type serializedHMM struct {
	Name   string `msgpack:"name"`
	States []int  `msgpack:"states"` // emitting states only
	Trans  int    `msgpack:"trans"`
}

// indexer assigns table indices to records by identity.
type indexer[T any] struct {
	idx  map[*T]int
	list []*T
}

func newIndexer[T any]() *indexer[T] { return &indexer[T]{idx: make(map[*T]int)} }

func (ix *indexer[T]) add(rec *T) (int, bool) {
	if i, ok := ix.idx[rec]; ok {
		return i, false
	}
	i := len(ix.list)
	ix.idx[rec] = i
	ix.list = append(ix.list, rec)
	return i, true
}

// Save serializes the set to w using msgpack.
func (s *Set) Save(w io.Writer) error {
	ss, err := s.serialize()
	if err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(ss)
}

// Marshal returns the msgpack encoding of the set.
func (s *Set) Marshal() ([]byte, error) {
	ss, err := s.serialize()
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(ss)
}

func (s *Set) serialize() (*serializedSet, error) {
	ss := &serializedSet{
		Version:      codecVersion,
		Kind:         s.Kind,
		StreamWidths: s.StreamWidths,
		MSD:          s.MSD,
	}
	means := newIndexer[Mean]()
	covs := newIndexer[Covariance]()
	pdfs := newIndexer[Gaussian]()
	streams := newIndexer[Stream]()
	durs := newIndexer[Duration]()
	states := newIndexer[State]()
	trans := newIndexer[Trans]()

	for _, h := range s.hmms {
		sh := serializedHMM{Name: h.Name}
		ti, isNew := trans.add(h.Trans)
		if isNew {
			ss.Trans = append(ss.Trans, serializedTrans{Name: h.Trans.Name, LogP: h.Trans.LogP})
		}
		sh.Trans = ti

		for _, st := range h.States[1 : h.N()-1] {
			si, isNew := states.add(st)
			sh.States = append(sh.States, si)
			if !isNew {
				continue
			}
			sst := serializedState{Name: st.Name, Dur: -1}
			if st.Dur != nil {
				di, isNew := durs.add(st.Dur)
				if isNew {
					ss.Durations = append(ss.Durations, *st.Dur)
				}
				sst.Dur = di
			}
			for _, str := range st.Streams {
				ri, isNew := streams.add(str)
				sst.Streams = append(sst.Streams, ri)
				if !isNew {
					continue
				}
				sstr := serializedStream{Name: str.Name}
				if str.IsDiscrete() {
					sstr.DProbs = make([]int16, len(str.DProbs))
					for k, lp := range str.DProbs {
						sstr.DProbs[k] = QuantizeDProb(lp)
					}
				}
				for _, mx := range str.Mixtures {
					g := mx.PDF
					gi, isNew := pdfs.add(g)
					if isNew {
						mi, mNew := means.add(g.Mean)
						if mNew {
							ss.Means = append(ss.Means, serializedMean{Name: g.Mean.Name, Vector: g.Mean.Vector})
						}
						ci, cNew := covs.add(g.Cov)
						if cNew {
							sc, err := serializeCov(g.Cov)
							if err != nil {
								return nil, err
							}
							ss.Covs = append(ss.Covs, sc)
						}
						ss.PDFs = append(ss.PDFs, serializedGaussian{Name: g.Name, Mean: mi, Cov: ci})
					}
					sstr.Weights = append(sstr.Weights, mx.Weight)
					sstr.PDFs = append(sstr.PDFs, gi)
				}
				ss.Streams = append(ss.Streams, sstr)
			}
			ss.States = append(ss.States, sst)
		}
		ss.HMMs = append(ss.HMMs, sh)
	}
	return ss, nil
}

func serializeCov(c *Covariance) (serializedCov, error) {
	sc := serializedCov{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case DiagC:
		sc.Var = c.Var
	case FullC:
		n := c.Dim()
		sc.Full = make([]float64, 0, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				sc.Full = append(sc.Full, c.Full.At(i, j))
			}
		}
	default:
		return sc, fmt.Errorf("covariance %q: unknown kind %d", c.Name, c.Kind)
	}
	return sc, nil
}

// Load deserializes a model set from r and rebuilds its caches.
func Load(r io.Reader) (*Set, error) {
	var ss serializedSet
	if err := msgpack.NewDecoder(r).Decode(&ss); err != nil {
		return nil, fmt.Errorf("decode model set: %w", err)
	}
	return ss.build()
}

// Unmarshal decodes a model set produced by Marshal.
func Unmarshal(data []byte) (*Set, error) {
	var ss serializedSet
	if err := msgpack.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("decode model set: %w", err)
	}
	return ss.build()
}

func ref[T any](table []*T, i int, what string) (*T, error) {
	if i < 0 || i >= len(table) {
		return nil, fmt.Errorf("decode model set: %s reference %d out of range", what, i)
	}
	return table[i], nil
}

func (ss *serializedSet) build() (*Set, error) {
	if ss.Version != codecVersion {
		return nil, fmt.Errorf("decode model set: unsupported version %d", ss.Version)
	}
	set := NewSet(ss.Kind, ss.StreamWidths, ss.MSD)

	means := make([]*Mean, len(ss.Means))
	for i, m := range ss.Means {
		means[i] = &Mean{Name: m.Name, Vector: m.Vector}
	}
	covs := make([]*Covariance, len(ss.Covs))
	for i, c := range ss.Covs {
		switch c.Kind {
		case DiagC:
			covs[i] = &Covariance{Name: c.Name, Kind: DiagC, Var: c.Var}
		case FullC:
			n := int(math.Round(math.Sqrt(float64(len(c.Full)))))
			if n*n != len(c.Full) {
				return nil, fmt.Errorf("decode model set: covariance %q is not square", c.Name)
			}
			covs[i] = &Covariance{Name: c.Name, Kind: FullC, Full: mat.NewSymDense(n, c.Full)}
		default:
			return nil, fmt.Errorf("decode model set: covariance %q has unknown kind %d", c.Name, c.Kind)
		}
	}
	pdfs := make([]*Gaussian, len(ss.PDFs))
	for i, g := range ss.PDFs {
		m, err := ref(means, g.Mean, "mean")
		if err != nil {
			return nil, err
		}
		c, err := ref(covs, g.Cov, "covariance")
		if err != nil {
			return nil, err
		}
		pdfs[i] = &Gaussian{Name: g.Name, Mean: m, Cov: c}
	}
	streams := make([]*Stream, len(ss.Streams))
	for i, st := range ss.Streams {
		if len(st.Weights) != len(st.PDFs) {
			return nil, fmt.Errorf("decode model set: stream %d has %d weights for %d mixtures", i, len(st.Weights), len(st.PDFs))
		}
		str := &Stream{Name: st.Name}
		for k, gi := range st.PDFs {
			g, err := ref(pdfs, gi, "gaussian")
			if err != nil {
				return nil, err
			}
			str.Mixtures = append(str.Mixtures, Mixture{Weight: st.Weights[k], PDF: g})
		}
		if st.DProbs != nil {
			str.DProbs = make([]float64, len(st.DProbs))
			for k, q := range st.DProbs {
				str.DProbs[k] = DequantizeDProb(q)
			}
		}
		streams[i] = str
	}
	durs := make([]*Duration, len(ss.Durations))
	for i := range ss.Durations {
		d := ss.Durations[i]
		durs[i] = &d
	}
	states := make([]*State, len(ss.States))
	for i, st := range ss.States {
		state := &State{Name: st.Name}
		for _, ri := range st.Streams {
			str, err := ref(streams, ri, "stream")
			if err != nil {
				return nil, err
			}
			state.Streams = append(state.Streams, str)
		}
		if st.Dur >= 0 {
			d, err := ref(durs, st.Dur, "duration")
			if err != nil {
				return nil, err
			}
			state.Dur = d
		}
		states[i] = state
	}
	trans := make([]*Trans, len(ss.Trans))
	for i, tr := range ss.Trans {
		trans[i] = &Trans{Name: tr.Name, LogP: tr.LogP}
	}
	for _, sh := range ss.HMMs {
		tr, err := ref(trans, sh.Trans, "transition matrix")
		if err != nil {
			return nil, err
		}
		h := &HMM{Name: sh.Name, Trans: tr, States: make([]*State, len(sh.States)+2)}
		for k, si := range sh.States {
			st, err := ref(states, si, "state")
			if err != nil {
				return nil, err
			}
			h.States[k+1] = st
		}
		if err := set.Add(h); err != nil {
			return nil, fmt.Errorf("decode model set: %w", err)
		}
	}
	if err := set.Precompute(); err != nil {
		return nil, fmt.Errorf("decode model set: %w", err)
	}
	return set, nil
}
