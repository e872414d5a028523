package train

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/align"
	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// Status is the state of a training run.
type Status int

const (
	Uninitialized Status = iota
	ClusterInitialized
	Aligning
	Converged
	Aborted // iteration limit reached before convergence
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ClusterInitialized:
		return "initialized"
	case Aligning:
		return "aligning"
	case Converged:
		return "converged"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Iteration records one pass of Viterbi training.
type Iteration struct {
	Iter    int
	AvgLogP float64 // average segment log probability before the update
	Delta   float64 // change from the previous iteration
}

// Result summarises a training run.
type Result struct {
	RunID      uuid.UUID
	Status     Status
	Iterations int
	AvgLogP    float64
	History    []Iteration
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger for progress messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Trainer) {
		t.log = l
	}
}

// WithRunID sets the identifier attached to log entries and the result.
// A random one is generated otherwise.
func WithRunID(id uuid.UUID) Option {
	return func(t *Trainer) {
		t.runID = id
	}
}

// Trainer estimates one HMM of a set from its training segments. The
// model's parameters are updated in place.
type Trainer struct {
	cfg    Config
	set    *acoustic.Set
	hmm    *acoustic.HMM
	segs   []corpus.Segment
	log    logrus.FieldLogger
	runID  uuid.UUID
	status Status

	aligner *align.Aligner
	acc     *Accumulator
	est     *Reestimator
}

// NewTrainer checks the segments against the model and returns a Trainer
// for the named HMM.
func NewTrainer(set *acoustic.Set, name string, segs []corpus.Segment, cfg Config, opts ...Option) (*Trainer, error) {
	h, ok := set.HMM(name)
	if !ok {
		return nil, fmt.Errorf("train: no model %q", name)
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("train: max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if len(segs) < cfg.MinSegments {
		return nil, &acoustic.DataError{Op: "NewTrainer", Source: name, Frame: -1, Index: -1,
			Msg: fmt.Sprintf("%d training segments, need at least %d", len(segs), cfg.MinSegments)}
	}
	if len(segs) == 0 {
		return nil, &acoustic.DataError{Op: "NewTrainer", Source: name, Frame: -1, Index: -1, Msg: "no training segments"}
	}
	for _, seg := range segs {
		if len(seg.Obs) < h.NumEmitting() {
			return nil, &acoustic.DataError{Op: "NewTrainer", Source: seg.Ref(), Frame: -1, Index: -1,
				Msg: fmt.Sprintf("segment has %d frames, model %s has %d emitting states", len(seg.Obs), name, h.NumEmitting())}
		}
		for t, o := range seg.Obs {
			if err := set.CheckObservation(o); err != nil {
				var de *acoustic.DataError
				if errors.As(err, &de) {
					de.Source = seg.Ref()
					de.Frame = t
				}
				return nil, err
			}
		}
	}

	t := &Trainer{
		cfg:     cfg,
		set:     set,
		hmm:     h,
		segs:    segs,
		log:     logrus.StandardLogger(),
		runID:   uuid.New(),
		aligner: align.New(),
		acc:     NewAccumulator(cfg.Update),
		est:     NewReestimator(cfg),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithFields(logrus.Fields{"hmm": name, "run": t.runID.String()})
	return t, nil
}

// Status returns the current state of the run.
func (t *Trainer) Status() Status { return t.status }

// RunID returns the run identifier.
func (t *Trainer) RunID() uuid.UUID { return t.runID }

// Initialize assigns frames to states by uniform segmentation and clusters
// each state's vectors into its mixture components.
func (t *Trainer) Initialize() error {
	if err := uniformSegment(t.set, t.hmm, t.segs, t.cfg); err != nil {
		return err
	}
	t.status = ClusterInitialized
	t.log.WithField("segments", len(t.segs)).Info("uniform segmentation done")
	return nil
}

// Run performs Viterbi training until the average log probability changes
// by less than Epsilon between iterations or MaxIterations is reached. The
// model is initialised first unless it already is or KeepInitial is set.
// Reaching the iteration limit is reported through Result.Status, not as
// an error.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if t.status == Uninitialized {
		if t.cfg.KeepInitial {
			t.status = ClusterInitialized
		} else if err := t.Initialize(); err != nil {
			return nil, err
		}
	}

	if err := t.set.Precompute(); err != nil {
		return nil, err
	}

	res := &Result{RunID: t.runID}
	totalP := mathutil.LogZero
	converged := false
	for iter := 1; !converged && iter <= t.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.status = Aligning
		newP, err := t.accumulate()
		if err != nil {
			return nil, err
		}
		delta := newP - totalP
		converged = iter > 1 && math.Abs(delta) < t.cfg.Epsilon
		if !converged {
			if err := t.est.Apply(t.set, t.hmm, t.acc); err != nil {
				return nil, fmt.Errorf("iteration %d: %w", iter, err)
			}
		}
		totalP = newP

		res.Iterations = iter
		res.History = append(res.History, Iteration{Iter: iter, AvgLogP: newP, Delta: delta})
		fields := logrus.Fields{"iter": iter, "avg_logp": newP}
		if iter > 1 {
			fields["delta"] = delta
		}
		t.log.WithFields(fields).Info("iteration done")
	}
	res.AvgLogP = totalP
	if converged {
		t.status = Converged
		t.log.WithField("iter", res.Iterations).Info("estimation converged")
	} else {
		t.status = Aborted
		t.log.WithField("iter", res.Iterations).Warn("estimation aborted at iteration limit")
	}
	res.Status = t.status
	return res, nil
}

// accumulate aligns every segment with the current model, collects the
// statistics and returns the average log probability.
func (t *Trainer) accumulate() (float64, error) {
	t.acc.Reset()
	var total float64
	for _, seg := range t.segs {
		al, err := t.aligner.Align(t.hmm, seg.Obs, seg.Ref())
		if err != nil {
			return 0, err
		}
		total += al.LogP
		if err := t.acc.Add(t.hmm, seg.Obs, al); err != nil {
			return 0, fmt.Errorf("%s: %w", seg.Ref(), err)
		}
	}
	return total / float64(len(t.segs)), nil
}
