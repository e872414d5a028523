// Package hsmmtrain trains and applies HMM/HSMM acoustic models: initial
// per-unit training by uniform segmentation and Viterbi re-estimation, HSMM
// forced alignment, duration re-estimation and state duration generation.
package hsmmtrain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/hsmm"
	"github.com/ieee0824/hsmmtrain/store"
	"github.com/ieee0824/hsmmtrain/train"
)

// Session holds a model set and the settings used to train and apply it.
type Session struct {
	Set      *acoustic.Set
	TrainCfg train.Config
	AlignCfg hsmm.Config
	Rho      float64 // speaking rate for generated durations

	store   store.Store
	log     logrus.FieldLogger
	lastRun uuid.UUID
}

// Option configures a Session.
type Option func(*Session)

// WithTrainConfig sets the training parameters.
func WithTrainConfig(cfg train.Config) Option {
	return func(s *Session) {
		s.TrainCfg = cfg
	}
}

// WithAlignConfig sets the HSMM search parameters.
func WithAlignConfig(cfg hsmm.Config) Option {
	return func(s *Session) {
		s.AlignCfg = cfg
	}
}

// WithRho sets the speaking rate used by Durations.
func WithRho(rho float64) Option {
	return func(s *Session) {
		s.Rho = rho
	}
}

// WithLogger sets the logger passed on to trainers and aligners.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithStore sets the store used by Save.
func WithStore(st store.Store) Option {
	return func(s *Session) {
		s.store = st
	}
}

// NewSession creates a Session around an existing model set.
func NewSession(set *acoustic.Set, opts ...Option) *Session {
	s := &Session{
		Set:      set,
		TrainCfg: train.DefaultConfig(),
		AlignCfg: hsmm.DefaultConfig(),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSession loads the named model set from st. The store is kept for
// Save.
func OpenSession(ctx context.Context, st store.Store, name string, opts ...Option) (*Session, error) {
	set, err := store.LoadSet(ctx, st, name)
	if err != nil {
		return nil, fmt.Errorf("load model set %q: %w", name, err)
	}
	return NewSession(set, append([]Option{WithStore(st)}, opts...)...), nil
}

// Init trains the model hmmName. With a label name the training segments
// are the spans of jobs labelled with it; spans shorter than the model's
// emitting state count are skipped. Without one every utterance is a
// segment.
func (s *Session) Init(ctx context.Context, hmmName, label string, jobs []hsmm.Job) (*train.Result, error) {
	h, ok := s.Set.HMM(hmmName)
	if !ok {
		return nil, fmt.Errorf("no model %q", hmmName)
	}
	var segs []corpus.Segment
	skipped := 0
	for _, job := range jobs {
		if err := job.Utterance.Check(s.Set); err != nil {
			return nil, err
		}
		if label == "" {
			segs = append(segs, corpus.Whole(job.Utterance))
			continue
		}
		got, n := corpus.Extract(job.Utterance, job.Labels, label, h.NumEmitting())
		segs = append(segs, got...)
		skipped += n
	}
	log := s.log.WithField("hmm", hmmName)
	if skipped > 0 {
		log.WithField("skipped", skipped).Warn("label spans too short for the model")
	}
	log.WithField("segments", len(segs)).Info("training segments loaded")

	tr, err := train.NewTrainer(s.Set, hmmName, segs, s.TrainCfg, train.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	res, err := tr.Run(ctx)
	if err != nil {
		return nil, err
	}
	s.lastRun = res.RunID
	return res, nil
}

// Align runs HSMM forced alignment over jobs, handing each result to sink.
func (s *Session) Align(ctx context.Context, jobs []hsmm.Job, sink hsmm.Sink) (hsmm.BatchStats, error) {
	a := hsmm.New(s.AlignCfg, hsmm.WithLogger(s.log))
	return a.AlignBatch(ctx, s.Set, jobs, sink)
}

// ReestimateDurations aligns jobs and re-estimates the state duration
// models from the aligned state lengths. Models that appear in no
// alignment keep their durations.
func (s *Session) ReestimateDurations(ctx context.Context, jobs []hsmm.Job) (hsmm.BatchStats, error) {
	var col hsmm.Collector
	stats, err := s.Align(ctx, jobs, &col)
	if err != nil {
		return stats, err
	}
	if len(col.Alignments) == 0 {
		return stats, errors.New("no utterance could be aligned")
	}
	acc := train.NewAccumulator(train.UpdateDurations)
	for _, al := range col.Alignments {
		acc.AddDurations(al)
	}
	if err := train.NewReestimator(s.TrainCfg).UpdateDurations(acc); err != nil {
		return stats, err
	}
	return stats, nil
}

// Durations generates state durations for a label sequence from the
// models' duration distributions. Labels with times fix the length of
// their unit; the others follow Rho. The rounding remainder is carried
// across the whole sequence.
func (s *Session) Durations(labels []corpus.Label, period int64) (*hsmm.Alignment, error) {
	if period <= 0 {
		return nil, fmt.Errorf("bad frame period %d", period)
	}
	gen := acoustic.DurationGenerator{Rho: s.Rho}
	al := &hsmm.Alignment{Period: period}
	first := 0
	for _, l := range labels {
		h, ok := s.Set.HMM(l.Name)
		if !ok {
			return nil, fmt.Errorf("no model %q", l.Name)
		}
		durs := h.Durations()
		if durs == nil {
			return nil, fmt.Errorf("model %q has no duration models", l.Name)
		}
		var phoneFrames float64
		if l.Start != corpus.NoTime {
			phoneFrames = float64(l.End-l.Start) / float64(period)
		}
		for i, n := range gen.Next(durs, phoneFrames) {
			al.Spans = append(al.Spans, hsmm.Span{Unit: l.Name, HMM: h, State: i + 1, First: first, Frames: n})
			first += n
		}
	}
	return al, nil
}

// Save writes the model set to the session's store under name.
func (s *Session) Save(ctx context.Context, name string) error {
	if s.store == nil {
		return errors.New("session has no store")
	}
	if err := store.SaveSet(ctx, s.store, name, s.Set, s.lastRun); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"name": name, "hmms": len(s.Set.HMMs())}).Info("model set saved")
	return nil
}

// Close closes the session's store, if any.
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
