package hsmm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/corpus"
)

// Job is one utterance to align.
type Job struct {
	Utterance *corpus.Utterance
	Labels    []corpus.Label
}

// BatchStats summarises an AlignBatch run.
type BatchStats struct {
	Aligned int
	Skipped int
}

// AlignBatch aligns every job and hands each result to sink. Utterances for
// which the search fails are logged and skipped; any other error stops the
// batch.
func (a *Aligner) AlignBatch(ctx context.Context, set *acoustic.Set, jobs []Job, sink Sink) (BatchStats, error) {
	var stats BatchStats
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		u := job.Utterance
		al, err := a.Align(set, u.Name, u.Frames, u.Period, job.Labels)
		if errors.Is(err, ErrSearchFailed) {
			a.log.WithFields(logrus.Fields{
				"utterance": u.Name,
				"beam":      a.cfg.Beam,
			}).Warn(err)
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, err
		}
		if err := sink.Write(al); err != nil {
			return stats, fmt.Errorf("%s: %w", u.Name, err)
		}
		a.log.WithFields(logrus.Fields{
			"utterance": u.Name,
			"frames":    len(u.Frames),
			"logp":      al.LogP,
		}).Debug("aligned")
		stats.Aligned++
	}
	return stats, nil
}
