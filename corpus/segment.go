package corpus

import (
	"fmt"

	"github.com/ieee0824/hsmmtrain/acoustic"
)

// Segment is a span of observations used for training.
type Segment struct {
	Source string // utterance name
	First  int    // index of the first frame within the utterance
	Obs    []acoustic.Observation
}

// Ref identifies the segment in logs and errors.
func (s Segment) Ref() string {
	return fmt.Sprintf("%s:%d+%d", s.Source, s.First, len(s.Obs))
}

// Whole returns the whole utterance as one segment.
func Whole(u *Utterance) Segment {
	return Segment{Source: u.Name, Obs: u.Frames}
}

// Extract returns the segments of u covered by labels named name. A label
// covers frames start/period through end/period inclusive, clipped to the
// utterance. Spans shorter than minLen frames are skipped and counted.
func Extract(u *Utterance, labels []Label, name string, minLen int) (segs []Segment, skipped int) {
	T := int64(len(u.Frames))
	for _, l := range labels {
		if l.Name != name || l.Start == NoTime {
			continue
		}
		st := l.Start / u.Period
		en := l.End / u.Period
		if en >= T {
			en = T - 1
		}
		if st > en || en-st+1 < int64(minLen) {
			skipped++
			continue
		}
		segs = append(segs, Segment{Source: u.Name, First: int(st), Obs: u.Frames[st : en+1]})
	}
	return segs, skipped
}
