package hsmm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ieee0824/hsmmtrain/corpus"
)

// Labels converts the alignment to label intervals in 100ns ticks. At state
// level every state gets a "unit[n]" label, n counting the entry state as 1,
// and the first state of each unit also carries the unit name. Otherwise
// consecutive states of one unit are merged into a single label.
func (al *Alignment) Labels(stateLevel bool) []corpus.Label {
	var labels []corpus.Label
	var pos int64
	if stateLevel {
		for _, sp := range al.Spans {
			end := pos + int64(sp.Frames)*al.Period
			name := fmt.Sprintf("%s[%d]", sp.Unit, sp.State+1)
			if sp.State == 1 {
				name += " " + sp.Unit
			}
			labels = append(labels, corpus.Label{Start: pos, End: end, Name: name})
			pos = end
		}
		return labels
	}
	frames := 0
	for i, sp := range al.Spans {
		frames += sp.Frames
		if i+1 == len(al.Spans) || al.Spans[i+1].State <= sp.State {
			end := pos + int64(frames)*al.Period
			labels = append(labels, corpus.Label{Start: pos, End: end, Name: sp.Unit})
			pos = end
			frames = 0
		}
	}
	return labels
}

// Sink receives alignment results.
type Sink interface {
	Write(al *Alignment) error
}

// LabelWriter writes one HTK label file per utterance into Dir.
type LabelWriter struct {
	Dir        string
	Ext        string // file extension without dot, "lab" if empty
	StateLevel bool
}

// Write implements Sink.
func (w *LabelWriter) Write(al *Alignment) error {
	ext := w.Ext
	if ext == "" {
		ext = "lab"
	}
	path := filepath.Join(w.Dir, al.Utterance+"."+ext)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create label file: %w", err)
	}
	if err := corpus.WriteLabels(f, al.Labels(w.StateLevel)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Collector keeps every alignment in memory.
type Collector struct {
	Alignments []*Alignment
}

// Write implements Sink.
func (c *Collector) Write(al *Alignment) error {
	c.Alignments = append(c.Alignments, al)
	return nil
}

// MultiSink forwards each alignment to every sink in turn.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(al *Alignment) error {
	for _, s := range m {
		if err := s.Write(al); err != nil {
			return err
		}
	}
	return nil
}
