// Package corpus reads training data: msgpack feature files, HTK-style
// label files and the segments cut from them.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ieee0824/hsmmtrain/acoustic"
)

const featureVersion = 1

// Utterance is the content of one feature file.
type Utterance struct {
	Name         string
	Period       int64 // frame period in 100ns ticks
	StreamWidths []int
	Discrete     bool
	Frames       []acoustic.Observation
}

// NumFrames returns the number of frames.
func (u *Utterance) NumFrames() int { return len(u.Frames) }

type streamValue struct {
	Vec   []float64 `msgpack:"v,omitempty"`
	Index int       `msgpack:"i,omitempty"`
}

type featureFile struct {
	Version      int             `msgpack:"version"`
	Period       int64           `msgpack:"period"`
	StreamWidths []int           `msgpack:"stream_widths"`
	Discrete     bool            `msgpack:"discrete"`
	Frames       [][]streamValue `msgpack:"frames"`
}

// ReadFeatures decodes a feature file from r.
func ReadFeatures(r io.Reader, name string) (*Utterance, error) {
	var ff featureFile
	if err := msgpack.NewDecoder(r).Decode(&ff); err != nil {
		return nil, fmt.Errorf("read features %s: %w", name, err)
	}
	if ff.Version != featureVersion {
		return nil, fmt.Errorf("read features %s: unsupported version %d", name, ff.Version)
	}
	if ff.Period <= 0 {
		return nil, fmt.Errorf("read features %s: bad frame period %d", name, ff.Period)
	}
	u := &Utterance{
		Name:         name,
		Period:       ff.Period,
		StreamWidths: ff.StreamWidths,
		Discrete:     ff.Discrete,
		Frames:       make([]acoustic.Observation, len(ff.Frames)),
	}
	for t, fr := range ff.Frames {
		if len(fr) != len(ff.StreamWidths) {
			return nil, &acoustic.DataError{Op: "ReadFeatures", Source: name, Frame: t, Index: -1,
				Msg: fmt.Sprintf("%d streams, header declares %d", len(fr), len(ff.StreamWidths))}
		}
		o := make(acoustic.Observation, len(fr))
		for s, v := range fr {
			o[s] = acoustic.StreamObs{Vec: v.Vec, Index: v.Index}
		}
		u.Frames[t] = o
	}
	return u, nil
}

// WriteFeatures encodes u to w.
func WriteFeatures(w io.Writer, u *Utterance) error {
	ff := featureFile{
		Version:      featureVersion,
		Period:       u.Period,
		StreamWidths: u.StreamWidths,
		Discrete:     u.Discrete,
		Frames:       make([][]streamValue, len(u.Frames)),
	}
	for t, o := range u.Frames {
		fr := make([]streamValue, len(o))
		for s, so := range o {
			fr[s] = streamValue{Vec: so.Vec, Index: so.Index}
		}
		ff.Frames[t] = fr
	}
	return msgpack.NewEncoder(w).Encode(&ff)
}

// LoadFeatures reads a feature file from disk. The utterance is named
// after the file's base name without extension.
func LoadFeatures(path string) (*Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFeatures(bufio.NewReader(f), BaseName(path))
}

// SaveFeatures writes u to path.
func SaveFeatures(path string, u *Utterance) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteFeatures(bw, u); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// BaseName returns the file name of path without directory and extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Check verifies every frame of u against the model set. Errors are
// *acoustic.DataError values naming the utterance and frame.
func (u *Utterance) Check(set *acoustic.Set) error {
	if u.Discrete != (set.Kind == acoustic.Discrete) {
		return &acoustic.DataError{Op: "CheckData", Source: u.Name, Frame: -1, Index: -1,
			Msg: fmt.Sprintf("%s data for a %s model", kindName(u.Discrete), set.Kind)}
	}
	for t, o := range u.Frames {
		if err := set.CheckObservation(o); err != nil {
			var de *acoustic.DataError
			if errors.As(err, &de) {
				de.Source, de.Frame = u.Name, t
				return de
			}
			return err
		}
	}
	return nil
}

func kindName(discrete bool) string {
	if discrete {
		return "discrete"
	}
	return "continuous"
}
