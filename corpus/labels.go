package corpus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// NoTime marks a label without boundary times.
const NoTime int64 = -1

// Label is one line of an HTK label file. Times are in 100ns ticks.
type Label struct {
	Start int64
	End   int64
	Name  string
}

// ReadLabels parses "start end name" lines. A line holding only a name
// gives a label without times; extra fields such as scores are ignored.
func ReadLabels(r io.Reader) ([]Label, error) {
	var labels []Label
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		switch {
		case len(fields) == 0:
			continue
		case fields[0] == "." || fields[0] == "///":
			// multiple-level or multiple-alternative separators: keep the first
			return labels, nil
		case len(fields) == 1:
			labels = append(labels, Label{Start: NoTime, End: NoTime, Name: fields[0]})
		case len(fields) == 2:
			return nil, fmt.Errorf("label line %d: want \"start end name\", got %q", line, sc.Text())
		default:
			start, err := parseTime(fields[0])
			if err != nil {
				return nil, fmt.Errorf("label line %d: %w", line, err)
			}
			end, err := parseTime(fields[1])
			if err != nil {
				return nil, fmt.Errorf("label line %d: %w", line, err)
			}
			if end < start {
				return nil, fmt.Errorf("label line %d: end %d before start %d", line, end, start)
			}
			labels = append(labels, Label{Start: start, End: end, Name: fields[2]})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

func parseTime(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return int64(f), nil
}

// WriteLabels writes labels in HTK format.
func WriteLabels(w io.Writer, labels []Label) error {
	bw := bufio.NewWriter(w)
	for _, l := range labels {
		if l.Start == NoTime {
			fmt.Fprintln(bw, l.Name)
			continue
		}
		fmt.Fprintf(bw, "%d %d %s\n", l.Start, l.End, l.Name)
	}
	return bw.Flush()
}

// LoadLabels reads a label file from disk.
func LoadLabels(path string) ([]Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels, err := ReadLabels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}
