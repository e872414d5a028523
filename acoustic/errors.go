package acoustic

import (
	"fmt"
	"strings"
)

// DataError reports training or alignment data that cannot be used with a
// model: segments that are too short, codewords out of range, observations
// whose dimension or kind does not match the model. It is fatal for a run.
type DataError struct {
	Op     string // operation that detected the problem
	Source string // file or segment reference, may be empty
	Frame  int    // frame index within the source, -1 if not applicable
	Index  int    // stream, state or codeword index, -1 if not applicable
	Msg    string
}

func (e *DataError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Source != "" {
		fmt.Fprintf(&b, " [%s", e.Source)
		if e.Frame >= 0 {
			fmt.Fprintf(&b, " frame %d", e.Frame)
		}
		if e.Index >= 0 {
			fmt.Fprintf(&b, " index %d", e.Index)
		}
		b.WriteString("]")
	} else if e.Index >= 0 {
		fmt.Fprintf(&b, " [index %d]", e.Index)
	}
	return b.String()
}

func dataErr(op, msg string, index int) *DataError {
	return &DataError{Op: op, Frame: -1, Index: index, Msg: msg}
}

// NumericError reports a malformed model or insufficient data detected while
// evaluating or re-estimating parameters, e.g. zero occupancy or a covariance
// that is not positive definite.
type NumericError struct {
	Op    string
	Param string // name of the offending parameter record
	Msg   string
}

func (e *NumericError) Error() string {
	if e.Param == "" {
		return e.Op + ": " + e.Msg
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Param)
}
