// Package train initialises and re-estimates a single HMM from segmented
// training data by uniform segmentation and iterative Viterbi training.
package train

import (
	"fmt"
	"strings"
)

// UpdateFlags selects the parameter kinds that are re-estimated.
type UpdateFlags uint8

const (
	UpdateMeans     UpdateFlags = 1 << iota // m
	UpdateVars                              // v
	UpdateWeights                           // w, mixture weights and discrete probabilities
	UpdateTrans                             // t
	UpdateDurations                         // d, HSMM state durations
)

// UpdateAll is the default set of flags for initial training.
const UpdateAll = UpdateMeans | UpdateVars | UpdateWeights | UpdateTrans

var flagLetters = []struct {
	flag   UpdateFlags
	letter byte
}{
	{UpdateMeans, 'm'},
	{UpdateVars, 'v'},
	{UpdateWeights, 'w'},
	{UpdateTrans, 't'},
	{UpdateDurations, 'd'},
}

// ParseUpdateFlags parses a string of flag letters such as "mvwt".
func ParseUpdateFlags(s string) (UpdateFlags, error) {
	var f UpdateFlags
outer:
	for i := 0; i < len(s); i++ {
		for _, fl := range flagLetters {
			if s[i] == fl.letter {
				f |= fl.flag
				continue outer
			}
		}
		return 0, fmt.Errorf("unknown update flag %q in %q", s[i], s)
	}
	return f, nil
}

func (f UpdateFlags) String() string {
	var b strings.Builder
	for _, fl := range flagLetters {
		if f&fl.flag != 0 {
			b.WriteByte(fl.letter)
		}
	}
	return b.String()
}

// Has reports whether every flag in g is set.
func (f UpdateFlags) Has(g UpdateFlags) bool { return f&g == g }

// Config holds training parameters.
type Config struct {
	MaxIterations  int
	Epsilon        float64 // convergence threshold on the change of average log probability
	MinVariance    float64 // variance floor
	MinDurVariance float64 // floor for re-estimated duration variances, in frames²
	MixWeightFloor float64 // floor for discrete probabilities
	MinSegments    int     // fewest training segments accepted
	Update         UpdateFlags
	IgnoreOutliers bool // drop vectors whose space order matches no mixture during initialisation
	KeepInitial    bool // start from the current parameters instead of uniform segmentation
}

// DefaultConfig returns the default training settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  20,
		Epsilon:        1e-4,
		MinVariance:    1e-2,
		MinDurVariance: 1.0,
		MixWeightFloor: 0,
		MinSegments:    3,
		Update:         UpdateAll,
		IgnoreOutliers: true,
	}
}
