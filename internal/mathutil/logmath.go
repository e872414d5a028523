package mathutil

import "math"

// LogZero represents log(0). Scores at or below LogSmall are treated as zero
// probability and clamped to LogZero rather than computed via log(0).
const (
	LogZero   = -1.0e10
	LogSmall  = -0.5e10
	MinLogArg = 2.45e-308 // smallest argument for which Log returns a usable value
)

// SafeLog returns log(x), or LogZero when x is below MinLogArg.
func SafeLog(x float64) float64 {
	if x < MinLogArg {
		return LogZero
	}
	return math.Log(x)
}

// IsZero reports whether a log-domain value is below the LogSmall floor.
func IsZero(x float64) bool {
	return x < LogSmall
}

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// Uses threshold-based early exit to skip expensive exp/log1p when the
// smaller value contributes less than float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if b < LogSmall {
		return a
	}
	d := b - a
	if d < -36.0 {
		return a
	}
	return a + math.Log1p(math.Exp(d))
}
