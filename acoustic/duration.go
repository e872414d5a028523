package acoustic

// DurationGenerator turns state-duration models into integer frame counts.
// The rounding remainder is carried from state to state and across
// successive calls, so the total stays close to the sum of the real-valued
// durations.
type DurationGenerator struct {
	Rho   float64 // speaking-rate factor applied to the variances
	carry float64
}

// Next returns the durations of one unit's states. If phoneFrames > 0 the
// rate factor is derived from it so the durations sum to about phoneFrames.
// Every duration is at least one frame.
func (g *DurationGenerator) Next(durs []*Duration, phoneFrames float64) []int {
	rho := g.Rho
	if phoneFrames > 0 {
		var sum, sumVar float64
		for _, d := range durs {
			sum += d.Mean
			sumVar += d.Var
		}
		if sumVar > 0 {
			rho = (phoneFrames - sum) / sumVar
		}
	}
	out := make([]int, len(durs))
	for i, d := range durs {
		target := d.Mean + rho*d.Var
		n := int(target + g.carry + 0.5)
		if n < 1 {
			n = 1
		}
		g.carry += target - float64(n)
		out[i] = n
	}
	return out
}

// StateDurations is a single-unit convenience for DurationGenerator.
func StateDurations(durs []*Duration, rho, phoneFrames float64) []int {
	g := DurationGenerator{Rho: rho}
	return g.Next(durs, phoneFrames)
}

// Durations returns the duration models of h's emitting states, or nil if
// any state lacks one.
func (h *HMM) Durations() []*Duration {
	out := make([]*Duration, 0, h.NumEmitting())
	for _, st := range h.States[1 : h.N()-1] {
		if st.Dur == nil {
			return nil
		}
		out = append(out, st.Dur)
	}
	return out
}
