package feature

import "math"

// energyFloor keeps the log of silent bands finite.
const energyFloor = 1e-10

// melBank is a set of triangular filters equally spaced on the mel scale.
// Only the non-zero span of each filter is stored.
type melBank struct {
	start   []int
	weights [][]float64
}

func newMelBank(numFilters, fftSize, sampleRate int, low, high float64) *melBank {
	nBins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)
	lowMel, highMel := hzToMel(low), hzToMel(high)
	step := (highMel - lowMel) / float64(numFilters+1)

	b := &melBank{start: make([]int, numFilters), weights: make([][]float64, numFilters)}
	for i := 0; i < numFilters; i++ {
		left := lowMel + float64(i)*step
		centre := left + step
		right := centre + step
		first := -1
		var w []float64
		for k := 0; k < nBins; k++ {
			m := hzToMel(float64(k) * binHz)
			var v float64
			switch {
			case m > left && m <= centre:
				v = (m - left) / step
			case m > centre && m < right:
				v = (right - m) / step
			}
			if v <= 0 {
				if first >= 0 {
					break
				}
				continue
			}
			if first < 0 {
				first = k
			}
			w = append(w, v)
		}
		if first < 0 {
			first = 0
		}
		b.start[i] = first
		b.weights[i] = w
	}
	return b
}

// logEnergies writes the log filter outputs for a power spectrum into dst.
func (b *melBank) logEnergies(power, dst []float64) {
	for i, w := range b.weights {
		var sum float64
		for j, v := range w {
			sum += v * power[b.start[i]+j]
		}
		dst[i] = math.Log(math.Max(sum, energyFloor))
	}
}

func hzToMel(hz float64) float64 {
	return 1127 * math.Log(1+hz/700)
}
