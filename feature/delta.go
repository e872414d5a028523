package feature

import "gonum.org/v1/gonum/floats"

// subtractMean removes the utterance mean from every vector.
func subtractMean(vecs [][]float64) {
	mean := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		floats.Add(mean, v)
	}
	floats.Scale(1/float64(len(vecs)), mean)
	for _, v := range vecs {
		floats.Sub(v, mean)
	}
}

// regression returns the regression coefficients of vecs over a window of
// ±win frames, repeating the edge frames at the boundaries.
func regression(vecs [][]float64, win int) [][]float64 {
	T := len(vecs)
	var denom float64
	for n := 1; n <= win; n++ {
		denom += float64(n * n)
	}
	denom *= 2
	out := make([][]float64, T)
	for t := range out {
		d := make([]float64, len(vecs[t]))
		for n := 1; n <= win; n++ {
			next := min(t+n, T-1)
			prev := max(t-n, 0)
			floats.AddScaled(d, float64(n), vecs[next])
			floats.AddScaled(d, -float64(n), vecs[prev])
		}
		floats.Scale(1/denom, d)
		out[t] = d
	}
	return out
}

// appendDeltas concatenates the statics with up to two orders of
// regression coefficients.
func appendDeltas(statics [][]float64, order, win int) [][]float64 {
	if order == 0 {
		return statics
	}
	parts := [][][]float64{statics}
	d := statics
	for o := 0; o < order; o++ {
		d = regression(d, win)
		parts = append(parts, d)
	}
	dim := len(statics[0])
	out := make([][]float64, len(statics))
	for t := range out {
		row := make([]float64, 0, dim*len(parts))
		for _, p := range parts {
			row = append(row, p[t]...)
		}
		out[t] = row
	}
	return out
}
