package train

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ieee0824/hsmmtrain/acoustic"
)

const (
	splitPerturb  = 0.2 // centroid offset for a split, in standard deviations
	maxSplitIters = 10
	maxRefine     = 10
)

// cluster is a group of vectors with its centroid and statistics.
type cluster struct {
	items []int
	mean  []float64
	vars  []float64     // diagonal covariance
	cov   *mat.SymDense // full covariance, nil for diagonal
	score float64       // sum of squared distances to the centroid
}

// flatCluster partitions data into k clusters. The cluster with the largest
// spread is split repeatedly until there are k clusters; the result is then
// refined with k-means. Covariances are maximum-likelihood estimates.
func flatCluster(data [][]float64, k int, kind acoustic.CovKind) ([]*cluster, error) {
	if len(data) < k {
		return nil, fmt.Errorf("%d vectors cannot form %d clusters", len(data), k)
	}
	all := make([]int, len(data))
	for i := range all {
		all[i] = i
	}
	cls := []*cluster{newCluster(data, all)}
	for len(cls) < k {
		worst := 0
		for i, c := range cls {
			if len(c.items) > 1 && (len(cls[worst].items) < 2 || c.score > cls[worst].score) {
				worst = i
			}
		}
		a, b := splitCluster(data, cls[worst])
		cls[worst] = a
		cls = append(cls, b)
	}
	refine(data, cls)
	for _, c := range cls {
		c.estimate(data, kind)
	}
	return cls, nil
}

func newCluster(data [][]float64, items []int) *cluster {
	c := &cluster{items: items}
	c.centre(data)
	return c
}

func (c *cluster) centre(data [][]float64) {
	dim := len(data[c.items[0]])
	c.mean = make([]float64, dim)
	for _, i := range c.items {
		floats.Add(c.mean, data[i])
	}
	floats.Scale(1/float64(len(c.items)), c.mean)
	c.score = 0
	for _, i := range c.items {
		d := floats.Distance(data[i], c.mean, 2)
		c.score += d * d
	}
}

// splitCluster divides c in two with 2-means seeded either side of the
// centroid. If that leaves one side empty the items are halved along the
// dimension of largest variance.
func splitCluster(data [][]float64, c *cluster) (*cluster, *cluster) {
	dim := len(c.mean)
	sd := make([]float64, dim)
	col := make([]float64, len(c.items))
	for j := 0; j < dim; j++ {
		for n, i := range c.items {
			col[n] = data[i][j]
		}
		sd[j] = stat.PopStdDev(col, nil)
	}
	lo := make([]float64, dim)
	hi := make([]float64, dim)
	floats.AddScaledTo(lo, c.mean, -splitPerturb, sd)
	floats.AddScaledTo(hi, c.mean, splitPerturb, sd)

	var left, right []int
	for iter := 0; iter < maxSplitIters; iter++ {
		left, right = left[:0], right[:0]
		for _, i := range c.items {
			if floats.Distance(data[i], hi, 2) < floats.Distance(data[i], lo, 2) {
				right = append(right, i)
			} else {
				left = append(left, i)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			break
		}
		nlo, nhi := newCluster(data, left).mean, newCluster(data, right).mean
		if floats.Equal(nlo, lo) && floats.Equal(nhi, hi) {
			break
		}
		lo, hi = nlo, nhi
	}
	if len(left) == 0 || len(right) == 0 {
		return halve(data, c, sd)
	}
	return newCluster(data, append([]int(nil), left...)), newCluster(data, append([]int(nil), right...))
}

func halve(data [][]float64, c *cluster, sd []float64) (*cluster, *cluster) {
	items := append([]int(nil), c.items...)
	if len(sd) > 0 {
		j := floats.MaxIdx(sd)
		sort.SliceStable(items, func(a, b int) bool { return data[items[a]][j] < data[items[b]][j] })
	}
	mid := len(items) / 2
	return newCluster(data, items[:mid:mid]), newCluster(data, items[mid:])
}

// refine runs k-means over all vectors. An iteration that would empty a
// cluster is discarded and ends the refinement.
func refine(data [][]float64, cls []*cluster) {
	assign := make([]int, len(data))
	for ci, c := range cls {
		for _, i := range c.items {
			assign[i] = ci
		}
	}
	next := make([]int, len(data))
	for iter := 0; iter < maxRefine; iter++ {
		counts := make([]int, len(cls))
		changed := false
		for i, x := range data {
			best, bestD := 0, floats.Distance(x, cls[0].mean, 2)
			for ci := 1; ci < len(cls); ci++ {
				if d := floats.Distance(x, cls[ci].mean, 2); d < bestD {
					best, bestD = ci, d
				}
			}
			next[i] = best
			counts[best]++
			changed = changed || best != assign[i]
		}
		if !changed {
			return
		}
		for _, n := range counts {
			if n == 0 {
				return
			}
		}
		copy(assign, next)
		for _, c := range cls {
			c.items = c.items[:0:0]
		}
		for i, ci := range assign {
			cls[ci].items = append(cls[ci].items, i)
		}
		for _, c := range cls {
			c.centre(data)
		}
	}
}

func (c *cluster) estimate(data [][]float64, kind acoustic.CovKind) {
	dim := len(c.mean)
	n := float64(len(c.items))
	if kind == acoustic.FullC {
		if dim == 0 {
			return
		}
		c.cov = mat.NewSymDense(dim, nil)
		diff := mat.NewVecDense(dim, nil)
		for _, i := range c.items {
			for j := 0; j < dim; j++ {
				diff.SetVec(j, data[i][j]-c.mean[j])
			}
			c.cov.SymRankOne(c.cov, 1/n, diff)
		}
		return
	}
	c.vars = make([]float64, dim)
	col := make([]float64, len(c.items))
	for j := 0; j < dim; j++ {
		for m, i := range c.items {
			col[m] = data[i][j]
		}
		_, c.vars[j] = stat.PopMeanVariance(col, nil)
	}
}
