package acoustic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// CovKind is the covariance structure of a Gaussian.
type CovKind int

const (
	DiagC CovKind = iota // diagonal covariance
	FullC                // full covariance
)

func (k CovKind) String() string {
	switch k {
	case DiagC:
		return "diag"
	case FullC:
		return "full"
	}
	return fmt.Sprintf("CovKind(%d)", int(k))
}

var log2Pi = math.Log(2 * math.Pi)

// Mean is a shareable mean vector.
type Mean struct {
	Name   string
	Vector []float64
}

// Covariance is a shareable covariance. Diagonal covariances keep their
// variances in Var; full covariances keep the covariance matrix in Full and
// cache its inverse and log determinant after Precompute.
type Covariance struct {
	Name string
	Kind CovKind
	Var  []float64
	Full *mat.SymDense

	inv    *mat.SymDense
	invVar []float64
	logDet float64
}

// NewDiagCovariance returns a diagonal covariance with the given variances.
func NewDiagCovariance(name string, variances []float64) *Covariance {
	return &Covariance{Name: name, Kind: DiagC, Var: mathutil.CloneVec(variances)}
}

// NewFullCovariance returns a full covariance copied from sym.
func NewFullCovariance(name string, sym mat.Symmetric) *Covariance {
	n := sym.SymmetricDim()
	full := mat.NewSymDense(n, nil)
	full.CopySym(sym)
	return &Covariance{Name: name, Kind: FullC, Full: full}
}

// Dim returns the dimension of the covariance.
func (c *Covariance) Dim() int {
	if c.Kind == FullC {
		if c.Full == nil {
			return 0
		}
		return c.Full.SymmetricDim()
	}
	return len(c.Var)
}

// LogDet returns the cached log determinant.
func (c *Covariance) LogDet() float64 { return c.logDet }

// Inverse returns the cached inverse of a full covariance.
func (c *Covariance) Inverse() *mat.SymDense { return c.inv }

// Precompute refreshes the cached inverse and log determinant.
// Must be called after Var or Full change.
func (c *Covariance) Precompute() error {
	switch c.Kind {
	case DiagC:
		c.invVar = make([]float64, len(c.Var))
		c.logDet = 0
		for i, v := range c.Var {
			if !(v > 0) {
				return &NumericError{Op: "Precompute", Param: c.Name,
					Msg: fmt.Sprintf("non-positive variance %g in dimension %d", v, i)}
			}
			c.invVar[i] = 1 / v
			c.logDet += math.Log(v)
		}
	case FullC:
		n := c.Dim()
		if n == 0 {
			c.inv = nil
			c.logDet = 0
			return nil
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(c.Full); !ok {
			return &NumericError{Op: "Precompute", Param: c.Name, Msg: "covariance is not positive definite"}
		}
		c.logDet = chol.LogDet()
		c.inv = mat.NewSymDense(n, nil)
		if err := chol.InverseTo(c.inv); err != nil {
			return &NumericError{Op: "Precompute", Param: c.Name, Msg: err.Error()}
		}
	default:
		return &NumericError{Op: "Precompute", Param: c.Name, Msg: fmt.Sprintf("bad covariance kind %d", c.Kind)}
	}
	return nil
}

// Gaussian is a single mixture component density. Mean and covariance may be
// shared with other Gaussians.
type Gaussian struct {
	Name string
	Mean *Mean
	Cov  *Covariance

	gConst float64 // dim*log(2π) + log|Σ|
}

// Dim returns the dimension (space order) of the Gaussian.
func (g *Gaussian) Dim() int { return len(g.Mean.Vector) }

// GConst returns the cached normalisation term dim*log(2π) + log|Σ|.
func (g *Gaussian) GConst() float64 { return g.gConst }

// Precompute recalculates the cached normalisation constant from the
// covariance. The covariance itself must already be precomputed.
func (g *Gaussian) Precompute() {
	g.gConst = float64(g.Dim())*log2Pi + g.Cov.logDet
}

// LogProb computes log N(x; μ, Σ). A zero-dimensional Gaussian has
// probability one.
func (g *Gaussian) LogProb(x []float64) float64 {
	mean := g.Mean.Vector
	if len(mean) == 0 {
		return 0
	}
	var maha float64
	switch g.Cov.Kind {
	case DiagC:
		invVar := g.Cov.invVar
		for i, xi := range x {
			d := xi - mean[i]
			maha += d * d * invVar[i]
		}
	case FullC:
		diff := mat.NewVecDense(len(mean), nil)
		for i, xi := range x {
			diff.SetVec(i, xi-mean[i])
		}
		maha = mat.Inner(diff, g.Cov.inv, diff)
	}
	return -0.5 * (g.gConst + maha)
}

// Mixture is one weighted component of a stream's output distribution.
type Mixture struct {
	Weight float64
	PDF    *Gaussian
}

// Stream is the output distribution for one feature stream of a state:
// either a Gaussian mixture or a table of discrete log probabilities.
type Stream struct {
	Name     string
	Mixtures []Mixture
	DProbs   []float64 // log probabilities, discrete streams only
}

// IsDiscrete reports whether the stream holds a discrete distribution.
func (s *Stream) IsDiscrete() bool { return len(s.Mixtures) == 0 && s.DProbs != nil }

// NumMix returns the number of mixture components or codewords.
func (s *Stream) NumMix() int {
	if s.IsDiscrete() {
		return len(s.DProbs)
	}
	return len(s.Mixtures)
}

// LogProb computes the log output probability of one stream observation.
// For multi-space streams only the mixtures whose order equals the
// observation's vector length contribute.
func (s *Stream) LogProb(o StreamObs) float64 {
	if s.IsDiscrete() {
		if o.Index < 0 || o.Index >= len(s.DProbs) {
			return mathutil.LogZero
		}
		return s.DProbs[o.Index]
	}
	logSum := mathutil.LogZero
	order := len(o.Vec)
	for m := range s.Mixtures {
		mx := &s.Mixtures[m]
		if mx.Weight <= 0 || mx.PDF.Dim() != order {
			continue
		}
		logSum = mathutil.LogAdd(logSum, math.Log(mx.Weight)+mx.PDF.LogProb(o.Vec))
	}
	return logSum
}

// BestMixture returns the index of the mixture component with the highest
// component log-likelihood (weight excluded) for o, or -1 when no component
// matches the observation's space. Ties keep the first index.
func (s *Stream) BestMixture(o StreamObs) int {
	if len(s.Mixtures) == 1 {
		return 0
	}
	best := -1
	bestP := mathutil.LogZero
	order := len(o.Vec)
	for m := range s.Mixtures {
		pdf := s.Mixtures[m].PDF
		if pdf.Dim() != order {
			continue
		}
		if p := pdf.LogProb(o.Vec); p > bestP {
			bestP = p
			best = m
		}
	}
	return best
}

// Space groups the mixtures of a multi-space stream that share one order.
type Space struct {
	Order    int
	Mixtures []int
}

// Spaces returns the spaces of a continuous stream in order of first
// appearance. A plain stream has a single space.
func (s *Stream) Spaces() []Space {
	var spaces []Space
	for m := range s.Mixtures {
		order := s.Mixtures[m].PDF.Dim()
		found := false
		for i := range spaces {
			if spaces[i].Order == order {
				spaces[i].Mixtures = append(spaces[i].Mixtures, m)
				found = true
				break
			}
		}
		if !found {
			spaces = append(spaces, Space{Order: order, Mixtures: []int{m}})
		}
	}
	return spaces
}

func identity(n int) *mat.SymDense {
	id := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		id.SetSym(i, i, 1)
	}
	return id
}
