package train

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/internal/mathutil"
)

// sumTolerance is the relative tolerance of the weight and transition sum
// checks.
const sumTolerance = 1e-3

// Reestimator turns accumulated statistics into new parameters. Each shared
// record is updated once per call, however many states refer to it.
type Reestimator struct {
	cfg Config
}

// NewReestimator creates a Reestimator.
func NewReestimator(cfg Config) *Reestimator {
	return &Reestimator{cfg: cfg}
}

func zeroOcc(op, param, what string) error {
	return &acoustic.NumericError{Op: op, Param: param, Msg: "zero occupancy for " + what}
}

// Apply updates the parameters of h selected by the configured flags and
// refreshes the set's cached Gaussian constants. Mixtures with zero weight
// are dead components and keep their parameters.
func (r *Reestimator) Apply(set *acoustic.Set, h *acoustic.HMM, acc *Accumulator) error {
	flags := r.cfg.Update
	covUse := covarianceUse(set)
	seenStream := make(map[*acoustic.Stream]bool)
	seenMean := make(map[*acoustic.Mean]bool)
	seenCov := make(map[*acoustic.Covariance]bool)

	for i := 1; i <= h.N()-2; i++ {
		for s, str := range h.States[i].Streams {
			where := fmt.Sprintf("%s state %d stream %d", h.Name, i+1, s+1)
			if !seenStream[str] {
				seenStream[str] = true
				if str.NumMix() > 1 && flags.Has(UpdateWeights) {
					var err error
					if str.IsDiscrete() {
						err = r.upDProbs(str, acc.weights[str], where)
					} else {
						err = r.upWeights(str, acc.weights[str], where)
					}
					if err != nil {
						return err
					}
				}
			}
			if str.IsDiscrete() || flags&(UpdateMeans|UpdateVars) == 0 {
				continue
			}
			for m := range str.Mixtures {
				mx := &str.Mixtures[m]
				if mx.Weight <= 0 {
					continue
				}
				g := mx.PDF
				mwhere := fmt.Sprintf("%s mixture %d", where, m+1)
				ma := acc.means[g.Mean]
				if !seenMean[g.Mean] {
					seenMean[g.Mean] = true
					if err := r.upMean(g.Mean, ma, mwhere); err != nil {
						return err
					}
				}
				if !seenCov[g.Cov] {
					seenCov[g.Cov] = true
					if flags.Has(UpdateVars) {
						if err := r.upVars(g, ma, acc.vars[g.Cov], covUse[g.Cov] > 1, mwhere); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	if flags.Has(UpdateTrans) {
		if err := upTrans(h.Trans, acc.trans[h.Trans], h.Name); err != nil {
			return err
		}
	}
	return set.Precompute()
}

func covarianceUse(set *acoustic.Set) map[*acoustic.Covariance]int {
	use := make(map[*acoustic.Covariance]int)
	set.EachGaussian(func(g *acoustic.Gaussian) { use[g.Cov]++ })
	return use
}

func (r *Reestimator) upWeights(str *acoustic.Stream, wa *weightAcc, where string) error {
	const op = "UpWeights"
	if wa == nil || wa.occ == 0 {
		return zeroOcc(op, str.Name, where)
	}
	sum := floats.Sum(wa.c)
	for m := range str.Mixtures {
		str.Mixtures[m].Weight = wa.c[m] / wa.occ
	}
	if math.Abs(sum-wa.occ)/sum > sumTolerance {
		return &acoustic.NumericError{Op: op, Param: str.Name, Msg: "mixture weight sum error for " + where}
	}
	return nil
}

func (r *Reestimator) upDProbs(str *acoustic.Stream, wa *weightAcc, where string) error {
	const op = "UpDProbs"
	if wa == nil || wa.occ == 0 {
		return zeroOcc(op, str.Name, where)
	}
	sum := floats.Sum(wa.c)
	for m := range str.DProbs {
		x := wa.c[m] / wa.occ
		if x < r.cfg.MixWeightFloor {
			x = r.cfg.MixWeightFloor
		}
		str.DProbs[m] = mathutil.SafeLog(x)
	}
	if math.Abs(sum-wa.occ)/sum > sumTolerance {
		return &acoustic.NumericError{Op: op, Param: str.Name, Msg: "discrete probability sum error for " + where}
	}
	return nil
}

// upMean moves the mean by the average deviation and leaves the old mean
// in the accumulator for the variance correction. The mean itself only
// changes when means are being updated.
func (r *Reestimator) upMean(mean *acoustic.Mean, ma *meanAcc, where string) error {
	if ma == nil || ma.occ == 0 {
		return zeroOcc("UpMeans", mean.Name, where)
	}
	ma.oldMean = mathutil.CloneVec(mean.Vector)
	if !r.cfg.Update.Has(UpdateMeans) {
		return nil
	}
	floats.AddScaled(mean.Vector, 1/ma.occ, ma.sum)
	return nil
}

// upVars re-estimates a covariance from deviations about the old mean. The
// mean shift correction is skipped for covariances shared by several
// Gaussians, whose deviations were taken about different means.
func (r *Reestimator) upVars(g *acoustic.Gaussian, ma *meanAcc, va *varAcc, shared bool, where string) error {
	const op = "UpVars"
	if va == nil || va.occ == 0 {
		return zeroOcc(op, g.Cov.Name, where)
	}
	n := g.Cov.Dim()
	shift := make([]float64, n)
	if !shared && ma != nil && ma.oldMean != nil {
		floats.SubTo(shift, g.Mean.Vector, ma.oldMean)
	}
	floor := r.cfg.MinVariance
	switch g.Cov.Kind {
	case acoustic.DiagC:
		for j := 0; j < n; j++ {
			z := va.diag[j]/va.occ - shift[j]*shift[j]
			if z < floor {
				z = floor
			}
			g.Cov.Var[j] = z
		}
	case acoustic.FullC:
		cov := mat.NewSymDense(n, nil)
		for j := 0; j < n; j++ {
			for k := 0; k < j; k++ {
				cov.SetSym(j, k, va.full[j][k]/va.occ-shift[j]*shift[k])
			}
			z := va.full[j][j]/va.occ - shift[j]*shift[j]
			if z < floor {
				z = floor
			}
			cov.SetSym(j, j, z)
		}
		g.Cov.Full = cov
	default:
		return &acoustic.NumericError{Op: op, Param: g.Cov.Name, Msg: fmt.Sprintf("bad covariance kind %d", g.Cov.Kind)}
	}
	return nil
}

// upTrans re-estimates every row but the exit's. Entry into the entry
// state is impossible, so column 0 is always LogZero.
func upTrans(tr *acoustic.Trans, ta *transAcc, model string) error {
	const op = "UpTrans"
	N := tr.N()
	if ta == nil {
		return zeroOcc(op, tr.Name, model+" state 1")
	}
	row := make([]float64, N)
	for i := 0; i < N-1; i++ {
		occ := ta.occ[i]
		if occ == 0 {
			return zeroOcc(op, tr.Name, fmt.Sprintf("%s state %d", model, i+1))
		}
		row[0] = 0
		for j := 1; j < N; j++ {
			row[j] = ta.tran[i][j] / occ
		}
		sum := floats.Sum(row[1:])
		if math.Abs(sum-1) > sumTolerance {
			return &acoustic.NumericError{Op: op, Param: tr.Name,
				Msg: fmt.Sprintf("%s row %d sums to %g", model, i+1, sum)}
		}
		tr.LogP[i][0] = mathutil.LogZero
		for j := 1; j < N; j++ {
			tr.LogP[i][j] = mathutil.SafeLog(row[j] / sum)
		}
	}
	return nil
}

// UpdateDurations re-estimates every duration model seen by the
// accumulator from its HSMM alignment counts.
func (r *Reestimator) UpdateDurations(acc *Accumulator) error {
	for d, da := range acc.durs {
		if da.occ == 0 {
			return zeroOcc("UpDurations", d.Name, "duration")
		}
		mean := da.sum / da.occ
		v := da.sqr/da.occ - mean*mean
		if v < r.cfg.MinDurVariance {
			v = r.cfg.MinDurVariance
		}
		d.Mean = mean
		d.Var = v
	}
	return nil
}
