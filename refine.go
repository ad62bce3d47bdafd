// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.28
//

// Implements the solution refiner: a weighted non-linear least squares
// polish of the best robust candidate over all of its inliers.

package radiolat

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// RefineOpt contains options for the refinement step
type RefineOpt struct {
	UseSourceCov   bool    // Fold source position covariance into the weights
	KeepCovariance bool    // Return the covariance of the refined position
	FallbackStd    float64 // Distance std for sources without covariance [m]
	MaxLoop        int     // Maximum Gauss-Newton loops
	Convergence    float64 // Update norm below which refinement has converged [m]
}

// NewRefineOpt creates a RefineOpt with default values
func NewRefineOpt() *RefineOpt {
	return &RefineOpt{
		UseSourceCov:   true,
		KeepCovariance: true,
		FallbackStd:    FALLBACK_DISTANCE_STD,
		MaxLoop:        MAX_SOLVER_LOOP_COUNT,
		Convergence:    SOLVER_CONVERGENCE,
	}
}

// RefineSolution re-solves the position over the inlier readings by
// weighted Gauss-Newton seeded from the candidate position. Weights are
// inverse residual variances: the squared reading standard deviation plus,
// when enabled, the source position covariance projected onto the line of
// sight (the fallback standard deviation substitutes for sources without
// covariance). Returns the refined position and, when KeepCovariance is
// set, the inverse of the weighted normal equations matrix at convergence.
//
// A singular system is reported as an error; callers keep the unrefined
// candidate in that case.
func RefineSolution(seed Point, positions []Point, distances, stds []float64, covs []*mat.SymDense, inliers []bool, opt *RefineOpt) (Point, *mat.SymDense, error) {
	if opt == nil {
		opt = NewRefineOpt()
	}

	// Collect the inlier subproblem
	var (
		pp []Point
		dd []float64
		ww []float64
	)
	for i := range positions {
		if inliers != nil && !inliers[i] {
			continue
		}
		pp = append(pp, positions[i])
		dd = append(dd, distances[i])
		ww = append(ww, residualWeight(seed, positions[i], stds[i], covAt(covs, i), opt))
	}
	d := len(seed)
	if len(pp) < d {
		return nil, nil, fmt.Errorf("%w: %d inliers cannot refine a %dD position", ErrEstimation, len(pp), d)
	}

	pos, cov, err := gaussNewton(seed, pp, dd, ww, opt.MaxLoop, opt.Convergence)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: refinement: %v", ErrEstimation, err)
	}
	if !opt.KeepCovariance {
		cov = nil
	}
	return pos, cov, nil
}

func covAt(covs []*mat.SymDense, i int) *mat.SymDense {
	if covs == nil || i >= len(covs) {
		return nil
	}
	return covs[i]
}

// residualWeight is the inverse variance of one distance residual
func residualWeight(pos Point, src Point, std float64, srcCov *mat.SymDense, opt *RefineOpt) float64 {
	if std <= 0 {
		std = opt.FallbackStd
	}
	variance := SQ(std)

	if opt.UseSourceCov {
		if srcCov != nil {
			// Project the source position covariance onto the line of sight:
			// var = u^t C u with u the unit vector from source to receiver
			d := len(pos)
			ri := pos.Dist(src)
			if ri < 1e-12 {
				ri = 1e-12
			}
			u := make([]float64, d)
			for j := 0; j < d; j++ {
				u[j] = (pos[j] - src[j]) / ri
			}
			uv := mat.NewVecDense(d, u)
			var cu mat.VecDense
			cu.MulVec(srcCov, uv)
			variance += mat.Dot(uv, &cu)
		} else {
			variance += SQ(opt.FallbackStd)
		}
	}

	if variance <= 0 {
		variance = SQ(opt.FallbackStd)
	}
	return 1.0 / variance
}
