// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.27
//

package radiolat

import "math"

//-------------------------------------------------------------------
// LMedS / PROMedS scorer
//-------------------------------------------------------------------

// medianScorer scores a candidate by its negated median squared residual.
// No threshold is needed; the inlier band is derived post hoc from the
// candidate's own median through the standard robust sigma estimate
//
//	sigma = 1.4826 (1 + 5/(n-m)) sqrt(median)
//
// and readings within 2.5 sigma are marked inliers.
type medianScorer struct {
	subsetSize int
}

func (s *medianScorer) score(res2 []float64, inliers []bool) (float64, int) {
	med := Median(res2)

	factor := 1.0
	if n, m := len(res2), s.subsetSize; n > m {
		factor = 1.0 + 5.0/float64(n-m)
	}
	sigma := LMEDS_SIGMA_SCALE * factor * math.Sqrt(med)
	band := SQ(LMEDS_INLIER_FACTOR * sigma)

	n := 0
	for i, r2 := range res2 {
		in := r2 <= band
		inliers[i] = in
		if in {
			n++
		}
	}
	return -med, n
}

// The median can keep shrinking, so only the adaptive bound stops the search
func (s *medianScorer) shouldStop(best *bestCandidate, iter int) bool {
	return false
}
