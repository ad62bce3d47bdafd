// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.27
//

package radiolat

import "math/rand"

//-------------------------------------------------------------------
// Uniform sampler (RANSAC, LMedS, MSAC)
//-------------------------------------------------------------------

// uniformSampler draws subsets of distinct reading indices uniformly at
// random, by partial Fisher-Yates over a scratch permutation.
type uniformSampler struct {
	perm []int
}

func newUniformSampler(numReadings int) *uniformSampler {
	perm := make([]int, numReadings)
	for i := range perm {
		perm[i] = i
	}
	return &uniformSampler{perm: perm}
}

func (s *uniformSampler) sample(rng *rand.Rand, iter int, subset []int) {
	n := len(s.perm)
	for k := range subset {
		j := k + rng.Intn(n-k)
		s.perm[k], s.perm[j] = s.perm[j], s.perm[k]
		subset[k] = s.perm[k]
	}
}

//-------------------------------------------------------------------
// RANSAC scorer
//-------------------------------------------------------------------

// countScorer scores a candidate by its inlier count: a reading is an
// inlier when its residual is below the threshold.
type countScorer struct {
	threshold float64
}

func (s *countScorer) score(res2 []float64, inliers []bool) (float64, int) {
	t2 := SQ(s.threshold)
	n := 0
	for i, r2 := range res2 {
		in := r2 < t2
		inliers[i] = in
		if in {
			n++
		}
	}
	return float64(n), n
}

// All readings supporting the candidate cannot be improved upon
func (s *countScorer) shouldStop(best *bestCandidate, iter int) bool {
	return best.numInliers == len(best.inliers)
}

//-------------------------------------------------------------------
// MSAC scorer
//-------------------------------------------------------------------

// msacScorer scores a candidate by the negated capped squared residual
// cost, which compares candidates more smoothly than a raw inlier count.
type msacScorer struct {
	threshold float64
}

func (s *msacScorer) score(res2 []float64, inliers []bool) (float64, int) {
	t2 := SQ(s.threshold)
	cost := 0.0
	n := 0
	for i, r2 := range res2 {
		in := r2 < t2
		inliers[i] = in
		if in {
			cost += r2
			n++
		} else {
			cost += t2
		}
	}
	return -cost, n
}

// The capped cost can keep improving even with full support
func (s *msacScorer) shouldStop(best *bestCandidate, iter int) bool {
	return false
}
