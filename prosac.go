// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.27
//

package radiolat

import (
	"math"
	"math/rand"

	"golang.org/x/exp/slices"
)

//-------------------------------------------------------------------
// PROSAC sampler (PROSAC, PROMedS)
//-------------------------------------------------------------------

// prosacSampler draws subsets from a growing window of quality ranked
// readings. Early iterations concentrate on the top ranked readings; the
// window widens with the standard growth recurrence
//
//	T_{n+1} = T_n (n+1)/(n+1-m)
//
// and once it spans every reading the sampler degrades to uniform draws.
type prosacSampler struct {
	order []int // Reading indices, best quality first
	m     int   // Subset size
	drawn int   // Samples drawn so far
	win   int   // Current window size n
	tn    float64
	tnP   int
	perm  []int // Scratch permutation for window draws
}

func newProsacSampler(qualityScores []float64, subsetSize int) *prosacSampler {
	order := make([]int, len(qualityScores))
	for i := range order {
		order[i] = i
	}
	// Rank by quality descending; ties keep fingerprint order
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case qualityScores[a] > qualityScores[b]:
			return -1
		case qualityScores[a] < qualityScores[b]:
			return 1
		default:
			return 0
		}
	})
	return &prosacSampler{
		order: order,
		m:     subsetSize,
		win:   subsetSize,
		tn:    1,
		tnP:   1,
		perm:  make([]int, len(qualityScores)),
	}
}

func (s *prosacSampler) sample(rng *rand.Rand, iter int, subset []int) {
	N := len(s.order)
	s.drawn++

	// Grow the window
	if s.drawn > s.tnP && s.win < N {
		tn1 := s.tn * float64(s.win+1) / float64(s.win+1-s.m)
		s.tnP += int(math.Ceil(tn1 - s.tn))
		s.tn = tn1
		s.win++
	}

	if s.win >= N {
		// Degraded to plain uniform sampling over all readings
		s.drawWindow(rng, N, subset, len(subset))
		return
	}

	// The window's newest reading plus m-1 random draws from the rest of it
	subset[s.m-1] = s.order[s.win-1]
	s.drawWindow(rng, s.win-1, subset, s.m-1)
}

// Draw k distinct indices uniformly from the first n ranked readings
func (s *prosacSampler) drawWindow(rng *rand.Rand, n int, subset []int, k int) {
	copy(s.perm, s.order)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
		subset[i] = s.perm[i]
	}
}
