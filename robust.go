// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.27
//

// Implements the robust sampling engine shared by all estimation methods.
// Each method is a sampler/scorer pair behind one interface; the engine owns
// the iteration loop, the adaptive stopping bound and the best candidate
// bookkeeping.

package radiolat

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"golang.org/x/exp/slices"
)

//-------------------------------------------------------------------
// Method
//-------------------------------------------------------------------

// Robust estimation method (0: RANSAC, 1: LMedS, 2: MSAC, 3: PROSAC, 4: PROMedS)
type Method int

const (
	RANSAC Method = iota
	LMedS
	MSAC
	PROSAC
	PROMedS
)

func (m Method) String() string {
	switch m {
	case RANSAC:
		return "RANSAC"
	case LMedS:
		return "LMedS"
	case MSAC:
		return "MSAC"
	case PROSAC:
		return "PROSAC"
	case PROMedS:
		return "PROMedS"
	default:
		return "UNKNOWN!"
	}
}

// Parse a method name, case insensitively ("ransac" and "RANSAC" both work)
func (m *Method) Parse(s string) error {
	for _, v := range []Method{RANSAC, LMedS, MSAC, PROSAC, PROMedS} {
		if strings.EqualFold(v.String(), s) {
			*m = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown method %q", ErrBadArgument, s)
}

// Guided methods rank readings by caller supplied quality scores
func (m Method) Guided() bool {
	return m == PROSAC || m == PROMedS
}

// Threshold methods need a residual threshold to classify inliers
func (m Method) ThresholdBased() bool {
	return m == RANSAC || m == MSAC || m == PROSAC
}

//-------------------------------------------------------------------
// Engine
//-------------------------------------------------------------------

// robustMethod is one variant of the sampling family
type robustMethod interface {
	// Fill subset with the reading indices of the next preliminary subset
	sample(rng *rand.Rand, iter int, subset []int)
	// Evaluate squared residuals of a candidate. Fills the inlier mask and
	// returns the comparable score (larger is better) and the inlier count.
	score(res2 []float64, inliers []bool) (score float64, numInliers int)
	// Whether the search can end before the adaptive bound
	shouldStop(best *bestCandidate, iter int) bool
}

// robustConfig parameterises one engine run. All fields are mandatory
// except qualityScores (guided methods) and onIteration.
type robustConfig struct {
	method        Method
	confidence    float64
	maxIterations int
	threshold     float64
	subsetSize    int
	numReadings   int
	qualityScores []float64
	rng           *rand.Rand
	solve         func(subset []int) (Point, error)  // Preliminary solver
	residual      func(pos Point, i int) float64     // Residual of reading i [m]
	onIteration   func(iter, requiredIterations int) // Called once per iteration
}

// bestCandidate is the best supported candidate found so far
type bestCandidate struct {
	cand       *Candidate
	score      float64
	numInliers int
	inliers    []bool
	residuals  []float64
}

// newRobustMethod builds the sampler/scorer pair for the configured method
func newRobustMethod(cfg *robustConfig) (robustMethod, error) {
	var sm subsetSampler
	if cfg.method.Guided() {
		if len(cfg.qualityScores) != cfg.numReadings {
			return nil, fmt.Errorf("%w: %d quality scores for %d readings", ErrBadArgument, len(cfg.qualityScores), cfg.numReadings)
		}
		sm = newProsacSampler(cfg.qualityScores, cfg.subsetSize)
	} else {
		sm = newUniformSampler(cfg.numReadings)
	}

	switch cfg.method {
	case RANSAC, PROSAC:
		return &strategy{sm, &countScorer{threshold: cfg.threshold}}, nil
	case MSAC:
		return &strategy{sm, &msacScorer{threshold: cfg.threshold}}, nil
	case LMedS, PROMedS:
		return &strategy{sm, &medianScorer{subsetSize: cfg.subsetSize}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown method %d", ErrBadArgument, cfg.method)
	}
}

// strategy pairs a sampler with a scorer to form one method
type strategy struct {
	subsetSampler
	subsetScorer
}

type subsetSampler interface {
	sample(rng *rand.Rand, iter int, subset []int)
}

type subsetScorer interface {
	score(res2 []float64, inliers []bool) (float64, int)
	shouldStop(best *bestCandidate, iter int) bool
}

// runRobust draws subsets, builds candidates through cfg.solve, scores them
// against all readings and keeps the best supported candidate. Returns the
// best candidate and the number of iterations consumed. Degenerate subsets
// are skipped but consume budget; exhausting the budget without any
// candidate fails with ErrEstimation.
func runRobust(cfg *robustConfig) (*bestCandidate, int, error) {
	strat, err := newRobustMethod(cfg)
	if err != nil {
		return nil, 0, err
	}

	n := cfg.numReadings
	subset := make([]int, cfg.subsetSize)
	res := make([]float64, n)
	res2 := make([]float64, n)
	mask := make([]bool, n)

	var best *bestCandidate
	required := cfg.maxIterations
	iter := 0

	for ; iter < cfg.maxIterations && iter < required; iter++ {
		if cfg.onIteration != nil {
			cfg.onIteration(iter, required)
		}

		strat.sample(cfg.rng, iter, subset)

		// Build a candidate from the subset. Degenerate geometry is skipped
		// but still consumes the iteration.
		pos, err := cfg.solve(subset)
		if err != nil {
			PrintD(3, "\titer %d: subset %v degenerate: %v\n", iter, subset, err)
			continue
		}

		for i := 0; i < n; i++ {
			res[i] = cfg.residual(pos, i)
			res2[i] = SQ(res[i])
		}
		score, numInliers := strat.score(res2, mask)

		// Tie break: equal score goes to the larger raw inlier count, then
		// to the earliest candidate.
		if best == nil || score > best.score || (score == best.score && numInliers > best.numInliers) {
			best = &bestCandidate{
				cand:       &Candidate{Pos: pos.Clone(), Subset: slices.Clone(subset)},
				score:      score,
				numInliers: numInliers,
				inliers:    slices.Clone(mask),
				residuals:  slices.Clone(res),
			}
			w := float64(numInliers) / float64(n)
			required = min(required, requiredIterations(cfg.confidence, w, cfg.subsetSize, cfg.maxIterations))
			PrintD(2, "\titer %d: score=%g, inliers=%d/%d, required=%d\n", iter, score, numInliers, n, required)
		}

		if best != nil && strat.shouldStop(best, iter) {
			iter++
			break
		}
	}

	if best == nil {
		return nil, iter, fmt.Errorf("%w: no usable candidate within %d iterations", ErrEstimation, iter)
	}
	return best, iter, nil
}

// requiredIterations is the adaptive stopping bound
//
//	k = log(1-confidence) / log(1 - w^subsetSize)
//
// with w the current inlier ratio. Clamped to [1, maxIterations].
func requiredIterations(confidence, w float64, subsetSize, maxIterations int) int {
	if w <= 0 {
		return maxIterations
	}
	p := math.Pow(w, float64(subsetSize))
	if p >= 1 {
		return 1
	}
	denom := math.Log(1 - p)
	if denom == 0 {
		return maxIterations
	}
	k := math.Ceil(math.Log(1-confidence) / denom)
	if math.IsNaN(k) || k < 1 {
		return 1
	}
	if k > float64(maxIterations) {
		return maxIterations
	}
	return int(k)
}
