// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.30
//

package radiolat

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodParse(t *testing.T) {
	for _, m := range []Method{RANSAC, LMedS, MSAC, PROSAC, PROMedS} {
		var parsed Method
		require.NoError(t, parsed.Parse(m.String()))
		assert.Equal(t, m, parsed)

		// Case does not matter
		parsed = Method(-1)
		require.NoError(t, parsed.Parse(strings.ToLower(m.String())))
		assert.Equal(t, m, parsed)
	}

	var m Method
	assert.ErrorIs(t, m.Parse("ransack"), ErrBadArgument)
}

func TestMethodTraits(t *testing.T) {
	assert.False(t, RANSAC.Guided())
	assert.False(t, LMedS.Guided())
	assert.False(t, MSAC.Guided())
	assert.True(t, PROSAC.Guided())
	assert.True(t, PROMedS.Guided())

	assert.True(t, RANSAC.ThresholdBased())
	assert.True(t, MSAC.ThresholdBased())
	assert.True(t, PROSAC.ThresholdBased())
	assert.False(t, LMedS.ThresholdBased())
	assert.False(t, PROMedS.ThresholdBased())
}

func TestRequiredIterations(t *testing.T) {
	// w=0.5, m=3, confidence 0.99: ceil(ln 0.01 / ln(1 - 0.125)) = 35
	assert.Equal(t, 35, requiredIterations(0.99, 0.5, 3, 5000))

	// Full inlier ratio needs a single draw
	assert.Equal(t, 1, requiredIterations(0.99, 1.0, 3, 5000))

	// Zero ratio keeps the full budget
	assert.Equal(t, 5000, requiredIterations(0.99, 0.0, 3, 5000))

	// Clamped to the budget when the bound explodes
	assert.Equal(t, 1000, requiredIterations(0.99, 0.1, 4, 1000))
}

// Synthetic lateration scene shared by the engine tests: anchors, exact
// distances from truth, the given indices pushed far off as outliers.
type engineScene struct {
	truth     Point
	positions []Point
	distances []float64
	outliers  map[int]bool
}

func newEngineScene(rng *rand.Rand, noiseStd float64, outliers ...int) *engineScene {
	s := &engineScene{
		truth: NewPoint2D(3, 4),
		positions: []Point{
			NewPoint2D(0, 0), NewPoint2D(20, 0), NewPoint2D(0, 20),
			NewPoint2D(20, 20), NewPoint2D(-15, 5), NewPoint2D(8, -12),
			NewPoint2D(25, 10), NewPoint2D(-5, -18), NewPoint2D(14, 30),
			NewPoint2D(-20, 22), NewPoint2D(30, -7), NewPoint2D(6, 17),
		},
		outliers: map[int]bool{},
	}
	s.distances = exactDistances(s.truth, s.positions)
	for i := range s.distances {
		s.distances[i] += rng.NormFloat64() * noiseStd
	}
	for _, i := range outliers {
		s.distances[i] += 25.0
		s.outliers[i] = true
	}
	return s
}

func (s *engineScene) config(method Method, rng *rand.Rand) *robustConfig {
	return &robustConfig{
		method:        method,
		confidence:    DEFAULT_CONFIDENCE,
		maxIterations: 1000,
		threshold:     0.5,
		subsetSize:    3,
		numReadings:   len(s.positions),
		rng:           rng,
		solve: func(subset []int) (Point, error) {
			pp := make([]Point, len(subset))
			dd := make([]float64, len(subset))
			for k, i := range subset {
				pp[k] = s.positions[i]
				dd[k] = s.distances[i]
			}
			return SolveLateration(pp, dd, nil)
		},
		residual: func(pos Point, i int) float64 {
			return s.distances[i] - pos.Dist(s.positions[i])
		},
	}
}

// Quality scores ranking true inliers above the outliers
func (s *engineScene) scores() []float64 {
	scores := make([]float64, len(s.positions))
	for i := range scores {
		if s.outliers[i] {
			scores[i] = 0.1
		} else {
			scores[i] = 0.9
		}
	}
	return scores
}

func TestRunRobustAllMethods(t *testing.T) {
	for _, method := range []Method{RANSAC, LMedS, MSAC, PROSAC, PROMedS} {
		t.Run(method.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			scene := newEngineScene(rng, 0.02, 2, 6, 9)

			cfg := scene.config(method, rng)
			if method.Guided() {
				cfg.qualityScores = scene.scores()
			}

			best, iters, err := runRobust(cfg)
			require.NoError(t, err)
			require.NotNil(t, best)
			assert.Greater(t, iters, 0)

			// The candidate lands near truth despite 25% gross outliers
			assert.InDelta(t, scene.truth[0], best.cand.Pos[0], 0.5)
			assert.InDelta(t, scene.truth[1], best.cand.Pos[1], 0.5)

			// The corrupted readings are flagged as outliers
			for i := range scene.positions {
				if scene.outliers[i] {
					assert.False(t, best.inliers[i], "reading %d should be an outlier", i)
				}
			}
			assert.GreaterOrEqual(t, best.numInliers, 7)
		})
	}
}

func TestRunRobustEarlyStop(t *testing.T) {
	// Noise free data with full support stops RANSAC well before the budget
	rng := rand.New(rand.NewSource(7))
	scene := newEngineScene(rng, 0)

	iterations := 0
	cfg := scene.config(RANSAC, rng)
	cfg.onIteration = func(iter, required int) { iterations++ }

	best, iters, err := runRobust(cfg)
	require.NoError(t, err)
	assert.Equal(t, len(scene.positions), best.numInliers)
	assert.Less(t, iters, 10)
	assert.Equal(t, iters, iterations)
}

func TestRunRobustDegenerateBudget(t *testing.T) {
	// A solver that never yields a candidate burns the whole budget and
	// fails with ErrEstimation
	rng := rand.New(rand.NewSource(1))
	scene := newEngineScene(rng, 0)

	cfg := scene.config(RANSAC, rng)
	cfg.maxIterations = 25
	cfg.solve = func(subset []int) (Point, error) {
		return nil, assert.AnError
	}

	_, iters, err := runRobust(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEstimation)
	assert.Equal(t, 25, iters)
}

func TestRunRobustAdaptiveBound(t *testing.T) {
	// MSAC never stops early, so the adaptive bound must end the search
	// before the raw budget once a high inlier ratio candidate is found
	rng := rand.New(rand.NewSource(3))
	scene := newEngineScene(rng, 0.02)

	cfg := scene.config(MSAC, rng)
	cfg.maxIterations = 100000

	_, iters, err := runRobust(cfg)
	require.NoError(t, err)
	assert.Less(t, iters, 1000)
}

func TestProsacSamplerWindow(t *testing.T) {
	// First draws stay inside the top ranked window
	scores := make([]float64, 20)
	for i := range scores {
		scores[i] = 1.0 - float64(i)*0.05
	}
	s := newProsacSampler(scores, 3)
	rng := rand.New(rand.NewSource(9))

	subset := make([]int, 3)
	s.sample(rng, 0, subset)
	for _, idx := range subset {
		assert.Less(t, idx, 4, "early PROSAC draws stay among the best ranked readings")
	}
	seen := map[int]bool{}
	for _, idx := range subset {
		assert.False(t, seen[idx], "subset indices must be distinct")
		seen[idx] = true
	}

	// After many draws the window spans all readings
	for i := 1; i < 2000; i++ {
		s.sample(rng, i, subset)
	}
	assert.GreaterOrEqual(t, s.win, len(scores))
}
