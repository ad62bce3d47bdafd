// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.30
//

package radiolat

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var testTruth = NewPoint2D(3, 4)

var testAnchors = []Point{
	NewPoint2D(0, 0), NewPoint2D(20, 0), NewPoint2D(0, 20),
	NewPoint2D(20, 20), NewPoint2D(-15, 5), NewPoint2D(8, -12),
	NewPoint2D(25, 10), NewPoint2D(-5, -18), NewPoint2D(14, 30),
	NewPoint2D(-20, 22), NewPoint2D(30, -7), NewPoint2D(6, 17),
}

func testSources(n int) []Source {
	sources := make([]Source, n)
	for i := 0; i < n; i++ {
		sources[i] = NewSource(sourceID(i), testAnchors[i])
	}
	return sources
}

func sourceID(i int) string {
	return string(rune('a' + i))
}

// Ranging fingerprint over the first n anchors with gaussian noise; the
// given indices are pushed 25 m off as gross outliers.
func testRangingFingerprint(n int, noiseStd float64, rng *rand.Rand, outliers ...int) *Fingerprint {
	fp := &Fingerprint{}
	out := map[int]bool{}
	for _, i := range outliers {
		out[i] = true
	}
	for i := 0; i < n; i++ {
		d := testTruth.Dist(testAnchors[i])
		if noiseStd > 0 {
			d += rng.NormFloat64() * noiseStd
		}
		if out[i] {
			d += 25.0
		}
		fp.Add(NewRangingReading(sourceID(i), d, 0.1))
	}
	return fp
}

func TestNewEstimatorValidation(t *testing.T) {
	_, err := NewEstimator(Method(99), nil)
	assert.ErrorIs(t, err, ErrBadArgument)

	opt := NewEstimatorOpt()
	opt.Confidence = 1.5
	_, err = NewEstimator(RANSAC, opt)
	assert.ErrorIs(t, err, ErrBadArgument)

	opt = NewEstimatorOpt()
	opt.MaxIterations = 0
	_, err = NewEstimator(RANSAC, opt)
	assert.ErrorIs(t, err, ErrBadArgument)

	e, err := NewEstimator(MSAC, nil)
	require.NoError(t, err)
	assert.Equal(t, MSAC, e.Method())
	assert.Equal(t, DEFAULT_CONFIDENCE, e.Confidence())
	assert.False(t, e.IsReady())
}

func TestEstimatorSetters(t *testing.T) {
	e, err := NewEstimator(RANSAC, nil)
	require.NoError(t, err)

	// Sources
	assert.ErrorIs(t, e.SetSources(nil), ErrBadArgument)
	assert.ErrorIs(t, e.SetSources([]Source{NewSource("a", Point{1})}), ErrBadArgument)
	mixed := []Source{NewSource("a", NewPoint2D(0, 0)), NewSource("b", NewPoint3D(1, 2, 3))}
	assert.ErrorIs(t, e.SetSources(mixed), ErrBadArgument)
	badCov := []Source{NewSourceWithCov("a", NewPoint2D(0, 0), mat.NewSymDense(3, nil)), NewSource("b", NewPoint2D(1, 1))}
	assert.ErrorIs(t, e.SetSources(badCov), ErrBadArgument)

	require.NoError(t, e.SetSources(testSources(4)))
	assert.Equal(t, 2, e.Dims())
	assert.Equal(t, 3, e.SubsetSize())

	// Fingerprint
	assert.ErrorIs(t, e.SetFingerprint(&Fingerprint{}), ErrBadArgument)
	require.NoError(t, e.SetFingerprint(testRangingFingerprint(4, 0, nil)))
	assert.True(t, e.IsReady())

	// Scalar parameters
	assert.ErrorIs(t, e.SetConfidence(0), ErrBadArgument)
	assert.ErrorIs(t, e.SetConfidence(1), ErrBadArgument)
	assert.ErrorIs(t, e.SetMaxIterations(-1), ErrBadArgument)
	assert.ErrorIs(t, e.SetThreshold(0), ErrBadArgument)
	assert.ErrorIs(t, e.SetSubsetSize(2), ErrBadArgument)
	assert.ErrorIs(t, e.SetProgressDelta(1.0), ErrBadArgument)
	require.NoError(t, e.SetConfidence(0.95))
	require.NoError(t, e.SetThreshold(0.5))
	require.NoError(t, e.SetSubsetSize(4))
	assert.Equal(t, 4, e.SubsetSize())
	require.NoError(t, e.SetSubsetSize(0))
	assert.Equal(t, 3, e.SubsetSize())

	// Initial position
	assert.ErrorIs(t, e.SetInitialPosition(NewPoint3D(1, 2, 3)), ErrBadArgument)
	assert.ErrorIs(t, e.SetInitialPosition(Point{math.NaN(), 0}), ErrBadArgument)
	require.NoError(t, e.SetInitialPosition(NewPoint2D(1, 1)))
	require.NoError(t, e.SetInitialPosition(nil))
}

func TestEstimatorQualityScoreQuirk(t *testing.T) {
	// Non guided methods accept and silently drop quality scores
	e, err := NewEstimator(RANSAC, nil)
	require.NoError(t, err)
	require.NoError(t, e.SetSources(testSources(4)))
	require.NoError(t, e.SetFingerprint(testRangingFingerprint(4, 0, nil)))
	require.NoError(t, e.SetQualityScores([]float64{0.1, 0.2, 0.3, 0.4}))
	assert.Nil(t, e.QualityScores())

	// Guided methods validate and retain them
	g, err := NewEstimator(PROSAC, nil)
	require.NoError(t, err)
	require.NoError(t, g.SetSources(testSources(4)))
	require.NoError(t, g.SetFingerprint(testRangingFingerprint(4, 0, nil)))
	assert.ErrorIs(t, g.SetQualityScores([]float64{0.5}), ErrBadArgument)
	assert.ErrorIs(t, g.SetQualityScores([]float64{0.1, 0.2, 0.3, 1.4}), ErrBadArgument)
	assert.False(t, g.IsReady())
	require.NoError(t, g.SetQualityScores([]float64{0.1, 0.2, 0.3, 0.4}))
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, g.QualityScores())
	assert.True(t, g.IsReady())
}

func TestEstimatorNotReady(t *testing.T) {
	e, err := NewEstimator(RANSAC, nil)
	require.NoError(t, err)
	_, err = e.Estimate()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, e.SetSources(testSources(4)))
	_, err = e.Estimate()
	assert.ErrorIs(t, err, ErrNotReady)

	// A fingerprint only naming unknown sources leaves nothing usable
	fp := NewFingerprint(
		NewRangingReading("x1", 5, 0.1),
		NewRangingReading("x2", 5, 0.1),
		NewRangingReading("x3", 5, 0.1),
	)
	require.NoError(t, e.SetFingerprint(fp))
	_, err = e.Estimate()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEstimatorExact(t *testing.T) {
	opt := NewEstimatorOpt()
	opt.Seed = 17
	e, err := NewEstimatorWithSources(RANSAC, testSources(6), testRangingFingerprint(6, 0, nil), opt)
	require.NoError(t, err)

	result, err := e.Estimate()
	require.NoError(t, err)
	assert.InDelta(t, testTruth[0], result.Pos[0], 1e-6)
	assert.InDelta(t, testTruth[1], result.Pos[1], 1e-6)
	assert.True(t, result.Refined)
	assert.NotNil(t, result.Cov)
	assert.Equal(t, 6, result.Inliers.NumInliers)
	assert.False(t, e.IsLocked())
}

func TestEstimatorWithOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	opt := NewEstimatorOpt()
	opt.Seed = 17
	opt.Threshold = 0.5
	fp := testRangingFingerprint(12, 0.01, rng, 2, 7)
	e, err := NewEstimatorWithSources(RANSAC, testSources(12), fp, opt)
	require.NoError(t, err)

	result, err := e.Estimate()
	require.NoError(t, err)
	assert.InDelta(t, testTruth[0], result.Pos[0], 0.1)
	assert.InDelta(t, testTruth[1], result.Pos[1], 0.1)
	assert.False(t, result.Inliers.Inliers[2])
	assert.False(t, result.Inliers.Inliers[7])
	assert.GreaterOrEqual(t, result.Inliers.NumInliers, 9)
}

func TestEstimatorRssiReadings(t *testing.T) {
	fp := &Fingerprint{}
	for i := 0; i < 6; i++ {
		rssi := DistanceToRssi(testTruth.Dist(testAnchors[i]), DEFAULT_TX_POWER, DEFAULT_PATH_LOSS_EXP)
		fp.Add(NewRssiReading(sourceID(i), rssi, 1.0))
	}
	opt := NewEstimatorOpt()
	opt.Seed = 17
	e, err := NewEstimatorWithSources(RANSAC, testSources(6), fp, opt)
	require.NoError(t, err)

	result, err := e.Estimate()
	require.NoError(t, err)
	assert.InDelta(t, testTruth[0], result.Pos[0], 1e-6)
	assert.InDelta(t, testTruth[1], result.Pos[1], 1e-6)
}

func TestEstimatorUnknownSourceDropped(t *testing.T) {
	fp := testRangingFingerprint(6, 0, nil)
	fp.Add(NewRangingReading("nosuch", 50, 0.1))

	opt := NewEstimatorOpt()
	opt.Seed = 17
	e, err := NewEstimatorWithSources(RANSAC, testSources(6), fp, opt)
	require.NoError(t, err)

	result, err := e.Estimate()
	require.NoError(t, err)

	// The partition covers the whole fingerprint, the dropped reading stays
	// an outlier with no residual
	require.Len(t, result.Inliers.Inliers, 7)
	assert.False(t, result.Inliers.Inliers[6])
	assert.True(t, math.IsNaN(result.Inliers.Residuals[6]))
	assert.Equal(t, 6, result.Inliers.NumInliers)
}

func TestEstimatorLocking(t *testing.T) {
	opt := NewEstimatorOpt()
	opt.Seed = 17
	e, err := NewEstimatorWithSources(RANSAC, testSources(6), testRangingFingerprint(6, 0, nil), opt)
	require.NoError(t, err)

	var startedLocked bool
	var mutErr, reentrantErr error
	require.NoError(t, e.SetListener(&Listener{
		OnEstimateStart: func(e *Estimator) {
			startedLocked = e.IsLocked()
			mutErr = e.SetThreshold(2.0)
			_, reentrantErr = e.Estimate()
		},
	}))

	_, err = e.Estimate()
	require.NoError(t, err)
	assert.True(t, startedLocked)
	assert.ErrorIs(t, mutErr, ErrLocked)
	assert.ErrorIs(t, reentrantErr, ErrLocked)
	assert.False(t, e.IsLocked())

	// A failed mutation leaves the configuration unchanged
	assert.Equal(t, DEFAULT_THRESHOLD, e.Threshold())
}

func TestEstimatorProgress(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	opt := NewEstimatorOpt()
	opt.Seed = 23
	opt.Threshold = 0.5
	fp := testRangingFingerprint(12, 0.01, rng, 1, 4)
	e, err := NewEstimatorWithSources(RANSAC, testSources(12), fp, opt)
	require.NoError(t, err)

	var progress []float64
	iterations := 0
	require.NoError(t, e.SetListener(&Listener{
		OnNextIteration: func(e *Estimator, iteration int) { iterations++ },
		OnProgress:      func(e *Estimator, p float64) { progress = append(progress, p) },
	}))

	result, err := e.Estimate()
	require.NoError(t, err)

	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1])
	}
	assert.Equal(t, 1.0, progress[len(progress)-1])
	assert.Equal(t, result.Iterations, iterations)
}

func TestEstimatorReproducible(t *testing.T) {
	run := func() Point {
		rng := rand.New(rand.NewSource(2))
		opt := NewEstimatorOpt()
		opt.Seed = 99
		fp := testRangingFingerprint(12, 0.05, rng, 3)
		e, err := NewEstimatorWithSources(MSAC, testSources(12), fp, opt)
		require.NoError(t, err)
		result, err := e.Estimate()
		require.NoError(t, err)
		return result.Pos
	}

	assert.Equal(t, run(), run())
}

func TestEstimatorCovarianceOptions(t *testing.T) {
	opt := NewEstimatorOpt()
	opt.Seed = 17
	opt.KeepCovariance = false
	e, err := NewEstimatorWithSources(RANSAC, testSources(6), testRangingFingerprint(6, 0, nil), opt)
	require.NoError(t, err)
	result, err := e.Estimate()
	require.NoError(t, err)
	assert.True(t, result.Refined)
	assert.Nil(t, result.Cov)

	opt = NewEstimatorOpt()
	opt.Seed = 17
	opt.Refine = false
	e, err = NewEstimatorWithSources(RANSAC, testSources(6), testRangingFingerprint(6, 0, nil), opt)
	require.NoError(t, err)
	result, err = e.Estimate()
	require.NoError(t, err)
	assert.False(t, result.Refined)
	assert.Nil(t, result.Cov)
}

func TestEstimatorRefinementFailureKeepsCandidate(t *testing.T) {
	// Every distance inflated by the same amount: the circles never meet,
	// and against a tight threshold no candidate collects a single inlier.
	// Refinement then has nothing to fit and fails; the estimator must
	// swallow that and hand back the unrefined candidate.
	fp := &Fingerprint{}
	for i := 0; i < 6; i++ {
		fp.Add(NewRangingReading(sourceID(i), testTruth.Dist(testAnchors[i])+0.25, 0.1))
	}

	opt := NewEstimatorOpt()
	opt.Seed = 17
	opt.Threshold = 0.001
	opt.MaxIterations = 20
	e, err := NewEstimatorWithSources(RANSAC, testSources(6), fp, opt)
	require.NoError(t, err)

	result, err := e.Estimate()
	require.NoError(t, err)
	assert.False(t, result.Refined)
	assert.Nil(t, result.Cov)
	assert.Less(t, result.Inliers.NumInliers, 2)
	require.NotNil(t, result.Pos)
	assert.True(t, result.Pos.IsFinite())
	assert.False(t, e.IsLocked())
}

func TestEstimatorMinimalScene3D(t *testing.T) {
	// Exactly dims+1 sources: the only possible subset is the full set, so
	// the estimate succeeds deterministically
	truth := NewPoint3D(1, 2, 3)
	anchors := []Point{
		NewPoint3D(0, 0, 0), NewPoint3D(10, 0, 0),
		NewPoint3D(0, 10, 0), NewPoint3D(0, 0, 10),
	}
	sources := make([]Source, len(anchors))
	fp := &Fingerprint{}
	for i, a := range anchors {
		sources[i] = NewSource(sourceID(i), a)
		fp.Add(NewRangingReading(sourceID(i), truth.Dist(a), 0.1))
	}

	opt := NewEstimatorOpt()
	opt.Seed = 1
	e, err := NewEstimatorWithSources(RANSAC, sources, fp, opt)
	require.NoError(t, err)
	assert.Equal(t, 4, e.SubsetSize())

	result, err := e.Estimate()
	require.NoError(t, err)
	for j := range truth {
		assert.InDelta(t, truth[j], result.Pos[j], 1e-6)
	}
	assert.Equal(t, 4, result.Inliers.NumInliers)
}

func TestEstimatorLargeRssiScene3D(t *testing.T) {
	// 200 sources in a 100 m cube, a fifth of the RSSI readings corrupted
	// by 10 dB; the clean readings are exact, so the refined position must
	// come out essentially exact
	rng := rand.New(rand.NewSource(31))
	truth := NewPoint3D(42, 58, 67)
	n := 200

	sources := make([]Source, n)
	fp := &Fingerprint{}
	for i := 0; i < n; i++ {
		pos := NewPoint3D(rng.Float64()*100, rng.Float64()*100, rng.Float64()*100)
		id := fmt.Sprintf("s%03d", i)
		sources[i] = NewSource(id, pos)
		rssi := DistanceToRssi(truth.Dist(pos), DEFAULT_TX_POWER, DEFAULT_PATH_LOSS_EXP)
		if i%5 == 0 {
			rssi -= 10.0
		}
		fp.Add(NewRssiReading(id, rssi, 1.0))
	}

	opt := NewEstimatorOpt()
	opt.Seed = 31
	e, err := NewEstimatorWithSources(RANSAC, sources, fp, opt)
	require.NoError(t, err)

	result, err := e.Estimate()
	require.NoError(t, err)
	for j := range truth {
		assert.InDelta(t, truth[j], result.Pos[j], 1e-6)
	}
	assert.NotNil(t, result.Cov)
	assert.GreaterOrEqual(t, result.Inliers.NumInliers, 160)
}

func TestEstimatorBuffersIdempotent(t *testing.T) {
	e, err := NewEstimator(RANSAC, nil)
	require.NoError(t, err)
	require.NoError(t, e.SetSources(testSources(6)))
	require.NoError(t, e.SetFingerprint(testRangingFingerprint(6, 0, nil)))

	require.NoError(t, e.SetSubsetSize(4))
	first := append([]float64(nil), e.bufDistances...)
	require.NoError(t, e.SetSubsetSize(4))
	assert.Equal(t, first, e.bufDistances)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, e.bufReadingIdx)
}

func TestEstimatorSourceCovWeights(t *testing.T) {
	// A source with a large position covariance still refines; weighting
	// only changes how much it counts
	sources := testSources(6)
	cov := mat.NewSymDense(2, []float64{4, 0, 0, 4})
	sources[0] = NewSourceWithCov(sources[0].ID, sources[0].Pos, cov)

	opt := NewEstimatorOpt()
	opt.Seed = 17
	opt.UseSourceCov = true
	e, err := NewEstimatorWithSources(RANSAC, sources, testRangingFingerprint(6, 0, nil), opt)
	require.NoError(t, err)

	result, err := e.Estimate()
	require.NoError(t, err)
	assert.True(t, result.Refined)
	assert.InDelta(t, testTruth[0], result.Pos[0], 1e-6)
	assert.InDelta(t, testTruth[1], result.Pos[1], 1e-6)
}
