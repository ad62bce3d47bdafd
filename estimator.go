// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.29
//

// Implements the unimodal position estimator: robust sampling over a single
// reading population, optional refinement, and the locking state machine
// that guards configuration during an in-flight estimate.

package radiolat

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

//-------------------------------------------------------------------
// Listener
//-------------------------------------------------------------------

// Listener receives estimation lifecycle notifications. Callbacks run
// synchronously on the calling goroutine; the estimator they receive is
// locked, so any mutator invoked from inside a callback fails with
// ErrLocked.
type Listener struct {
	OnEstimateStart func(e *Estimator)
	OnEstimateEnd   func(e *Estimator)
	OnNextIteration func(e *Estimator, iteration int)
	OnProgress      func(e *Estimator, progress float64)
}

//-------------------------------------------------------------------
// EstimatorOpt
//-------------------------------------------------------------------

// EstimatorOpt contains the tunable parameters of an estimator. A zero
// SubsetSize selects the minimum for the source dimension (dims+1); a zero
// Seed draws the seed from the clock.
type EstimatorOpt struct {
	Confidence        float64 // Probability of finding an outlier free subset, in (0,1)
	MaxIterations     int     // Iteration budget of the robust sampler
	Threshold         float64 // Residual threshold [m] (RANSAC/MSAC/PROSAC)
	SubsetSize        int     // Preliminary subset size; 0 selects dims+1
	Refine            bool    // Polish the best candidate over its inliers
	KeepCovariance    bool    // Keep the covariance produced by refinement
	UseSourceCov      bool    // Fold source position covariance into refinement weights
	UseLinearSolver   bool    // Preliminary solve through the linearised system
	HomogeneousSolver bool    // Homogeneous parameterisation of the linear solve
	FallbackStd       float64 // Distance std substitute [m]
	ProgressDelta     float64 // Minimum progress change that fires a notification
	Seed              int64   // RNG seed; 0 uses the clock
}

// NewEstimatorOpt creates an EstimatorOpt with default values
func NewEstimatorOpt() *EstimatorOpt {
	return &EstimatorOpt{
		Confidence:        DEFAULT_CONFIDENCE,
		MaxIterations:     DEFAULT_MAX_ITERATIONS,
		Threshold:         DEFAULT_THRESHOLD,
		SubsetSize:        0,
		Refine:            true,
		KeepCovariance:    true,
		UseSourceCov:      false,
		UseLinearSolver:   true,
		HomogeneousSolver: false,
		FallbackStd:       FALLBACK_DISTANCE_STD,
		ProgressDelta:     DEFAULT_PROGRESS_DELTA,
		Seed:              0,
	}
}

func (o *EstimatorOpt) validate() error {
	if o.Confidence <= 0 || o.Confidence >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %f", ErrBadArgument, o.Confidence)
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrBadArgument, o.MaxIterations)
	}
	if o.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %f", ErrBadArgument, o.Threshold)
	}
	if o.SubsetSize != 0 && o.SubsetSize < MIN_DIMENSIONS+1 {
		return fmt.Errorf("%w: subset size must be at least %d, got %d", ErrBadArgument, MIN_DIMENSIONS+1, o.SubsetSize)
	}
	if o.FallbackStd <= 0 {
		return fmt.Errorf("%w: fallback std must be positive, got %f", ErrBadArgument, o.FallbackStd)
	}
	if o.ProgressDelta < 0 || o.ProgressDelta >= 1 {
		return fmt.Errorf("%w: progress delta must be in [0,1), got %f", ErrBadArgument, o.ProgressDelta)
	}
	return nil
}

//-------------------------------------------------------------------
// Estimator
//-------------------------------------------------------------------

// Estimator estimates a receiver position from the readings of one
// fingerprint against a set of located sources, tolerating gross outliers
// through the configured robust method.
//
// Estimators are single threaded: Estimate() runs the full pipeline on the
// calling goroutine and returns only on completion or failure. While an
// estimate is in flight the estimator is locked and every mutator fails
// with ErrLocked; getters remain available.
type Estimator struct {
	method     Method
	opt        EstimatorOpt
	sources    []Source
	fp         *Fingerprint
	scores     []float64 // Retained for guided methods only
	listener   *Listener
	initialPos Point

	locked       bool
	lastProgress float64

	// Derived buffers, rebuilt whenever sources, fingerprint or subset
	// size change (pure function of those three)
	bufPositions  []Point
	bufDistances  []float64
	bufStds       []float64
	bufCovs       []*mat.SymDense
	bufReadingIdx []int // Buffer row -> fingerprint reading index
}

// NewEstimator creates an estimator for the given method. A nil opt uses
// defaults. The estimator is not ready until sources and a compatible
// fingerprint are set.
func NewEstimator(method Method, opt *EstimatorOpt) (*Estimator, error) {
	if method < RANSAC || method > PROMedS {
		return nil, fmt.Errorf("%w: unknown method %d", ErrBadArgument, method)
	}
	if opt == nil {
		opt = NewEstimatorOpt()
	}
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &Estimator{method: method, opt: *opt}, nil
}

// NewEstimatorWithSources creates an estimator and applies sources and
// fingerprint through the regular setters, validating identically.
func NewEstimatorWithSources(method Method, sources []Source, fp *Fingerprint, opt *EstimatorOpt) (*Estimator, error) {
	e, err := NewEstimator(method, opt)
	if err != nil {
		return nil, err
	}
	if err := e.SetSources(sources); err != nil {
		return nil, err
	}
	if err := e.SetFingerprint(fp); err != nil {
		return nil, err
	}
	return e, nil
}

//-------------------------------------------------------------------
// Getters
//-------------------------------------------------------------------

func (e *Estimator) Method() Method { return e.method }

// Copy of the configured sources
func (e *Estimator) Sources() []Source {
	s := make([]Source, len(e.sources))
	copy(s, e.sources)
	return s
}

func (e *Estimator) Fingerprint() *Fingerprint { return e.fp }
func (e *Estimator) Listener() *Listener       { return e.listener }
func (e *Estimator) InitialPosition() Point    { return e.initialPos.Clone() }
func (e *Estimator) Confidence() float64       { return e.opt.Confidence }
func (e *Estimator) MaxIterations() int        { return e.opt.MaxIterations }
func (e *Estimator) Threshold() float64        { return e.opt.Threshold }
func (e *Estimator) ProgressDelta() float64    { return e.opt.ProgressDelta }
func (e *Estimator) IsLocked() bool            { return e.locked }

// QualityScores returns the caller supplied scores for guided methods
// (PROSAC/PROMedS) and nil for every other method, even when scores were
// supplied.
func (e *Estimator) QualityScores() []float64 {
	if !e.method.Guided() || e.scores == nil {
		return nil
	}
	s := make([]float64, len(e.scores))
	copy(s, e.scores)
	return s
}

// Dimension of the source positions; 0 before sources are set
func (e *Estimator) Dims() int {
	if len(e.sources) == 0 {
		return 0
	}
	return len(e.sources[0].Pos)
}

// SubsetSize returns the effective preliminary subset size: the configured
// value, or dims+1 when unset.
func (e *Estimator) SubsetSize() int {
	if e.opt.SubsetSize > 0 {
		return e.opt.SubsetSize
	}
	if d := e.Dims(); d > 0 {
		return d + 1
	}
	return 0
}

// IsReady reports whether Estimate() can run: sources present, compatible
// fingerprint with enough usable readings, and matching quality scores for
// guided methods.
func (e *Estimator) IsReady() bool {
	m := e.SubsetSize()
	if len(e.sources) == 0 || e.fp.Len() == 0 || m == 0 {
		return false
	}
	if len(e.sources) < m || len(e.bufDistances) < m {
		return false
	}
	if e.method.Guided() && len(e.scores) != e.fp.Len() {
		return false
	}
	return true
}

//-------------------------------------------------------------------
// Setters
//-------------------------------------------------------------------

func (e *Estimator) checkUnlocked() error {
	if e.locked {
		return fmt.Errorf("%w: configuration is frozen until Estimate() returns", ErrLocked)
	}
	return nil
}

// SetSources configures the located sources. All positions must share one
// supported dimension; covariances, when present, must match it.
func (e *Estimator) SetSources(sources []Source) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("%w: sources must not be empty", ErrBadArgument)
	}
	d := len(sources[0].Pos)
	if d < MIN_DIMENSIONS || d > MAX_DIMENSIONS {
		return fmt.Errorf("%w: unsupported dimension %d", ErrBadArgument, d)
	}
	for i := range sources {
		s := &sources[i]
		if len(s.Pos) != d || !s.Pos.IsFinite() {
			return fmt.Errorf("%w: source %q has an invalid position", ErrBadArgument, s.ID)
		}
		if s.Cov != nil {
			if n := s.Cov.SymmetricDim(); n != d {
				return fmt.Errorf("%w: source %q covariance is %dx%d, want %dx%d", ErrBadArgument, s.ID, n, n, d, d)
			}
		}
	}
	e.sources = make([]Source, len(sources))
	copy(e.sources, sources)
	e.rebuildBuffers()
	return nil
}

// SetFingerprint configures the reading collection of the unknown position
func (e *Estimator) SetFingerprint(fp *Fingerprint) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if fp.Len() == 0 {
		return fmt.Errorf("%w: fingerprint must not be empty", ErrBadArgument)
	}
	e.fp = fp
	e.rebuildBuffers()
	return nil
}

// SetQualityScores configures per reading quality scores in [0,1]. Guided
// methods (PROSAC/PROMedS) require the length to match the fingerprint
// exactly; all other methods ignore the scores entirely.
func (e *Estimator) SetQualityScores(scores []float64) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if !e.method.Guided() {
		return nil
	}
	if e.fp.Len() == 0 {
		return fmt.Errorf("%w: set the fingerprint before its quality scores", ErrBadArgument)
	}
	if len(scores) != e.fp.Len() {
		return fmt.Errorf("%w: %d quality scores for %d readings", ErrBadArgument, len(scores), e.fp.Len())
	}
	for i, v := range scores {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: quality score %d out of [0,1]: %f", ErrBadArgument, i, v)
		}
	}
	e.scores = make([]float64, len(scores))
	copy(e.scores, scores)
	return nil
}

func (e *Estimator) SetListener(l *Listener) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	e.listener = l
	return nil
}

// SetInitialPosition seeds the non-linear preliminary solver. A nil point
// clears the seed (the anchor centroid is used instead).
func (e *Estimator) SetInitialPosition(p Point) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if p == nil {
		e.initialPos = nil
		return nil
	}
	if !p.IsFinite() {
		return fmt.Errorf("%w: initial position must be finite", ErrBadArgument)
	}
	if d := e.Dims(); d > 0 && len(p) != d {
		return fmt.Errorf("%w: initial position is %dD, sources are %dD", ErrBadArgument, len(p), d)
	}
	e.initialPos = p.Clone()
	return nil
}

func (e *Estimator) SetConfidence(c float64) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if c <= 0 || c >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %f", ErrBadArgument, c)
	}
	e.opt.Confidence = c
	return nil
}

func (e *Estimator) SetMaxIterations(n int) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrBadArgument, n)
	}
	e.opt.MaxIterations = n
	return nil
}

func (e *Estimator) SetThreshold(t float64) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if t <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %f", ErrBadArgument, t)
	}
	e.opt.Threshold = t
	return nil
}

// SetSubsetSize configures the preliminary subset size; 0 restores the
// dims+1 default. Rebuilds the derived buffers.
func (e *Estimator) SetSubsetSize(m int) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if m != 0 && m < MIN_DIMENSIONS+1 {
		return fmt.Errorf("%w: subset size must be at least %d, got %d", ErrBadArgument, MIN_DIMENSIONS+1, m)
	}
	if d := e.Dims(); m != 0 && d > 0 && m < d+1 {
		return fmt.Errorf("%w: subset size %d below %d dimensions + 1", ErrBadArgument, m, d)
	}
	e.opt.SubsetSize = m
	e.rebuildBuffers()
	return nil
}

func (e *Estimator) SetProgressDelta(d float64) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	if d < 0 || d >= 1 {
		return fmt.Errorf("%w: progress delta must be in [0,1), got %f", ErrBadArgument, d)
	}
	e.opt.ProgressDelta = d
	return nil
}

// SetSeed fixes the sampler RNG seed for reproducible runs; 0 restores
// clock seeding.
func (e *Estimator) SetSeed(seed int64) error {
	if err := e.checkUnlocked(); err != nil {
		return err
	}
	e.opt.Seed = seed
	return nil
}

//-------------------------------------------------------------------
// Derived buffers
//-------------------------------------------------------------------

// rebuildBuffers derives the per reading anchor position, distance,
// standard deviation and source covariance arrays from the current sources
// and fingerprint. RSSI only readings go through the path loss model.
// Readings against unknown sources are dropped. The result is a pure
// function of (sources, fingerprint, subset size).
func (e *Estimator) rebuildBuffers() {
	e.bufPositions = nil
	e.bufDistances = nil
	e.bufStds = nil
	e.bufCovs = nil
	e.bufReadingIdx = nil
	if len(e.sources) == 0 || e.fp.Len() == 0 {
		return
	}

	idx := make(map[string]int, len(e.sources))
	for i := range e.sources {
		idx[e.sources[i].ID] = i
	}

	for i := 0; i < e.fp.Len(); i++ {
		r := e.fp.At(i)
		si, ok := idx[r.SourceID]
		if !ok {
			PrintD(3, "\treading %d: unknown source %q, dropped\n", i, r.SourceID)
			continue
		}
		var dist, std float64
		if r.HasRanging() {
			dist = r.Distance
			std = r.DistanceStd
		} else {
			dist = RssiToDistance(r.Rssi, r.TxPower, r.PathLossExp)
			std = RssiDistanceStd(dist, r.RssiStd, r.PathLossExp)
		}
		e.bufPositions = append(e.bufPositions, e.sources[si].Pos)
		e.bufDistances = append(e.bufDistances, dist)
		e.bufStds = append(e.bufStds, std)
		e.bufCovs = append(e.bufCovs, e.sources[si].Cov)
		e.bufReadingIdx = append(e.bufReadingIdx, i)
	}
}

//-------------------------------------------------------------------
// Estimation
//-------------------------------------------------------------------

// Estimate runs the robust pipeline and returns the estimated position.
// The estimator is locked for the duration of the call; the listener is
// notified of start and end even when the estimate fails.
func (e *Estimator) Estimate() (*Result, error) {
	if e.locked {
		return nil, fmt.Errorf("%w: reentrant Estimate()", ErrLocked)
	}
	if !e.IsReady() {
		return nil, fmt.Errorf("%w: sources and a compatible fingerprint are required", ErrNotReady)
	}

	e.locked = true
	e.lastProgress = 0
	defer func() { e.locked = false }()

	if l := e.listener; l != nil && l.OnEstimateStart != nil {
		l.OnEstimateStart(e)
	}
	result, err := e.run()
	if l := e.listener; l != nil && l.OnEstimateEnd != nil {
		l.OnEstimateEnd(e)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Estimator) run() (*Result, error) {
	m := e.SubsetSize()
	n := len(e.bufDistances)

	seed := e.opt.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Quality scores aligned to the usable reading buffer
	var scores []float64
	if e.method.Guided() {
		scores = make([]float64, n)
		for k, fi := range e.bufReadingIdx {
			scores[k] = e.scores[fi]
		}
	}

	latOpt := &LatOpt{
		UseLinear:   e.opt.UseLinearSolver,
		Homogeneous: e.opt.HomogeneousSolver,
		InitialPos:  e.initialPos,
		MaxLoop:     MAX_SOLVER_LOOP_COUNT,
		Convergence: SOLVER_CONVERGENCE,
	}
	subPos := make([]Point, m)
	subDist := make([]float64, m)

	cfg := &robustConfig{
		method:        e.method,
		confidence:    e.opt.Confidence,
		maxIterations: e.opt.MaxIterations,
		threshold:     e.opt.Threshold,
		subsetSize:    m,
		numReadings:   n,
		qualityScores: scores,
		rng:           rng,
		solve: func(subset []int) (Point, error) {
			for k, i := range subset {
				subPos[k] = e.bufPositions[i]
				subDist[k] = e.bufDistances[i]
			}
			return SolveLateration(subPos, subDist, latOpt)
		},
		residual: func(pos Point, i int) float64 {
			return e.bufDistances[i] - pos.Dist(e.bufPositions[i])
		},
		onIteration: e.notifyIteration,
	}

	best, iters, err := runRobust(cfg)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Pos:        best.cand.Pos,
		Inliers:    e.inliersData(best),
		Iterations: iters,
	}

	if e.opt.Refine {
		ropt := &RefineOpt{
			UseSourceCov:   e.opt.UseSourceCov,
			KeepCovariance: e.opt.KeepCovariance,
			FallbackStd:    e.opt.FallbackStd,
			MaxLoop:        MAX_SOLVER_LOOP_COUNT,
			Convergence:    SOLVER_CONVERGENCE,
		}
		pos, cov, rerr := RefineSolution(best.cand.Pos, e.bufPositions, e.bufDistances, e.bufStds, e.bufCovs, best.inliers, ropt)
		if rerr != nil {
			// Keep the unrefined candidate with no covariance
			PrintD(1, "refinement failed, keeping the robust candidate: %v\n", rerr)
		} else {
			result.Pos = pos
			result.Cov = cov
			result.Refined = true
		}
	}

	e.notifyProgress(1.0)
	return result, nil
}

// Map the buffer row partition back to fingerprint reading order. Readings
// dropped for unknown sources carry a NaN residual and stay outliers.
func (e *Estimator) inliersData(best *bestCandidate) *InliersData {
	n := e.fp.Len()
	inl := make([]bool, n)
	res := make([]float64, n)
	for i := range res {
		res[i] = math.NaN()
	}
	for k, fi := range e.bufReadingIdx {
		inl[fi] = best.inliers[k]
		res[fi] = best.residuals[k]
	}
	return &InliersData{Inliers: inl, NumInliers: best.numInliers, Residuals: res}
}

func (e *Estimator) notifyIteration(iter, required int) {
	if l := e.listener; l != nil && l.OnNextIteration != nil {
		l.OnNextIteration(e, iter)
	}
	denom := required
	if denom <= 0 || denom > e.opt.MaxIterations {
		denom = e.opt.MaxIterations
	}
	e.notifyProgress(float64(iter+1) / float64(denom))
}

// notifyProgress fires the progress callback when the fraction grows by at
// least the configured delta. The reported fraction is monotonically non
// decreasing within one Estimate() call.
func (e *Estimator) notifyProgress(p float64) {
	if p > 1 {
		p = 1
	}
	if p <= e.lastProgress {
		return
	}
	if p-e.lastProgress < e.opt.ProgressDelta && p < 1 {
		return
	}
	e.lastProgress = p
	if l := e.listener; l != nil && l.OnProgress != nil {
		l.OnProgress(e, p)
	}
}
