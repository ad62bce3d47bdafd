// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.30
//

// Implements the sequential mixed estimator: a ranging pass chained into an
// RSSI pass, each one a unimodal estimator driven internally.

package radiolat

import (
	"fmt"
	"math"
)

//-------------------------------------------------------------------
// SequentialListener
//-------------------------------------------------------------------

// SequentialListener mirrors Listener at the composite level. Progress is
// pro-rated across the ranging and RSSI phases.
type SequentialListener struct {
	OnEstimateStart func(e *SequentialEstimator)
	OnEstimateEnd   func(e *SequentialEstimator)
	OnNextIteration func(e *SequentialEstimator, iteration int)
	OnProgress      func(e *SequentialEstimator, progress float64)
}

//-------------------------------------------------------------------
// SequentialEstimator
//-------------------------------------------------------------------

// SequentialEstimator composes a ranging only and an RSSI only estimator
// over one mixed fingerprint. The ranging pass runs first and its position
// seeds the RSSI pass, whose distance conversion is noisier. Combined
// readings contribute to both passes. The composite owns the lock; the
// internal sub-estimators are never exposed to the caller.
type SequentialEstimator struct {
	rangingMethod Method
	rssiMethod    Method
	opt           EstimatorOpt
	sources       []Source
	fp            *Fingerprint
	scores        []float64
	listener      *SequentialListener
	initialPos    Point

	locked       bool
	lastProgress float64
}

// NewSequentialEstimator creates a sequential estimator with one robust
// method per pass. A nil opt uses defaults; both passes share it.
func NewSequentialEstimator(rangingMethod, rssiMethod Method, opt *EstimatorOpt) (*SequentialEstimator, error) {
	for _, m := range []Method{rangingMethod, rssiMethod} {
		if m < RANSAC || m > PROMedS {
			return nil, fmt.Errorf("%w: unknown method %d", ErrBadArgument, m)
		}
	}
	if opt == nil {
		opt = NewEstimatorOpt()
	}
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &SequentialEstimator{rangingMethod: rangingMethod, rssiMethod: rssiMethod, opt: *opt}, nil
}

//-------------------------------------------------------------------
// Getters
//-------------------------------------------------------------------

func (se *SequentialEstimator) RangingMethod() Method         { return se.rangingMethod }
func (se *SequentialEstimator) RssiMethod() Method            { return se.rssiMethod }
func (se *SequentialEstimator) Fingerprint() *Fingerprint     { return se.fp }
func (se *SequentialEstimator) Listener() *SequentialListener { return se.listener }
func (se *SequentialEstimator) InitialPosition() Point        { return se.initialPos.Clone() }
func (se *SequentialEstimator) Confidence() float64           { return se.opt.Confidence }
func (se *SequentialEstimator) MaxIterations() int            { return se.opt.MaxIterations }
func (se *SequentialEstimator) Threshold() float64            { return se.opt.Threshold }
func (se *SequentialEstimator) IsLocked() bool                { return se.locked }

func (se *SequentialEstimator) Sources() []Source {
	s := make([]Source, len(se.sources))
	copy(s, se.sources)
	return s
}

// QualityScores returns the caller supplied scores when at least one pass
// uses a guided method, nil otherwise (same behavior as the unimodal
// estimator).
func (se *SequentialEstimator) QualityScores() []float64 {
	if !se.rangingMethod.Guided() && !se.rssiMethod.Guided() {
		return nil
	}
	if se.scores == nil {
		return nil
	}
	s := make([]float64, len(se.scores))
	copy(s, se.scores)
	return s
}

func (se *SequentialEstimator) Dims() int {
	if len(se.sources) == 0 {
		return 0
	}
	return len(se.sources[0].Pos)
}

func (se *SequentialEstimator) SubsetSize() int {
	if se.opt.SubsetSize > 0 {
		return se.opt.SubsetSize
	}
	if d := se.Dims(); d > 0 {
		return d + 1
	}
	return 0
}

// IsReady reports whether at least one pass has enough readings, and that
// quality scores match when a runnable pass uses a guided method.
func (se *SequentialEstimator) IsReady() bool {
	m := se.SubsetSize()
	if len(se.sources) == 0 || se.fp.Len() == 0 || m == 0 || len(se.sources) < m {
		return false
	}
	hasRanging := se.fp.CountKind(RangingKind) >= m
	hasRssi := se.fp.CountKind(RssiKind) >= m
	if !hasRanging && !hasRssi {
		return false
	}
	needScores := (hasRanging && se.rangingMethod.Guided()) || (hasRssi && se.rssiMethod.Guided())
	if needScores && len(se.scores) != se.fp.Len() {
		return false
	}
	return true
}

//-------------------------------------------------------------------
// Setters
//-------------------------------------------------------------------

func (se *SequentialEstimator) checkUnlocked() error {
	if se.locked {
		return fmt.Errorf("%w: configuration is frozen until Estimate() returns", ErrLocked)
	}
	return nil
}

func (se *SequentialEstimator) SetSources(sources []Source) error {
	if err := se.checkUnlocked(); err != nil {
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
		if len(sources[i].Pos) != d || !sources[i].Pos.IsFinite() {
			return fmt.Errorf("%w: source %q has an invalid position", ErrBadArgument, sources[i].ID)
		}
	}
	se.sources = make([]Source, len(sources))
	copy(se.sources, sources)
	return nil
}

func (se *SequentialEstimator) SetFingerprint(fp *Fingerprint) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	if fp.Len() == 0 {
		return fmt.Errorf("%w: fingerprint must not be empty", ErrBadArgument)
	}
	se.fp = fp
	return nil
}

// SetQualityScores stores per reading scores for the whole mixed
// fingerprint; they are partitioned per pass at estimation time. Ignored
// (and read back as nil) unless at least one pass uses a guided method.
func (se *SequentialEstimator) SetQualityScores(scores []float64) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	if !se.rangingMethod.Guided() && !se.rssiMethod.Guided() {
		return nil
	}
	if se.fp.Len() == 0 {
		return fmt.Errorf("%w: set the fingerprint before its quality scores", ErrBadArgument)
	}
	if len(scores) != se.fp.Len() {
		return fmt.Errorf("%w: %d quality scores for %d readings", ErrBadArgument, len(scores), se.fp.Len())
	}
	for i, v := range scores {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: quality score %d out of [0,1]: %f", ErrBadArgument, i, v)
		}
	}
	se.scores = make([]float64, len(scores))
	copy(se.scores, scores)
	return nil
}

func (se *SequentialEstimator) SetListener(l *SequentialListener) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	se.listener = l
	return nil
}

func (se *SequentialEstimator) SetInitialPosition(p Point) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	if p == nil {
		se.initialPos = nil
		return nil
	}
	if !p.IsFinite() {
		return fmt.Errorf("%w: initial position must be finite", ErrBadArgument)
	}
	if d := se.Dims(); d > 0 && len(p) != d {
		return fmt.Errorf("%w: initial position is %dD, sources are %dD", ErrBadArgument, len(p), d)
	}
	se.initialPos = p.Clone()
	return nil
}

func (se *SequentialEstimator) SetConfidence(c float64) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	if c <= 0 || c >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %f", ErrBadArgument, c)
	}
	se.opt.Confidence = c
	return nil
}

func (se *SequentialEstimator) SetMaxIterations(n int) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrBadArgument, n)
	}
	se.opt.MaxIterations = n
	return nil
}

func (se *SequentialEstimator) SetThreshold(t float64) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	if t <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %f", ErrBadArgument, t)
	}
	se.opt.Threshold = t
	return nil
}

func (se *SequentialEstimator) SetSubsetSize(m int) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	if m != 0 && m < MIN_DIMENSIONS+1 {
		return fmt.Errorf("%w: subset size must be at least %d, got %d", ErrBadArgument, MIN_DIMENSIONS+1, m)
	}
	if d := se.Dims(); m != 0 && d > 0 && m < d+1 {
		return fmt.Errorf("%w: subset size %d below %d dimensions + 1", ErrBadArgument, m, d)
	}
	se.opt.SubsetSize = m
	return nil
}

func (se *SequentialEstimator) SetSeed(seed int64) error {
	if err := se.checkUnlocked(); err != nil {
		return err
	}
	se.opt.Seed = seed
	return nil
}

//-------------------------------------------------------------------
// Estimation
//-------------------------------------------------------------------

// Estimate runs the ranging pass then the RSSI pass and returns the final
// result. Same locking and listener contract as the unimodal estimator.
func (se *SequentialEstimator) Estimate() (*Result, error) {
	if se.locked {
		return nil, fmt.Errorf("%w: reentrant Estimate()", ErrLocked)
	}
	if !se.IsReady() {
		return nil, fmt.Errorf("%w: sources and a compatible mixed fingerprint are required", ErrNotReady)
	}

	se.locked = true
	se.lastProgress = 0
	defer func() { se.locked = false }()

	if l := se.listener; l != nil && l.OnEstimateStart != nil {
		l.OnEstimateStart(se)
	}
	result, err := se.run()
	if l := se.listener; l != nil && l.OnEstimateEnd != nil {
		l.OnEstimateEnd(se)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (se *SequentialEstimator) run() (*Result, error) {
	ranging, rssi, rangingIdx, rssiIdx := se.fp.Split()
	m := se.SubsetSize()
	runRanging := ranging.Len() >= m
	runRssi := rssi.Len() >= m
	phases := 0
	if runRanging {
		phases++
	}
	if runRssi {
		phases++
	}

	var rangingRes *Result
	phase := 0

	if runRanging {
		PrintD(2, "\n\t--- ranging pass (%s) ---\n", se.rangingMethod)
		est, err := se.buildSub(se.rangingMethod, ranging, rangingIdx, phase, phases)
		if err != nil {
			return nil, err
		}
		if err := est.SetInitialPosition(se.initialPos); err != nil {
			return nil, err
		}
		rangingRes, err = est.Estimate()
		if err != nil {
			if !runRssi {
				return nil, err
			}
			// The RSSI pass can still produce a result, just unseeded
			PrintD(2, "\tranging pass failed: %v\n", err)
		}
		phase++
	}

	if runRssi {
		PrintD(2, "\n\t--- rssi pass (%s) ---\n", se.rssiMethod)
		est, err := se.buildSub(se.rssiMethod, rssi, rssiIdx, phase, phases)
		if err != nil {
			return nil, err
		}
		// Seed the RSSI pass: converted RSSI distances are noisier, so its
		// preliminary solve starts from the ranging position when there is
		// one. Seeding implies the non-linear solver.
		subSeed := se.initialPos
		if rangingRes != nil {
			subSeed = rangingRes.Pos
		}
		if subSeed != nil {
			est.opt.UseLinearSolver = false
		}
		if err := est.SetInitialPosition(subSeed); err != nil {
			return nil, err
		}
		rssiRes, err := est.Estimate()
		if err != nil {
			if rangingRes != nil {
				// Best available result
				se.notifyProgress(1.0)
				return rangingRes, nil
			}
			return nil, err
		}
		if rssiRes.Cov == nil && rangingRes != nil && rangingRes.Cov != nil {
			rssiRes.Cov = rangingRes.Cov
		}
		se.notifyProgress(1.0)
		return rssiRes, nil
	}

	se.notifyProgress(1.0)
	return rangingRes, nil
}

// buildSub assembles one internally driven sub-estimator over a per kind
// fingerprint, wiring its notifications into the composite listener with
// pro-rated progress.
func (se *SequentialEstimator) buildSub(method Method, fp *Fingerprint, fpIdx []int, phase, phases int) (*Estimator, error) {
	opt := se.opt
	est, err := NewEstimator(method, &opt)
	if err != nil {
		return nil, err
	}
	if err := est.SetSources(se.sources); err != nil {
		return nil, err
	}
	if err := est.SetFingerprint(fp); err != nil {
		return nil, err
	}
	if method.Guided() && se.scores != nil {
		sub := make([]float64, len(fpIdx))
		for k, fi := range fpIdx {
			sub[k] = se.scores[fi]
		}
		if err := est.SetQualityScores(sub); err != nil {
			return nil, err
		}
	}
	err = est.SetListener(&Listener{
		OnNextIteration: func(_ *Estimator, iteration int) {
			if l := se.listener; l != nil && l.OnNextIteration != nil {
				l.OnNextIteration(se, iteration)
			}
		},
		OnProgress: func(_ *Estimator, p float64) {
			se.notifyProgress((float64(phase) + p) / float64(phases))
		},
	})
	if err != nil {
		return nil, err
	}
	return est, nil
}

func (se *SequentialEstimator) notifyProgress(p float64) {
	if p > 1 {
		p = 1
	}
	if p <= se.lastProgress {
		return
	}
	if p-se.lastProgress < se.opt.ProgressDelta && p < 1 {
		return
	}
	se.lastProgress = p
	if l := se.listener; l != nil && l.OnProgress != nil {
		l.OnProgress(se, p)
	}
}
