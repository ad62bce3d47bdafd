// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.30
//

package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	m "radiolat"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		m.PrintE(err)
		flag.Usage()
		os.Exit(1)
	}

	// Run the main application
	if err := runApplication(args); err != nil {
		m.PrintE(err)
		os.Exit(1)
	}
}

// Main application processing
func runApplication(args cmdOpt) error {

	rng := rand.New(rand.NewSource(args.seed))

	// Prepare output file
	out, err := prepareOutput(args)
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}
	defer closeOutput(out)

	// Print header
	if !args.noHeader {
		printHeader(out, os.Args[0], args)
	}

	// Run trials
	return processTrials(args, rng, out)
}

// Prepare output file
func prepareOutput(args cmdOpt) (io.WriteCloser, error) {

	// Use stdout if no output file is specified
	if len(args.outFn) == 0 {
		return &nopCloser{os.Stdout}, nil
	}

	// Create output file
	f, err := os.Create(args.outFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

// Close output file
func closeOutput(out io.WriteCloser) {
	if out != nil {
		out.Close()
	}
}

// Run all simulation trials
func processTrials(args cmdOpt, rng *rand.Rand, out io.Writer) error {

	for trial := 0; trial < args.numTrials; trial++ {
		if err := processSingleTrial(args, trial, rng, out); err != nil {
			m.PrintA("trial %d failed: %s\n", trial, err.Error())
			continue
		}
	}

	return nil
}

// Run a single simulation trial
func processSingleTrial(args cmdOpt, trial int, rng *rand.Rand, out io.Writer) error {

	m.PrintD(2, "\n>>> trial %d\n", trial)

	// Generate the scene
	sources := makeSources(args, rng)
	truth := makeTruth(args, rng)
	fp, numOutliers := makeFingerprint(args, sources, truth, rng)

	if m.DBG_ >= 3 {
		m.PrintA("--- sources ---\n")
		for _, s := range sources {
			m.PrintA("\t%s: %s\n", s.ID, s.Pos)
		}
		m.PrintA("--- fingerprint (%d outliers) ---\n%s\n", numOutliers, fp)
	}

	// Estimate
	result, err := estimate(args, sources, fp, rng)
	if err != nil {
		return err
	}

	// Output results
	printResult(out, trial, truth, result, numOutliers)

	return nil
}

// Generate sources uniformly in the box [-size/2, size/2]^d
func makeSources(args cmdOpt, rng *rand.Rand) []m.Source {
	sources := make([]m.Source, args.numSources)
	for i := range sources {
		pos := make(m.Point, args.dims)
		for j := range pos {
			pos[j] = (rng.Float64() - 0.5) * args.boxSize
		}
		sources[i] = m.NewSource(fmt.Sprintf("S%03d", i), pos)
	}
	return sources
}

// Choose the true position, either the one given on the command line or a
// random one inside the box
func makeTruth(args cmdOpt, rng *rand.Rand) m.Point {
	if args.truth != nil {
		return args.truth
	}
	truth := make(m.Point, args.dims)
	for j := range truth {
		truth[j] = (rng.Float64() - 0.5) * args.boxSize
	}
	return truth
}

// Build one reading per source with gaussian noise, corrupting a fraction
// of them into gross outliers
func makeFingerprint(args cmdOpt, sources []m.Source, truth m.Point, rng *rand.Rand) (*m.Fingerprint, int) {

	fp := &m.Fingerprint{}
	numOutliers := 0

	for i := range sources {
		d := truth.Dist(sources[i].Pos)
		outlier := rng.Float64() < args.outlierRatio
		if outlier {
			numOutliers++
		}

		switch args.kind {
		case "ranging":
			dist := d + rng.NormFloat64()*args.rangeStd
			if outlier {
				dist += args.outlierMag * args.boxSize
			}
			fp.Add(m.NewRangingReading(sources[i].ID, math.Max(dist, 0), args.rangeStd))
		case "rssi":
			rssi := m.DistanceToRssi(d, m.DEFAULT_TX_POWER, args.pathLossExp) + rng.NormFloat64()*args.rssiStd
			if outlier {
				rssi -= args.outlierMag * 10
			}
			fp.Add(m.NewRssiReadingExt(sources[i].ID, rssi, args.rssiStd, m.DEFAULT_TX_POWER, args.pathLossExp))
		case "mixed":
			// Half ranging, half RSSI
			if i%2 == 0 {
				dist := d + rng.NormFloat64()*args.rangeStd
				if outlier {
					dist += args.outlierMag * args.boxSize
				}
				fp.Add(m.NewRangingReading(sources[i].ID, math.Max(dist, 0), args.rangeStd))
			} else {
				rssi := m.DistanceToRssi(d, m.DEFAULT_TX_POWER, args.pathLossExp) + rng.NormFloat64()*args.rssiStd
				if outlier {
					rssi -= args.outlierMag * 10
				}
				fp.Add(m.NewRssiReadingExt(sources[i].ID, rssi, args.rssiStd, m.DEFAULT_TX_POWER, args.pathLossExp))
			}
		}
	}

	return fp, numOutliers
}

// Run the estimator matching the reading kind
func estimate(args cmdOpt, sources []m.Source, fp *m.Fingerprint, rng *rand.Rand) (*m.Result, error) {

	opt := setEstimatorOpt(&args, rng)

	if args.kind == "mixed" {
		est, err := m.NewSequentialEstimator(args.method.Method(), args.method.Method(), opt)
		if err != nil {
			return nil, err
		}
		if err := est.SetSources(sources); err != nil {
			return nil, err
		}
		if err := est.SetFingerprint(fp); err != nil {
			return nil, err
		}
		if args.method.Method().Guided() {
			if err := est.SetQualityScores(makeScores(fp)); err != nil {
				return nil, err
			}
		}
		return est.Estimate()
	}

	est, err := m.NewEstimator(args.method.Method(), opt)
	if err != nil {
		return nil, err
	}
	if err := est.SetSources(sources); err != nil {
		return nil, err
	}
	if err := est.SetFingerprint(fp); err != nil {
		return nil, err
	}
	if args.method.Method().Guided() {
		if err := est.SetQualityScores(makeScores(fp)); err != nil {
			return nil, err
		}
	}
	return est.Estimate()
}

// Quality scores for the guided methods, derived from the reported standard
// deviations (tighter reading, higher score)
func makeScores(fp *m.Fingerprint) []float64 {
	scores := make([]float64, fp.Len())
	for i := 0; i < fp.Len(); i++ {
		r := fp.At(i)
		std := r.DistanceStd
		if !r.HasRanging() {
			std = r.RssiStd
		}
		scores[i] = 1.0 / (1.0 + std)
	}
	return scores
}

// nopCloser - WriteCloser that ignores close operations
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Structure to hold command line argument information
type cmdOpt struct {
	method       m.MethodVar
	kind         string
	dims         int
	numSources   int
	numTrials    int
	boxSize      float64
	rangeStd     float64
	rssiStd      float64
	pathLossExp  float64
	outlierRatio float64
	outlierMag   float64
	truth        m.Point
	threshold    float64
	confidence   float64
	maxIter      int
	noRefine     bool
	seed         int64
	outFn        string
	noHeader     bool
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		m.PrintA(`
[Usage]
	%s [Options]

Simulates radio sources in a box, corrupts a fraction of the readings and
compares the robustly estimated position against the true one.

[Options]
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	eOpt := m.NewEstimatorOpt()
	flag.Var(&a.method, "p", "Robust method. ransac, lmeds, msac, prosac, promeds")
	flag.StringVar(&a.kind, "k", "ranging", "Reading kind to simulate. ranging, rssi, mixed")
	flag.IntVar(&a.dims, "d", 2, "Number of dimensions, 2 or 3")
	flag.IntVar(&a.numSources, "n", 20, "Number of sources")
	flag.IntVar(&a.numTrials, "t", 1, "Number of trials")
	flag.Float64Var(&a.boxSize, "b", 100.0, "Side of the simulation box [m]")
	flag.Float64Var(&a.rangeStd, "sr", 0.1, "Ranging noise standard deviation [m]")
	flag.Float64Var(&a.rssiStd, "ss", 1.0, "RSSI noise standard deviation [dBm]")
	flag.Float64Var(&a.pathLossExp, "pl", m.DEFAULT_PATH_LOSS_EXP, "Path loss exponent")
	flag.Float64Var(&a.outlierRatio, "or", 0.2, "Fraction of readings corrupted into outliers")
	flag.Float64Var(&a.outlierMag, "om", 0.5, "Outlier magnitude, as a fraction of the box size")
	var truth m.Point
	flag.Var(&truth, "l", "True position. Enclose in quotes like -l \"10.0 -5.0\". Random inside the box if omitted.")
	flag.Float64Var(&a.threshold, "th", eOpt.Threshold, "Inlier residual threshold [m]")
	flag.Float64Var(&a.confidence, "c", eOpt.Confidence, "Confidence for the adaptive iteration bound")
	flag.IntVar(&a.maxIter, "i", eOpt.MaxIterations, "Maximum number of iterations")
	flag.BoolVar(&a.noRefine, "nr", false, "Skip the weighted least squares refinement step")
	flag.Int64Var(&a.seed, "s", 0, "Random seed. 0 seeds from the clock.")
	flag.StringVar(&a.outFn, "o", "", "Output file path. If not specified, output to stdout.")
	flag.BoolVar(&a.noHeader, "nh", false, "Do not output the header line.")
	var dbg int
	flag.IntVar(&dbg, "x", 0, "Debug information display. Specify level value. 0(OFF), 1(display), 2(detailed display), 3(more detailed), 4(most detailed)")
	flag.Parse()

	if a.dims < m.MIN_DIMENSIONS || a.dims > m.MAX_DIMENSIONS {
		return a, fmt.Errorf("dimensions must be 2 or 3")
	}
	switch a.kind {
	case "ranging", "rssi", "mixed":
	default:
		return a, fmt.Errorf("unknown reading kind %q", a.kind)
	}
	if a.numSources < a.dims+1 {
		return a, fmt.Errorf("at least %d sources are required in %dD", a.dims+1, a.dims)
	}
	if truth != nil {
		if len(truth) != a.dims {
			return a, fmt.Errorf("true position is %dD, simulation is %dD", len(truth), a.dims)
		}
		a.truth = truth
	}
	if a.seed == 0 {
		a.seed = time.Now().UnixNano()
	}
	m.DBG_ = dbg
	return
}

func setEstimatorOpt(args *cmdOpt, rng *rand.Rand) *m.EstimatorOpt {
	opt := m.NewEstimatorOpt()
	opt.Threshold = args.threshold
	opt.Confidence = args.confidence
	opt.MaxIterations = args.maxIter
	opt.Refine = !args.noRefine
	opt.Seed = rng.Int63()
	return opt
}

// Print output header
func printHeader(out io.Writer, cmd string, args cmdOpt) {
	fmt.Fprintf(out, "%% program : %s\n", filepath.Base(cmd))
	fmt.Fprintf(out, "%% method  : %s, kind: %s, sources: %d, outlier ratio: %.2f, seed: %d\n", args.method.Method(), args.kind, args.numSources, args.outlierRatio, args.seed)
	fmt.Fprintf(out, "%% trial         truth               estimate       err(m)  iter  inl  out\n")
}

// Output one trial result
func printResult(out io.Writer, trial int, truth m.Point, result *m.Result, numOutliers int) {
	fmt.Fprintf(out, "%5d  %s  %s  %10.4f %5d %4d %4d\n",
		trial, truth, result.Pos, truth.Dist(result.Pos), result.Iterations, result.Inliers.NumInliers, numOutliers)
}
