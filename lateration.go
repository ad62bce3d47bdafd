// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.26
//

// Implements the preliminary lateration solver: a deterministic solve of one
// minimal reading subset into one candidate position. The robust sampler
// calls it many times per estimate, so it allocates little and never mutates
// its inputs.

package radiolat

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LatOpt contains options for the preliminary lateration solve
type LatOpt struct {
	UseLinear   bool    // Solve the linearised system; otherwise Gauss-Newton
	Homogeneous bool    // Homogeneous parameterisation of the linear solve
	InitialPos  Point   // Seed of the non-linear solve; nil uses the anchor centroid
	MaxLoop     int     // Maximum Gauss-Newton loops
	Convergence float64 // Update norm below which the solve has converged [m]
}

// NewLatOpt creates a LatOpt with default values
func NewLatOpt() *LatOpt {
	return &LatOpt{
		UseLinear:   true,
		Homogeneous: false,
		InitialPos:  nil,
		MaxLoop:     MAX_SOLVER_LOOP_COUNT,
		Convergence: SOLVER_CONVERGENCE,
	}
}

// SolveLateration computes a position from anchor positions and measured
// distances. All positions must share one dimension and there must be at
// least dims+1 anchors. Degenerate geometry (collinear or coincident
// anchors) fails with an error wrapping ErrEstimation.
func SolveLateration(positions []Point, distances []float64, opt *LatOpt) (Point, error) {
	if opt == nil {
		opt = NewLatOpt()
	}
	if err := checkLaterationInputs(positions, distances); err != nil {
		return nil, err
	}

	if opt.UseLinear {
		var p Point
		var err error
		if opt.Homogeneous {
			p, err = solveLinearHom(positions, distances)
		} else {
			p, err = solveLinearInhom(positions, distances)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
		}
		return p, nil
	}

	seed := opt.InitialPos
	if seed == nil {
		seed = centroid(positions)
	}
	p, _, err := gaussNewton(seed, positions, distances, nil, opt.MaxLoop, opt.Convergence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
	}
	return p, nil
}

func checkLaterationInputs(positions []Point, distances []float64) error {
	if len(positions) == 0 || len(positions) != len(distances) {
		return fmt.Errorf("%w: %d positions, %d distances", ErrBadArgument, len(positions), len(distances))
	}
	d := len(positions[0])
	if d < MIN_DIMENSIONS || d > MAX_DIMENSIONS {
		return fmt.Errorf("%w: unsupported dimension %d", ErrBadArgument, d)
	}
	for i := range positions {
		if len(positions[i]) != d {
			return fmt.Errorf("%w: mixed dimensions (%d and %d)", ErrBadArgument, d, len(positions[i]))
		}
	}
	if len(positions) < d+1 {
		return fmt.Errorf("%w: %d anchors, need at least %d", ErrBadArgument, len(positions), d+1)
	}
	return nil
}

func centroid(positions []Point) Point {
	d := len(positions[0])
	c := make(Point, d)
	for i := range positions {
		for j := 0; j < d; j++ {
			c[j] += positions[i][j]
		}
	}
	for j := 0; j < d; j++ {
		c[j] /= float64(len(positions))
	}
	return c
}

// Build the linearised system against the last anchor as reference:
//
//	2 (p_ref - p_i) . x = d_i^2 - d_ref^2 - |p_i|^2 + |p_ref|^2
func laterationSystem(positions []Point, distances []float64) (*mat.Dense, *mat.VecDense) {
	n := len(positions)
	d := len(positions[0])
	ref := positions[n-1]
	refNormSq := ref.NormSq()
	refDistSq := SQ(distances[n-1])

	G := mat.NewDense(n-1, d, nil)
	dr := mat.NewVecDense(n-1, nil)
	for i := 0; i < n-1; i++ {
		for j := 0; j < d; j++ {
			G.Set(i, j, 2.0*(ref[j]-positions[i][j]))
		}
		dr.SetVec(i, SQ(distances[i])-refDistSq-positions[i].NormSq()+refNormSq)
	}
	return G, dr
}

// Inhomogeneous linear solve (least squares via QR)
func solveLinearInhom(positions []Point, distances []float64) (Point, error) {
	G, dr := laterationSystem(positions, distances)
	d := len(positions[0])

	var qr mat.QR
	qr.Factorize(G)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, dr); err != nil {
		return nil, fmt.Errorf("degenerate geometry: %v", err)
	}

	p := make(Point, d)
	for j := 0; j < d; j++ {
		p[j] = x.AtVec(j)
	}
	if !p.IsFinite() {
		return nil, fmt.Errorf("degenerate geometry: non finite solution")
	}
	return p, nil
}

// Homogeneous linear solve: append the right hand side as one more column
// and take the null vector [x; -1] (up to scale) from the SVD.
func solveLinearHom(positions []Point, distances []float64) (Point, error) {
	G, dr := laterationSystem(positions, distances)
	n, d := G.Dims()

	M := mat.NewDense(n, d+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			M.Set(i, j, G.At(i, j))
		}
		M.Set(i, d, dr.AtVec(i))
	}

	var svd mat.SVD
	if ok := svd.Factorize(M, mat.SVDFull); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}
	var V mat.Dense
	svd.VTo(&V)

	// Null vector is the right singular vector of the smallest singular value
	scale := V.At(d, d)
	if math.Abs(scale) < 1e-12 {
		return nil, fmt.Errorf("degenerate geometry: solution at infinity")
	}
	p := make(Point, d)
	for j := 0; j < d; j++ {
		p[j] = -V.At(j, d) / scale
	}
	if !p.IsFinite() {
		return nil, fmt.Errorf("degenerate geometry: non finite solution")
	}
	return p, nil
}

// Iteratively solve the (optionally weighted) non-linear lateration problem
// by Gauss-Newton, returning the position and the covariance of the last
// solve, (G^t W G)^-1. Errors when the normal equations go singular or the
// loop budget runs out before convergence.
func gaussNewton(seed Point, positions []Point, distances, weights []float64, maxLoop int, convergence float64) (Point, *mat.SymDense, error) {
	n := len(positions)
	d := len(seed)
	if n < d {
		return nil, nil, fmt.Errorf("not enough equations: %d < %d", n, d)
	}

	x := seed.Clone()
	var cov *mat.SymDense

	// Design matrix and residual vector are rebuilt every loop
	G := mat.NewDense(n, d, nil)
	dr := mat.NewVecDense(n, nil)
	var W mat.Matrix
	if weights != nil {
		W = mat.NewDiagDense(n, weights)
	}

	for loop := 0; loop < maxLoop; loop++ {
		for i := 0; i < n; i++ {
			ri := x.Dist(positions[i])
			if ri < 1e-12 {
				ri = 1e-12
			}
			for j := 0; j < d; j++ {
				G.Set(i, j, (x[j]-positions[i][j])/ri)
			}
			dr.SetVec(i, distances[i]-x.Dist(positions[i]))
		}

		dx, c, err := SolveLS(G, dr, W)
		if err != nil {
			return nil, nil, err
		}
		cov = c

		s := 0.0
		for j := 0; j < d; j++ {
			x[j] += dx.AtVec(j)
			s += SQ(dx.AtVec(j))
		}
		PrintD(4, "\tGN loop %d: |dx|=%g\n", loop+1, math.Sqrt(s))

		// Check convergence
		if math.Sqrt(s) < convergence {
			if !x.IsFinite() {
				return nil, nil, fmt.Errorf("non finite solution")
			}
			return x, cov, nil
		}
	}
	return nil, nil, fmt.Errorf("number of loop reached max")
}
