// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.25
//

package radiolat

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Solve the observation equation using weighted least squares
// - dx = (G^t W G)^-1 G^t W dr
// - Return the error covariance matrix (G^t W G)^-1 as cov
// A nil W solves the unweighted problem.
func SolveLS(G mat.Matrix, dr mat.Vector, W mat.Matrix) (dx mat.Vector, cov *mat.SymDense, err error) {

	n1, m1 := G.Dims()
	l1 := dr.Len()
	if n1 != l1 {
		return nil, nil, fmt.Errorf("invalid matrix size. G(%d x %d), dr(%d x 1)", n1, m1, l1)
	}
	if W != nil {
		n2, m2 := W.Dims()
		if n1 != n2 || n2 != m2 {
			return nil, nil, fmt.Errorf("invalid matrix size. G(%d x %d), W(%d x %d)", n1, m1, n2, m2)
		}
	}

	// A (G^t W G)
	var WG mat.Dense
	if W != nil {
		WG.Mul(W, G)
	} else {
		WG.CloneFrom(G)
	}
	var A mat.Dense
	A.Mul(G.T(), &WG)

	// b (G^t W dr)
	var b mat.VecDense
	b.MulVec(WG.T(), dr)

	// Solve for x (x = A^-1 b)
	var x mat.VecDense
	err = x.SolveVec(&A, &b)
	if err != nil {
		return nil, nil, err
	}
	dx = &x

	// Set (G^t W G)^-1 as the covariance matrix
	var c mat.Dense
	err = c.Inverse(&A)
	if err != nil {
		return nil, nil, err
	}
	cov = symmetrize(&c)

	return
}

// Copy a (numerically almost symmetric) square matrix into a SymDense,
// averaging the off diagonal pairs.
func symmetrize(c mat.Matrix) *mat.SymDense {
	n, _ := c.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(c.At(i, j)+c.At(j, i)))
		}
	}
	return s
}
