// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.23
//

package radiolat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

//-------------------------------------------------------------------
// Point
//-------------------------------------------------------------------

// Point is a 2D or 3D position. The estimator dimension is taken from the
// length of the source positions.
type Point []float64

func NewPoint2D(x, y float64) Point {
	return Point{x, y}
}

func NewPoint3D(x, y, z float64) Point {
	return Point{x, y, z}
}

// Euclidean distance to another point
func (p Point) Dist(q Point) float64 {
	s := 0.0
	for i := range p {
		s += SQ(p[i] - q[i])
	}
	return math.Sqrt(s)
}

// Squared norm
func (p Point) NormSq() float64 {
	s := 0.0
	for i := range p {
		s += SQ(p[i])
	}
	return s
}

func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	q := make(Point, len(p))
	copy(q, p)
	return q
}

// Check that all coordinates are finite
func (p Point) IsFinite() bool {
	for i := range p {
		if math.IsNaN(p[i]) || math.IsInf(p[i], 0) {
			return false
		}
	}
	return len(p) > 0
}

// Read from string like "1.0 2.0 3.0" (for command arguments)
func (p *Point) Set(s string) error {
	f := strings.Fields(s)
	if len(f) < MIN_DIMENSIONS || len(f) > MAX_DIMENSIONS {
		return fmt.Errorf("%w: a point needs %d to %d coordinates, got %d", ErrBadArgument, MIN_DIMENSIONS, MAX_DIMENSIONS, len(f))
	}
	q := make(Point, len(f))
	for i, a := range f {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return err
		}
		q[i] = v
	}
	*p = q
	return nil
}

// Convert to string
func (p Point) String() string {
	var sb strings.Builder
	for i, v := range p {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("%.4f", v))
	}
	return sb.String()
}
