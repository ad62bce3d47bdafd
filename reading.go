// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.25
//

package radiolat

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

//-------------------------------------------------------------------
// Source
//-------------------------------------------------------------------

// Source is a located radio source the receiver measures against. Sources
// are caller supplied and never mutated by the estimators.
type Source struct {
	ID  string        // Source identity such as a MAC address
	Pos Point         // Known position
	Cov *mat.SymDense // Optional position covariance (dims x dims)
}

func NewSource(id string, pos Point) Source {
	return Source{ID: id, Pos: pos.Clone()}
}

func NewSourceWithCov(id string, pos Point, cov *mat.SymDense) Source {
	return Source{ID: id, Pos: pos.Clone(), Cov: cov}
}

//-------------------------------------------------------------------
// Reading
//-------------------------------------------------------------------

// Kind of measurement carried by a reading
type ReadingKind int

const (
	RangingKind ReadingKind = iota
	RssiKind
	RangingAndRssiKind
)

func (k ReadingKind) String() string {
	switch k {
	case RangingKind:
		return "RANGING"
	case RssiKind:
		return "RSSI"
	case RangingAndRssiKind:
		return "RANGING+RSSI"
	default:
		return "UNKNOWN!"
	}
}

// Reading is one measurement of one source. Readings are immutable; the
// short constructors fill the path loss model fields with defaults.
type Reading struct {
	SourceID    string      // Source this reading was taken against
	Kind        ReadingKind // Measurement kind
	Distance    float64     // Measured distance [m] (ranging kinds)
	DistanceStd float64     // Distance standard deviation [m]
	Rssi        float64     // Received signal strength [dBm] (RSSI kinds)
	RssiStd     float64     // RSSI standard deviation [dBm]
	TxPower     float64     // Equivalent transmitted power at 1 m [dBm]
	PathLossExp float64     // Path loss exponent
}

func NewRangingReading(sourceID string, distance, std float64) Reading {
	return Reading{
		SourceID:    sourceID,
		Kind:        RangingKind,
		Distance:    distance,
		DistanceStd: std,
		TxPower:     DEFAULT_TX_POWER,
		PathLossExp: DEFAULT_PATH_LOSS_EXP,
	}
}

func NewRssiReading(sourceID string, rssi, std float64) Reading {
	return NewRssiReadingExt(sourceID, rssi, std, DEFAULT_TX_POWER, DEFAULT_PATH_LOSS_EXP)
}

// RSSI reading with an explicit path loss model
func NewRssiReadingExt(sourceID string, rssi, std, txPower, pathLossExp float64) Reading {
	return Reading{
		SourceID:    sourceID,
		Kind:        RssiKind,
		Rssi:        rssi,
		RssiStd:     std,
		TxPower:     txPower,
		PathLossExp: pathLossExp,
	}
}

func NewRangingAndRssiReading(sourceID string, distance, distanceStd, rssi, rssiStd float64) Reading {
	return Reading{
		SourceID:    sourceID,
		Kind:        RangingAndRssiKind,
		Distance:    distance,
		DistanceStd: distanceStd,
		Rssi:        rssi,
		RssiStd:     rssiStd,
		TxPower:     DEFAULT_TX_POWER,
		PathLossExp: DEFAULT_PATH_LOSS_EXP,
	}
}

// Whether the reading carries a distance measurement
func (r *Reading) HasRanging() bool {
	return r.Kind == RangingKind || r.Kind == RangingAndRssiKind
}

// Whether the reading carries a signal strength measurement
func (r *Reading) HasRssi() bool {
	return r.Kind == RssiKind || r.Kind == RangingAndRssiKind
}

//-------------------------------------------------------------------
// Fingerprint
//-------------------------------------------------------------------

// Fingerprint is the ordered collection of readings collected at one
// unknown position. It may hold several readings per source and mixed
// kinds. Caller created, never mutated by the estimators.
type Fingerprint struct {
	readings []Reading
}

func NewFingerprint(readings ...Reading) *Fingerprint {
	rs := make([]Reading, len(readings))
	copy(rs, readings)
	return &Fingerprint{readings: rs}
}

// Append a reading
func (p *Fingerprint) Add(readings ...Reading) {
	p.readings = append(p.readings, readings...)
}

// Number of readings
func (p *Fingerprint) Len() int {
	if p == nil {
		return 0
	}
	return len(p.readings)
}

// Reading at index i
func (p *Fingerprint) At(i int) Reading {
	return p.readings[i]
}

// Copy of all readings, in collection order
func (p *Fingerprint) Readings() []Reading {
	rs := make([]Reading, len(p.readings))
	copy(rs, p.readings)
	return rs
}

// Number of readings carrying a measurement of the given kind. Combined
// readings count toward both RangingKind and RssiKind.
func (p *Fingerprint) CountKind(kind ReadingKind) int {
	n := 0
	for i := range p.readings {
		r := &p.readings[i]
		switch kind {
		case RangingKind:
			if r.HasRanging() {
				n++
			}
		case RssiKind:
			if r.HasRssi() {
				n++
			}
		case RangingAndRssiKind:
			if r.Kind == RangingAndRssiKind {
				n++
			}
		}
	}
	return n
}

// Split partitions the fingerprint into a ranging only and an RSSI only
// fingerprint. Combined readings are duplicated into both. The returned
// index slices map each sub reading back to its position in the original
// fingerprint (used to partition quality scores).
func (p *Fingerprint) Split() (ranging, rssi *Fingerprint, rangingIdx, rssiIdx []int) {
	ranging = &Fingerprint{}
	rssi = &Fingerprint{}
	for i := range p.readings {
		r := p.readings[i]
		if r.HasRanging() {
			rd := r
			rd.Kind = RangingKind
			ranging.readings = append(ranging.readings, rd)
			rangingIdx = append(rangingIdx, i)
		}
		if r.HasRssi() {
			rd := r
			rd.Kind = RssiKind
			rssi.readings = append(rssi.readings, rd)
			rssiIdx = append(rssiIdx, i)
		}
	}
	return ranging, rssi, rangingIdx, rssiIdx
}

// Display fingerprint overview
func (p *Fingerprint) String() string {
	if p.Len() == 0 {
		return "NO READINGS"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("readings: %d (ranging: %d, rssi: %d)\n",
		p.Len(), p.CountKind(RangingKind), p.CountKind(RssiKind)))
	for i := range p.readings {
		r := &p.readings[i]
		switch r.Kind {
		case RangingKind:
			sb.WriteString(fmt.Sprintf("\t%s %s: d=%.3f (std=%.3f)\n", r.SourceID, r.Kind, r.Distance, r.DistanceStd))
		case RssiKind:
			sb.WriteString(fmt.Sprintf("\t%s %s: rssi=%.1f (std=%.1f)\n", r.SourceID, r.Kind, r.Rssi, r.RssiStd))
		case RangingAndRssiKind:
			sb.WriteString(fmt.Sprintf("\t%s %s: d=%.3f (std=%.3f), rssi=%.1f (std=%.1f)\n",
				r.SourceID, r.Kind, r.Distance, r.DistanceStd, r.Rssi, r.RssiStd))
		}
	}
	return sb.String()
}

//-------------------------------------------------------------------
// Estimation products
//-------------------------------------------------------------------

// Candidate is a tentative position together with the preliminary subset
// that produced it.
type Candidate struct {
	Pos    Point
	Subset []int // Reading indices of the preliminary subset
}

// InliersData is the final inlier/outlier partition of one estimate.
type InliersData struct {
	Inliers    []bool    // Per reading inlier flag, fingerprint order
	NumInliers int       // Number of set flags
	Residuals  []float64 // Per reading residual against the best candidate [m]
}

// Result of one successful estimate
type Result struct {
	Pos        Point
	Cov        *mat.SymDense // Position covariance; nil unless refinement kept it
	Inliers    *InliersData
	Iterations int  // Sampler iterations actually run
	Refined    bool // Whether the returned position went through refinement
}
