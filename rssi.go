// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.25
//

// Log-distance path loss model used to turn RSSI readings into distances.

package radiolat

import "math"

// RssiToDistance converts a received signal strength [dBm] into a distance
// [m] with the log-distance model:
//
//	rssi = txPower - 10 n log10(d / d0)
func RssiToDistance(rssi, txPower, pathLossExp float64) float64 {
	if pathLossExp <= 0 {
		pathLossExp = DEFAULT_PATH_LOSS_EXP
	}
	return REFERENCE_DISTANCE * math.Pow(10.0, (txPower-rssi)/(10.0*pathLossExp))
}

// DistanceToRssi is the inverse of RssiToDistance (simulation and tests).
func DistanceToRssi(distance, txPower, pathLossExp float64) float64 {
	if pathLossExp <= 0 {
		pathLossExp = DEFAULT_PATH_LOSS_EXP
	}
	if distance < REFERENCE_DISTANCE {
		distance = REFERENCE_DISTANCE
	}
	return txPower - 10.0*pathLossExp*math.Log10(distance/REFERENCE_DISTANCE)
}

// RssiDistanceStd propagates the RSSI standard deviation [dBm] into a
// distance standard deviation [m] to first order:
//
//	d(d)/d(rssi) = -d ln(10) / (10 n)
func RssiDistanceStd(distance, rssiStd, pathLossExp float64) float64 {
	if pathLossExp <= 0 {
		pathLossExp = DEFAULT_PATH_LOSS_EXP
	}
	std := distance * math.Ln10 / (10.0 * pathLossExp) * rssiStd
	if std < FALLBACK_DISTANCE_STD {
		std = FALLBACK_DISTANCE_STD
	}
	return std
}
