// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.22
//

package radiolat

import "errors"

// Error taxonomy. All errors returned by the library wrap one of these
// sentinels, so callers can classify failures with errors.Is.
var (
	// ErrBadArgument reports an invalid configuration value. The estimator
	// state is unchanged after the failed call.
	ErrBadArgument = errors.New("invalid argument")

	// ErrNotReady reports Estimate() called before sources and a compatible
	// fingerprint have been supplied.
	ErrNotReady = errors.New("estimator not ready")

	// ErrLocked reports a mutator (or a reentrant Estimate()) called while
	// an estimation is in progress.
	ErrLocked = errors.New("estimation in progress")

	// ErrEstimation reports that the robust sampler exhausted its iteration
	// budget without a usable candidate, or that the preliminary solver hit
	// degenerate geometry. This is the one failure that can occur with
	// well formed inputs; callers may retry with relaxed parameters.
	ErrEstimation = errors.New("estimation failed")
)
