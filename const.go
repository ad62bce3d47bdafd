// Copyright (c) 2026 the radiolat authors. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the authors.
// The authors accept no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.8.22
//

package radiolat

// Default estimation parameters. Estimators copy these at construction;
// nothing in the library reads them afterwards.
const (
	DEFAULT_CONFIDENCE     = 0.99 // Probability that at least one subset is outlier free
	DEFAULT_MAX_ITERATIONS = 5000 // Iteration budget for the robust sampler
	DEFAULT_THRESHOLD      = 1.0  // Residual threshold for RANSAC/MSAC/PROSAC [m]
	DEFAULT_PROGRESS_DELTA = 0.05 // Minimum progress change that fires a notification
	FALLBACK_DISTANCE_STD  = 1e-3 // Substitute standard deviation for readings/sources without one [m]
)

// Default log-distance path loss model parameters.
const (
	DEFAULT_TX_POWER      = -50.0 // Equivalent transmitted power at 1 m [dBm]
	DEFAULT_PATH_LOSS_EXP = 2.0   // Free space path loss exponent
	REFERENCE_DISTANCE    = 1.0   // Reference distance of the path loss model [m]
)

// Solver constants.
const (
	MAX_SOLVER_LOOP_COUNT = 50    // Maximum Gauss-Newton loops in preliminary solve and refinement
	SOLVER_CONVERGENCE    = 1e-10 // Position update norm below which the solver has converged [m]
	LMEDS_SIGMA_SCALE     = 1.4826
	LMEDS_INLIER_FACTOR   = 2.5 // Inlier band half width in robust sigmas
	MIN_DIMENSIONS        = 2
	MAX_DIMENSIONS        = 3
)
