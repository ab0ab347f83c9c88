// Package mcl implements Monte Carlo Localisation over an occupancy grid.
//
// A Filter owns a fixed-size particle Population and runs one cycle per
// Step: predict every particle with a shared RelativeMotion plus Gaussian
// noise (MotionModel), weigh each particle by ray casting a subsampled scan
// against the grid (SensorModel), extract a weighted-mean pose, gate the
// result on mean error (AccuracyGate) and resample in proportion to weight.
//
// All randomness comes from the *rand.Rand handed to NewFilter, so runs are
// reproducible for a fixed seed.
package mcl
