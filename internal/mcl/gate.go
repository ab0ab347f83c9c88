package mcl

// AccuracyGate decides from the mean per-particle error whether the current
// estimate is trustworthy, and owns the motion-noise scale fed back into
// the next prediction.
//
// An accurate cycle resets the scale to 1. After BoostAfter consecutive
// inaccurate cycles the scale is multiplied by IncreaseFactor, capped at
// MaxScale, and the run counter restarts. BoostAfter == 0 disables the boost
// and the scale stays at 1.
type AccuracyGate struct {
	Threshold      float64
	IncreaseFactor float64
	BoostAfter     int
	MaxScale       float64

	scale         float64
	inaccurateRun int
	lastMeanError float64
	lastAccurate  bool
}

// NewAccuracyGate creates a gate with a noise scale of 1.
func NewAccuracyGate(threshold, increaseFactor float64, boostAfter int, maxScale float64) *AccuracyGate {
	return &AccuracyGate{
		Threshold:      threshold,
		IncreaseFactor: increaseFactor,
		BoostAfter:     boostAfter,
		MaxScale:       maxScale,
		scale:          1,
	}
}

// Evaluate judges one update from the sum of particle errors.
func (g *AccuracyGate) Evaluate(errorSum float64, n int) bool {
	if n <= 0 {
		g.lastAccurate = false
		return false
	}
	g.lastMeanError = errorSum / float64(n)
	g.lastAccurate = g.lastMeanError < g.Threshold

	if g.lastAccurate {
		g.scale = 1
		g.inaccurateRun = 0
		return true
	}

	g.inaccurateRun++
	if g.BoostAfter > 0 && g.inaccurateRun >= g.BoostAfter {
		g.scale *= g.IncreaseFactor
		if g.MaxScale >= 1 && g.scale > g.MaxScale {
			g.scale = g.MaxScale
		}
		g.inaccurateRun = 0
	}
	return false
}

// NoiseScale returns the scale for the next prediction.
func (g *AccuracyGate) NoiseScale() float64 {
	return g.scale
}

// MeanError returns the mean error of the last evaluation.
func (g *AccuracyGate) MeanError() float64 {
	return g.lastMeanError
}

// Accurate returns the verdict of the last evaluation.
func (g *AccuracyGate) Accurate() bool {
	return g.lastAccurate
}
