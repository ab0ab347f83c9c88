package mcl

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// MotionModel moves every particle by a shared RelativeMotion plus
// per-particle Gaussian noise whose spread grows with the size of the motion.
type MotionModel struct {
	TranslationStdDev float64
	OrientationStdDev float64

	unit distuv.Normal
}

// NewMotionModel creates a motion model drawing noise from rng.
func NewMotionModel(translationStdDev, orientationStdDev float64, rng *rand.Rand) *MotionModel {
	return &MotionModel{
		TranslationStdDev: translationStdDev,
		OrientationStdDev: orientationStdDev,
		unit:              distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}
}

// Predict applies delta to every particle. noiseScale multiplies both noise
// terms; it is the adaptive scale fed back by the AccuracyGate.
func (m *MotionModel) Predict(pop *Population, delta RelativeMotion, noiseScale float64) {
	transSigma := m.TranslationStdDev * (math.Abs(delta.DX) + math.Abs(delta.DY)) * noiseScale
	yawSigma := m.OrientationStdDev * math.Abs(delta.DYaw) * noiseScale

	for i := range pop.Particles {
		p := &pop.Particles[i]
		var nx, ny, nyaw float64
		if transSigma > 0 {
			nx = m.unit.Rand() * transSigma
			ny = m.unit.Rand() * transSigma
		}
		if yawSigma > 0 {
			nyaw = m.unit.Rand() * yawSigma
		}
		p.X += delta.DX + nx
		p.Y += delta.DY + ny
		p.Yaw = WrapAngle(p.Yaw + delta.DYaw + nyaw)
	}
}

// OdometryNoise perturbs differenced odometry in proportion to each
// component's magnitude. It is used when odometry noise injection is on.
type OdometryNoise struct {
	Fraction float64

	unit distuv.Normal
}

// NewOdometryNoise creates an injector drawing from rng.
func NewOdometryNoise(fraction float64, rng *rand.Rand) *OdometryNoise {
	return &OdometryNoise{
		Fraction: fraction,
		unit:     distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}
}

// Apply returns delta with noise added.
func (n *OdometryNoise) Apply(delta RelativeMotion) RelativeMotion {
	return RelativeMotion{
		DX:   delta.DX + n.unit.Rand()*n.Fraction*math.Abs(delta.DX),
		DY:   delta.DY + n.unit.Rand()*n.Fraction*math.Abs(delta.DY),
		DYaw: delta.DYaw + n.unit.Rand()*n.Fraction*math.Abs(delta.DYaw),
	}
}
