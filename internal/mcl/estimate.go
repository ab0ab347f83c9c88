package mcl

import (
	"math"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EstimatePose returns the weighted mean pose of pop in the map frame,
// moved back from the sensor mount to the robot's rotation centre by
// sensorOffset metres along the estimated heading.
//
// Must be called with the weights of the current update, before
// resampling. Yaw is a linear weighted sum wrapped into (-π, π]; this is only correct while the
// particle yaws are clustered away from ±π (see CircularYaw).
func EstimatePose(pop *Population, origin gridmap.Origin, sensorOffset float64) Pose {
	var est Pose
	if pop.Len() == 0 {
		return est
	}
	total := floats.Sum(pop.Weights)
	if total <= 0 {
		total = 1
	}
	for i, p := range pop.Particles {
		w := pop.Weights[i] / total
		est.X += w * (p.X + origin.X)
		est.Y += w * (p.Y + origin.Y)
		est.Yaw += w * (p.Yaw + origin.Yaw)
	}
	est.Yaw = NormalizeAngle(est.Yaw)
	est.X -= sensorOffset * math.Cos(est.Yaw)
	est.Y -= sensorOffset * math.Sin(est.Yaw)
	return est
}

// CircularYaw is the weighted circular mean of the particle yaws in the
// grid frame. It is reported alongside the linear estimate as a diagnostic.
func CircularYaw(pop *Population) float64 {
	if pop.Len() == 0 {
		return 0
	}
	yaws := make([]float64, pop.Len())
	for i, p := range pop.Particles {
		yaws[i] = p.Yaw
	}
	return stat.CircularMean(yaws, pop.Weights)
}
