package localizer

import (
	"github.com/banshee-data/gridloc/internal/config"
	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/mcl"
)

// ConfigFromSettings builds the supervisor configuration from a loaded
// localization config. The spawn point is given in the map frame and is
// moved into g's grid frame.
func ConfigFromSettings(c *config.LocalizationConfig, g *gridmap.Grid) Config {
	sx, sy, _ := g.MapToGrid(c.GetSpawnX(), c.GetSpawnY(), 0)

	mode := mcl.SeedUniformFreeSpace
	if c.GetSeedMode() == config.SeedModeSpawn {
		mode = mcl.SeedSpawnRegion
	}

	return Config{
		Filter: mcl.Config{
			Particles:          c.GetParticleCount(),
			EvalBeams:          c.GetEvalBeams(),
			TranslationStdDev:  c.GetTranslationStdDev(),
			OrientationStdDev:  c.GetOrientationStdDev(),
			SensorOffset:       c.GetSensorOffsetM(),
			AccuracyThreshold:  c.GetAccuracyThreshold(),
			IncreaseFactor:     c.GetNoiseScaleIncreaseFactor(),
			BoostAfter:         c.GetInaccurateCyclesBeforeBoost(),
			MaxNoiseScale:      c.GetMaxNoiseScale(),
			SeedMode:           mode,
			Spawn:              mcl.Pose{X: sx, Y: sy},
			SpawnRadius:        c.GetSpawnRadiusM(),
			ReseedOnDegenerate: c.GetReseedOnDegenerate(),
		},
		UpdateRate:         c.GetUpdateRate(),
		BroadcastPeriod:    c.GetBroadcastPeriod(),
		OdomNoise:          c.GetOdomNoise(),
		OdomNoiseFraction:  c.GetOdomNoiseFraction(),
		MaxOdometryHistory: c.GetMaxOdometryHistory(),
		Seed:               c.GetRandomSeed(),
	}
}
