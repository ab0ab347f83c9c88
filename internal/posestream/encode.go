package posestream

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/gridloc/internal/localizer"
	"github.com/banshee-data/gridloc/internal/mcl"
)

// Options select what a subscriber receives.
type Options struct {
	Particles    bool
	MaxParticles int
}

// DefaultMaxParticles caps the markers sent per frame.
const DefaultMaxParticles = 500

// OptionsFromRequest reads subscriber options from a request.
func OptionsFromRequest(req *structpb.Struct) Options {
	opts := Options{Particles: true, MaxParticles: DefaultMaxParticles}
	if req == nil {
		return opts
	}
	f := req.GetFields()
	if v, ok := f["particles"]; ok {
		opts.Particles = v.GetBoolValue()
	}
	if v, ok := f["max_particles"]; ok && v.GetNumberValue() > 0 {
		opts.MaxParticles = int(v.GetNumberValue())
	}
	return opts
}

func poseValue(p mcl.Pose) map[string]interface{} {
	return map[string]interface{}{"x": p.X, "y": p.Y, "yaw": p.Yaw}
}

// EncodeFrame renders a frame as a Struct. Particles are in the map frame
// as [x, y, yaw] triples, decimated evenly down to opts.MaxParticles.
func EncodeFrame(f *localizer.Frame, opts Options) (*structpb.Struct, error) {
	m := map[string]interface{}{
		"stamp_ns":    f.Stamp.UnixNano(),
		"updated":     f.Updated,
		"pose":        poseValue(f.Pose),
		"estimate":    poseValue(f.Estimate),
		"transform":   poseValue(f.Offset),
		"map_version": f.MapVersion,
	}
	if f.Updated {
		m["cycle"] = f.Step.Cycle
		m["mean_error"] = f.Step.MeanError
		m["accurate"] = f.Step.Accurate
		m["degenerate"] = f.Step.Degenerate
		m["noise_scale"] = f.Step.NoiseScale
	}
	if opts.Particles && len(f.Particles) > 0 {
		poses := f.ParticlePoses()
		stride := 1
		if opts.MaxParticles > 0 && len(poses) > opts.MaxParticles {
			stride = (len(poses) + opts.MaxParticles - 1) / opts.MaxParticles
		}
		list := make([]interface{}, 0, len(poses)/stride+1)
		for i := 0; i < len(poses); i += stride {
			p := poses[i]
			list = append(list, []interface{}{p.X, p.Y, p.Yaw})
		}
		m["particles"] = list
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return s, nil
}

// DecodePose reads a pose field written by EncodeFrame.
func DecodePose(s *structpb.Struct, field string) (mcl.Pose, bool) {
	v, ok := s.GetFields()[field]
	if !ok {
		return mcl.Pose{}, false
	}
	f := v.GetStructValue().GetFields()
	return mcl.Pose{
		X:   f["x"].GetNumberValue(),
		Y:   f["y"].GetNumberValue(),
		Yaw: f["yaw"].GetNumberValue(),
	}, true
}
