package localizer

import (
	"time"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/mcl"
)

// Frame is what the supervisor broadcasts on every tick.
type Frame struct {
	Stamp time.Time
	// Updated is set on ticks that ran a predict/update cycle; Step is only
	// meaningful then.
	Updated bool
	Step    mcl.StepResult

	Estimate mcl.Pose // last filter estimate, map frame
	Offset   mcl.Pose // map to odometry frame
	Pose     mcl.Pose // Offset composed with the latest odometry

	Origin     gridmap.Origin
	Particles  []mcl.Particle // grid frame
	MapVersion int
}

// ParticlePoses returns the particles moved into the map frame.
func (f *Frame) ParticlePoses() []mcl.Pose {
	out := make([]mcl.Pose, len(f.Particles))
	for i, p := range f.Particles {
		out[i] = mcl.Pose{X: p.X + f.Origin.X, Y: p.Y + f.Origin.Y, Yaw: p.Yaw + f.Origin.Yaw}
	}
	return out
}

// Publisher receives frames from the control loop. Publish must not block;
// slow consumers drop frames.
type Publisher interface {
	Publish(frame *Frame)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(frame *Frame)

func (f PublisherFunc) Publish(frame *Frame) { f(frame) }

// MultiPublisher fans a frame out to every publisher in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(frame *Frame) {
	for _, p := range m {
		if p != nil {
			p.Publish(frame)
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(*Frame) {}
