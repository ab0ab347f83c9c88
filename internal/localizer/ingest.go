package localizer

import (
	"context"
	"fmt"

	"github.com/banshee-data/gridloc/internal/mcl"
	"github.com/banshee-data/gridloc/internal/serialmux"
)

// ScanFromMessage converts a wire scan.
func ScanFromMessage(m *serialmux.ScanMessage) mcl.Scan {
	return mcl.Scan{
		Stamp:    m.Stamp(),
		AngleMin: m.AngleMin,
		AngleMax: m.AngleMax,
		RangeMin: m.RangeMin,
		RangeMax: m.RangeMax,
		Ranges:   m.RangeValues(),
	}
}

// OdometryFromMessage converts a wire odometry sample.
func OdometryFromMessage(m *serialmux.OdometryMessage) mcl.Odometry {
	return mcl.Odometry{
		Stamp:       m.Stamp(),
		X:           m.X,
		Y:           m.Y,
		Z:           m.Z,
		Orientation: mcl.Quaternion{X: m.QX, Y: m.QY, Z: m.QZ, W: m.QW},
	}
}

// Apply routes one decoded message to its handler.
func (s *Supervisor) Apply(msg serialmux.Message) error {
	switch {
	case msg.Odometry != nil:
		s.HandleOdometry(OdometryFromMessage(msg.Odometry))
		return nil
	case msg.Scan != nil:
		return s.HandleScan(ScanFromMessage(msg.Scan))
	case msg.Map != nil:
		return s.HandleMapUpdate(msg.Map.Width, msg.Map.Height, msg.Map.Data)
	}
	return fmt.Errorf("%w: %s", serialmux.ErrUnknownMessage, msg.Type)
}

// Ingest decodes lines from the base and applies them until lines is
// closed or ctx is done. Bad lines are logged and skipped.
func (s *Supervisor) Ingest(ctx context.Context, lines <-chan string) error {
	var bad int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			msg, err := serialmux.ParseMessage(line)
			if err == nil {
				err = s.Apply(msg)
			}
			if err != nil {
				bad++
				logf("dropped %s message (%d so far): %v", msg.Type, bad, err)
			}
		}
	}
}
