package store

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/gridloc/internal/localizer"
)

const defaultRecorderQueue = 256

// Recorder writes the estimate of every updated frame to the store. It
// implements localizer.Publisher; writes happen on the Run goroutine so
// Publish never waits on the database.
type Recorder struct {
	store   *Store
	runID   string
	queue   chan Estimate
	dropped atomic.Int64
	written atomic.Int64
}

// NewRecorder records into an existing run. queue <= 0 uses a default.
func NewRecorder(s *Store, runID string, queue int) *Recorder {
	if queue <= 0 {
		queue = defaultRecorderQueue
	}
	return &Recorder{store: s, runID: runID, queue: make(chan Estimate, queue)}
}

// RunID is the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// Publish queues the frame's estimate. Frames without a cycle are ignored.
func (r *Recorder) Publish(frame *localizer.Frame) {
	if frame == nil || !frame.Updated {
		return
	}
	e := EstimateFromFrame(r.runID, frame)
	select {
	case r.queue <- e:
	default:
		if r.dropped.Add(1)%100 == 1 {
			logf("recorder queue full, dropped %d estimates", r.dropped.Load())
		}
	}
}

// Run drains the queue until ctx is done, then flushes whatever is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (r *Recorder) write(e Estimate) {
	if err := r.store.RecordEstimate(e); err != nil {
		logf("record cycle %d: %v", e.Cycle, err)
		return
	}
	r.written.Add(1)
}

// Stats reports how many estimates were written and dropped.
func (r *Recorder) Stats() (written, dropped int64) {
	return r.written.Load(), r.dropped.Load()
}

// EstimateFromFrame flattens an updated frame into a row.
func EstimateFromFrame(runID string, f *localizer.Frame) Estimate {
	return Estimate{
		RunID:      runID,
		Cycle:      f.Step.Cycle,
		Stamp:      f.Stamp,
		X:          f.Step.Estimate.X,
		Y:          f.Step.Estimate.Y,
		Yaw:        f.Step.Estimate.Yaw,
		ErrorSum:   f.Step.ErrorSum,
		MeanError:  f.Step.MeanError,
		Accurate:   f.Step.Accurate,
		Degenerate: f.Step.Degenerate,
		Reseeded:   f.Step.Reseeded,
		NoiseScale: f.Step.NoiseScale,
		MapVersion: f.MapVersion,
	}
}
