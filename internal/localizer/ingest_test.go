package localizer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/mcl"
	"github.com/banshee-data/gridloc/internal/serialmux"
)

func TestIngest_AppliesMessages(t *testing.T) {
	g := roomGrid(t, 6)
	s, _, _ := newTestSupervisor(t, testSupervisorConfig(), g)

	odom, err := serialmux.EncodeOdometry(serialmux.OdometryMessage{StampNanos: epoch.UnixNano(), X: 1, Y: 2, QW: 1})
	require.NoError(t, err)
	scan, err := serialmux.EncodeScan(serialmux.ScanMessage{
		StampNanos: epoch.UnixNano(),
		AngleMin:   -1,
		AngleMax:   1,
		RangeMin:   0.1,
		RangeMax:   5,
		Ranges:     serialmux.RangePointers([]float64{1, math.Inf(1), 2}),
	})
	require.NoError(t, err)
	update := make([]int8, 36)
	update[7] = gridmap.CellOccupied
	mapLine, err := serialmux.EncodeMap(serialmux.MapMessage{Width: 6, Height: 6, Data: update})
	require.NoError(t, err)

	lines := make(chan string, 8)
	lines <- string(odom)
	lines <- "garbage"
	lines <- `{"type":"map","width":2,"height":2,"data":[0,0,0,0]}`
	lines <- string(scan)
	lines <- string(mapLine)
	close(lines)

	require.NoError(t, s.Ingest(context.Background(), lines))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotNil(t, s.odom)
	assert.Equal(t, 1.0, s.odom.X)
	assert.True(t, s.odom.Stamp.Equal(epoch))
	require.NotNil(t, s.scan)
	assert.True(t, math.IsInf(s.scan.Ranges[1], 1))
	assert.Equal(t, 1, s.mapVersion)
	assert.Equal(t, 1, s.grid.OccupiedCount())
}

func TestIngest_StopsOnCancel(t *testing.T) {
	s, _, _ := newTestSupervisor(t, testSupervisorConfig(), roomGrid(t, 6))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Ingest(ctx, make(chan string)) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Ingest did not return")
	}
}

func TestApply_Unknown(t *testing.T) {
	s, _, _ := newTestSupervisor(t, testSupervisorConfig(), roomGrid(t, 6))
	err := s.Apply(serialmux.Message{Type: serialmux.EventTypeUnknown})
	assert.True(t, errors.Is(err, serialmux.ErrUnknownMessage))
}

func TestOdometryFromMessage(t *testing.T) {
	q := mcl.QuaternionFromYaw(0.7)
	o := OdometryFromMessage(&serialmux.OdometryMessage{X: 1, Y: -1, Z: 0.2, QZ: q.Z, QW: q.W})
	assert.InDelta(t, 0.7, o.Pose().Yaw, 1e-9)
	assert.Equal(t, 0.2, o.Z)
}
