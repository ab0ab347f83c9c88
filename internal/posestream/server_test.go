package posestream

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/localizer"
	"github.com/banshee-data/gridloc/internal/mcl"
	"github.com/banshee-data/gridloc/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func startServer(t *testing.T, cfg Config) (*Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(cfg)
	require.NoError(t, srv.Serve(lis))
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func waitClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Stats().ClientCount == n }, 2*time.Second, 5*time.Millisecond)
}

func testFrame(n int) *localizer.Frame {
	f := &localizer.Frame{
		Stamp:    time.Unix(100, 0),
		Updated:  true,
		Step:     mcl.StepResult{Cycle: 3, MeanError: 1.5, Accurate: true, NoiseScale: 1},
		Estimate: mcl.Pose{X: 1, Y: 2, Yaw: 0.5},
		Offset:   mcl.Pose{X: 0.1},
		Pose:     mcl.Pose{X: 1.2, Y: 2, Yaw: 0.5},
		Origin:   gridmap.Origin{X: 10},
	}
	for i := 0; i < n; i++ {
		f.Particles = append(f.Particles, mcl.Particle{ID: i, X: float64(i)})
	}
	return f
}

func TestSubscribe_ReceivesFrames(t *testing.T) {
	srv, conn := startServer(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := structpb.NewStruct(map[string]interface{}{"max_particles": 4})
	stream, err := Subscribe(ctx, conn, req)
	require.NoError(t, err)
	waitClients(t, srv, 1)

	srv.Publish(testFrame(10))

	msg, err := stream.Recv()
	require.NoError(t, err)

	pose, ok := DecodePose(msg, "pose")
	require.True(t, ok)
	assert.Equal(t, mcl.Pose{X: 1.2, Y: 2, Yaw: 0.5}, pose)
	assert.Equal(t, 3.0, msg.GetFields()["cycle"].GetNumberValue())
	assert.True(t, msg.GetFields()["accurate"].GetBoolValue())

	particles := msg.GetFields()["particles"].GetListValue().GetValues()
	// Stride 3 over 10 particles.
	require.Len(t, particles, 4)
	first := particles[1].GetListValue().GetValues()
	assert.Equal(t, 13.0, first[0].GetNumberValue(), "particles are in the map frame")
}

func TestSubscribe_WithoutParticles(t *testing.T) {
	srv, conn := startServer(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := structpb.NewStruct(map[string]interface{}{"particles": false})
	stream, err := Subscribe(ctx, conn, req)
	require.NoError(t, err)
	waitClients(t, srv, 1)

	srv.Publish(testFrame(5))
	msg, err := stream.Recv()
	require.NoError(t, err)
	_, has := msg.GetFields()["particles"]
	assert.False(t, has)
}

func TestSubscribe_MaxClients(t *testing.T) {
	srv, conn := startServer(t, Config{MaxClients: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Subscribe(ctx, conn, nil)
	require.NoError(t, err)
	waitClients(t, srv, 1)

	second, err := Subscribe(ctx, conn, nil)
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestSubscribe_ClientCancelRemovesClient(t *testing.T) {
	srv, conn := startServer(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Subscribe(ctx, conn, nil)
	require.NoError(t, err)
	waitClients(t, srv, 1)
	cancel()
	waitClients(t, srv, 0)
}

func TestPublish_NotRunning(t *testing.T) {
	srv := NewServer(DefaultConfig())
	srv.Publish(testFrame(1))
	assert.Equal(t, uint64(0), srv.Stats().FrameCount)
	// Stop before start is a no-op.
	srv.Stop()
}

func TestServe_Twice(t *testing.T) {
	srv, _ := startServer(t, DefaultConfig())
	assert.Error(t, srv.Serve(bufconn.Listen(1024)))
}

func TestAdminRoutes_Stats(t *testing.T) {
	srv := NewServer(DefaultConfig())
	mux := http.NewServeMux()
	srv.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/posestream", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var st Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Zero(t, st.ClientCount)
}
