package posestream

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"tailscale.com/tsweb"

	"github.com/banshee-data/gridloc/internal/httputil"
	"github.com/banshee-data/gridloc/internal/localizer"
	"github.com/banshee-data/gridloc/internal/monitoring"
)

var logf = monitoring.Component("posestream")

// Config holds configuration for the pose stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxClients: 8,
	}
}

// Server fans localizer frames out to streaming gRPC clients. It
// implements localizer.Publisher.
type Server struct {
	config Config
	server *grpc.Server

	frameChan chan *localizer.Frame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	frameCount    atomic.Uint64
	droppedFrames atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var (
	_ localizer.Publisher = (*Server)(nil)
	_ PoseStreamServer    = (*Server)(nil)
)

type clientStream struct {
	id      string
	frameCh chan *localizer.Frame
}

// NewServer creates a Server with the given configuration.
func NewServer(cfg Config) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	return &Server{
		config:    cfg,
		frameChan: make(chan *localizer.Frame, 100),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("pose stream server already running")
	}
	s.server = grpc.NewServer()
	RegisterService(s.server, s)

	s.wg.Add(2)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	// Open streams only end when their context is cancelled.
	s.server.Stop()
	s.wg.Wait()
	logf("gRPC server stopped after %d frames (%d dropped)", s.frameCount.Load(), s.droppedFrames.Load())
}

// Publish queues a frame for all connected clients without blocking.
func (s *Server) Publish(frame *localizer.Frame) {
	if !s.running.Load() || frame == nil {
		return
	}
	select {
	case s.frameChan <- frame:
		s.frameCount.Add(1)
	default:
		if n := s.droppedFrames.Add(1); n%100 == 1 {
			logf("frame queue full, dropped %d frames so far", n)
		}
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case frame := <-s.frameChan:
			s.clientsMu.RLock()
			for _, c := range s.clients {
				select {
				case c.frameCh <- frame:
				default:
					s.droppedFrames.Add(1)
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}

func (s *Server) addClient() (*clientStream, error) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if len(s.clients) >= s.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "too many clients (max %d)", s.config.MaxClients)
	}
	c := &clientStream{
		id:      fmt.Sprintf("client-%d", s.nextID.Add(1)),
		frameCh: make(chan *localizer.Frame, 10),
	}
	s.clients[c.id] = c
	logf("client connected: %s (total: %d)", c.id, len(s.clients))
	return c, nil
}

func (s *Server) removeClient(id string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, id)
	logf("client disconnected: %s (remaining: %d)", id, len(s.clients))
}

// Subscribe implements PoseStreamServer.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	opts := OptionsFromRequest(req)
	c, err := s.addClient()
	if err != nil {
		return err
	}
	defer s.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return status.Error(codes.Unavailable, "server stopping")
		case frame := <-c.frameCh:
			msg, err := EncodeFrame(frame, opts)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Stats contains server statistics.
type Stats struct {
	FrameCount  uint64    `json:"frame_count"`
	Dropped     uint64    `json:"dropped"`
	ClientCount int       `json:"client_count"`
	Running     bool      `json:"running"`
	At          time.Time `json:"at"`
}

// Stats returns current server statistics.
func (s *Server) Stats() Stats {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()
	return Stats{
		FrameCount:  s.frameCount.Load(),
		Dropped:     s.droppedFrames.Load(),
		ClientCount: n,
		Running:     s.running.Load(),
		At:          time.Now(),
	}
}

// AttachAdminRoutes exposes Stats on the tsweb debug page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleFunc("posestream", "Pose stream clients and frame counts (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})
}
