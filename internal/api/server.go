package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gridloc/internal/config"
	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/httputil"
	"github.com/banshee-data/gridloc/internal/localizer"
	"github.com/banshee-data/gridloc/internal/serialmux"
	"github.com/banshee-data/gridloc/internal/store"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxMapBody bounds POST /api/map bodies.
const maxMapBody = 64 << 20

// Localizer is the part of the supervisor the API talks to.
type Localizer interface {
	Status() localizer.Status
	Grid() *gridmap.Grid
	HandleMapUpdate(width, height int, raw []int8) error
}

type Server struct {
	m     serialmux.SerialMuxInterface
	loc   Localizer
	cfg   *config.LocalizationConfig
	store *store.Store
}

// NewServer wires the API. st may be nil when pose logging is off.
func NewServer(m serialmux.SerialMuxInterface, loc Localizer, cfg *config.LocalizationConfig, st *store.Store) *Server {
	return &Server{
		m:     m,
		loc:   loc,
		cfg:   cfg,
		store: st,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/pose", s.showPose)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/map", s.handleMap)
	mux.HandleFunc("/api/runs", s.listRuns)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

type poseResponse struct {
	State     localizer.State `json:"state"`
	Pose      poseJSON        `json:"pose"`
	Estimate  poseJSON        `json:"estimate"`
	Offset    poseJSON        `json:"offset"`
	Accurate  bool            `json:"accurate"`
	Cycles    int             `json:"cycles"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type poseJSON struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Yaw    float64 `json:"yaw"`
	YawDeg float64 `json:"yaw_deg"`
}

func (s *Server) showPose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := s.loc.Status()
	if st.State == localizer.AwaitingFirstOdometry {
		httputil.Unavailable(w, "no odometry received yet")
		return
	}
	conv := func(x, y, yaw float64) poseJSON {
		return poseJSON{X: x, Y: y, Yaw: yaw, YawDeg: yaw * 180 / math.Pi}
	}
	httputil.WriteJSONOK(w, poseResponse{
		State:     st.State,
		Pose:      conv(st.Pose.X, st.Pose.Y, st.Pose.Yaw),
		Estimate:  conv(st.Estimate.X, st.Estimate.Y, st.Estimate.Yaw),
		Offset:    conv(st.Offset.X, st.Offset.Y, st.Offset.Yaw),
		Accurate:  st.Accurate,
		Cycles:    st.Cycles,
		UpdatedAt: st.UpdatedAt,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg == nil {
		httputil.NotFound(w, "no configuration loaded")
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

type mapResponse struct {
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Resolution float64        `json:"resolution"`
	Origin     gridmap.Origin `json:"origin"`
	Data       []int8         `json:"data,omitempty"`
}

type mapUpdate struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []int8 `json:"data"`
}

// handleMap serves the current grid on GET (add ?data=1 for the cells)
// and applies an occupancy update on POST.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g := s.loc.Grid()
		if g == nil {
			httputil.NotFound(w, "no map loaded")
			return
		}
		resp := mapResponse{Width: g.Width, Height: g.Height, Resolution: g.Resolution, Origin: g.Origin}
		if r.URL.Query().Get("data") != "" {
			resp.Data = g.Cells
		}
		httputil.WriteJSONOK(w, resp)
	case http.MethodPost:
		var upd mapUpdate
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMapBody))
		if err := dec.Decode(&upd); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid map update: %v", err))
			return
		}
		if err := s.loc.HandleMapUpdate(upd.Width, upd.Height, upd.Data); err != nil {
			if errors.Is(err, gridmap.ErrShapeMismatch) {
				httputil.Conflict(w, err.Error())
				return
			}
			httputil.BadRequest(w, err.Error())
			return
		}
		g := s.loc.Grid()
		httputil.WriteJSONOK(w, map[string]any{"width": g.Width, "height": g.Height, "occupied": g.OccupiedCount()})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "pose logging disabled")
		return
	}
	runs, err := s.store.Runs()
	if err != nil {
		httputil.InternalServerError(w, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}
