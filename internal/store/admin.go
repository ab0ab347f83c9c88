package store

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/gridloc/internal/httputil"
)

// AttachAdminRoutes mounts tailsql and the run browser on the tsweb debug
// page.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Localisation runs",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("runs", "Recorded localisation runs (JSON)", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		runs, err := s.Runs()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if runs == nil {
			runs = []Run{}
		}
		httputil.WriteJSONOK(w, runs)
	})

	debug.HandleSilentFunc("estimates", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		runID := r.URL.Query().Get("run_id")
		if runID == "" {
			httputil.BadRequest(w, "missing run_id")
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httputil.BadRequest(w, "invalid limit")
				return
			}
			limit = n
		}
		if _, err := s.GetRun(runID); err != nil {
			if errors.Is(err, ErrRunNotFound) {
				httputil.NotFound(w, "run not found")
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		est, err := s.Estimates(runID, limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if est == nil {
			est = []Estimate{}
		}
		ratio, _ := s.AccuracyRatio(runID)
		httputil.WriteJSONOK(w, map[string]any{
			"run_id":         runID,
			"accuracy_ratio": ratio,
			"estimates":      est,
		})
	})
	return nil
}
