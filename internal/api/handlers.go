// Package api wires the HTTP control surface of spec.md §6 on top of
// chi, the way the rest of the retrieved pack exposes its own run
// endpoints (platform-internal-api-runs.go's MountRunRoutes/Server
// pattern), extended here with an SSE live-metrics stream and a
// Prometheus /metrics endpoint.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/athrvk/vayu-sub005/internal/livestream"
)

// Server holds the dependencies every handler needs.
type Server struct {
	reg *Registry
	log *zap.Logger
}

// NewServer builds the chi router for the daemon's control API.
func NewServer(reg *Registry, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{reg: reg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Post("/{id}/stop", s.handleStopRun)
		r.Get("/{id}/metrics/live", s.handleLiveMetrics)
		r.Get("/{id}/stats", s.handleStats)
		r.Get("/{id}/report", s.handleReport)
		r.Get("/{id}/results", s.handleResults)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := body.Request.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.reg.StartRun(req, body.Profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info("run started", zap.String("run_id", id), zap.String("mode", string(body.Profile.Mode)))
	writeJSON(w, http.StatusOK, createRunResponse{RunID: id})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rn, _, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run id")
		return
	}

	var body stopRunRequest
	body.WaitForPending = true
	_ = json.NewDecoder(r.Body).Decode(&body) // absent/empty body defaults to graceful

	rn.Stop(body.WaitForPending)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(rn.Status())})
}

func (s *Server) handleLiveMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, stream, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run id")
		return
	}
	s.streamEvents(w, r, stream)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	// A completed run's stream has already delivered its terminal event
	// and closed every subscriber channel; a fresh Subscribe call here
	// resolves immediately with that same terminal event, satisfying the
	// "historical replay ending in complete" shape with no separate
	// replay log to maintain.
	id := chi.URLParam(r, "id")
	_, stream, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run id")
		return
	}
	s.streamEvents(w, r, stream)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, stream *livestream.Stream) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	events, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			name := "metrics"
			if e.Complete {
				name = "complete"
			}
			data, _ := json.Marshal(e.Snapshot)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			flush()
			if e.Complete {
				return
			}
		}
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rn, _, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run id")
		return
	}

	snap := rn.Aggregator().Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":    id,
		"status":    rn.Status(),
		"snapshot":  snap,
		"generated": time.Now().UTC(),
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rn, _, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run id")
		return
	}

	agg := rn.Aggregator()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  id,
		"errors":  agg.ErrorSamples(),
		"success": agg.SuccessSamples(),
		"slow":    agg.SlowSamples(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
