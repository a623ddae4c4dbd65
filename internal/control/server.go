// SPDX-License-Identifier: MIT

// Package control is the local HTTP surface of the daemon: session
// start/stop, health and prometheus metrics. It is meant for the LAN only
// and rate-limits mutating calls.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hue2lan/hue2lan/internal/log"
	"github.com/hue2lan/hue2lan/internal/session"
)

// Server handles the control API.
type Server struct {
	Supervisor *session.Supervisor

	logger zerolog.Logger
}

// New returns a control server driving the supervisor.
func New(sup *session.Supervisor) *Server {
	return &Server{
		Supervisor: sup,
		logger:     log.WithComponent("control"),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Put("/entertainment/{groupID}", s.handleEntertainment)
	})
	return r
}

type entertainmentRequest struct {
	Action string `json:"action"`
	Owner  string `json:"owner"`
}

type entertainmentResponse struct {
	Active bool   `json:"active"`
	Result string `json:"result,omitempty"`
}

func (s *Server) handleEntertainment(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req entertainmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "start":
		if err := s.Supervisor.Start(r.Context(), groupID, req.Owner); err != nil {
			s.logger.Warn().Str(log.FieldGroupID, groupID).Err(err).Msg("session start failed")
			writeJSON(w, http.StatusConflict, entertainmentResponse{
				Active: false,
				Result: string(s.Supervisor.Result()),
			})
			return
		}
		writeJSON(w, http.StatusOK, entertainmentResponse{Active: true})
	case "stop":
		s.Supervisor.Stop(r.Context(), groupID)
		writeJSON(w, http.StatusOK, entertainmentResponse{
			Active: false,
			Result: string(s.Supervisor.Result()),
		})
	default:
		http.Error(w, "action must be start or stop", http.StatusBadRequest)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
