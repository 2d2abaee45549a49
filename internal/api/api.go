// Package api exposes the replay service over HTTP: season listings,
// session creation and status, qualifying catalogs, and the websocket
// frame stream.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/gridline-data/gridline.replay/internal/httputil"
	"github.com/gridline-data/gridline.replay/internal/replay"
	"github.com/gridline-data/gridline.replay/internal/timeutil"
	"github.com/gridline-data/gridline.replay/internal/version"
)

// Server holds the handlers' dependencies.
type Server struct {
	manager *replay.Manager
	up      replay.Upstream
	clock   timeutil.Clock
	log     zerolog.Logger
}

// NewServer returns a Server. A nil clock selects the real one.
func NewServer(manager *replay.Manager, up replay.Upstream, clock timeutil.Clock, log zerolog.Logger) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{manager: manager, up: up, clock: clock, log: log}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/seasons/{year}/rounds", s.handleRounds)
	r.Get("/api/seasons/{year}/sprints", s.handleSprints)

	r.Post("/api/replay/sessions", s.handleCreateSession)
	r.Get("/api/replay/sessions", s.handleListSessions)
	r.Get("/api/replay/sessions/{id}/status", s.handleSessionStatus)
	r.Get("/api/replay/sessions/{id}/quali", s.handleQualiCatalog)

	r.Get("/ws/replay/{id}", s.handleStream)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.GitSHA,
	})
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httputil.BadRequest(w, "invalid year")
		return
	}
	rounds, err := s.up.Rounds(r.Context(), year)
	if err != nil {
		s.log.Error().Err(err).Int("year", year).Msg("round listing failed")
		httputil.InternalServerError(w, "upstream failure")
		return
	}
	httputil.WriteJSONOK(w, rounds)
}

func (s *Server) handleSprints(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httputil.BadRequest(w, "invalid year")
		return
	}
	rounds, err := s.up.Sprints(r.Context(), year)
	if err != nil {
		s.log.Error().Err(err).Int("year", year).Msg("sprint listing failed")
		httputil.InternalServerError(w, "upstream failure")
		return
	}
	httputil.WriteJSONOK(w, rounds)
}

type createSessionRequest struct {
	Year        int    `json:"year"`
	Round       int    `json:"round"`
	SessionType string `json:"session_type"`
	Refresh     bool   `json:"refresh"`
}

type sessionStatusResponse struct {
	SessionID string          `json:"session_id,omitempty"`
	Loading   bool            `json:"loading"`
	Metadata  replay.Metadata `json:"metadata"`
}

func validKind(kind string) bool {
	switch kind {
	case "R", "S", "Q", "SQ":
		return true
	}
	return false
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if !validKind(req.SessionType) {
		httputil.BadRequest(w, "session_type must be one of R, S, Q, SQ")
		return
	}
	if req.Year <= 0 || req.Round <= 0 {
		httputil.BadRequest(w, "year and round are required")
		return
	}

	session := s.manager.Create(req.Year, req.Round, req.SessionType, req.Refresh)
	httputil.WriteJSONOK(w, sessionStatusResponse{
		SessionID: session.ID(),
		Loading:   session.Loading(),
		Metadata:  session.Metadata(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string][]string{"sessions": s.manager.SessionIDs()})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		httputil.NotFound(w, "session not found")
		return
	}
	httputil.WriteJSONOK(w, sessionStatusResponse{
		Loading:  session.Loading(),
		Metadata: session.Metadata(),
	})
}

func (s *Server) handleQualiCatalog(w http.ResponseWriter, r *http.Request) {
	session, ok := s.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		httputil.NotFound(w, "session not found")
		return
	}
	if !replay.IsQualiKind(session.Kind) {
		httputil.BadRequest(w, "session has no qualifying catalog")
		return
	}
	if session.Loading() {
		httputil.WriteJSON(w, http.StatusAccepted, sessionStatusResponse{
			Loading:  true,
			Metadata: session.Metadata(),
		})
		return
	}
	catalog := session.Quali()
	if catalog == nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, session.LoadError())
		return
	}
	httputil.WriteJSONOK(w, catalog)
}
