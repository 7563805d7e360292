// internal/observe/server.go
package observe

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/session"
	"github.com/user/breathlab/internal/state"
	"github.com/user/breathlab/internal/types"
)

// Controller is the live-session surface the server exposes.
type Controller interface {
	Snapshot(ctx context.Context) session.Snapshot
	RespondNow() (nback.Response, bool, error)
	Abort() error
}

// EventFollower returns the events appended after a sequence number.
// *state.EventStore implements it.
type EventFollower interface {
	Since(ctx context.Context, sessionID types.SessionID, after int64) ([]*types.Event, error)
}

// Server serves the observation API: health, live snapshot, the respond
// signal, session history and Prometheus metrics.
type Server struct {
	ctrl     Controller
	sessions types.SessionStore
	events   types.EventStore
	since    EventFollower
	results  types.ResultStore
	token    string
	router   chi.Router
}

// NewServer creates a Server. An empty token disables authentication; any
// store may be nil, which disables the matching endpoints.
func NewServer(ctrl Controller, sessions types.SessionStore, events types.EventStore, results types.ResultStore, token string) *Server {
	s := &Server{
		ctrl:     ctrl,
		sessions: sessions,
		events:   events,
		results:  results,
		token:    token,
	}
	s.since, _ = events.(EventFollower)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/snapshot", s.handleSnapshot)
		r.Post("/respond", s.handleRespond)
		r.Post("/abort", s.handleAbort)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{id}/events", s.handleSessionEvents)
		r.Get("/sessions/{id}/result", s.handleSessionResult)
	})
	s.router = r
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("observe server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no session runner")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot(r.Context()))
}

type respondResponse struct {
	Scored   bool            `json:"scored"`
	Response *nback.Response `json:"response,omitempty"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no session runner")
		return
	}
	resp, ok, err := s.ctrl.RespondNow()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		slog.Error("respond failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := respondResponse{Scored: ok}
	if ok {
		out.Response = &resp
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no session runner")
		return
	}
	if err := s.ctrl.Abort(); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

type sessionResponse struct {
	SessionID   string `json:"session_id"`
	SessionKey  string `json:"session_key"`
	Participant string `json:"participant"`
	Level       string `json:"level"`
	Trial       bool   `json:"trial"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	EventCount  int64  `json:"event_count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "session history not configured")
		return
	}
	ctx := r.Context()
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	participant := r.URL.Query().Get("participant")
	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		if participant != "" && !strings.EqualFold(sess.Participant, participant) {
			continue
		}
		count, err := s.events.Count(ctx, sess.SessionID)
		if err != nil {
			slog.Warn("count events failed", "session_id", sess.SessionID, "error", err)
		}
		result = append(result, sessionResponse{
			SessionID:   string(sess.SessionID),
			SessionKey:  string(sess.SessionKey),
			Participant: sess.Participant,
			Level:       sess.Level,
			Trial:       sess.Trial,
			Status:      sess.Status,
			CreatedAt:   sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   sess.UpdatedAt.Format(time.RFC3339),
			EventCount:  count,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt > result[j].UpdatedAt
	})
	writeJSON(w, http.StatusOK, result)
}

// sessionParam reads the {id} route parameter, answering 400 when it is not
// a session id.
func sessionParam(w http.ResponseWriter, r *http.Request) (types.SessionID, bool) {
	id, err := types.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "session history not configured")
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var (
		events []*types.Event
		err    error
	)
	if q := r.URL.Query().Get("after"); q != "" && s.since != nil {
		after, perr := strconv.ParseInt(q, 10, 64)
		if perr != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		events, err = s.since.Since(r.Context(), sessionID, after)
	} else {
		limit := 200
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		events, err = s.events.Tail(r.Context(), sessionID, limit)
	}
	if err != nil {
		slog.Error("tail events failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusServiceUnavailable, "results not configured")
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := s.results.Get(r.Context(), sessionID, &raw); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		slog.Error("read result failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}
