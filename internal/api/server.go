package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agrisync/internal/config"
	"agrisync/internal/metrics"
	"agrisync/internal/models"
	"agrisync/internal/worker"

	"github.com/rs/zerolog"
)

// QueueReader exposes the queue contents to the control surface.
type QueueReader interface {
	ListQueue(ctx context.Context) ([]models.QueuedMutation, error)
}

// Syncer is the drain control the server drives.
type Syncer interface {
	DrainAndRetry(ctx context.Context) (*worker.DrainSummary, error)
	Clear(ctx context.Context, confirm bool) error
}

// SessionReader reports the sign-in state.
type SessionReader interface {
	Current() *models.Session
}

// Exporter produces the queue report file.
type Exporter interface {
	QueueReport(ctx context.Context) (string, error)
}

// Pinger checks that local storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps collects everything the local surface serves. Submissions, Auth,
// Chat and Prefs are optional; their routes 404 when absent.
type Deps struct {
	Queue       QueueReader
	Syncer      Syncer
	Sessions    SessionReader
	Exporter    Exporter
	DB          Pinger
	Submissions SubmissionAPI
	Auth        AuthAPI
	Chat        ChatAPI
	Prefs       PreferencesAPI
	Forecast    ForecastAPI
}

// Server is the localhost API the portal UI and support tooling talk to. It
// is bound to loopback and API-key protected.
type Server struct {
	cfg  config.ControlConfig
	deps Deps

	logger *zerolog.Logger
	server *http.Server
}

func NewServer(cfg config.ControlConfig, deps Deps, logger *zerolog.Logger) *Server {
	srv := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/queue/drain", srv.handleDrain)
	mux.HandleFunc("/api/v1/queue/export", srv.handleExport)
	mux.HandleFunc("/api/v1/session", srv.handleSession)
	srv.registerAppRoutes(mux)

	auth := NewAuth(cfg)
	handler := srv.loggingMiddleware(auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler exposes the full middleware chain, used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Control API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("healthz")

	if err := s.deps.DB.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQueue serves GET (list) and DELETE (clear, with ?confirm=true).
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		metrics.IncControl("queue_list")
		pending, err := s.deps.Queue.ListQueue(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list queue")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":     len(pending),
			"mutations": pending,
		})

	case http.MethodDelete:
		metrics.IncControl("queue_clear")
		confirm := r.URL.Query().Get("confirm") == "true"
		if err := s.deps.Syncer.Clear(r.Context(), confirm); err != nil {
			if errors.Is(err, worker.ErrClearNotConfirmed) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to clear queue")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("queue_drain")

	summary, err := s.deps.Syncer.DrainAndRetry(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "drain failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("queue_export")

	path, err := s.deps.Exporter.QueueReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("session")

	sess := s.deps.Sessions.Current()
	if sess == nil {
		writeJSON(w, http.StatusOK, map[string]any{"signed_in": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signed_in": true,
		"user":      sess.User,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	base := s.logger.With().Str("component", "control").Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		base.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("control request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
