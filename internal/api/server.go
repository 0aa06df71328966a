package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/observability"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/settings"
)

type Server struct {
	settings SettingsStore
	sessions SessionManager
	broker   Broker
	cfg      config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
}

// SettingsStore is the configuration document backing the settings
// editors. *settings.Store satisfies it.
type SettingsStore interface {
	Path() string
	Load() (settings.Document, error)
	Update(form settings.Form, mode settings.SaveMode) (settings.Document, error)
}

// SessionManager is satisfied by *session.Manager.
type SessionManager interface {
	Create() (*session.Session, error)
	Get(id string) (*session.Session, error)
	Delete(id string) error
}

type Broker interface {
	Subscribe(ctx context.Context, sessionID string) <-chan events.SessionEvent
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records server-side metrics in m and serves gatherer on
// /metrics.
func WithMetrics(m *observability.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		if gatherer != nil {
			s.gatherer = gatherer
		}
	}
}

func NewServer(store SettingsStore, sessions SessionManager, broker Broker, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		settings: store,
		sessions: sessions,
		broker:   broker,
		cfg:      cfg,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", s.renderPanel)
	r.Post("/panel/settings", s.panelSaveSettings)
	r.Post("/panel/messages", s.panelSubmitMessage)
	r.Post("/panel/reset", s.panelReset)

	r.Get("/settings", s.getSettings)
	r.Post("/settings", s.updateSettings)
	r.Post("/settings/test", s.testSettings)

	r.Post("/sessions", s.createSession)
	r.Get("/sessions/{id}", s.getSession)
	r.Delete("/sessions/{id}", s.deleteSession)
	r.Post("/sessions/{id}/messages", s.submitMessage)
	r.Post("/sessions/{id}/reset", s.resetSession)
	r.Get("/sessions/{id}/events", s.streamEvents)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) quietRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		defer func() {
			s.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(started)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready" || cleanPath == "/metrics") {
		return true
	}
	if method == http.MethodOptions {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

// ready reports degraded only when the configuration document exists but
// cannot be read. A missing document is created on the first save.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	_, err := s.settings.Load()
	switch {
	case err == nil:
		subsystems["config"] = subsystemStatus{Status: "ok"}
	case errors.Is(err, fs.ErrNotExist):
		subsystems["config"] = subsystemStatus{Status: "missing"}
	default:
		subsystems["config"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	}
	subsystems["agent"] = subsystemStatus{Status: s.cfg.AgentBackend}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, map[string]string{"error": message}, statusCode)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) saveMode() settings.SaveMode {
	if s.cfg.PreserveUnknown {
		return settings.SaveMerge
	}
	return settings.SaveReplace
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("agent console listening", zap.String("addr", addr))
	return server.ListenAndServe()
}
