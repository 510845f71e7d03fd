// Package httpapi implements the HTTP/WebSocket routing layer of §6: auth,
// request parsing, and role enforcement, calling into the rest of the core
// exclusively through the Command Bus (I), the Live Stream Hub (H), and
// the time-series Store's query path. Grounded on klistr's chi-based
// server: RealIP + custom logging + Recoverer middleware stack, a small
// jsonResponse helper, and route groups mounted under role middleware.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/valorence/relayctl/internal/auth"
	"github.com/valorence/relayctl/internal/command"
	"github.com/valorence/relayctl/internal/metrics"
	"github.com/valorence/relayctl/internal/stream"
	"github.com/valorence/relayctl/internal/timeseries"
)

type requestIDKey struct{}

// requestIDMiddleware stamps every request with a correlation id, readable
// by handlers via requestIDFrom and echoed back as X-Request-Id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server wires the Command Bus, the credential issuer, and the Live
// Stream Hub behind a chi router.
type Server struct {
	bus            *command.Bus
	issuer         *auth.Issuer
	hub            *stream.Hub
	store          timeseries.Store
	metrics        *metrics.Metrics
	internalSecret []byte
	log            *slog.Logger
	loginLimiter   *loginLimiter

	router chi.Router
}

func New(bus *command.Bus, issuer *auth.Issuer, hub *stream.Hub, store timeseries.Store, m *metrics.Metrics, internalSecret []byte, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{bus: bus, issuer: issuer, hub: hub, store: store, metrics: m, internalSecret: internalSecret, log: log, loginLimiter: newLoginLimiter()}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.With(s.rateLimitLogin).Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(auth.RoleUser))
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/{section}", s.handleGetConfigSection)
		r.Get("/io/relays/state", s.handleRelayState)
		r.Get("/io/relays/enabled/state", s.handleRelayEnabledState)
		r.Get("/io/rules/status", s.handleRuleStatus)
		r.Get("/timeseries/query", s.handleTimeseriesQuery)
		r.Post("/io/{id}/state/on", s.handleIO("on"))
		r.Post("/io/{id}/state/off", s.handleIO("off"))
		r.Post("/io/{id}/state/pulse", s.handleIO("pulse"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(auth.RoleAdmin))
		r.Post("/config", s.handleUpdateConfig)
		r.Post("/config/{section}", s.handleUpdateConfigSection)
		r.Post("/config/revert", s.handleRevertConfig)
		r.Post("/device/reboot", s.handleReboot)
	})

	r.Get("/io/relays/state/ws", s.handleRelayStateWS)
	r.Get("/io/relays/enabled/state/ws", s.handleRelayStateWS)
	r.Get("/sensor/{id}/ws", s.handleSensorWS)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Debug("http request", "request_id", requestIDFrom(r.Context()), "method", r.Method, "path", r.URL.Path, "status", wrapped.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
