package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/network"
	"github.com/dvcrn/frollo-sdk-go/internal/notify"
)

// Session is the part of *network.Service the proxy drives.
type Session interface {
	Client() *http.Client
	URL(path string) (string, error)
	LoginWithPassword(ctx context.Context, username, password string) error
	LoginWithLegacyToken(ctx context.Context, legacyToken string) error
	AuthorizationURL(state string) (string, string)
	ExchangeAuthorizationCode(ctx context.Context, code, verifier string) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) network.Status
	Subscribe(o notify.Observer) func()
}

// Server is the local forwarding proxy.
type Server struct {
	session     Session
	adminKey    string
	gatherer    prometheus.Gatherer
	router      chi.Router
	unsubscribe func()
}

// Option customizes a Server.
type Option func(*Server)

// WithAdminKey protects /admin routes with key.
func WithAdminKey(key string) Option {
	return func(s *Server) { s.adminKey = key }
}

// WithGatherer sets what /metrics exposes. Defaults to the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new server instance over the given session.
func NewServer(session Session, opts ...Option) *Server {
	s := &Server{
		session:  session,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.unsubscribe = session.Subscribe(func(e notify.Event) {
		logger.Get().Warn().
			Str("event_id", e.ID.String()).
			Str("reason", e.Reason).
			Msg("Session invalidated, log in again via POST /admin/login")
	})
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminMiddleware)
		r.Post("/login", s.loginHandler)
		r.Post("/logout", s.logoutHandler)
		r.Get("/status", s.statusHandler)
		r.Get("/authorize", s.authorizeURLHandler)
		r.Post("/authorize", s.authorizeCodeHandler)
	})

	r.HandleFunc("/*", s.forwardHandler)
	s.router = r
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close detaches the server from session events.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	st := s.session.Status(ctx)
	switch {
	case st.Valid:
		logger.Get().Info().Time("expiry", st.Expiry).Msg("Stored session is valid")
	case st.Authenticated:
		logger.Get().Info().Msg("Stored access token is expiring, it will be refreshed on first use")
	default:
		logger.Get().Warn().Msg("No stored session; requests will fail until POST /admin/login")
	}
	if s.adminKey == "" {
		logger.Get().Warn().Msg("ADMIN_API_KEY not set, admin routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Get().Info().Msgf("Starting proxy server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Get().Info().Msg("Shutting down proxy server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to encode response")
	}
}

// errorBody mirrors the Frollo API error envelope so clients of the proxy
// parse proxy-originated errors the same way as upstream ones.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"error_code,omitempty"`
	Message string `json:"error_message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}
