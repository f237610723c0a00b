package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"exercise-runner/internal/config"
)

// Server is the HTTP front of the exercise runner.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	health     func(context.Context) bool
	startTime  time.Time
}

// healthChecker is implemented by stores backed by a database.
type healthChecker interface {
	Healthy(ctx context.Context) bool
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	handlers := NewHandlers(deps, RequestSettings{
		CSRFCookie: cfg.Submission.CSRFCookie,
		CSRFHeader: cfg.Submission.CSRFHeader,
		UserHeader: cfg.Security.UserHeader,
	})

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}
	if hc, ok := deps.Attempts.(healthChecker); ok {
		s.health = hc.Healthy
	}

	if len(cfg.Security.AllowedKeys) == 0 && cfg.Security.AllowUnauthenticated {
		log.Warn().Msg("no API keys configured; allow_unauthenticated is true, execution routes accept every request")
	}

	// Execution routes, behind API-key auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /run", handlers.HandleRun)
	apiMux.HandleFunc("POST /tests", handlers.HandleTests)
	apiMux.HandleFunc("POST /database", handlers.HandleInitDatabase)
	apiMux.HandleFunc("GET /executions", handlers.HandleListExecutions)
	apiMux.HandleFunc("GET /executions/{id}", handlers.HandleGetExecution)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys, cfg.Security.AllowUnauthenticated)(apiMux)

	// Learner-facing routes rely on the user header and CSRF instead
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled && deps.Metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /editor/{language}", handlers.HandleEditorConfig)
	mux.HandleFunc("GET /exercises", handlers.HandleListExercises)
	mux.HandleFunc("GET /exercises/{id}", handlers.HandleGetExercise)
	mux.HandleFunc("GET /csrf", handlers.HandleCSRF)
	mux.HandleFunc("POST /exercises/{id}/submit/", handlers.HandleSubmit)
	mux.HandleFunc("GET /attempts", handlers.HandleListAttempts)
	mux.HandleFunc("POST /hints/{id}/use", handlers.HandleUseHint)
	mux.Handle("/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(deps.Metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.health == nil || s.health(r.Context())

	resp := HealthResponse{
		Status:    "ok",
		Database:  dbOK,
		Exercises: s.handlers.catalog.Len(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}

	status := http.StatusOK
	if !dbOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
