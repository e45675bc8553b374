// Package server is the browser-facing intake API: patients talk to the
// nurse agent here and the care team watches notifications and reports.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/phildougherty/medic/internal/audiostore"
	"github.com/phildougherty/medic/internal/config"
	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/intake"
	"github.com/phildougherty/medic/internal/logging"
	"github.com/phildougherty/medic/internal/metrics"
	"github.com/phildougherty/medic/internal/store"
)

// maxAudioUpload caps one recorded patient turn.
const maxAudioUpload = 25 << 20

// IntakeServer serves the intake API, the team hub and the web UI.
type IntakeServer struct {
	config   config.ServerConfig
	service  *intake.Service
	reports  store.Store
	audio    audiostore.Store
	hub      *TeamHub
	limiter  *sessionLimiter
	auth     mux.MiddlewareFunc
	metrics  *metrics.Collector
	logger   *logging.Logger
	server   *http.Server
	started  time.Time
	language string
	poll     time.Duration
}

type Option func(*IntakeServer)

// WithAuth guards the care team routes.
func WithAuth(mw mux.MiddlewareFunc) Option {
	return func(s *IntakeServer) { s.auth = mw }
}

func WithAudioStore(a audiostore.Store) Option {
	return func(s *IntakeServer) { s.audio = a }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *IntakeServer) { s.metrics = c }
}

// WithPollInterval sets how often the team hub checks for notifications.
func WithPollInterval(d time.Duration) Option {
	return func(s *IntakeServer) { s.poll = d }
}

func NewIntakeServer(cfg config.ServerConfig, service *intake.Service, reports store.Store, logger *logging.Logger, opts ...Option) *IntakeServer {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = constants.DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = constants.DefaultRequestBurst
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}

	s := &IntakeServer{
		config:   cfg,
		service:  service,
		reports:  reports,
		limiter:  newSessionLimiter(rps, burst),
		logger:   logger,
		started:  time.Now(),
		language: lang,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewTeamHub(reports, s.poll, s.metrics, logger)

	host := cfg.Host
	if host == "" {
		host = constants.DefaultHTTPHost
	}
	port := cfg.Port
	if port == 0 {
		port = constants.DefaultHTTPPort
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.Handler(),
		ReadTimeout:  constants.DefaultReadTimeout,
		WriteTimeout: constants.DefaultLLMTimeout + constants.DefaultToolTimeout,
		IdleTimeout:  constants.DefaultIdleTimeout,
	}
	return s
}

// Hub exposes the team hub so callers can run its poll loop.
func (s *IntakeServer) Hub() *TeamHub {
	return s.hub
}

// Handler builds the router.
func (s *IntakeServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	if s.metrics != nil {
		router.Use(s.metrics.Middleware)
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/", s.handleIndex).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleStartSession).Methods("POST")

	calls := api.PathPrefix("/sessions/{id}").Subrouter()
	calls.Use(s.limiter.middleware)
	calls.HandleFunc("", s.handleGetSession).Methods("GET")
	calls.HandleFunc("/text", s.handleText).Methods("POST")
	calls.HandleFunc("/audio", s.handleAudio).Methods("POST")
	calls.HandleFunc("/end", s.handleEnd).Methods("POST")

	api.HandleFunc("/audio/{key}", s.handleGetAudio).Methods("GET")

	team := router.NewRoute().Subrouter()
	if s.auth != nil {
		team.Use(s.auth)
	}
	team.HandleFunc("/api/reports", s.handleListReports).Methods("GET")
	team.HandleFunc("/api/reports/{id}", s.handleGetReport).Methods("GET")
	team.Handle("/ws/team", s.hub).Methods("GET")

	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return router
}

// Start blocks serving HTTP until Stop is called.
func (s *IntakeServer) Start() error {
	s.logger.Info("Intake server listening on http://%s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *IntakeServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping intake server")
	return s.server.Shutdown(ctx)
}

// PruneLimiters forgets rate limit buckets for sessions idle longer than idle.
func (s *IntakeServer) PruneLimiters(idle time.Duration) {
	s.limiter.prune(idle)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		next.ServeHTTP(w, r)
	})
}
