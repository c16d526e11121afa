package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"fuelwatch/internal/cache"
	"fuelwatch/internal/subscription"
)

// Options hold server configuration and collaborators.
type Options struct {
	Port     int
	DevMode  bool
	Cache    *cache.Cache
	Forecast *cache.Gateway
	Subs     subscription.Store
}

// Server is the HTTP API consumed by the dashboard UI.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	cache    *cache.Cache
	forecast *cache.Gateway
	subs     subscription.Store
	log      zerolog.Logger
}

// New creates the HTTP server.
func New(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		cache:    opts.Cache,
		forecast: opts.Forecast,
		subs:     opts.Subs,
		log:      logger.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(opts.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/prices", s.handlePrices)
	s.router.Get("/forecast", s.handleForecast)
	s.router.Get("/subscriptions", s.handleListSubscriptions)
	s.router.Post("/subscriptions", s.handleAddSubscription)
	s.router.Delete("/subscriptions/{owner}/{index}", s.handleRemoveSubscription)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
