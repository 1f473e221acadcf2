// Package api serves the read-only papers API over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/laion/papermap/internal/config"
	"github.com/laion/papermap/internal/paper"
	"github.com/laion/papermap/internal/storage"
)

// Store is the read side of the papers database.
type Store interface {
	GetByID(ctx context.Context, id int64) (*paper.Paper, error)
	GetByIDs(ctx context.Context, ids []int64) ([]paper.Paper, error)
	NearestIDs(ctx context.Context, id int64) ([]int64, error)
	ListPapers(ctx context.Context, opts storage.ListOptions) ([]paper.Paper, error)
	SamplePapers(ctx context.Context, perCluster int) ([]paper.Paper, error)
	Search(ctx context.Context, query string, limit int) ([]paper.Paper, error)
	Clusters(ctx context.Context) ([]paper.Cluster, error)
	Timelines(ctx context.Context, minYear, maxYear int64) ([]paper.ClusterTimeline, error)
	Stats(ctx context.Context) (*storage.Stats, error)
}

// Server represents the REST API server
type Server struct {
	store      Store
	router     *mux.Router
	httpServer *http.Server
	config     config.ServerConfig
	logger     zerolog.Logger
	limiter    *rate.Limiter // nil when rate limiting is disabled
}

// NewServer creates a new API server
func NewServer(store Store, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		store:  store,
		config: cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}

	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.RateLimitRPS))
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	s.router.Use(requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metricsMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	s.router.Use(cacheHeadersMiddleware)
	s.router.Use(jsonContentTypeMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/api/papers", s.handleListPapers).Methods("GET")
	s.router.HandleFunc("/api/papers/{id}", s.handleGetPaper).Methods("GET")
	s.router.HandleFunc("/api/papers/{id}/nearest", s.handleNearest).Methods("GET")
	s.router.HandleFunc("/api/search", s.handleSearch).Methods("GET")
	s.router.HandleFunc("/api/clusters", s.handleClusters).Methods("GET")
	s.router.HandleFunc("/api/temporal-data", s.handleTimelines).Methods("GET")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
}

// Start starts the HTTP server and blocks until it stops.
// Returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	addr := s.config.Addr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("starting papermap API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail string `json:"detail"`
}

// Error response helper
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, errorResponse{Detail: message})
}

// JSON response helper
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshaling response")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "Internal Server Error"}`))
		return
	}

	w.WriteHeader(code)
	w.Write(response)
}

// respondWithStoreError maps storage errors onto HTTP statuses.
func (s *Server) respondWithStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrPaperNotFound):
		s.respondWithError(w, http.StatusNotFound, "Paper not found")
	case errors.Is(err, storage.ErrNoNeighbors):
		s.respondWithError(w, http.StatusNotFound, "Nearest papers have not been precomputed for this paper")
	default:
		s.logger.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("unhandled error during request")
		s.respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
