// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	service "github.com/okian/stakerank/internal/app"
	"github.com/okian/stakerank/internal/domain/leaderboard"
	"github.com/okian/stakerank/pkg/logger"
	"github.com/okian/stakerank/pkg/metrics"
)

const defaultMaxBodyBytes = 8 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Sync(ctx context.Context, credential string, records []leaderboard.StatRecord) (service.SyncResult, error)
	Recompute(ctx context.Context, credential string, types []leaderboard.EntryType) ([]leaderboard.EntryType, error)
	Leaderboard(ctx context.Context, params leaderboard.QueryParams) (leaderboard.Page, error)
	Entry(ctx context.Context, rawType, pubkey string) (leaderboard.Entry, error)
	GetStats(ctx context.Context) (service.Stats, error)
	Health(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps         Dependencies
	limiter      *IPRateLimiter
	maxBodyBytes int64
	logger       logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithWriteRateLimit limits write requests per client IP. A non-positive
// limit disables rate limiting.
func WithWriteRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewIPRateLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxBodyBytes caps the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:         deps,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.handleHealth, "healthz"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.handleStats, "stats"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.handleLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /leaderboard/{type}/{pubkey}", MetricsMiddleware(s.handleEntry, "entry"))
	mux.HandleFunc("POST /leaderboard/sync", MetricsMiddleware(s.rateLimited(s.handleSync), "sync"))
	mux.HandleFunc("POST /leaderboard/recompute", MetricsMiddleware(s.rateLimited(s.handleRecompute), "recompute"))
}

// Handler returns mux wrapped with the request-scoped middleware.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return RequestIDMiddleware(mux)
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return RateLimitMiddleware(s.limiter, func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, "api.rate_limit", ErrRateLimited)
	})(next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail logs err and writes the matching error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, resp := classify(err)
	fields := []logger.Field{
		logger.String("op", op),
		logger.String("code", resp.Code),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", fields...)
	} else {
		s.logger.Debug(r.Context(), "request rejected", fields...)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="stakerank"`)
	}
	writeJSON(w, status, resp)
}
