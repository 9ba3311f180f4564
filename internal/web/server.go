// Package web provides the HTTP API for triggering synchronization runs
// and reading synchronized products.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/c1767673917/products-b-test-sub004/internal/config"
	"github.com/c1767673917/products-b-test-sub004/internal/store"
	"github.com/c1767673917/products-b-test-sub004/internal/syncer"
	"github.com/c1767673917/products-b-test-sub004/internal/web/middleware"
)

// SyncService is the run lifecycle surface the API exposes.
type SyncService interface {
	StartSync(ctx context.Context, mode syncer.Mode) (string, error)
	GetRunStatus(runID string) (syncer.Report, error)
	CancelRun(runID string) error
	SubscribeProgress(runID string) (<-chan syncer.Report, error)
}

// ProductReader serves the read side of the product API.
type ProductReader interface {
	List(ctx context.Context, opts store.ListOptions) ([]store.StoredProduct, int64, error)
	GetByID(ctx context.Context, id string) (*store.StoredProduct, error)
}

// RunHistory serves archived run reports.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]syncer.Report, error)
}

// Server is the HTTP server for the synchronization API.
type Server struct {
	sync     SyncService
	products ProductReader
	runs     RunHistory
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance.
func NewServer(svc SyncService, products ProductReader, runs RunHistory, cfg *config.Config) *Server {
	s := &Server{
		sync:     svc,
		products: products,
		runs:     runs,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

	s.router.Use(securityHeaders)

	// Rate limiting: 100 requests per minute per IP
	limiter := newRateLimiter(100, time.Minute)
	s.router.Use(limiter.middleware)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Sync triggers are mutating and may be gated behind an API key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(&s.cfg.Security))
			r.Post("/sync", s.handleStartSync)
			r.Post("/sync/{runID}/cancel", s.handleCancelRun)
		})

		// Run status and history
		r.Get("/sync/{runID}", s.handleRunStatus)
		r.Get("/sync/{runID}/events", s.handleRunEvents)
		r.Get("/sync/runs", s.handleRunHistory)

		// Product read API
		r.Get("/products", s.handleListProducts)
		r.Get("/products/{id}", s.handleGetProduct)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disabled for SSE
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Start cleanup goroutine
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every minute.
func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1, // consume one token
			lastReset: time.Now(),
		}
		return true
	}

	// Reset tokens if window has passed
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	if v.tokens <= 0 {
		return false
	}

	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		// Use X-Real-IP if set (by TrustedRealIP middleware)
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			ip = realIP
		}

		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			respondError(w, r, errRateLimited, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
