// Package web provides the HTTP API for sheet sessions and instructions.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/sheetd/internal/config"
	"github.com/JonMunkholm/sheetd/internal/core"
	webmw "github.com/JonMunkholm/sheetd/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP server for the sheet service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	limiters []*rateLimiter
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))
	s.router.Use(withActor)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		// Quick operations share one request deadline.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.With(s.limit(s.cfg.Rate.UploadLimit)).Post("/upload", s.handleUpload)

			r.Get("/sessions/{sessionID}/preview", s.handlePreview)
			r.Post("/sessions/{sessionID}/cells", s.handleUpdateCell)
			r.Get("/sessions/{sessionID}/export", s.handleExport)
			r.Get("/sessions/{sessionID}/history", s.handleHistory)
			r.Delete("/sessions/{sessionID}", s.handleDeleteSession)

			r.Get("/instructions/{instructionID}/result", s.handleInstructionResult)
			r.Post("/instructions/{instructionID}/cancel", s.handleCancelInstruction)
		})

		// Instructions are bounded by the instruction timeout instead, and
		// the progress stream stays open until the instruction finishes.
		r.With(s.limit(s.cfg.Rate.InstructionLimit)).Post("/sessions/{sessionID}/instructions", s.handleInstruction)
		r.Get("/instructions/{instructionID}/progress", s.handleInstructionProgress)
	})
}

// limit returns a per-route rate limit, or a no-op when limiting is off.
func (s *Server) limit(perMinute int) func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled || perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.newRateLimiter(perMinute, time.Minute).middleware
}

func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := newRateLimiter(rate, window)
	s.limiters = append(s.limiters, rl)
	return rl
}

// Start begins listening on the configured address. It returns nil after
// Shutdown.
func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	return s.server.Shutdown(ctx)
}

// Close stops background rate limiter cleanup.
func (s *Server) Close() {
	for _, rl := range s.limiters {
		rl.stop()
	}
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				// JSON API: nothing should ever be loaded from a response.
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter implements a fixed window rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
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
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every window until stop.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if rl.now().Sub(v.lastReset) > rl.window*2 {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[ip]
	if !exists || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by client IP.
// RemoteAddr has already been resolved by TrustedRealIP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:     "rate limit exceeded",
				Message:   "Too many requests",
				Action:    "Please wait a minute and try again",
				ErrorCode: "SYS004",
				Kind:      string(core.KindResourceExhaustion),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
