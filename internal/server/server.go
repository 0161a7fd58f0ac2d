// Package server assembles the HTTP + WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yieldloop/loopd/internal/server/handler"
	"github.com/yieldloop/loopd/internal/server/middleware"
	"github.com/yieldloop/loopd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication on the public surface
	AdminKey    string // empty disables the admin surface
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Engine    *handler.EngineHandler
	Admin     *handler.AdminHandler
	Metrics   *handler.MetricsHandler
}

// Server is the headless API server of the looping engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Position reads.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListActive)
	mux.HandleFunc("GET /api/positions/closed", handlers.Positions.ListClosed)
	mux.HandleFunc("GET /api/positions/liquidation-due", handlers.Positions.ListLiquidationDue)
	mux.HandleFunc("GET /api/positions/estimate", handlers.Engine.Estimate)
	mux.HandleFunc("GET /api/positions/{owner}", handlers.Positions.GetSnapshot)

	// Position lifecycle.
	mux.HandleFunc("POST /api/positions/open", handlers.Engine.Open)
	mux.HandleFunc("POST /api/positions/close", handlers.Engine.Close)
	mux.HandleFunc("POST /api/positions/rebalance", handlers.Engine.Rebalance)

	// Metrics.
	mux.HandleFunc("GET /api/metrics/risk", handlers.Metrics.RiskMetrics)
	mux.HandleFunc("GET /api/metrics/audit", handlers.Metrics.AuditTrail)

	// Admin surface.
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/resume", handlers.Admin.Resume)
	mux.HandleFunc("GET /api/admin/strategy", handlers.Admin.GetStrategy)
	mux.HandleFunc("PUT /api/admin/strategy", handlers.Admin.UpdateStrategy)
	mux.HandleFunc("GET /api/admin/registry/{category}", handlers.Admin.ListRegistry)
	mux.HandleFunc("POST /api/admin/registry", handlers.Admin.SetApproval)
	mux.HandleFunc("POST /api/admin/emergency-withdraw", handlers.Admin.EmergencyWithdraw)
	mux.HandleFunc("GET /api/admin/archive", handlers.Admin.ListArchives)
	mux.HandleFunc("GET /api/admin/archive/{key...}", handlers.Admin.GetArchive)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, cfg.AdminKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start blocks serving requests until the server errors or shuts down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for the allowed origins; no configured
// origins means allow all.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Admin-Id")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
