package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"

	v1 "visitly/api/v1"
	"visitly/internal/aggregation"
	"visitly/internal/config"
	"visitly/internal/http"
	"visitly/internal/ratelimit"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// All public endpoints share this permissive CORS setup for cross-origin access.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// SetupSession configures session management on the server.
func SetupSession(srv *cartridge.Server) {
	cfg := config.GetConfig()
	sessionMgr := cartridge.NewSessionManager(cartridge.SessionConfig{
		CookieName: cfg.AppName + "_session",
		Secret:     cfg.GetSessionSecret(),
		TTL:        time.Duration(cfg.GetLoginSessionTimeout()) * time.Second,
		Secure:     cfg.IsProduction(),
		LoginPath:  "/login",
	})
	srv.SetSession(sessionMgr)
}

// MountAppRoutes mounts all application routes using cartridge's route API.
// The limiter guards the public ingestion endpoints; the aggregator backs
// the privileged admin API.
func MountAppRoutes(srv *cartridge.Server, limiter *ratelimit.Limiter, aggregator *aggregation.Aggregator) {
	SetupSession(srv)

	cfg := config.GetConfig()
	sessionMgr := srv.Session()
	logger := srv.GetLogger()

	// ============================================
	// PUBLIC ENDPOINT PROTECTION
	// - Rate limiting (fixed window per client IP, production only)
	// - CORS (permissive for cross-origin tracking)
	// ============================================

	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(handler fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return handler(c)
			}
			return c.Next()
		}
	}

	publicRateLimiter := conditionalRateLimiter(limiter.Middleware(logger, v1.GetClientIP))

	// Public API config (session ingestion)
	// CORS runs first so 429 responses carry CORS headers
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			sessionMgr.Middleware(),
		},
	}

	// === ROOT ROUTES ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC API ROUTES ===
	srv.Post("/x/api/v1/sessions", v1.TrackSessionPublicAPIHandler, publicAPIConfig)
	srv.Options("/x/api/v1/sessions", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Post("/x/api/v1/sessions/beacon", v1.TrackSessionBeaconHandler, publicAPIConfig)
	srv.Options("/x/api/v1/sessions/beacon", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)

	// === AUTHENTICATION ROUTES ===
	srv.Post("/login", http.ProcessLoginAction)
	srv.Post("/logout", http.LogoutAction)

	// === PRIVILEGED ADMIN API ROUTES ===
	srv.Post("/admin/api/aggregate", http.AggregateTriggerAction(aggregator), adminAPIConfig)
	srv.Get("/admin/api/aggregate/status", http.AggregateStatusAction(aggregator), adminAPIConfig)
	srv.Get("/admin/api/report", http.ReportAction, adminAPIConfig)
}
