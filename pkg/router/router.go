package router

import (
	"context"
	"net/http"
	"strings"

	"nexthire/backend/internal/api"
	"nexthire/backend/pkg/di"
	"nexthire/backend/pkg/errors"
	"nexthire/backend/pkg/jwt"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	RateLimiter *middleware.RateLimiter
}

// New creates a router with the global middleware chain installed
func New(container *di.Container) *Router {
	cfg := container.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// the logger goes first so every later middleware gets a request-scoped logger
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	if cfg.Telemetry.TracingEnabled {
		engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName))
	}
	engine.Use(middleware.Metrics())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	if cfg.Security.MaxBodySize > 0 {
		engine.Use(maxBodySize(cfg.Security.MaxBodySize))
	}

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		RateLimiter: middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
			Limit: rate.Limit(cfg.Security.RateLimit),
			Burst: cfg.Security.RateLimitBurst,
		}),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container
	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService)

	r.setupHealthRoutes()

	apiGroup := r.Engine.Group("/api")
	if path := c.Config.OpenAPISchemaPath; path != "" {
		r.AddOpenAPIValidation(apiGroup, path)
	}

	authHandler := api.NewAuthHandler(c.UserService)
	authHandler.RegisterRoutes(apiGroup.Group("/auth", r.RateLimiter.Middleware()), jwtAuth)

	chatHandler := api.NewChatHandler(c.MessageService, c.Hub)
	// limit after auth so each user gets a bucket of their own
	chatHandler.RegisterRoutes(apiGroup.Group("/chat", jwtAuth, r.RateLimiter.Middleware()))
	chatHandler.RegisterAdminRoutes(apiGroup.Group("/admin", jwtAuth, middleware.RequireRole(jwt.RoleAdmin)))

	r.Engine.GET("/ws", c.WSHandler.ServeWs)
}

// Start runs the rate limiter's idle-visitor sweep until ctx is done
func (r *Router) Start(ctx context.Context) {
	go r.RateLimiter.Cleanup(ctx)
}

func maxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// corsMiddleware allows the configured origins, including the websocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if _, ok := set[strings.TrimRight(origin, "/")]; ok || allowAll {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Add("Vary", "Origin")
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Trace-ID, Retry-After")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
