package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/inviteqr/internal/app"
	"github.com/charlesng35/inviteqr/internal/handlers"
	"github.com/charlesng35/inviteqr/internal/middleware"
	"github.com/charlesng35/inviteqr/internal/monitoring"
	"github.com/charlesng35/inviteqr/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the invite API.
// A nil rate store disables rate limiting.
func NewRouter(cfg *app.Config, invites *services.InviteService, health *monitoring.HealthManager, rateStore middleware.RateStore) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if invites == nil {
		return nil, fmt.Errorf("invite service must be provided")
	}

	r := gin.New()
	r.MaxMultipartMemory = multipartMemory(cfg.Server.MaxUploadBytes)

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))
	if rateStore != nil && cfg.Server.RateLimit.Requests > 0 {
		r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	r.GET("/", handlers.Info())
	registerHealthRoutes(r, cfg, health)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	inviteHandler := handlers.NewInviteHandler(invites, cfg.Server.MaxUploadBytes)
	registerInviteRoutes(r.Group("/api/v1"), inviteHandler)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func multipartMemory(limit int64) int64 {
	if limit <= 0 {
		return handlers.DefaultMaxUploadBytes
	}
	return limit
}
