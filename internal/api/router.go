package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/app"
	"github.com/charlesng35/authguard/internal/cache"
	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/handlers"
	"github.com/charlesng35/authguard/internal/middleware"
	"github.com/charlesng35/authguard/internal/monitoring"
	"github.com/charlesng35/authguard/internal/services"
)

// Deps are the services the HTTP surface is built over.
type Deps struct {
	DB       *gorm.DB
	Config   *app.Config
	Adaptive *iauth.AdaptiveService
	Audit    *services.AuditService
	// RateStore backs the request limiter. Nil selects an in-process store.
	RateStore middleware.RateStore
	// Cache, when set, is probed by the health endpoints.
	Cache cache.Store
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("database handle must be provided")
	case deps.Config == nil:
		return nil, errors.New("config must be provided")
	case deps.Adaptive == nil:
		return nil, errors.New("adaptive auth service must be provided")
	case deps.Audit == nil:
		return nil, errors.New("audit service must be provided")
	}
	cfg := deps.Config

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Actor())
	r.Use(middleware.Metrics(metricsEndpoint(cfg.Monitoring.Prometheus), "/health", "/api/health"))
	r.Use(middleware.SecurityHeaders())
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	var cacheProbe monitoring.Exister
	if deps.Cache != nil {
		cacheProbe = deps.Cache
	}
	registerHealthRoutes(r, deps.DB, cacheProbe)
	registerMonitoringRoutes(r, cfg.Monitoring.Prometheus)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Adaptive))

	registerAuthRoutes(r, api, authRouteDeps{
		AuthHandler:   handlers.NewAuthHandler(deps.Adaptive),
		DeviceHandler: handlers.NewDeviceHandler(deps.Adaptive),
	})
	registerAuditRoutes(api, handlers.NewAuditHandler(deps.Audit))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
