// Package router assembles the gin engine and mounts the API handlers.
package router

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/config"
	"github.com/textress/backend/internal/infrastructure/logger"
	"github.com/textress/backend/internal/interfaces/http/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// EngineConfig configures the global middleware chain
type EngineConfig struct {
	ServiceName string
	HTTP        config.HTTPConfig
	Tracing     bool
	// Meter enables HTTP metrics when set
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewEngine builds a gin engine with recovery, request IDs, logging,
// tracing, metrics, security headers, CORS and the body limit.
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	middleware.SetupValidator()

	engine.Use(
		logger.Recovery(cfg.Logger),
		middleware.RequestID(),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.ServiceName,
			Enabled:     cfg.Tracing,
		}),
		logger.GinMiddleware(cfg.Logger),
		middleware.HTTPMetrics(cfg.Meter, cfg.Logger),
		middleware.Secure(),
		middleware.CORSWithConfig(middleware.CORSConfigFrom(cfg.HTTP)),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)
	return engine, nil
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	tenantMW   gin.HandlerFunc
	public     []RouteRegistrar
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithTenantMiddleware replaces the default X-Tenant-ID middleware
func WithTenantMiddleware(mw gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.tenantMW = mw
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		tenantMW:   middleware.TenantMiddleware(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Public adds routes that need no tenant
func (r *Router) Public(registrar RouteRegistrar) *Router {
	r.public = append(r.public, registrar)
	return r
}

// Register adds tenant-scoped routes
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.public {
		registrar.RegisterRoutes(api)
	}

	scoped := api.Group("", r.tenantMW, middleware.SpanAttributes())
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(scoped)
	}
}

// TenantRepositoryValidator accepts any tenant the repository knows
type TenantRepositoryValidator struct {
	Repo account.TenantRepository
}

// ValidateTenant implements middleware.TenantValidator
func (v TenantRepositoryValidator) ValidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	_, err := v.Repo.FindByID(ctx, tenantID)
	return err
}
