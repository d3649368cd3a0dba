package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/textress/backend/internal/infrastructure/logger"
	"github.com/textress/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// Tenant context keys
const (
	TenantIDKey     = "tenant_id"
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantValidator checks that a tenant exists. Inactive tenants are still
// valid: a suspended hotel must be able to read its balance.
type TenantValidator interface {
	ValidateTenant(ctx context.Context, tenantID uuid.UUID) error
}

// TenantMiddlewareConfig holds configuration for tenant middleware
type TenantMiddlewareConfig struct {
	// SkipPaths are paths that don't require tenant context (e.g., health check)
	SkipPaths []string
	// Validator is an optional check that the tenant exists
	Validator TenantValidator
	Logger    *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		SkipPaths: []string{"/health", "/api/v1/health"},
	}
}

// TenantMiddleware reads the tenant from X-Tenant-ID
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(DefaultTenantConfig())
}

// TenantMiddlewareWithConfig returns tenant middleware with custom configuration
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skipPath := range cfg.SkipPaths {
			if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
				c.Next()
				return
			}
		}

		header := c.GetHeader(TenantHeaderKey)
		if header == "" {
			respondUnauthorized(c, "Tenant identification required")
			return
		}
		tenantID, err := uuid.Parse(header)
		if err != nil || tenantID == uuid.Nil {
			respondUnauthorized(c, "Invalid tenant ID format")
			return
		}

		ctx := c.Request.Context()
		if cfg.Validator != nil {
			if err := cfg.Validator.ValidateTenant(ctx, tenantID); err != nil {
				log := cfg.Logger
				if log == nil {
					log = logger.FromContext(ctx)
				}
				log.Warn("Tenant validation failed",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(err))
				respondUnauthorized(c, "Unknown tenant")
				return
			}
		}

		c.Set(TenantIDKey, tenantID)
		ctx, _ = logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeUnauthorized, message, getRequestID(c)))
}

// GetTenantUUID returns the tenant set by TenantMiddleware, or uuid.Nil
func GetTenantUUID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(TenantIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// MustGetTenantUUID returns the tenant or panics. Only for routes behind TenantMiddleware.
func MustGetTenantUUID(c *gin.Context) uuid.UUID {
	id := GetTenantUUID(c)
	if id == uuid.Nil {
		panic("tenant_id not found in context")
	}
	return id
}
