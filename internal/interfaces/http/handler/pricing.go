package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/interfaces/http/dto"
)

// PricingHandler exposes the pricing table a tenant is billed against
type PricingHandler struct {
	BaseHandler
	pricing *appaccount.PricingService
}

// NewPricingHandler creates a new PricingHandler
func NewPricingHandler(pricing *appaccount.PricingService) *PricingHandler {
	return &PricingHandler{pricing: pricing}
}

// RegisterRoutes mounts the /pricing endpoints
func (h *PricingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/pricing")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// List returns the tenant's override table, or the global one
func (h *PricingHandler) List(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	tiers, err := h.pricing.List(c.Request.Context(), &tid)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.PricingTierResponse, len(tiers))
	for i, t := range tiers {
		out[i] = dto.FromPricingTier(t)
	}
	h.Success(c, out)
}

// Get returns one tier. Another tenant's override tier is reported as not found.
func (h *PricingHandler) Get(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid pricing tier ID format")
		return
	}

	tier, err := h.pricing.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if tier.TenantID != nil && *tier.TenantID != tid {
		h.NotFound(c, "Pricing tier not found")
		return
	}
	h.Success(c, dto.FromPricingTier(*tier))
}
