package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/interfaces/http/dto"
	"github.com/textress/backend/internal/interfaces/http/middleware"
)

// LedgerReader is the ledger surface the account endpoints read
type LedgerReader interface {
	Today() time.Time
	GetBalance(ctx context.Context, tenantID uuid.UUID, excludes bool) (decimal.Decimal, error)
	MonthlyTrans(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*account.AcctTrans, error)
	PaymentHistory(ctx context.Context, tenantID uuid.UUID) ([]*account.AcctTrans, error)
}

// AccountHandler serves balances, ledger history, statements and the cost policy
type AccountHandler struct {
	BaseHandler
	ledger     LedgerReader
	statements *appaccount.StatementService
	costs      *appaccount.AcctCostService
	recharge   *appaccount.RechargeService
	accounts   *appaccount.AccountService
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(
	ledger LedgerReader,
	statements *appaccount.StatementService,
	costs *appaccount.AcctCostService,
	recharge *appaccount.RechargeService,
	accounts *appaccount.AccountService,
) *AccountHandler {
	return &AccountHandler{
		ledger:     ledger,
		statements: statements,
		costs:      costs,
		recharge:   recharge,
		accounts:   accounts,
	}
}

// RegisterRoutes mounts the /account endpoints
func (h *AccountHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/account")
	g.GET("/balance", h.GetBalance)
	g.GET("/transactions", h.ListTransactions)
	g.GET("/payments", h.ListPayments)
	g.GET("/statements", h.ListStatements)
	g.GET("/statements/:year/:month", h.GetStatement)
	g.POST("/statements/:year/:month/recompute", h.RecomputeStatement)
	g.GET("/cost", h.GetCost)
	g.PUT("/cost", h.UpdateCost)
	g.POST("/check-balance", h.CheckBalance)
	g.POST("/open", h.Open)
	g.POST("/close", h.Close)
}

// GetBalance returns the running balance and the balance excluding today's open usage
func (h *AccountHandler) GetBalance(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	ctx := c.Request.Context()

	balance, err := h.ledger.GetBalance(ctx, tid, false)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	available, err := h.ledger.GetBalance(ctx, tid, true)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.BalanceResponse{
		TenantID:  tid,
		Balance:   balance,
		Available: available,
		AsOf:      h.ledger.Today().Format(time.DateOnly),
	})
}

// ListTransactions returns the ledger entries for the month containing ?date=YYYY-MM-DD.
// Without a date the current month is listed.
func (h *AccountHandler) ListTransactions(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	date := h.ledger.Today()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, date.Location())
		if err != nil {
			h.BadRequest(c, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	entries, err := h.ledger.MonthlyTrans(c.Request.Context(), tid, date)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.FromTransList(entries))
}

// ListPayments returns the tenant's credits, newest first
func (h *AccountHandler) ListPayments(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	entries, err := h.ledger.PaymentHistory(c.Request.Context(), tid)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.FromTransList(entries))
}

// ListStatements returns stored statements, newest first
func (h *AccountHandler) ListStatements(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	stmts, err := h.statements.List(c.Request.Context(), tid)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.StatementResponse, len(stmts))
	for i, s := range stmts {
		out[i] = dto.FromStatement(s)
	}
	h.Success(c, out)
}

// GetStatement returns the statement for a period, building it on first access
func (h *AccountHandler) GetStatement(c *gin.Context) {
	tid, period, ok := h.bindPeriod(c)
	if !ok {
		return
	}
	stmt, created, err := h.statements.GetOrCreate(c.Request.Context(), tid, time.Month(period.Month), period.Year)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if created {
		h.Created(c, dto.FromStatement(stmt))
		return
	}
	h.Success(c, dto.FromStatement(stmt))
}

// RecomputeStatement rebuilds a period's totals from the ledger
func (h *AccountHandler) RecomputeStatement(c *gin.Context) {
	tid, period, ok := h.bindPeriod(c)
	if !ok {
		return
	}
	stmt, err := h.statements.Recompute(c.Request.Context(), tid, time.Month(period.Month), period.Year)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.FromStatement(stmt))
}

func (h *AccountHandler) bindPeriod(c *gin.Context) (uuid.UUID, dto.PeriodRequest, bool) {
	var period dto.PeriodRequest
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return tid, period, false
	}
	if err := c.ShouldBindUri(&period); err != nil {
		middleware.HandleValidationError(c, err)
		return tid, period, false
	}
	return tid, period, true
}

// GetCost returns the tenant's policy, or the defaults when none is stored
func (h *AccountHandler) GetCost(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	cost, err := h.costs.Get(c.Request.Context(), tid)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.FromCost(cost))
}

// UpdateCost overrides policy fields from the allowed amount lists
func (h *AccountHandler) UpdateCost(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	var req dto.CostPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	cost, created, err := h.costs.Upsert(c.Request.Context(), tid, req.ToInput())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if created {
		h.Created(c, dto.FromCost(cost))
		return
	}
	h.Success(c, dto.FromCost(cost))
}

// CheckBalance refreshes today's usage and recharges when below the minimum.
// A suspension answers 402 with the check result alongside the error.
func (h *AccountHandler) CheckBalance(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}

	result, err := h.recharge.CheckBalance(c.Request.Context(), tid)
	if err != nil && result == nil {
		h.HandleError(c, err)
		return
	}

	resp := dto.CheckBalanceResponse{
		TenantID:   result.TenantID,
		Outcome:    string(result.Outcome),
		Balance:    result.Balance,
		BalanceMin: result.BalanceMin,
		Reason:     result.Reason,
		Usage:      dto.FromTrans(result.Usage),
		Recharge:   dto.FromTrans(result.Recharge),
	}
	if err != nil {
		body := dto.NewErrorResponseWithRequestID(dto.ErrCodeAutoRechargeUnavailable,
			"Balance is below minimum and could not be recharged", middleware.RequestIDFrom(c))
		body.Data = resp
		c.JSON(http.StatusPaymentRequired, body)
		return
	}
	h.Success(c, resp)
}

// Open stores the policy and captures the initial credit
func (h *AccountHandler) Open(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	var req dto.CostPolicyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	result, err := h.accounts.OpenAccount(c.Request.Context(), tid, req.ToInput())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := dto.OpenAccountResponse{
		Opened:    result.Opened,
		Cost:      dto.FromCost(result.Cost),
		InitEntry: dto.FromTrans(result.InitEntry),
	}
	if result.Opened {
		h.Created(c, resp)
		return
	}
	h.Success(c, resp)
}

// Close deactivates the tenant and turns off auto recharge
func (h *AccountHandler) Close(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		h.Unauthorized(c, "Tenant identification required")
		return
	}
	if err := h.accounts.CloseAccount(c.Request.Context(), tid); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
