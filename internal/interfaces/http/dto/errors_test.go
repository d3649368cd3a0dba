package dto

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeUnknown, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeConfiguration, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeValidationRequired, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeAlreadyExists, http.StatusConflict},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeAutoRechargeUnavailable, http.StatusPaymentRequired},
		{ErrCodePaymentFailed, http.StatusPaymentRequired},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{shared.CodeNotFound, ErrCodeNotFound},
		{shared.CodeAlreadyExists, ErrCodeAlreadyExists},
		{shared.CodeInvalidInput, ErrCodeInvalidInput},
		{shared.CodeInvalidState, ErrCodeInvalidState},
		{shared.CodeConflict, ErrCodeConcurrencyConflict},
		{shared.CodeValidation, ErrCodeValidation},
		{shared.CodeConfiguration, ErrCodeConfiguration},
		{shared.CodePaymentFailure, ErrCodePaymentFailed},
		{account.ErrAutoRechargeUnavailable.Code, ErrCodeAutoRechargeUnavailable},
		// API codes pass through unchanged
		{ErrCodeNotFound, ErrCodeNotFound},
		{"CUSTOM_ERROR", "CUSTOM_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeErrorCode(tt.input))
		})
	}
}

func TestEveryMappedCodeHasStatus(t *testing.T) {
	for domainCode, apiCode := range DomainErrorCodeMapping {
		_, ok := ErrorCodeHTTPStatus[apiCode]
		assert.True(t, ok, "%s maps to %s which has no status", domainCode, apiCode)
	}
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-1", []ValidationDetail{
		{Field: "recharge_amt", Message: "Must be one of: 10 20 50 100"},
	})

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"error": {
			"code": "ERR_VALIDATION",
			"message": "Request validation failed",
			"request_id": "req-1",
			"details": [{"field": "recharge_amt", "message": "Must be one of: 10 20 50 100"}]
		}
	}`, string(body))
}

func TestCostPolicyRequest_ToInput(t *testing.T) {
	recharge := int64(20)
	off := false
	in := CostPolicyRequest{RechargeAmt: &recharge, AutoRecharge: &off}.ToInput()

	require.NotNil(t, in.RechargeAmt)
	assert.True(t, in.RechargeAmt.Equal(decimal.NewFromInt(20)))
	assert.Nil(t, in.InitAmt)
	assert.Nil(t, in.BalanceMin)
	assert.False(t, *in.AutoRecharge)
	assert.False(t, in.IsEmpty())
	assert.True(t, CostPolicyRequest{}.ToInput().IsEmpty())
}

func TestFromTrans(t *testing.T) {
	assert.Nil(t, FromTrans(nil))

	tt, err := account.NewTransType(account.TransTypeSmsUsed)
	require.NoError(t, err)
	entry, err := account.NewAcctTrans(uuid.New(), tt, decimal.RequireFromString("5.5"), 300,
		time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	resp := FromTrans(entry)
	assert.Equal(t, "sms_used", resp.TransType)
	assert.Equal(t, "2024-06-15", resp.InsertDate)
	assert.True(t, resp.Amount.Equal(decimal.RequireFromString("-5.5")))
	assert.Nil(t, resp.Balance)

	entry.ApplySnapshot(decimal.NewFromInt(10))
	resp = FromTrans(entry)
	require.NotNil(t, resp.Balance)
	assert.True(t, resp.Balance.Equal(decimal.RequireFromString("4.5")))
}
