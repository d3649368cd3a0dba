package account

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/shared"
)

// Configuration errors. Fatal for the lookup that hit them.
var (
	ErrPricingConfiguration = shared.NewDomainError(shared.CodeConfiguration, "Pricing tiers have a gap or overlap")
	ErrTransTypeMissing     = shared.NewDomainError(shared.CodeConfiguration, "Required transaction type is not registered")
)

// Validation errors. The caller must not retry with the same input.
var (
	ErrFutureUsageDate = shared.NewDomainError(shared.CodeValidation, "Usage date cannot be in the future")
	ErrUsageDayOpen    = shared.NewDomainError(shared.CodeValidation, "Usage date is not yet closed")
	ErrInvalidAmount   = shared.NewDomainError(shared.CodeValidation, "Amount is not an allowed value")
	ErrNegativeUnits   = shared.NewDomainError(shared.CodeValidation, "Units cannot be negative")
	ErrInvalidPeriod   = shared.NewDomainError(shared.CodeValidation, "Statement period is invalid")
)

// ErrAutoRechargeUnavailable is the distinguished failure raised when a tenant
// below its minimum balance cannot be recharged.
var ErrAutoRechargeUnavailable = shared.NewDomainError("AUTO_RECHARGE_UNAVAILABLE", "Auto recharge is unavailable")

// Suspension reasons carried by AutoRechargeError.
const (
	ReasonAutoRechargeDisabled = "auto_recharge_disabled"
	ReasonCaptureFailed        = "capture_failed"
	ReasonTenantSuspended      = "tenant_suspended"
)

// AutoRechargeError reports why a low balance could not be recovered.
// It matches ErrAutoRechargeUnavailable and, when present, the capture error.
type AutoRechargeError struct {
	TenantID uuid.UUID
	Reason   string
	Cause    error
}

func (e *AutoRechargeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auto recharge unavailable for tenant %s (%s): %v", e.TenantID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("auto recharge unavailable for tenant %s (%s)", e.TenantID, e.Reason)
}

// Unwrap exposes both the sentinel and the underlying capture failure.
func (e *AutoRechargeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrAutoRechargeUnavailable}
	}
	return []error{ErrAutoRechargeUnavailable, e.Cause}
}

// IsAutoRechargeUnavailable reports whether err is a recharge failure and returns it.
func IsAutoRechargeUnavailable(err error) (*AutoRechargeError, bool) {
	var are *AutoRechargeError
	if errors.As(err, &are) {
		return are, true
	}
	return nil, false
}
