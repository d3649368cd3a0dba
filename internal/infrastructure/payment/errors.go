package payment

import (
	"errors"
	"fmt"
)

// Capture failure reasons.
const (
	ReasonDeclined           = "card_declined"
	ReasonNoPaymentMethod    = "no_payment_method"
	ReasonActionRequired     = "action_required"
	ReasonGatewayError       = "gateway_error"
	ReasonGatewayUnavailable = "gateway_unavailable"
	ReasonGatewayTimeout     = "gateway_timeout"
	ReasonInvalidAmount      = "invalid_amount"
)

// CaptureError is a failed capture. Code carries the processor's own code
// when there is one.
type CaptureError struct {
	Reason string
	Code   string
	Err    error
}

func (e *CaptureError) Error() string {
	msg := "payment capture failed: " + e.Reason
	if e.Code != "" {
		msg += fmt.Sprintf(" (%s)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the capture failure reason of err, or ReasonGatewayError.
func ReasonOf(err error) string {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonGatewayError
}

// isDecline reports whether the failure came from the customer's payment
// method rather than the processor.
func isDecline(err error) bool {
	switch ReasonOf(err) {
	case ReasonDeclined, ReasonNoPaymentMethod, ReasonActionRequired, ReasonInvalidAmount:
		return true
	}
	return false
}
