package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/interfaces/http/dto"
)

// Custom validation tags
const (
	TagChargeAmount  = "charge_amount"
	TagBalanceAmount = "balance_amount"
)

var setupOnce sync.Once

// SetupValidator configures gin's validator with JSON field names and the
// billing amount tags. Safe to call more than once.
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("uri"), ",", 2)[0]
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
		_ = v.RegisterValidation(TagChargeAmount, amountIn(account.ChargeAmounts))
		_ = v.RegisterValidation(TagBalanceAmount, amountIn(account.BalanceAmounts))
	})
}

func amountIn(allowed []int64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return slices.Contains(allowed, fl.Field().Int())
		default:
			return false
		}
	}
}

// FormatValidationErrors formats validation errors into a standard response
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	}

	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError returns a validation error response
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, getRequestID(c)))
}

// RequestIDFrom returns the request ID for handlers outside this package
func RequestIDFrom(c *gin.Context) string {
	return getRequestID(c)
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "gte":
		return "Must be greater than or equal to " + e.Param()
	case "lte":
		return "Must be less than or equal to " + e.Param()
	case "min":
		return "Must be at least " + e.Param()
	case "max":
		return "Must be at most " + e.Param()
	case TagChargeAmount:
		return "Must be one of: " + joinAmounts(account.ChargeAmounts)
	case TagBalanceAmount:
		return "Must be one of: " + joinAmounts(account.BalanceAmounts)
	default:
		return "Invalid value"
	}
}

func joinAmounts(amounts []int64) string {
	parts := make([]string, len(amounts))
	for i, a := range amounts {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}
