package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditmeter/internal/credit"
	customerdomain "github.com/smallbiznis/creditmeter/internal/customer/domain"
	"github.com/smallbiznis/creditmeter/internal/metering"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	"github.com/smallbiznis/creditmeter/internal/quota"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var rl *metering.RateLimitError
		if errors.As(lastErr.Err, &rl) {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl)))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: err.Error(),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "admin access required",
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_payload",
			Message: "webhook payload is invalid",
		}
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "quota_exceeded",
			Message: err.Error(),
		}
	case errors.Is(err, metering.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, customerdomain.ErrExternalRefInUse):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "billing customer already linked",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case errors.Is(err, paymentdomain.ErrProviderNotConfigured),
		errors.Is(err, paymentdomain.ErrProviderUnavailable),
		errors.Is(err, metering.ErrLimiterUnavailable),
		errors.Is(err, usagedomain.ErrStorageTimeout),
		errors.Is(err, subscriptiondomain.ErrStorageTimeout),
		errors.Is(err, subscriptiondomain.ErrWriteConflict),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorCode(err error) (string, bool) {
	for _, target := range []error{
		ErrInvalidRequest,
		credit.ErrInvalidInput,
		usagedomain.ErrInvalidUser,
		usagedomain.ErrInvalidPeriod,
		subscriptiondomain.ErrInvalidUser,
		subscriptiondomain.ErrInvalidTier,
		customerdomain.ErrInvalidEmail,
		paymentdomain.ErrInvalidRequest,
		paymentdomain.ErrPriceNotConfigured,
	} {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	switch code {
	case credit.ErrInvalidInput.Error():
		return "sample"
	case usagedomain.ErrInvalidPeriod.Error():
		return "period"
	case subscriptiondomain.ErrInvalidTier.Error(), paymentdomain.ErrPriceNotConfigured.Error():
		return "tier_id"
	case customerdomain.ErrInvalidEmail.Error():
		return "email"
	case usagedomain.ErrInvalidUser.Error():
		return "user_id"
	default:
		return "request"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, usagedomain.ErrSummaryNotFound),
		errors.Is(err, subscriptiondomain.ErrTierNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrInvalidProvider):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, usagedomain.ErrSummaryNotFound):
		return "no usage data found for this month"
	case errors.Is(err, subscriptiondomain.ErrTierNotFound):
		return "tier not found"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return "no active subscription"
	default:
		return "not found"
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
}

func retryAfterSeconds(rl *metering.RateLimitError) int {
	seconds := int(rl.RetryAfter.Seconds())
	if rl.RetryAfter > 0 && float64(seconds) < rl.RetryAfter.Seconds() {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
