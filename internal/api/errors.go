package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/0g-pos-settlement/internal/fees"
	"github.com/0gfoundation/0g-pos-settlement/internal/ledger"
	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/0gfoundation/0g-pos-settlement/internal/rewards"
	"github.com/0gfoundation/0g-pos-settlement/internal/settlement"
	"github.com/0gfoundation/0g-pos-settlement/internal/sigverify"
)

// errInvalidPayload marks a payload that is not the JSON a route expects.
var errInvalidPayload = errors.New("api: invalid payload")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidPayload),
		errors.Is(err, order.ErrMalformed),
		errors.Is(err, settlement.ErrMalformedOrder),
		errors.Is(err, sigverify.ErrMalformedSignature):
		return http.StatusBadRequest
	case errors.Is(err, settlement.ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, fees.ErrUnauthorized),
		errors.Is(err, fees.ErrAgentMismatch),
		errors.Is(err, settlement.ErrUnauthorizedBrandSigner):
		return http.StatusForbidden
	case errors.Is(err, settlement.ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrExpired):
		return http.StatusGone
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, rewards.ErrInsufficientRewardFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, fees.ErrInvalidFeeFraction),
		errors.Is(err, fees.ErrInvalidCustomFee),
		errors.Is(err, fees.ErrInvalidDefaultFee),
		errors.Is(err, fees.ErrInvalidFeeLimit),
		errors.Is(err, fees.ErrAgentNotActive),
		errors.Is(err, fees.ErrZeroAddress),
		errors.Is(err, fees.ErrNoSponsorship),
		errors.Is(err, rewards.ErrZeroAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as {error[, field]}. Internal errors are not echoed.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var fe *order.FieldError
	if errors.As(err, &fe) {
		body["field"] = fe.Path
	}
	c.AbortWithStatusJSON(status, body)
}
