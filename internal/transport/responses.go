package transport

import (
	"errors"
	"net/http"

	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/internal/transport/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{entity.ErrInsufficientSeats, http.StatusConflict, "insufficient-seats"},
	{entity.ErrHoldExpired, http.StatusGone, "hold-expired"},
	{entity.ErrInventoryUnavailable, http.StatusServiceUnavailable, "inventory-unavailable"},
	{entity.ErrTripNotFound, http.StatusNotFound, "trip-not-found"},
	{entity.ErrHoldNotFound, http.StatusNotFound, "hold-not-found"},
	{entity.ErrBookingNotFound, http.StatusNotFound, "booking-not-found"},
	{entity.ErrRefundNotFound, http.StatusNotFound, "refund-not-found"},
	{entity.ErrTripExists, http.StatusConflict, "trip-exists"},
	{entity.ErrInvalidRefundState, http.StatusConflict, "invalid-refund-state"},
	{entity.ErrPaymentDeclined, http.StatusPaymentRequired, "payment-declined"},
	{entity.ErrForbidden, http.StatusForbidden, "forbidden"},
	{entity.ErrInvalidInput, http.StatusBadRequest, "invalid-input"},
}

// statusFor maps a domain error to its HTTP status and stable error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Error("Unhandled error")
		message = "internal server error"
	}
	c.JSON(status, ErrorResponse{Success: false, Code: code, Error: message})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Code: "invalid-input", Error: err.Error()})
}

func identityOf(c *gin.Context) entity.Identity {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return entity.NewAnonymousIdentity()
	}
	return identity
}
