package transport

import (
	"net/http"

	"github.com/ds124wfegd/tripseats/internal/service"

	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	bookingService *service.BookingService
}

func NewBookingHandler(bookingService *service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// ReleaseHoldRequest представляет запрос на снятие резерва
type ReleaseHoldRequest struct {
	HoldID string `json:"hold_id" binding:"required"`
}

func (h *BookingHandler) HoldSeats(c *gin.Context) {
	var req service.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	receipt, err := h.bookingService.RequestBooking(c.Request.Context(), identityOf(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

func (h *BookingHandler) ConfirmBooking(c *gin.Context) {
	var req service.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	booking, err := h.bookingService.ConfirmBooking(c.Request.Context(), identityOf(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

func (h *BookingHandler) ReleaseHold(c *gin.Context) {
	var req ReleaseHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	hold, err := h.bookingService.ReleaseHold(c.Request.Context(), identityOf(c), req.HoldID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, hold)
}

// CancelBooking отменяет бронирование и возвращает заявку на возврат
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	var req service.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	refund, err := h.bookingService.CancelBooking(c.Request.Context(), identityOf(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}

func (h *BookingHandler) GetHold(c *gin.Context) {
	hold, err := h.bookingService.GetHold(c.Request.Context(), identityOf(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, hold)
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookingService.GetBooking(c.Request.Context(), identityOf(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}
