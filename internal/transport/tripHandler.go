package transport

import (
	"net/http"

	"github.com/ds124wfegd/tripseats/internal/service"

	"github.com/gin-gonic/gin"
)

type TripHandler struct {
	bookingService *service.BookingService
}

func NewTripHandler(bookingService *service.BookingService) *TripHandler {
	return &TripHandler{bookingService: bookingService}
}

func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req service.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	inv, err := h.bookingService.CreateTrip(c.Request.Context(), identityOf(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, inv)
}

// GetSeats возвращает текущее состояние мест рейса
func (h *TripHandler) GetSeats(c *gin.Context) {
	inv, err := h.bookingService.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}
