package transport

import (
	"net/http"

	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/internal/service"

	"github.com/gin-gonic/gin"
)

type RefundHandler struct {
	refundService *service.RefundService
}

func NewRefundHandler(refundService *service.RefundService) *RefundHandler {
	return &RefundHandler{refundService: refundService}
}

func (h *RefundHandler) ListRefunds(c *gin.Context) {
	status := entity.RefundStatus(c.Query("status"))

	refunds, err := h.refundService.ListRefunds(c.Request.Context(), identityOf(c), status)
	if err != nil {
		writeError(c, err)
		return
	}
	if refunds == nil {
		refunds = []entity.RefundRequest{}
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds, "count": len(refunds)})
}

func (h *RefundHandler) ConfirmRefund(c *gin.Context) {
	refund, err := h.refundService.ConfirmRefund(c.Request.Context(), identityOf(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}

func (h *RefundHandler) MarkRefunded(c *gin.Context) {
	refund, err := h.refundService.MarkRefunded(c.Request.Context(), identityOf(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}
