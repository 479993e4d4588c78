package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ds124wfegd/tripseats/pkg/broker"

	"github.com/gin-gonic/gin"
)

// DeadLetterStore holds domain events that could not be published.
type DeadLetterStore interface {
	List(ctx context.Context, limit int) ([]broker.FailedEvent, error)
	Take(ctx context.Context, eventID string) (broker.FailedEvent, error)
	Stats(ctx context.Context) (broker.DLQStats, error)
}

// EventEmitter republishes a domain event.
type EventEmitter interface {
	Emit(event broker.Event) error
}

// EventHandler exposes the dead letter queue of domain events to staff.
type EventHandler struct {
	dlq     DeadLetterStore
	emitter EventEmitter
}

func NewEventHandler(dlq DeadLetterStore, emitter EventEmitter) *EventHandler {
	return &EventHandler{dlq: dlq, emitter: emitter}
}

func (h *EventHandler) ListFailed(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	failed, err := h.dlq.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	stats, err := h.dlq.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": failed, "stats": stats})
}

// Requeue moves a failed event back to the broker dispatcher.
func (h *EventHandler) Requeue(c *gin.Context) {
	failed, err := h.dlq.Take(c.Request.Context(), c.Param("id"))
	if errors.Is(err, broker.ErrNotInDLQ) {
		c.JSON(http.StatusNotFound, ErrorResponse{Success: false, Code: "event-not-found", Error: err.Error()})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.emitter.Emit(failed.Event); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "event_id": failed.Event.ID})
}
