package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsProvider contributes a named section to the health report.
type StatsProvider func() interface{}

type HealthHandler struct {
	version   string
	startedAt time.Time
	providers map[string]StatsProvider
}

func NewHealthHandler(version string, providers map[string]StatsProvider) *HealthHandler {
	return &HealthHandler{version: version, startedAt: time.Now(), providers: providers}
}

func (h *HealthHandler) Health(c *gin.Context) {
	report := gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	}
	for name, provide := range h.providers {
		report[name] = provide()
	}

	c.JSON(http.StatusOK, report)
}
