package transport

import (
	"net/http"
	"time"

	"github.com/ds124wfegd/tripseats/internal/transport/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	AllowOrigins   []string
	RequestTimeout time.Duration
	// TrustedProxies are allowed to report the client IP. Anonymous rate limits key on it.
	TrustedProxies []string
}

// Handlers groups everything the router serves. Events may be nil when no DLQ is configured.
type Handlers struct {
	Trips    *TripHandler
	Bookings *BookingHandler
	Refunds  *RefundHandler
	Events   *EventHandler
	WS       *WSHandler
	Health   *HealthHandler
}

func InitRoutes(cfg RouterConfig, resolver middleware.IdentityResolver, h Handlers) *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logrus.WithError(err).Error("Invalid trusted proxies, forwarded headers are ignored")
		_ = router.SetTrustedProxies(nil)
	}

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.AllowOrigins))
	router.Use(middleware.Identity(resolver))
	router.Use(middleware.Logger())

	// Health check
	router.GET("/health", h.Health.Health)

	// Real-time seat stream, not bounded by the request timeout
	router.GET("/ws", h.WS.Serve)

	// API routes
	api := router.Group("/api/v1", middleware.Timeout(cfg.RequestTimeout))
	{
		// Trip routes
		trips := api.Group("/trips")
		{
			trips.POST("", h.Trips.CreateTrip)
			trips.GET("/:id/seats", h.Trips.GetSeats)
		}

		// Booking routes
		bookings := api.Group("/bookings")
		{
			bookings.POST("/hold", h.Bookings.HoldSeats)
			bookings.POST("/confirm", h.Bookings.ConfirmBooking)
			bookings.POST("/release", h.Bookings.ReleaseHold)
			bookings.POST("/cancel", h.Bookings.CancelBooking)
			bookings.GET("/:id", h.Bookings.GetBooking)
		}
		api.GET("/holds/:id", h.Bookings.GetHold)

		// Admin routes
		admin := api.Group("/admin", middleware.RequireStaff())
		{
			admin.GET("/refunds", h.Refunds.ListRefunds)
			admin.POST("/refunds/:id/confirm", h.Refunds.ConfirmRefund)
			admin.POST("/refunds/:id/refund", h.Refunds.MarkRefunded)

			if h.Events != nil {
				admin.GET("/events/failed", h.Events.ListFailed)
				admin.POST("/events/failed/:id/requeue", h.Events.Requeue)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Success: false, Code: "not-found", Error: "route not found"})
	})

	return router
}
