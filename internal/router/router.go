// Package router defines how HTTP routes are registered for the API.  The
// system exposes one canonical contract under /api with bearer-token
// authentication; every ticketing route additionally sits behind the
// waiting-room admission check performed inside the handlers.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-rush/internal/config"
	"github.com/iliyamo/ticket-rush/internal/handler"
	"github.com/iliyamo/ticket-rush/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently that is only the health check used by load balancers.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the token issuer endpoints under /api/auth.  None
// of them require an existing session.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/api/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
}

// RegisterTicketing registers the waiting-room and ticketing endpoints.
// All of them require a valid access token; the queue and ticketing groups
// are additionally rate limited when Redis is available.
func RegisterTicketing(e *echo.Echo, q *handler.QueueHandler, t *handler.TicketingHandler, jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	api := e.Group("/api")
	api.Use(middleware.JWTAuth(jwtSecret))
	api.Use(middleware.NewTokenBucket(rlCfg, rdb))

	api.POST("/queue/enter", q.Enter)
	api.GET("/queue/status", q.Status)

	api.POST("/ticketing/reservation", t.CreateReservation)
	api.GET("/ticketing/reservation/:id", t.GetReservation)
	api.PUT("/ticketing/reservation/:id/state", t.UpdateState)
	api.POST("/ticketing/reservation/:id/cancel", t.Cancel)

	api.POST("/ticketing/seat/hold", t.HoldSeat)
	api.POST("/ticketing/seat/release", t.ReleaseSeat)
	api.GET("/ticketing/seat/held", t.HeldSeats)
}
