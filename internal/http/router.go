// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freightmatch/internal/http/handlers"
	"freightmatch/internal/http/middleware"
	"freightmatch/internal/modules/matching"
	"freightmatch/internal/modules/request"
)

type RouterDeps struct {
	Requests  *request.Service
	Matching  *matching.Service
	Generator handlers.Recomputer
	Logger    *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger), middleware.Actor())

	requestHandler := handlers.NewRequestHandler(deps.Requests, deps.Matching, deps.Generator)
	r.POST("/api/requests", requestHandler.Create)
	r.GET("/api/requests/:id", requestHandler.Get)
	r.PATCH("/api/requests/:id/constraints", requestHandler.UpdateConstraints)
	r.GET("/api/requests/:id/matches", requestHandler.ListMatches)
	r.POST("/api/requests/:id/matches/recompute", requestHandler.Recompute)

	matchHandler := handlers.NewMatchHandler(deps.Matching)
	r.GET("/api/matches/:id", matchHandler.Get)
	r.POST("/api/matches/:id/counter", matchHandler.Counter)
	r.POST("/api/matches/:id/accept", matchHandler.Accept)
	r.POST("/api/matches/:id/reject", matchHandler.Reject)
	r.POST("/api/matches/:id/withdraw", matchHandler.Withdraw)
	r.GET("/api/matches/:id/events", matchHandler.Events)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return r
}
