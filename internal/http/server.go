// README: API gateway; builds the gin engine, registers routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"quickcart/internal/http/handlers"
	"quickcart/internal/http/middleware"
	"quickcart/internal/modules/order"
	"quickcart/internal/observability"
	"quickcart/internal/realtime"
)

const serviceName = "quickcart-api"

type ServerDeps struct {
	Order   *order.Service
	Gateway *realtime.Gateway
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type Server struct {
	order   *handlers.OrderHandler
	gateway *realtime.Gateway
	metrics *observability.Metrics
	log     *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		order:   handlers.NewOrderHandler(deps.Order),
		gateway: deps.Gateway,
		metrics: deps.Metrics,
		log:     log,
	}
}

func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), otelgin.Middleware(serviceName), middleware.Metrics(s.metrics), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.gateway != nil {
		r.GET("/ws", s.gateway.Handle)
	}

	api := r.Group("/api")
	api.POST("/orders", s.order.Create)
	api.GET("/orders/:id", s.order.Get)
	api.GET("/orders/:id/status", s.order.Status)
	api.GET("/orders/:id/events", s.order.Events)
	api.POST("/orders/:id/accept", s.order.Accept)
	api.POST("/orders/:id/reject", s.order.Reject)
	api.POST("/orders/:id/cancel", s.order.Cancel)
	api.PATCH("/orders/:id/status", s.order.UpdateStatus)
	api.GET("/users/:id/orders", s.order.ListByUser)
	api.GET("/admin/orders", s.order.ListActive)
	return r
}
