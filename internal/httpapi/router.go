package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suPer8Hu/support-pilot/internal/common"
	"github.com/suPer8Hu/support-pilot/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-pilot/internal/httpapi/middleware"
	"github.com/suPer8Hu/support-pilot/internal/logger"
)

// NewRouter wires the HTTP surface. reg receives the HTTP collectors and is
// served on /metrics.
func NewRouter(h *handlers.Handler, log *logger.Logger, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.NewHTTPMetrics(reg).Instrument())
	r.Use(middleware.AccessLog(log))

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.POST("/auth/token", h.IssueToken)

	authGroup := v1.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.POST("/inbound", h.Inbound)
	authGroup.POST("/inbound/async", h.InboundAsync)
	authGroup.GET("/conversations/:id", h.GetConversation)
	authGroup.GET("/conversations/:id/messages", h.ListMessages)
	authGroup.POST("/conversations/:id/close", h.CloseConversation)
	authGroup.GET("/policies/topics", h.ListTopics)

	opGroup := authGroup.Group("/")
	opGroup.Use(middleware.OperatorRequired())
	opGroup.POST("/policies/reload", h.ReloadPolicies)
	return r
}
