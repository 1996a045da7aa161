// Package httpapi is the HTTP ingress for workflow events.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	logx "flowwatch/pkg/logx"
)

// NewRouter builds the gin engine with recovery and request logging.
func NewRouter(svc Ingester, log logx.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	SetupRoutes(router, svc, log)
	return router
}

func SetupRoutes(router *gin.Engine, svc Ingester, log logx.Logger) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		events := NewEventHandler(svc, log)
		v1.POST("/projects/:project/workflows/:workflow/events", events.Ingest)
	}
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}
