package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// requestLogger пишет одну строку на запрос и обновляет HTTP-метрики.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		h.metrics.RecordHTTPRequest(c.Request.Method, route, status, duration)

		fields := log.Fields{
			"method":      c.Request.Method,
			"route":       route,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
		}
		if p := principalFrom(c); p.UserID != "" {
			fields["user_id"] = p.UserID
		}
		entry := h.logger.WithFields(fields)
		if status >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	}
}

func (h *Handler) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.logger.WithField("panic", recovered).WithField("path", c.Request.URL.Path).Error("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
	})
}
