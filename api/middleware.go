package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/dronedispatch/core/monitoring"
	"github.com/kilianp07/dronedispatch/infra/logger"
)

// Recovery turns handler panics into a 500 and reports them.
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if v := recover(); v != nil {
				log.Errorf("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, v)
				monitoring.CaptureException(fmt.Errorf("panic: %v", v), map[string]string{
					"module": "api",
					"path":   c.FullPath(),
				})
				writeError(c, http.StatusInternalServerError, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// Logging writes one debug line per request.
func Logging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("http request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}
