package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Logging logs every request. Health probes are logged at debug level.
func Logging(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			fields := []interface{}{
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", req.RemoteAddr,
			}
			if c.Path() == "/health" {
				log.Debug(req.Context(), "HTTP request", fields...)
			} else {
				log.Info(req.Context(), "HTTP request", fields...)
			}

			return err
		}
	}
}
