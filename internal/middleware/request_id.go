package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

const traceHeader = "X-Trace-ID"

// RequestID puts the caller's trace id, or a fresh one, on the request
// context and echoes it back.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			traceID := c.Request().Header.Get(traceHeader)
			if traceID == "" {
				traceID = uuid.NewString()
			}

			c.SetRequest(c.Request().WithContext(logger.WithTraceID(c.Request().Context(), traceID)))
			c.Response().Header().Set(traceHeader, traceID)

			return next(c)
		}
	}
}
