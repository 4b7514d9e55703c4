// Package observability provides structured request logging for the HTTP
// surface.
package observability

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
)

// HeaderRequestID carries the request ID back to the caller for log
// correlation.
const HeaderRequestID = "X-Request-Id"

// RequestLogger logs one line per request with a generated request ID,
// method, path, status and duration.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(HeaderRequestID, requestID)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			slog.Info("request",
				slog.String(LogFieldRequestID, requestID),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
				slog.Int("status", c.Response().Status),
				slog.Int64(LogFieldDuration, time.Since(start).Milliseconds()),
			)
			return nil
		}
	}
}
