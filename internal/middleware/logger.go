package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

const loggerKey = "logger"

// LoggerMiddleware stores a request-scoped logger and logs each completed request.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger
		if id := c.GetString(requestIDKey); id != "" {
			reqLogger = logger.With("request_id", id)
		}
		c.Set(loggerKey, reqLogger)

		c.Next()

		l := LoggerFrom(c)
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			l.Error("request failed", attrs...)
		case status >= 400:
			l.Info("request rejected", attrs...)
		default:
			l.Debug("request served", attrs...)
		}
	}
}

// LoggerFrom returns the request logger, falling back to slog.Default.
func LoggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
