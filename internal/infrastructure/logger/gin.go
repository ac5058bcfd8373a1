package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	requestIDHeader      = "X-Request-ID"
	idempotencyKeyHeader = "Idempotency-Key"
)

// GinMiddleware scopes a request logger into the request context and logs
// one line per request once the handler chain returns. It expects the
// request ID header to be set on the response already.
func GinMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		}
		if id := c.Writer.Header().Get(requestIDHeader); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if key := c.GetHeader(idempotencyKeyHeader); key != "" {
			fields = append(fields, zap.String("idempotency_key", key))
		}
		reqLogger := logger.With(fields...)
		c.Request = c.Request.WithContext(WithContext(c.Request.Context(), reqLogger))

		c.Next()

		// handlers may have enriched the context logger (user_id)
		done := FromContext(c.Request.Context())
		status := c.Writer.Status()
		result := []zap.Field{
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("body_size", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			result = append(result, zap.Strings("errors", c.Errors.Errors()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			done.Error("request completed", result...)
		case status >= http.StatusBadRequest:
			done.Warn("request completed", result...)
		default:
			done.Info("request completed", result...)
		}
	}
}

// Recovery turns a handler panic into a 500 JSON error response
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log := FromContext(c.Request.Context())
				if log == nopLogger {
					log = logger
				}
				log.Error("panic recovered", zap.Any("panic", rec), zap.Stack("stacktrace"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "ERR_INTERNAL",
						"message": "An unexpected error occurred",
					},
				})
			}
		}()
		c.Next()
	}
}

// RequestLogger returns the logger scoped to the current request
func RequestLogger(c *gin.Context) *zap.Logger {
	return FromContext(c.Request.Context())
}
