package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/utils"
	"go.uber.org/zap"
)

const maxTraceIDLength = 128

// TraceID reuses the caller's trace id when it is sane and mints one otherwise.
// The id is stored on the gin context and echoed in the response header.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.Request.Header.Get(pkg.HeaderTraceId)
		if utils.IsEmpty(traceID) {
			traceID = c.Request.Header.Get(pkg.HeaderRequestId)
		}
		if utils.IsEmpty(traceID) || len(traceID) > maxTraceIDLength {
			traceID = uuid.NewString()
		}
		c.Set(pkg.TraceId, traceID)
		c.Writer.Header().Set(pkg.HeaderTraceId, traceID)
		c.Next()
	}
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String(pkg.TraceId, c.GetString(pkg.TraceId)),
			zap.String("method", c.Request.Method),
			zap.String("path", routeOf(c)),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			logger.Error("http_request", fields...)
			return
		}
		logger.Debug("http_request", fields...)
	}
}
