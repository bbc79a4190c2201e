package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	ctxLogger       = "request_logger"
)

// RequestLogger tags every request with an id, stores a request-scoped
// logger on the context and logs one line when the handler returns.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		l := logger.Get().With().
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Set(ctxLogger, &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}
		if sub := Subject(c); sub != "" {
			ev = ev.Str("sub", sub)
		}
		ev.Int("status", status).Dur("latency", time.Since(start)).Msg("request completed")
	}
}

// RequestLog returns the logger set by RequestLogger, or the process logger.
func RequestLog(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(*zerolog.Logger); ok {
			return l
		}
	}
	return logger.Get()
}
