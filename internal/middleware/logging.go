package middleware // request logging and HTTP metrics

import (
	"strconv"
	"time"

	"github.com/google/uuid" // request ids
	"github.com/labstack/echo/v4"
	"go.uber.org/zap" // structured access log

	"github.com/iliyamo/cinema-seat-sync/internal/pkg/metrics"
)

// RequestIDHeader carries the request id echoed back to the caller.
const RequestIDHeader = "X-Request-ID"

// RequestLogger logs every request with zap and records it in m.  The
// route pattern, not the raw path, labels the metrics so seat ids do not
// explode the label space.
func RequestLogger(log *zap.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := req.Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(RequestIDHeader, rid)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			d := time.Since(start)
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.ObserveHTTP(req.Method, path, strconv.Itoa(status), d)

			fields := []zap.Field{
				zap.String("request_id", rid),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", d),
			}
			switch {
			case status >= 500:
				log.Error("request", fields...)
			case status >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
			return nil
		}
	}
}
