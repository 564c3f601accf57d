package middleware

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"docrelay/internal/metrics"
)

// RequestLogger returns fasthttp middleware that logs method, path, status and
// duration, and records them in the request metrics.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			took := time.Since(start)
			status := ctx.Response.StatusCode()
			method := string(ctx.Method())

			m.Request(method, strconv.Itoa(status), took)
			logger.Info("request",
				zap.String("method", method),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", status),
				zap.Duration("duration", took),
				zap.String("ip", ctx.RemoteIP().String()),
			)
		}
	}
}
