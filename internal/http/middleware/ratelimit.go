package middleware

import (
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	httpctx "docrelay/internal/http/ctx"
	"docrelay/internal/metrics"
	"docrelay/internal/ratelimit"
)

// RateLimit admits requests through limiter, keyed by the bearer token (or
// the client IP when there is none). Every response carries the
// X-RateLimit-* headers; denials get 429 with Retry-After. If the limiter
// itself fails the request is let through.
func RateLimit(limiter ratelimit.Admitter, opts ratelimit.Options, endpoint string, m *metrics.Metrics, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			key, ok := httpctx.BearerTokenFromCtx(ctx)
			if !ok {
				key = "ip:" + ClientIP(ctx)
			}

			adm, err := limiter.Admit(ctx, key, opts)
			if err != nil {
				logger.Warn("rate limiter unavailable, admitting request",
					zap.String("endpoint", endpoint),
					zap.Error(err),
				)
				next(ctx)
				return
			}
			m.RateLimitDecision(endpoint, adm.Admitted)

			h := &ctx.Response.Header
			h.Set("X-RateLimit-Limit", strconv.Itoa(adm.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(adm.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(adm.ResetAt.Unix(), 10))

			if !adm.Admitted {
				h.Set("Retry-After", strconv.FormatInt(adm.RetryAfterSeconds, 10))
				logger.Info("rate limit exceeded",
					zap.String("endpoint", endpoint),
					zap.Int64("retry_after_seconds", adm.RetryAfterSeconds),
				)
				jsonBody(ctx, fasthttp.StatusTooManyRequests, map[string]any{
					"error":             "Too many requests",
					"retryAfterSeconds": adm.RetryAfterSeconds,
				})
				return
			}
			next(ctx)
		}
	}
}
