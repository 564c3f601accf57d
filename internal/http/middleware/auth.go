package middleware

import (
	"bytes"
	"strings"

	"github.com/valyala/fasthttp"

	httpctx "docrelay/internal/http/ctx"
)

// BearerAuth requires an "Authorization: Bearer <token>" header and stores
// the token on the context. Resolving the token to a config is left to the
// handler, which knows the config kind and any extra matching fields.
func BearerAuth() func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			auth := ctx.Request.Header.Peek("Authorization")
			const prefix = "Bearer "
			if len(auth) == 0 || !bytes.HasPrefix(auth, []byte(prefix)) {
				jsonError(ctx, fasthttp.StatusUnauthorized, "Authorization token is required")
				return
			}

			token := strings.TrimSpace(string(auth[len(prefix):]))
			if token == "" {
				jsonError(ctx, fasthttp.StatusUnauthorized, "Authorization token is required")
				return
			}

			httpctx.SetBearerToken(ctx, token)
			next(ctx)
		}
	}
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then the
// connection's remote address.
func ClientIP(ctx *fasthttp.RequestCtx) string {
	if fwd := ctx.Request.Header.Peek("X-Forwarded-For"); len(fwd) > 0 {
		first, _, _ := strings.Cut(string(fwd), ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(string(ctx.Request.Header.Peek("X-Real-IP"))); real != "" {
		return real
	}
	return ctx.RemoteIP().String()
}
