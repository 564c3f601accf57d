package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	dbpkg "docrelay/internal/db"
	httpctx "docrelay/internal/http/ctx"
)

// MustUser returns the current user from context, or sends 401 and returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		errJSON(ctx, fasthttp.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	return user, true
}

func jsonResponse(ctx *fasthttp.RequestCtx, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"Internal server error"}`)
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func errJSON(ctx *fasthttp.RequestCtx, code int, msg string) {
	jsonResponse(ctx, code, map[string]string{"error": msg})
}

// decodeJSON reads the request body into v, sending 400 on failure.
func decodeJSON(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		errJSON(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	s, _ := ctx.UserValue(name).(string)
	return s
}

func uintParam(ctx *fasthttp.RequestCtx, name string) (uint, bool) {
	n, err := strconv.ParseUint(pathParam(ctx, name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}
