package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "docrelay/internal/db"
)

const (
	UserKey        = "user"
	BearerTokenKey = "bearerToken"
)

// SetBearerToken stores the token presented on a public API request.
func SetBearerToken(ctx *fasthttp.RequestCtx, token string) {
	ctx.SetUserValue(BearerTokenKey, token)
}

func BearerTokenFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(BearerTokenKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func SetUser(ctx *fasthttp.RequestCtx, user *dbpkg.User) {
	ctx.SetUserValue(UserKey, user)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	v := ctx.UserValue(UserKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*dbpkg.User)
	return u, ok && u != nil
}
