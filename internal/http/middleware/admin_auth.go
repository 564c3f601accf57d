package middleware

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"docrelay/internal/config"
	dbpkg "docrelay/internal/db"
	httpctx "docrelay/internal/http/ctx"
)

// SessionCookie names the cookie holding the signed-in user's email.
const SessionCookie = "session_user"

// AdminAuth returns middleware that loads the session user and sets it on the context.
func AdminAuth(db *gorm.DB, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			cookie := ctx.Request.Header.Cookie(SessionCookie)
			if len(cookie) == 0 {
				jsonError(ctx, fasthttp.StatusUnauthorized, "Unauthorized")
				return
			}
			email := string(cookie)

			var user dbpkg.User
			if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
				jsonError(ctx, fasthttp.StatusUnauthorized, "Unauthorized")
				return
			}

			if user.Email == cfg.AdminUser {
				user.IsAdmin = true
			}

			httpctx.SetUser(ctx, &user)
			next(ctx)
		}
	}
}

// RequireAdmin rejects signed-in users without the admin flag. It must run
// after AdminAuth.
func RequireAdmin(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := httpctx.UserFromCtx(ctx)
		if !ok || !user.IsAdmin {
			jsonError(ctx, fasthttp.StatusForbidden, "Forbidden")
			return
		}
		next(ctx)
	}
}

func jsonError(ctx *fasthttp.RequestCtx, code int, msg string) {
	jsonBody(ctx, code, map[string]any{"error": msg})
}

func jsonBody(ctx *fasthttp.RequestCtx, code int, v any) {
	body, _ := json.Marshal(v)
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
