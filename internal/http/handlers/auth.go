package handlers

import (
	"bytes"
	"errors"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"docrelay/internal/config"
	dbpkg "docrelay/internal/db"
	"docrelay/internal/http/middleware"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// readCredentials accepts a JSON body or a urlencoded form.
func readCredentials(ctx *fasthttp.RequestCtx) (credentials, bool) {
	var c credentials
	if isJSON(ctx) {
		if !decodeJSON(ctx, &c) {
			return c, false
		}
		return c, true
	}
	c.Email = string(ctx.PostArgs().Peek("email"))
	c.Password = string(ctx.PostArgs().Peek("password"))
	return c, true
}

func isJSON(ctx *fasthttp.RequestCtx) bool {
	return bytes.HasPrefix(ctx.Request.Header.ContentType(), []byte("application/json"))
}

func LoginSubmit(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		c, ok := readCredentials(ctx)
		if !ok {
			return
		}
		if c.Email == "" || c.Password == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "Email and password are required")
			return
		}

		var user dbpkg.User
		if err := db.WithContext(ctx).Where("email = ?", c.Email).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				errJSON(ctx, fasthttp.StatusUnauthorized, "Invalid email or password")
				return
			}
			errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(c.Password)); err != nil {
			errJSON(ctx, fasthttp.StatusUnauthorized, "Invalid email or password")
			return
		}

		var cookie fasthttp.Cookie
		cookie.SetKey(middleware.SessionCookie)
		cookie.SetValue(user.Email)
		cookie.SetPath("/")
		cookie.SetHTTPOnly(true)
		cookie.SetSameSite(fasthttp.CookieSameSiteLaxMode)
		ctx.Response.Header.SetCookie(&cookie)

		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"user": user})
	}
}

func Logout() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var c fasthttp.Cookie
		c.SetKey(middleware.SessionCookie)
		c.SetValue("")
		c.SetPath("/")
		c.SetMaxAge(-1)
		ctx.Response.Header.SetCookie(&c)
		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"message": "Logged out"})
	}
}

// Me returns the signed-in user.
func Me() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"user": user})
	}
}

type passwordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func ChangePasswordSelf(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		if user.Email == cfg.AdminUser {
			errJSON(ctx, fasthttp.StatusForbidden, "Cannot change password for bootstrap admin user")
			return
		}

		var req passwordChange
		if !decodeJSON(ctx, &req) {
			return
		}
		if req.CurrentPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "All password fields are required")
			return
		}
		if req.NewPassword != req.ConfirmPassword {
			errJSON(ctx, fasthttp.StatusBadRequest, "New passwords do not match")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			errJSON(ctx, fasthttp.StatusUnauthorized, "Current password is incorrect")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			errJSON(ctx, fasthttp.StatusInternalServerError, "Failed to hash password")
			return
		}

		if err := db.WithContext(ctx).Model(&dbpkg.User{}).Where("id = ?", user.ID).Update("password_hash", string(hash)).Error; err != nil {
			errJSON(ctx, fasthttp.StatusInternalServerError, "Failed to update password")
			return
		}

		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"message": "Password updated"})
	}
}
