package handlers

import (
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"docrelay/internal/config"
	dbpkg "docrelay/internal/db"
)

type userRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	IsAdmin  *bool  `json:"isAdmin"`
}

func ListUsers(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var users []dbpkg.User
		if err := db.WithContext(ctx).Order("email ASC").Find(&users).Error; err != nil {
			errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
			return
		}
		if users == nil {
			users = []dbpkg.User{}
		}
		jsonResponse(ctx, fasthttp.StatusOK, users)
	}
}

func CreateUser(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req userRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		email := strings.TrimSpace(req.Email)
		if email == "" || req.Password == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "Email and password are required")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			errJSON(ctx, fasthttp.StatusInternalServerError, "Failed to hash password")
			return
		}

		user := &dbpkg.User{
			Email:        email,
			Name:         strings.TrimSpace(req.Name),
			PasswordHash: string(hash),
			IsAdmin:      req.IsAdmin != nil && *req.IsAdmin,
		}
		if err := db.WithContext(ctx).Create(user).Error; err != nil {
			errJSON(ctx, fasthttp.StatusBadRequest, "Failed to create user (email may already exist)")
			return
		}

		jsonResponse(ctx, fasthttp.StatusCreated, user)
	}
}

// loadEditableUser resolves {id} and refuses the bootstrap admin.
func loadEditableUser(ctx *fasthttp.RequestCtx, db *gorm.DB, cfg *config.Config, action string) (*dbpkg.User, bool) {
	id, ok := uintParam(ctx, "id")
	if !ok {
		errJSON(ctx, fasthttp.StatusBadRequest, "Invalid user ID")
		return nil, false
	}

	var user dbpkg.User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			errJSON(ctx, fasthttp.StatusNotFound, "User not found")
			return nil, false
		}
		errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
		return nil, false
	}

	if user.Email == cfg.AdminUser {
		errJSON(ctx, fasthttp.StatusForbidden, "Cannot "+action+" bootstrap admin user")
		return nil, false
	}
	return &user, true
}

func UpdateUser(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := loadEditableUser(ctx, db, cfg, "modify")
		if !ok {
			return
		}
		var req userRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		if email := strings.TrimSpace(req.Email); email != "" {
			user.Email = email
		}
		if req.Name != "" {
			user.Name = strings.TrimSpace(req.Name)
		}
		if req.IsAdmin != nil {
			user.IsAdmin = *req.IsAdmin
		}
		if err := db.WithContext(ctx).Save(user).Error; err != nil {
			errJSON(ctx, fasthttp.StatusBadRequest, "Failed to update user (email may already exist)")
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, user)
	}
}

func ResetPassword(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := loadEditableUser(ctx, db, cfg, "modify")
		if !ok {
			return
		}

		var req userRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		if req.Password == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "Password required")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			errJSON(ctx, fasthttp.StatusInternalServerError, "Failed to hash password")
			return
		}

		if err := db.WithContext(ctx).Model(user).Update("password_hash", string(hash)).Error; err != nil {
			errJSON(ctx, fasthttp.StatusInternalServerError, "Failed to update password")
			return
		}

		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"message": "Password reset"})
	}
}

func DeleteUser(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := loadEditableUser(ctx, db, cfg, "delete")
		if !ok {
			return
		}

		if err := db.WithContext(ctx).Delete(user).Error; err != nil {
			errJSON(ctx, fasthttp.StatusInternalServerError, "Failed to delete user")
			return
		}

		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"message": "User deleted successfully"})
	}
}
