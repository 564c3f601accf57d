package handlers

import (
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	dbpkg "docrelay/internal/db"
)

const configNotFound = "Configuration not found"

type smtpConfigRequest struct {
	Name      *string `json:"name"`
	Host      *string `json:"host"`
	Port      *int    `json:"port"`
	Username  *string `json:"username"`
	Password  *string `json:"password"`
	FromEmail *string `json:"fromEmail"`
	FromName  *string `json:"fromName"`
	Secure    *bool   `json:"secure"`
	Active    *bool   `json:"active"`
}

func (r smtpConfigRequest) apply(c *dbpkg.SMTPConfig) {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.Host != nil {
		c.Host = strings.TrimSpace(*r.Host)
	}
	if r.Port != nil {
		c.Port = *r.Port
	}
	if r.Username != nil {
		c.Username = *r.Username
	}
	if r.Password != nil && *r.Password != "" {
		c.Password = *r.Password
	}
	if r.FromEmail != nil {
		c.FromEmail = strings.TrimSpace(*r.FromEmail)
	}
	if r.FromName != nil {
		c.FromName = *r.FromName
	}
	if r.Secure != nil {
		c.Secure = *r.Secure
	}
	if r.Active != nil {
		c.Active = *r.Active
	}
}

func validSMTPConfig(c *dbpkg.SMTPConfig) bool {
	return c.Name != "" && c.Host != "" && c.Port > 0 && c.FromEmail != ""
}

type pdfConfigRequest struct {
	Name        *string   `json:"name"`
	IPWhitelist *[]string `json:"ipWhitelist"`
	Active      *bool     `json:"active"`
}

func (r pdfConfigRequest) apply(c *dbpkg.PDFConfig) {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.IPWhitelist != nil {
		ips := make([]string, 0, len(*r.IPWhitelist))
		for _, ip := range *r.IPWhitelist {
			if ip = strings.TrimSpace(ip); ip != "" {
				ips = append(ips, ip)
			}
		}
		c.SetWhitelist(ips)
	}
	if r.Active != nil {
		c.Active = *r.Active
	}
}

type tokenRequest struct {
	Name string `json:"name"`
}

// storeError answers ErrNotFound with 404 and anything else with a logged 500.
func storeError(ctx *fasthttp.RequestCtx, logger *zap.Logger, op string, err error) {
	if errors.Is(err, dbpkg.ErrNotFound) {
		errJSON(ctx, fasthttp.StatusNotFound, configNotFound)
		return
	}
	logger.Error(op, zap.Error(err))
	errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
}

func ListSMTPConfigs(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfgs, err := dbpkg.ListSMTPConfigs(ctx, db)
		if err != nil {
			storeError(ctx, logger, "list smtp configs", err)
			return
		}
		if cfgs == nil {
			cfgs = []dbpkg.SMTPConfig{}
		}
		jsonResponse(ctx, fasthttp.StatusOK, cfgs)
	}
}

func GetSMTPConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := dbpkg.GetSMTPConfig(ctx, db, pathParam(ctx, "id"))
		if err != nil {
			storeError(ctx, logger, "get smtp config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, cfg)
	}
}

func CreateSMTPConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req smtpConfigRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		cfg := &dbpkg.SMTPConfig{Active: true}
		req.apply(cfg)
		if !validSMTPConfig(cfg) {
			errJSON(ctx, fasthttp.StatusBadRequest, "Missing required fields: name, host, port, fromEmail")
			return
		}
		if err := dbpkg.CreateSMTPConfig(ctx, db, cfg); err != nil {
			storeError(ctx, logger, "create smtp config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, cfg)
	}
}

func UpdateSMTPConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := dbpkg.GetSMTPConfig(ctx, db, pathParam(ctx, "id"))
		if err != nil {
			storeError(ctx, logger, "get smtp config", err)
			return
		}
		var req smtpConfigRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		req.apply(cfg)
		if !validSMTPConfig(cfg) {
			errJSON(ctx, fasthttp.StatusBadRequest, "Missing required fields: name, host, port, fromEmail")
			return
		}
		if err := dbpkg.SaveSMTPConfig(ctx, db, cfg); err != nil {
			storeError(ctx, logger, "update smtp config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, cfg)
	}
}

func DeleteSMTPConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if err := dbpkg.DeleteSMTPConfig(ctx, db, pathParam(ctx, "id")); err != nil {
			storeError(ctx, logger, "delete smtp config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"message": "Configuration deleted successfully"})
	}
}

func ListPDFConfigs(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfgs, err := dbpkg.ListPDFConfigs(ctx, db)
		if err != nil {
			storeError(ctx, logger, "list pdf configs", err)
			return
		}
		if cfgs == nil {
			cfgs = []dbpkg.PDFConfig{}
		}
		jsonResponse(ctx, fasthttp.StatusOK, cfgs)
	}
}

func GetPDFConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := dbpkg.GetPDFConfig(ctx, db, pathParam(ctx, "id"))
		if err != nil {
			storeError(ctx, logger, "get pdf config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, cfg)
	}
}

func CreatePDFConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req pdfConfigRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		cfg := &dbpkg.PDFConfig{Active: true}
		req.apply(cfg)
		if cfg.Name == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "Name is required")
			return
		}
		if err := dbpkg.CreatePDFConfig(ctx, db, cfg); err != nil {
			storeError(ctx, logger, "create pdf config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, cfg)
	}
}

// UpdatePDFConfig applies a partial update of name, ipWhitelist and active.
func UpdatePDFConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		cfg, err := dbpkg.GetPDFConfig(ctx, db, pathParam(ctx, "id"))
		if err != nil {
			storeError(ctx, logger, "get pdf config", err)
			return
		}
		var req pdfConfigRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		req.apply(cfg)
		if cfg.Name == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "Name is required")
			return
		}
		if err := dbpkg.SavePDFConfig(ctx, db, cfg); err != nil {
			storeError(ctx, logger, "update pdf config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, cfg)
	}
}

func DeletePDFConfig(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if err := dbpkg.DeletePDFConfig(ctx, db, pathParam(ctx, "id")); err != nil {
			storeError(ctx, logger, "delete pdf config", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"message": "Configuration deleted successfully"})
	}
}

// CreateToken issues a bearer token for the config {id} of the given kind.
func CreateToken(db *gorm.DB, kind dbpkg.TokenKind, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := pathParam(ctx, "id")
		if err := configExists(ctx, db, kind, id); err != nil {
			storeError(ctx, logger, "create token", err)
			return
		}

		var req tokenRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "Token name is required")
			return
		}

		tok, err := dbpkg.CreateToken(ctx, db, kind, id, name)
		if err != nil {
			storeError(ctx, logger, "create token", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, tok)
	}
}

func DeleteToken(db *gorm.DB, kind dbpkg.TokenKind, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		tokenID, ok := uintParam(ctx, "tokenId")
		if !ok {
			errJSON(ctx, fasthttp.StatusBadRequest, "Invalid token ID")
			return
		}
		err := dbpkg.DeleteToken(ctx, db, kind, pathParam(ctx, "id"), tokenID)
		if errors.Is(err, dbpkg.ErrNotFound) {
			errJSON(ctx, fasthttp.StatusNotFound, "Token not found")
			return
		}
		if err != nil {
			storeError(ctx, logger, "delete token", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{"message": "Token deleted successfully"})
	}
}

func configExists(ctx *fasthttp.RequestCtx, db *gorm.DB, kind dbpkg.TokenKind, id string) error {
	var err error
	switch kind {
	case dbpkg.TokenSMTP:
		_, err = dbpkg.GetSMTPConfig(ctx, db, id)
	case dbpkg.TokenPDF:
		_, err = dbpkg.GetPDFConfig(ctx, db, id)
	default:
		err = dbpkg.ErrNotFound
	}
	return err
}
