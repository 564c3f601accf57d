package handlers

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	dbpkg "docrelay/internal/db"
	httpctx "docrelay/internal/http/ctx"
	"docrelay/internal/http/middleware"
	"docrelay/internal/pdf"
	"docrelay/internal/usage"
)

// EventLogger records usage events without failing the request.
type EventLogger interface {
	LogBestEffort(ctx context.Context, c usage.Candidate)
}

type htmlToPDFRequest struct {
	HTML     string      `json:"html"`
	Filename string      `json:"filename"`
	Options  pdf.Options `json:"options"`
}

// HTMLToPDF renders the posted HTML for the PDF config owning the bearer
// token and records a pdf_download event once the document is sent.
func HTMLToPDF(db *gorm.DB, renderer pdf.Renderer, events EventLogger, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		token, ok := httpctx.BearerTokenFromCtx(ctx)
		if !ok {
			errJSON(ctx, fasthttp.StatusUnauthorized, "Authorization token is required")
			return
		}

		var req htmlToPDFRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		if req.HTML == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "HTML content is required")
			return
		}

		cfg, err := dbpkg.FindPDFConfigByToken(ctx, db, token)
		if errors.Is(err, dbpkg.ErrNotFound) {
			errJSON(ctx, fasthttp.StatusForbidden, "Invalid authorization token")
			return
		}
		if err != nil {
			logger.Error("resolve pdf token", zap.Error(err))
			errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
			return
		}
		if !cfg.Active {
			errJSON(ctx, fasthttp.StatusForbidden, "PDF configuration is not active")
			return
		}
		ip := middleware.ClientIP(ctx)
		if !cfg.AllowsIP(ip) {
			logger.Info("pdf request from non-whitelisted ip",
				zap.String("config_id", cfg.ID),
				zap.String("ip", ip),
			)
			errJSON(ctx, fasthttp.StatusForbidden, "Access denied: IP address not whitelisted")
			return
		}

		doc, err := renderer.Render(ctx, req.HTML, req.Options)
		if err != nil {
			logger.Error("pdf generation failed", zap.String("config_id", cfg.ID), zap.Error(err))
			jsonResponse(ctx, fasthttp.StatusInternalServerError, map[string]string{
				"error":   "Failed to generate PDF",
				"details": err.Error(),
			})
			return
		}

		filename := safeFilename(req.Filename)
		if filename == "" {
			filename = "document_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + ".pdf"
		}

		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/pdf")
		ctx.Response.Header.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		ctx.SetBody(doc)

		events.LogBestEffort(ctx, usage.Candidate{
			RecordID:   cfg.ID,
			RecordType: usage.RecordPDF,
			EventType:  usage.EventPDFDownload,
			Status:     "generated",
			Source:     "api",
			Metadata: usage.Metadata{
				"configName": cfg.Name,
				"filename":   filename,
				"bytes":      len(doc),
				"ip":         ip,
			},
		})
	}
}

// safeFilename reduces name to a base name that is safe inside a quoted
// Content-Disposition value.
func safeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(path.Base(strings.TrimSpace(name)))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
