package handlers

import (
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	dbpkg "docrelay/internal/db"
	httpctx "docrelay/internal/http/ctx"
	"docrelay/internal/mailer"
	"docrelay/internal/usage"
)

type sendEmailRequest struct {
	To          string              `json:"to"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	FromEmail   string              `json:"fromEmail"`
	Attachments []mailer.Attachment `json:"attachments"`
}

// SendEmail queues a message on the SMTP config that owns the bearer token
// and sends from fromEmail. Delivery happens in the mail worker.
func SendEmail(db *gorm.DB, queue mailer.Queue, events EventLogger, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		token, ok := httpctx.BearerTokenFromCtx(ctx)
		if !ok {
			errJSON(ctx, fasthttp.StatusUnauthorized, "Authorization token is required")
			return
		}

		var req sendEmailRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		req.To = strings.TrimSpace(req.To)
		req.FromEmail = strings.TrimSpace(req.FromEmail)
		if req.To == "" || req.Subject == "" || req.Body == "" || req.FromEmail == "" {
			errJSON(ctx, fasthttp.StatusBadRequest, "Missing required fields: to, subject, body, fromEmail")
			return
		}

		cfg, err := dbpkg.FindSMTPConfigByToken(ctx, db, token, req.FromEmail)
		if errors.Is(err, dbpkg.ErrNotFound) {
			errJSON(ctx, fasthttp.StatusForbidden, "Invalid authorization token or email address")
			return
		}
		if err != nil {
			logger.Error("resolve smtp token", zap.Error(err))
			errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
			return
		}

		job := &mailer.Job{
			Account: mailer.Account{
				ConfigID: cfg.ID,
				Host:     cfg.Host,
				Port:     cfg.Port,
				Username: cfg.Username,
				Password: cfg.Password,
				Secure:   cfg.Secure,
			},
			To:          req.To,
			Subject:     req.Subject,
			Body:        req.Body,
			FromEmail:   cfg.FromEmail,
			FromName:    cfg.FromName,
			Attachments: req.Attachments,
		}
		queueID, err := queue.Enqueue(ctx, job)
		if err != nil {
			logger.Error("enqueue email", zap.String("config_id", cfg.ID), zap.Error(err))
			errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
			return
		}

		jsonResponse(ctx, fasthttp.StatusOK, map[string]string{
			"message": "Email queued successfully",
			"queueId": queueID,
		})

		events.LogBestEffort(ctx, usage.Candidate{
			RecordID:       queueID,
			RecordType:     usage.RecordEmail,
			EventType:      usage.EventEmailSent,
			RecipientEmail: req.To,
			Status:         "queued",
			Source:         "api",
			Metadata: usage.Metadata{
				"configId":    cfg.ID,
				"subject":     req.Subject,
				"fromEmail":   cfg.FromEmail,
				"attachments": len(req.Attachments),
			},
		})
	}
}
