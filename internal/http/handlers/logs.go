package handlers

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"docrelay/internal/usage"
)

// exportFilename is the download name of every CSV export.
const exportFilename = "usage-logs-export.csv"

const isoMillis = "2006-01-02T15:04:05.000Z"

// parseFilter reads the usage filter from the query string. Dates that do
// not parse are ignored rather than rejected.
func parseFilter(args *fasthttp.Args) usage.Filter {
	f := usage.Filter{
		RecordID:   strings.TrimSpace(string(args.Peek("recordId"))),
		RecordType: usage.RecordType(strings.TrimSpace(string(args.Peek("recordType")))),
		Actor:      strings.TrimSpace(string(args.Peek("actor"))),
		Recipient:  strings.TrimSpace(string(args.Peek("recipient"))),
		Status:     strings.TrimSpace(string(args.Peek("status"))),
	}
	for _, e := range strings.Split(string(args.Peek("eventType")), ",") {
		if e = strings.TrimSpace(e); e != "" {
			f.EventTypes = append(f.EventTypes, usage.EventType(e))
		}
	}
	if t, ok := usage.ParseTimestamp(string(args.Peek("from"))); ok {
		f.From = &t
	}
	if t, ok := usage.ParseTimestamp(string(args.Peek("to"))); ok {
		f.To = &t
	}
	return f
}

type queryResponse struct {
	Items         []usage.Event `json:"items"`
	Page          int           `json:"page"`
	PageSize      int           `json:"pageSize"`
	Total         int64         `json:"total"`
	RetentionDays int           `json:"retentionDays"`
	LastUpdated   string        `json:"lastUpdated"`
	Sort          string        `json:"sort"`
}

// QueryLogs serves one page of usage events.
func QueryLogs(svc *usage.Service, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		page := usage.ParsePage(string(args.Peek("page")), string(args.Peek("pageSize")))
		srt := usage.ParseSort(string(args.Peek("sort")))

		res, err := svc.Query(ctx, parseFilter(args), page, srt)
		if err != nil {
			serviceError(ctx, logger, "query usage logs", err)
			return
		}

		jsonResponse(ctx, fasthttp.StatusOK, queryResponse{
			Items:         res.Items,
			Page:          res.Page,
			PageSize:      res.PageSize,
			Total:         res.Total,
			RetentionDays: res.RetentionDays,
			LastUpdated:   time.Now().UTC().Format(isoMillis),
			Sort:          res.Sort.String(),
		})
	}
}

// ExportLogs streams every matching event as CSV, or 413 when the result
// set is over the export limit.
func ExportLogs(svc *usage.Service, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		res, err := svc.Export(ctx, parseFilter(ctx.QueryArgs()))
		if err != nil {
			serviceError(ctx, logger, "export usage logs", err)
			return
		}

		var buf bytes.Buffer
		if err := usage.WriteCSV(&buf, res.Events); err != nil {
			logger.Error("export usage logs", zap.Error(err))
			errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
			return
		}

		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("text/csv")
		ctx.Response.Header.Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
		ctx.Response.Header.Set("X-Total-Rows", strconv.FormatInt(res.Total, 10))
		ctx.Response.Header.Set("X-Retention-Days", strconv.Itoa(res.RetentionDays))
		ctx.SetBody(buf.Bytes())
	}
}

// IngestLog records an event submitted from the portal. The signed-in user
// is the actor unless the body names one.
func IngestLog(svc *usage.Service, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		var c usage.Candidate
		if !decodeJSON(ctx, &c) {
			return
		}
		if c.Source == "" {
			c.Source = "portal"
		}
		if c.ActorID == "" && c.ActorEmail == "" {
			c.ActorID = strconv.FormatUint(uint64(user.ID), 10)
			c.ActorEmail = user.Email
		}

		res, err := svc.Ingest(ctx, c)
		if err != nil {
			serviceError(ctx, logger, "ingest usage log", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, res)
	}
}

// serviceError maps usage errors to responses. Anything that is not a
// caller error is logged and reported as a generic 500.
func serviceError(ctx *fasthttp.RequestCtx, logger *zap.Logger, op string, err error) {
	var tooLarge *usage.ExportTooLargeError
	switch {
	case errors.As(err, &tooLarge):
		jsonResponse(ctx, fasthttp.StatusRequestEntityTooLarge, map[string]string{
			"error":   "Export too large",
			"message": tooLarge.Error(),
		})
	case usage.IsValidation(err):
		errJSON(ctx, fasthttp.StatusBadRequest, err.Error())
	default:
		logger.Error(op, zap.Error(err))
		errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
	}
}
