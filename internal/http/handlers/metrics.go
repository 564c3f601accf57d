package handlers

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	dbpkg "docrelay/internal/db"
)

// parseRange reads "hours" (float, e.g. 0.5 or 1) or "days" (int) from query
// and returns the cutoff time. The default is one day.
func parseRange(ctx *fasthttp.RequestCtx, now time.Time) time.Time {
	if h := string(ctx.QueryArgs().Peek("hours")); h != "" {
		if f, err := strconv.ParseFloat(h, 64); err == nil && f > 0 {
			return now.Add(-time.Duration(f * float64(time.Hour)))
		}
	}
	days := 0
	if d := string(ctx.QueryArgs().Peek("days")); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			days = n
		}
	}
	if days == 0 {
		days = 1
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

type summaryPoint struct {
	BucketStart time.Time `json:"bucketStart"`
	RecordType  string    `json:"recordType"`
	EventType   string    `json:"eventType"`
	EventCount  int64     `json:"eventCount"`
	RecordCount int64     `json:"recordCount"`
}

type summaryResponse struct {
	From    time.Time        `json:"from"`
	To      time.Time        `json:"to"`
	Buckets []summaryPoint   `json:"buckets"`
	Totals  map[string]int64 `json:"totals"`
}

// LogSummary returns the hourly event counts built by the summary worker,
// optionally limited to one record type.
func LogSummary(db *gorm.DB, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		now := time.Now().UTC()
		from := parseRange(ctx, now).Truncate(time.Hour)
		recordType := string(ctx.QueryArgs().Peek("recordType"))

		buckets, err := dbpkg.ListUsageBuckets(ctx, db, recordType, from, now)
		if err != nil {
			logger.Error("list usage buckets", zap.Error(err))
			errJSON(ctx, fasthttp.StatusInternalServerError, "Internal server error")
			return
		}

		resp := summaryResponse{
			From:    from,
			To:      now,
			Buckets: make([]summaryPoint, 0, len(buckets)),
			Totals:  map[string]int64{},
		}
		for _, b := range buckets {
			resp.Buckets = append(resp.Buckets, summaryPoint{
				BucketStart: b.BucketStart.UTC(),
				RecordType:  b.RecordType,
				EventType:   b.EventType,
				EventCount:  b.EventCount,
				RecordCount: b.RecordCount,
			})
			resp.Totals[b.EventType] += b.EventCount
		}
		jsonResponse(ctx, fasthttp.StatusOK, resp)
	}
}
