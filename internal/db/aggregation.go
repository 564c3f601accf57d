package db

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runSummaryOnce aggregates usage logs for the given hour (bucketStart to bucketStart+1h)
// into UsageBucket rows. Call with bucketStart = time in UTC truncated to hour.
func runSummaryOnce(ctx context.Context, db *gorm.DB, bucketStart time.Time) error {
	bucketEnd := bucketStart.Add(time.Hour)

	var logs []UsageLog
	if err := db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", bucketStart, bucketEnd).
		Select("record_type", "event_type", "record_id").
		Find(&logs).Error; err != nil {
		return err
	}

	// Group by (record_type, event_type); track distinct record ids per group.
	type key struct {
		RecordType string
		EventType  string
	}
	type tally struct {
		events  int64
		records map[string]struct{}
	}
	groups := make(map[key]*tally)
	for _, l := range logs {
		k := key{RecordType: l.RecordType, EventType: l.EventType}
		t, ok := groups[k]
		if !ok {
			t = &tally{records: make(map[string]struct{})}
			groups[k] = t
		}
		t.events++
		t.records[l.RecordID] = struct{}{}
	}

	for k, t := range groups {
		row := UsageBucket{
			RecordType:  k.RecordType,
			EventType:   k.EventType,
			BucketStart: bucketStart,
			EventCount:  t.events,
			RecordCount: int64(len(t.records)),
		}
		var existing UsageBucket
		err := db.WithContext(ctx).
			Where("record_type = ? AND event_type = ? AND bucket_start = ?", k.RecordType, k.EventType, bucketStart).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = db.WithContext(ctx).Create(&row).Error
		} else if err == nil {
			err = db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
				"event_count":  row.EventCount,
				"record_count": row.RecordCount,
			}).Error
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// StartSummaryWorker aggregates the last 24 completed hours at startup, then
// the previous hour every hour, until ctx is cancelled. Buckets are in UTC.
func StartSummaryWorker(ctx context.Context, db *gorm.DB, logger *zap.Logger) {
	go func() {
		now := time.Now().UTC()
		for i := 1; i <= 24; i++ {
			bucketStart := now.Truncate(time.Hour).Add(-time.Duration(i) * time.Hour)
			if err := runSummaryOnce(ctx, db, bucketStart); err != nil {
				logger.Warn("usage summary failed (startup)", zap.Time("bucket", bucketStart), zap.Error(err))
			}
		}

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				bucketStart := t.UTC().Truncate(time.Hour).Add(-time.Hour)
				if err := runSummaryOnce(ctx, db, bucketStart); err != nil {
					logger.Warn("usage summary failed", zap.Time("bucket", bucketStart), zap.Error(err))
				}
			}
		}
	}()
}

// ListUsageBuckets returns hourly buckets with from <= bucket_start < to,
// oldest first. recordType may be empty to include every record type.
func ListUsageBuckets(ctx context.Context, db *gorm.DB, recordType string, from, to time.Time) ([]UsageBucket, error) {
	q := db.WithContext(ctx).Where("bucket_start >= ? AND bucket_start < ?", from.UTC(), to.UTC())
	if recordType != "" {
		q = q.Where("record_type = ?", recordType)
	}
	var buckets []UsageBucket
	if err := q.Order("bucket_start ASC, record_type ASC, event_type ASC").Find(&buckets).Error; err != nil {
		return nil, err
	}
	return buckets, nil
}
