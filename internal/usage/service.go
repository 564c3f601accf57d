// Package usage implements the usage log: validation of PDF and email
// lifecycle events, append-only ingestion, filtered and paginated queries,
// and size-guarded CSV export.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docrelay/internal/metrics"
)

// isoMillis matches the ISO-8601 form used for metadata.ingestedAt.
const isoMillis = "2006-01-02T15:04:05.000Z"

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type uuidGenerator struct{}

func (uuidGenerator) New() string { return uuid.NewString() }

// Service is the entry point for producers and readers of the usage log.
// It holds no mutable state of its own and is safe for concurrent use.
type Service struct {
	store     Store
	retention int
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator overrides event ID generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithRetentionDays sets the retention period reported with query and
// export results. Values below 1 keep RetentionDays.
func WithRetentionDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.retention = days
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service over store.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     store,
		retention: RetentionDays,
		clock:     systemClock{},
		ids:       uuidGenerator{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestResult is the stored event plus its ingestion lag.
type IngestResult struct {
	Event          Event `json:"log"`
	IngestionLagMs int64 `json:"ingestionMs"`
}

// Ingest validates c, stamps it with the ingestion time and appends it to the
// store. Validation failures are returned as *ValidationError.
func (s *Service) Ingest(ctx context.Context, c Candidate) (IngestResult, error) {
	now := s.clock.Now().UTC()
	n, err := Normalize(c, now)
	if err != nil {
		return IngestResult{}, err
	}

	md := make(Metadata, len(n.Metadata)+1)
	for k, v := range n.Metadata {
		md[k] = v
	}
	md["ingestedAt"] = now.Format(isoMillis)

	ev := Event{
		ID:             s.ids.New(),
		RecordID:       n.RecordID,
		RecordType:     n.RecordType,
		EventType:      n.EventType,
		ActorID:        n.ActorID,
		ActorEmail:     n.ActorEmail,
		RecipientEmail: n.RecipientEmail,
		Status:         n.Status,
		Source:         n.Source,
		Metadata:       md,
		CreatedAt:      n.CreatedAt,
		IngestedAt:     now,
	}
	if err := s.store.Append(ctx, &ev); err != nil {
		s.logger.Error("usage log append failed",
			zap.String("record_id", ev.RecordID),
			zap.String("event_type", string(ev.EventType)),
			zap.Error(err),
		)
		return IngestResult{}, fmt.Errorf("append usage event: %w", err)
	}

	lag := IngestionLag(ev.CreatedAt, ev.IngestedAt)
	s.metrics.EventIngested(string(ev.RecordType), string(ev.EventType), lag)
	return IngestResult{Event: ev, IngestionLagMs: lag.Milliseconds()}, nil
}

// LogBestEffort ingests c and swallows any failure after logging it. Use it
// where a usage event accompanies a primary action that must not fail
// because the log could not be written.
func (s *Service) LogBestEffort(ctx context.Context, c Candidate) {
	if s == nil {
		return
	}
	if _, err := s.Ingest(ctx, c); err != nil {
		s.logger.Warn("usage event dropped",
			zap.String("record_id", c.RecordID),
			zap.String("record_type", string(c.RecordType)),
			zap.String("event_type", string(c.EventType)),
			zap.Error(err),
		)
	}
}

// Result is one page of a query.
type Result struct {
	Items         []Event
	Total         int64
	Page          int
	PageSize      int
	Sort          Sort
	RetentionDays int
}

// Query returns the requested page of events matching f. The total is
// counted independently of pagination.
func (s *Service) Query(ctx context.Context, f Filter, p Page, srt Sort) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	p = p.Normalize()
	if srt.Key != SortEventType {
		srt.Key = SortCreatedAt
	}

	total, err := s.store.Count(ctx, f)
	if err != nil {
		s.logger.Error("usage log count failed", zap.Error(err))
		return Result{}, fmt.Errorf("count usage events: %w", err)
	}
	items, err := s.store.Find(ctx, f, srt, p.Size, p.Offset())
	if err != nil {
		s.logger.Error("usage log query failed", zap.Error(err))
		return Result{}, fmt.Errorf("query usage events: %w", err)
	}
	if items == nil {
		items = []Event{}
	}

	return Result{
		Items:         items,
		Total:         total,
		Page:          p.Number,
		PageSize:      p.Size,
		Sort:          srt,
		RetentionDays: s.retention,
	}, nil
}

// ExportResult is the full set of rows for a CSV export.
type ExportResult struct {
	Events        []Event
	Total         int64
	RetentionDays int
}

// Export returns every event matching f, newest first. The date range is
// not limited; when more than MaxExportRows match it returns
// *ExportTooLargeError without fetching any rows.
func (s *Service) Export(ctx context.Context, f Filter) (ExportResult, error) {
	if err := f.ValidateValues(); err != nil {
		return ExportResult{}, err
	}

	total, err := s.store.Count(ctx, f)
	if err != nil {
		s.metrics.Export("error")
		s.logger.Error("usage export count failed", zap.Error(err))
		return ExportResult{}, fmt.Errorf("count usage events: %w", err)
	}
	if total > MaxExportRows {
		s.metrics.Export("too_large")
		return ExportResult{}, &ExportTooLargeError{Total: total, Limit: MaxExportRows}
	}

	rows, err := s.store.Find(ctx, f, DefaultSort, 0, 0)
	if err != nil {
		s.metrics.Export("error")
		s.logger.Error("usage export fetch failed", zap.Error(err))
		return ExportResult{}, fmt.Errorf("fetch usage events: %w", err)
	}
	s.metrics.Export("ok")
	return ExportResult{Events: rows, Total: total, RetentionDays: s.retention}, nil
}
