package db

import (
	"context"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"docrelay/internal/usage"
)

// UsageLogStore persists usage events in the usage_logs table.
type UsageLogStore struct {
	db *gorm.DB
}

// NewUsageLogStore wraps db.
func NewUsageLogStore(db *gorm.DB) *UsageLogStore {
	return &UsageLogStore{db: db}
}

// Append implements usage.Store.
func (s *UsageLogStore) Append(ctx context.Context, e *usage.Event) error {
	row := toRow(e)
	return s.db.WithContext(ctx).Create(&row).Error
}

// Count implements usage.Store.
func (s *UsageLogStore) Count(ctx context.Context, f usage.Filter) (int64, error) {
	var n int64
	err := s.filtered(ctx, f).Count(&n).Error
	return n, err
}

// Find implements usage.Store.
func (s *UsageLogStore) Find(ctx context.Context, f usage.Filter, srt usage.Sort, limit, offset int) ([]usage.Event, error) {
	q := s.filtered(ctx, f)
	for _, clause := range orderClauses(srt) {
		q = q.Order(clause)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var rows []UsageLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]usage.Event, 0, len(rows))
	for i := range rows {
		events = append(events, toEvent(&rows[i]))
	}
	return events, nil
}

// filtered applies f as SQL predicates. Text matches use LOWER() LIKE so the
// same query runs on PostgreSQL and SQLite.
func (s *UsageLogStore) filtered(ctx context.Context, f usage.Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&UsageLog{})
	if f.RecordID != "" {
		q = q.Where("record_id = ?", f.RecordID)
	}
	if f.RecordType != "" {
		q = q.Where("record_type = ?", string(f.RecordType))
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			types[i] = string(t)
		}
		q = q.Where("event_type IN ?", types)
	}
	if f.Actor != "" {
		q = q.Where(`(LOWER(actor_email) LIKE ? ESCAPE '\' OR actor_id = ?)`, likePattern(f.Actor), f.Actor)
	}
	if f.Recipient != "" {
		q = q.Where(`LOWER(recipient_email) LIKE ? ESCAPE '\'`, likePattern(f.Recipient))
	}
	if f.Status != "" {
		q = q.Where(`LOWER(status) LIKE ? ESCAPE '\'`, likePattern(f.Status))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", f.To.UTC())
	}
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// orderClauses orders by the sort key, then created_at, then id, all in the
// sort direction.
func orderClauses(srt usage.Sort) []string {
	dir := " ASC"
	if srt.Desc {
		dir = " DESC"
	}
	var out []string
	if srt.Key == usage.SortEventType {
		out = append(out, "event_type"+dir)
	}
	return append(out, "created_at"+dir, "id"+dir)
}

func toRow(e *usage.Event) UsageLog {
	md := datatypes.JSONMap{}
	for k, v := range e.Metadata {
		md[k] = v
	}
	return UsageLog{
		ID:             e.ID,
		RecordID:       e.RecordID,
		RecordType:     string(e.RecordType),
		EventType:      string(e.EventType),
		ActorID:        e.ActorID,
		ActorEmail:     e.ActorEmail,
		RecipientEmail: e.RecipientEmail,
		Status:         e.Status,
		Source:         e.Source,
		Metadata:       md,
		CreatedAt:      e.CreatedAt.UTC(),
		IngestedAt:     e.IngestedAt.UTC(),
	}
}

func toEvent(r *UsageLog) usage.Event {
	md := usage.Metadata{}
	for k, v := range r.Metadata {
		md[k] = v
	}
	return usage.Event{
		ID:             r.ID,
		RecordID:       r.RecordID,
		RecordType:     usage.RecordType(r.RecordType),
		EventType:      usage.EventType(r.EventType),
		ActorID:        r.ActorID,
		ActorEmail:     r.ActorEmail,
		RecipientEmail: r.RecipientEmail,
		Status:         r.Status,
		Source:         r.Source,
		Metadata:       md,
		CreatedAt:      r.CreatedAt.UTC(),
		IngestedAt:     r.IngestedAt.UTC(),
	}
}

var _ usage.Store = (*UsageLogStore)(nil)
