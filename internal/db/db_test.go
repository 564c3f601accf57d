package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docrelay/internal/config"
	"docrelay/internal/usage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docrelay.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func event(id string, rt usage.RecordType, et usage.EventType, created time.Time) *usage.Event {
	return &usage.Event{
		ID:         id,
		RecordID:   "rec-" + id,
		RecordType: rt,
		EventType:  et,
		Metadata:   usage.Metadata{"ingestedAt": created.Format("2006-01-02T15:04:05.000Z")},
		CreatedAt:  created,
		IngestedAt: created,
	}
}

func TestConnect_RejectsNonPostgresURL(t *testing.T) {
	_, err := Connect(&config.Config{DatabaseURL: "mysql://localhost/x"})
	assert.ErrorContains(t, err, "postgres://")

	_, err = Connect(&config.Config{DatabaseURL: "  "})
	assert.ErrorContains(t, err, "required")
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cfg := &config.Config{AdminUser: "admin@example.com", AdminPassword: "s3cret"}

	require.NoError(t, EnsureBootstrapAdmin(ctx, db, cfg))
	require.NoError(t, EnsureBootstrapAdmin(ctx, db, cfg), "second call is a no-op")

	var users []User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "admin@example.com", users[0].Email)
	assert.True(t, users[0].IsAdmin)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users[0].PasswordHash), []byte("s3cret")))
}

func TestUsageLogStore_AppendAndFind(t *testing.T) {
	db := newTestDB(t)
	store := NewUsageLogStore(db)
	ctx := context.Background()

	e := event("a", usage.RecordEmail, usage.EventEmailSent, t0)
	e.RecipientEmail = "Alice@Example.com"
	e.ActorID = "actor-1"
	e.ActorEmail = "ops@example.com"
	e.Status = "queued"
	e.Source = "api"
	e.Metadata["campaign"] = "spring"
	require.NoError(t, store.Append(ctx, e))

	got, err := store.Find(ctx, usage.Filter{}, usage.DefaultSort, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, usage.RecordEmail, got[0].RecordType)
	assert.Equal(t, usage.EventEmailSent, got[0].EventType)
	assert.Equal(t, "Alice@Example.com", got[0].RecipientEmail)
	assert.Equal(t, "spring", got[0].Metadata["campaign"])
	assert.True(t, got[0].CreatedAt.Equal(t0))
}

func TestUsageLogStore_Filters(t *testing.T) {
	db := newTestDB(t)
	store := NewUsageLogStore(db)
	ctx := context.Background()

	rows := []*usage.Event{
		event("1", usage.RecordPDF, usage.EventPDFView, t0),
		event("2", usage.RecordPDF, usage.EventPDFDownload, t0.Add(time.Hour)),
		event("3", usage.RecordEmail, usage.EventEmailSent, t0.Add(2*time.Hour)),
		event("4", usage.RecordEmail, usage.EventEmailFailed, t0.Add(3*time.Hour)),
	}
	rows[2].RecipientEmail = "bob@example.com"
	rows[2].Status = "queued"
	rows[3].RecipientEmail = "carol_x@example.com"
	rows[3].Status = "failed"
	rows[3].ActorEmail = "Ops@Example.com"
	rows[0].ActorID = "u-7"
	for _, r := range rows {
		require.NoError(t, store.Append(ctx, r))
	}

	from := t0.Add(30 * time.Minute)
	to := t0.Add(2 * time.Hour)
	tests := []struct {
		name string
		f    usage.Filter
		want []string
	}{
		{"all", usage.Filter{}, []string{"4", "3", "2", "1"}},
		{"record type", usage.Filter{RecordType: usage.RecordPDF}, []string{"2", "1"}},
		{"event types", usage.Filter{EventTypes: []usage.EventType{usage.EventPDFView, usage.EventEmailFailed}}, []string{"4", "1"}},
		{"record id", usage.Filter{RecordID: "rec-3"}, []string{"3"}},
		{"recipient substring any case", usage.Filter{Recipient: "BOB"}, []string{"3"}},
		{"underscore is literal", usage.Filter{Recipient: "l_x"}, []string{"4"}},
		{"percent is literal", usage.Filter{Recipient: "%"}, nil},
		{"status substring", usage.Filter{Status: "fail"}, []string{"4"}},
		{"actor email substring", usage.Filter{Actor: "ops@"}, []string{"4"}},
		{"actor id exact", usage.Filter{Actor: "u-7"}, []string{"1"}},
		{"date range inclusive", usage.Filter{From: &from, To: &to}, []string{"3", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Find(ctx, tt.f, usage.DefaultSort, 0, 0)
			require.NoError(t, err)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)

			n, err := store.Count(ctx, tt.f)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.want)), n)
		})
	}
}

func TestUsageLogStore_SortAndPaging(t *testing.T) {
	db := newTestDB(t)
	store := NewUsageLogStore(db)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, event("b", usage.RecordPDF, usage.EventPDFView, t0)))
	require.NoError(t, store.Append(ctx, event("a", usage.RecordPDF, usage.EventPDFView, t0)))
	require.NoError(t, store.Append(ctx, event("c", usage.RecordPDF, usage.EventPDFDownload, t0.Add(time.Minute))))

	ids := func(events []usage.Event) []string {
		out := make([]string, len(events))
		for i, e := range events {
			out[i] = e.ID
		}
		return out
	}

	got, err := store.Find(ctx, usage.Filter{}, usage.Sort{Key: usage.SortCreatedAt, Desc: false}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got), "ties break on id")

	got, err = store.Find(ctx, usage.Filter{}, usage.Sort{Key: usage.SortEventType, Desc: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(got))

	got, err = store.Find(ctx, usage.Filter{}, usage.DefaultSort, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(got))

	got, err = store.Find(ctx, usage.Filter{}, usage.DefaultSort, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUsageLogStore_BacksService(t *testing.T) {
	db := newTestDB(t)
	svc := usage.NewService(NewUsageLogStore(db), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Ingest(ctx, usage.Candidate{
			RecordID:       fmt.Sprintf("job-%d", i),
			RecordType:     "email",
			EventType:      "email_sent",
			RecipientEmail: "x@example.com",
		})
		require.NoError(t, err)
	}

	res, err := svc.Query(ctx, usage.Filter{RecordType: usage.RecordEmail}, usage.Page{Number: 2, Size: 2}, usage.DefaultSort)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Total)
	assert.Len(t, res.Items, 2)

	exp, err := svc.Export(ctx, usage.Filter{})
	require.NoError(t, err)
	assert.Len(t, exp.Events, 5)
}

func TestRunSummaryOnce(t *testing.T) {
	db := newTestDB(t)
	store := NewUsageLogStore(db)
	ctx := context.Background()
	hour := t0.Truncate(time.Hour)

	a := event("1", usage.RecordPDF, usage.EventPDFView, hour.Add(5*time.Minute))
	b := event("2", usage.RecordPDF, usage.EventPDFView, hour.Add(10*time.Minute))
	b.RecordID = a.RecordID
	c := event("3", usage.RecordPDF, usage.EventPDFView, hour.Add(20*time.Minute))
	d := event("4", usage.RecordEmail, usage.EventEmailSent, hour.Add(30*time.Minute))
	outside := event("5", usage.RecordPDF, usage.EventPDFView, hour.Add(time.Hour))
	for _, e := range []*usage.Event{a, b, c, d, outside} {
		require.NoError(t, store.Append(ctx, e))
	}

	require.NoError(t, runSummaryOnce(ctx, db, hour))

	buckets, err := ListUsageBuckets(ctx, db, "", hour, hour.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "email", buckets[0].RecordType)
	assert.Equal(t, int64(1), buckets[0].EventCount)
	assert.Equal(t, "pdf", buckets[1].RecordType)
	assert.Equal(t, int64(3), buckets[1].EventCount)
	assert.Equal(t, int64(2), buckets[1].RecordCount)

	// A late arrival is picked up when the hour is recomputed.
	late := event("6", usage.RecordPDF, usage.EventPDFView, hour.Add(50*time.Minute))
	require.NoError(t, store.Append(ctx, late))
	require.NoError(t, runSummaryOnce(ctx, db, hour))

	buckets, err = ListUsageBuckets(ctx, db, "pdf", hour, hour.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(4), buckets[0].EventCount)
	assert.Equal(t, int64(3), buckets[0].RecordCount)
}

func TestConfigsAndTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	smtp := &SMTPConfig{Name: "primary", Host: "smtp.example.com", Port: 587, FromEmail: "noreply@example.com", Active: true}
	require.NoError(t, CreateSMTPConfig(ctx, db, smtp))
	require.NotEmpty(t, smtp.ID)

	tok, err := CreateToken(ctx, db, TokenSMTP, smtp.ID, "billing")
	require.NoError(t, err)
	assert.Contains(t, tok.Token, "dr_")

	got, err := FindSMTPConfigByToken(ctx, db, tok.Token, "noreply@example.com")
	require.NoError(t, err)
	assert.Equal(t, smtp.ID, got.ID)

	_, err = FindSMTPConfigByToken(ctx, db, tok.Token, "other@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = FindSMTPConfigByToken(ctx, db, "dr_wrong", "noreply@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = FindPDFConfigByToken(ctx, db, tok.Token)
	assert.ErrorIs(t, err, ErrNotFound, "tokens are scoped by kind")

	smtp.Active = false
	require.NoError(t, SaveSMTPConfig(ctx, db, smtp))
	_, err = FindSMTPConfigByToken(ctx, db, tok.Token, "noreply@example.com")
	assert.ErrorIs(t, err, ErrNotFound, "inactive configs do not send")

	loaded, err := GetSMTPConfig(ctx, db, smtp.ID)
	require.NoError(t, err)
	require.Len(t, loaded.AuthTokens, 1)
	assert.Equal(t, "billing", loaded.AuthTokens[0].Name)

	require.NoError(t, DeleteToken(ctx, db, TokenSMTP, smtp.ID, tok.ID))
	assert.ErrorIs(t, DeleteToken(ctx, db, TokenSMTP, smtp.ID, tok.ID), ErrNotFound)

	require.NoError(t, DeleteSMTPConfig(ctx, db, smtp.ID))
	_, err = GetSMTPConfig(ctx, db, smtp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, DeleteSMTPConfig(ctx, db, smtp.ID), ErrNotFound)
}

func TestPDFConfigWhitelist(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	pdf := &PDFConfig{Name: "reports", Active: false}
	pdf.SetWhitelist([]string{"10.0.0.1"})
	require.NoError(t, CreatePDFConfig(ctx, db, pdf))

	tok, err := CreateToken(ctx, db, TokenPDF, pdf.ID, "reports-svc")
	require.NoError(t, err)

	got, err := FindPDFConfigByToken(ctx, db, tok.Token)
	require.NoError(t, err)
	assert.False(t, got.Active, "inactive config is still resolved")
	assert.Equal(t, []string{"10.0.0.1"}, got.Whitelist())
	assert.True(t, got.AllowsIP("10.0.0.1"))
	assert.False(t, got.AllowsIP("10.0.0.2"))

	open := &PDFConfig{}
	assert.True(t, open.AllowsIP("203.0.113.9"), "empty whitelist allows all")

	list, err := ListPDFConfigs(ctx, db)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].AuthTokens, 1)
}
