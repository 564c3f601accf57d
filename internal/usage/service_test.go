package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("ev-%05d", s.n)
}

// countingStore wraps a Store and counts calls per method.
type countingStore struct {
	Store
	mu        sync.Mutex
	finds     int
	counts    int
	appendErr error
}

func (s *countingStore) Append(ctx context.Context, e *Event) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.Append(ctx, e)
}

func (s *countingStore) Count(ctx context.Context, f Filter) (int64, error) {
	s.mu.Lock()
	s.counts++
	s.mu.Unlock()
	return s.Store.Count(ctx, f)
}

func (s *countingStore) Find(ctx context.Context, f Filter, srt Sort, limit, offset int) ([]Event, error) {
	s.mu.Lock()
	s.finds++
	s.mu.Unlock()
	return s.Store.Find(ctx, f, srt, limit, offset)
}

func newTestService(t *testing.T) (*Service, *countingStore, *fakeClock) {
	t.Helper()
	store := &countingStore{Store: NewMemoryStore()}
	clock := &fakeClock{now: baseTime}
	svc := NewService(store, zap.NewNop(), WithClock(clock), WithIDGenerator(&seqIDs{}))
	return svc, store, clock
}

func TestIngest_StampsIngestionTime(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Ingest(context.Background(), Candidate{
		RecordID:   "cfg-1",
		RecordType: RecordPDF,
		EventType:  EventPDFView,
		Source:     "api",
		Metadata:   Metadata{"filename": "a.pdf"},
		CreatedAt:  baseTime.Add(-2 * time.Second),
	})
	require.NoError(t, err)

	assert.Equal(t, "ev-00001", res.Event.ID)
	assert.True(t, res.Event.IngestedAt.Equal(baseTime))
	assert.Equal(t, int64(2000), res.IngestionLagMs)
	assert.Equal(t, "a.pdf", res.Event.Metadata["filename"])
	assert.Equal(t, "2024-03-01T12:00:00.000Z", res.Event.Metadata["ingestedAt"])
}

func TestIngest_FutureCreatedAtGivesNegativeLag(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.Ingest(context.Background(), Candidate{
		RecordID:   "cfg-1",
		RecordType: RecordPDF,
		EventType:  EventPDFPrint,
		CreatedAt:  baseTime.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-60000), res.IngestionLagMs)
}

func TestIngest_DoesNotMutateCallerMetadata(t *testing.T) {
	svc, _, _ := newTestService(t)
	md := Metadata{"k": "v"}
	_, err := svc.Ingest(context.Background(), Candidate{RecordID: "r", RecordType: RecordPDF, EventType: EventPDFView, Metadata: md})
	require.NoError(t, err)
	assert.Len(t, md, 1)
}

func TestIngest_ValidationFailureWritesNothing(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Ingest(context.Background(), Candidate{RecordID: "job-1", RecordType: RecordEmail, EventType: EventEmailSent})
	assert.ErrorIs(t, err, ErrMissingRecipient)

	n, err := store.Count(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest_StoreFailure(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.appendErr = errors.New("disk full")

	_, err := svc.Ingest(context.Background(), Candidate{RecordID: "r", RecordType: RecordPDF, EventType: EventPDFView})
	require.Error(t, err)
	assert.False(t, IsValidation(err))

	assert.NotPanics(t, func() {
		svc.LogBestEffort(context.Background(), Candidate{RecordID: "r", RecordType: RecordPDF, EventType: EventPDFView})
	})
}

func TestIngest_Concurrent(t *testing.T) {
	svc, store, _ := newTestService(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.LogBestEffort(context.Background(), Candidate{RecordID: "same", RecordType: RecordPDF, EventType: EventPDFView})
		}()
	}
	wg.Wait()

	n, err := store.Count(context.Background(), Filter{RecordID: "same"})
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
}

func TestQuery_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	in, err := svc.Ingest(ctx, Candidate{
		RecordID:       "job-7",
		RecordType:     RecordEmail,
		EventType:      EventEmailDelivered,
		ActorID:        "u-1",
		ActorEmail:     "ops@example.com",
		RecipientEmail: "user@example.com",
		Status:         "delivered",
		Source:         "worker",
		Metadata:       Metadata{"messageId": "<abc@mail>"},
	})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, Candidate{RecordID: "other", RecordType: RecordPDF, EventType: EventPDFView})
	require.NoError(t, err)

	res, err := svc.Query(ctx, Filter{RecordID: "job-7"}, Page{}, DefaultSort)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(1), res.Total)
	assert.Equal(t, in.Event, res.Items[0])
	assert.Contains(t, res.Items[0].Metadata, "ingestedAt")
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 20, res.PageSize)
}

func TestQuery_ScenarioNewestFirst(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, Candidate{RecordID: "r1", RecordType: RecordPDF, EventType: EventPDFView, Source: "api"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Ingest(ctx, Candidate{RecordID: "r1", RecordType: RecordPDF, EventType: EventPDFDownload, Source: "api"})
	require.NoError(t, err)

	res, err := svc.Query(ctx, Filter{RecordID: "r1"}, Page{}, DefaultSort)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, EventPDFDownload, res.Items[0].EventType)
	assert.Equal(t, EventPDFView, res.Items[1].EventType)
	assert.Equal(t, "createdAt:desc", res.Sort.String())
}

func TestQuery_Idempotent(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	seed(t, svc, clock, 30)

	f := Filter{RecordType: RecordEmail}
	a, err := svc.Query(ctx, f, Page{Number: 2, Size: 7}, Sort{Key: SortEventType})
	require.NoError(t, err)
	b, err := svc.Query(ctx, f, Page{Number: 2, Size: 7}, Sort{Key: SortEventType})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestQuery_PaginationCoversEveryRowOnce(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	seed(t, svc, clock, 53)

	for _, size := range []int{1, 7, 20, 53, 100} {
		for _, srt := range []Sort{DefaultSort, {Key: SortEventType, Desc: false}} {
			first, err := svc.Query(ctx, Filter{}, Page{Number: 1, Size: size}, srt)
			require.NoError(t, err)
			pages := int((first.Total + int64(size) - 1) / int64(size))

			seen := map[string]bool{}
			var rows int
			for p := 1; p <= pages; p++ {
				res, err := svc.Query(ctx, Filter{}, Page{Number: p, Size: size}, srt)
				require.NoError(t, err)
				for _, e := range res.Items {
					assert.False(t, seen[e.ID], "duplicate %s (size %d)", e.ID, size)
					seen[e.ID] = true
					rows++
				}
			}
			assert.Equal(t, int(first.Total), rows, "size %d sort %s", size, srt)
		}
	}
}

func TestQuery_CoercesPage(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.Query(context.Background(), Filter{}, Page{Number: -1, Size: 1000}, Sort{Key: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, MaxPageSize, res.PageSize)
	assert.Equal(t, SortCreatedAt, res.Sort.Key)
	assert.NotNil(t, res.Items)
}

func TestQuery_RejectsInvalidFilters(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Query(context.Background(), Filter{From: day("2020-01-01"), To: day("2021-06-01")}, Page{}, DefaultSort)
	assert.ErrorIs(t, err, ErrDateRangeTooLarge)
	assert.Zero(t, store.counts)
}

func TestExport_RejectsOverLimitWithoutFetching(t *testing.T) {
	svc, store, _ := newTestService(t)
	bulkAppend(t, store, MaxExportRows+1)

	_, err := svc.Export(context.Background(), Filter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExportTooLarge)

	var tooLarge *ExportTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, int64(MaxExportRows+1), tooLarge.Total)
	assert.Equal(t, "Result set exceeds 10000 rows. Narrow filters and retry.", tooLarge.Error())
	assert.Equal(t, 1, store.counts)
	assert.Zero(t, store.finds)
}

func TestExport_AtLimit(t *testing.T) {
	svc, store, _ := newTestService(t)
	bulkAppend(t, store, MaxExportRows)

	res, err := svc.Export(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(MaxExportRows), res.Total)
	assert.Equal(t, RetentionDays, res.RetentionDays)
	assert.Equal(t, 1, store.finds)

	var sb strings.Builder
	require.NoError(t, WriteCSV(&sb, res.Events))
	lines := strings.Split(sb.String(), "\n")
	assert.Len(t, lines, MaxExportRows+1)
}

func TestExport_UsesFilterAndNewestFirst(t *testing.T) {
	svc, _, clock := newTestService(t)
	seed(t, svc, clock, 10)

	res, err := svc.Export(context.Background(), Filter{RecordType: RecordPDF})
	require.NoError(t, err)
	require.NotEmpty(t, res.Events)
	for i, e := range res.Events {
		assert.Equal(t, RecordPDF, e.RecordType)
		if i > 0 {
			assert.False(t, e.CreatedAt.After(res.Events[i-1].CreatedAt))
		}
	}
}

func TestExport_WideDateRangeIsAllowed(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Ingest(context.Background(), Candidate{
		RecordID:   "doc-1",
		RecordType: RecordPDF,
		EventType:  EventPDFView,
		CreatedAt:  "2020-03-01T00:00:00Z",
	})
	require.NoError(t, err)

	f := Filter{From: day("2020-01-01"), To: day("2021-06-01")}
	res, err := svc.Export(context.Background(), f)
	require.NoError(t, err, "exports are bounded by row count, not by date range")
	require.Len(t, res.Events, 1)
	assert.Equal(t, "doc-1", res.Events[0].RecordID)
	assert.Equal(t, 1, store.finds)

	_, err = svc.Export(context.Background(), Filter{RecordType: "fax", From: f.From, To: f.To})
	assert.ErrorIs(t, err, ErrInvalidRecordType)

	_, err = svc.Query(context.Background(), f, Page{}, DefaultSort)
	assert.ErrorIs(t, err, ErrDateRangeTooLarge, "queries keep the range guard")
}

func TestRetentionDaysOption(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, WithRetentionDays(30))
	res, err := svc.Query(context.Background(), Filter{}, Page{}, DefaultSort)
	require.NoError(t, err)
	assert.Equal(t, 30, res.RetentionDays)

	exp, err := svc.Export(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 30, exp.RetentionDays)

	res, err = NewService(NewMemoryStore(), nil, WithRetentionDays(0)).Query(context.Background(), Filter{}, Page{}, DefaultSort)
	require.NoError(t, err)
	assert.Equal(t, RetentionDays, res.RetentionDays)
}

// seed ingests n events alternating between pdf and email records, one
// second apart.
func seed(t *testing.T, svc *Service, clock *fakeClock, n int) {
	t.Helper()
	pdfEvents := AllowedEvents(RecordPDF)
	emailEvents := AllowedEvents(RecordEmail)
	for i := 0; i < n; i++ {
		c := Candidate{RecordID: fmt.Sprintf("r%d", i%4), Source: "test"}
		if i%2 == 0 {
			c.RecordType = RecordPDF
			c.EventType = pdfEvents[i%len(pdfEvents)]
		} else {
			c.RecordType = RecordEmail
			c.EventType = emailEvents[i%len(emailEvents)]
			c.RecipientEmail = fmt.Sprintf("user%d@example.com", i)
		}
		_, err := svc.Ingest(context.Background(), c)
		require.NoError(t, err)
		if i%3 != 0 {
			clock.Advance(time.Second)
		}
	}
}

func bulkAppend(t *testing.T, store Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.Append(context.Background(), &Event{
			ID:         fmt.Sprintf("bulk-%05d", i),
			RecordID:   "bulk",
			RecordType: RecordPDF,
			EventType:  EventPDFView,
			Metadata:   Metadata{},
			CreatedAt:  baseTime.Add(time.Duration(i) * time.Millisecond),
			IngestedAt: baseTime,
		})
		require.NoError(t, err)
	}
}
