package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docrelay/internal/usage"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []*Job
	fails int
	err   error
}

func (s *fakeSender) Send(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return s.err
	}
	cp := *job
	s.sent = append(s.sent, &cp)
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []usage.Candidate
}

func (r *recordedEvents) LogBestEffort(_ context.Context, c usage.Candidate) {
	r.mu.Lock()
	r.events = append(r.events, c)
	r.mu.Unlock()
}

func (r *recordedEvents) all() []usage.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.Candidate(nil), r.events...)
}

func sampleJob() *Job {
	return &Job{
		Account:   Account{ConfigID: "cfg-1", Host: "smtp.example.com", Port: 587},
		To:        "alice@example.com",
		Subject:   "Invoice",
		Body:      "Hello",
		FromEmail: "billing@example.com",
		FromName:  "Billing",
	}
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	q.poll = 10 * time.Millisecond
	ctx := context.Background()

	id, err := q.Enqueue(ctx, sampleJob())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = q.Enqueue(ctx, sampleJob())
	assert.Error(t, err, "full queue rejects")

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.Dequeue(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(client, "email-queue")
	q.poll = 50 * time.Millisecond
	ctx := context.Background()

	first := sampleJob()
	first.Attachments = []Attachment{{Filename: "a.txt", Content: "hi"}}
	id1, err := q.Enqueue(ctx, first)
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, sampleJob())
	require.NoError(t, err)

	n, err := client.LLen(ctx, "docrelay:queue:email-queue").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, got.ID, "first in, first out")
	assert.Equal(t, "cfg-1", got.Account.ConfigID)
	require.Len(t, got.Attachments, 1)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, got.ID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestWorker_Delivered(t *testing.T) {
	sender := &fakeSender{}
	events := &recordedEvents{}
	w := NewWorker(NewMemoryQueue(4), sender, events, zap.NewNop())

	job := sampleJob()
	job.ID = "job-1"
	w.Process(context.Background(), job)

	require.Len(t, sender.sent, 1)
	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, usage.EventEmailDelivered, got[0].EventType)
	assert.Equal(t, usage.RecordEmail, got[0].RecordType)
	assert.Equal(t, "job-1", got[0].RecordID)
	assert.Equal(t, "delivered", got[0].Status)
	assert.Equal(t, "alice@example.com", got[0].RecipientEmail)
	assert.Equal(t, "worker", got[0].Source)
	assert.Equal(t, 1, got[0].Metadata["attempts"])
}

func TestWorker_FailedAfterRetries(t *testing.T) {
	sender := &fakeSender{fails: 5, err: errors.New("550 mailbox unavailable")}
	events := &recordedEvents{}
	q := NewMemoryQueue(4)
	q.poll = 10 * time.Millisecond
	w := NewWorker(q, sender, events, zap.NewNop()).WithMaxAttempts(2)

	job := sampleJob()
	job.ID = "job-2"
	w.Process(context.Background(), job)
	assert.Empty(t, events.all(), "first failure is retried")
	assert.Equal(t, 1, q.Len())

	retry, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	w.Process(context.Background(), retry)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, usage.EventEmailFailed, got[0].EventType)
	assert.Equal(t, "failed", got[0].Status)
	assert.Equal(t, 2, got[0].Metadata["attempts"])
	assert.Equal(t, "550 mailbox unavailable", got[0].Metadata["error"])
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	sender := &fakeSender{}
	q := NewMemoryQueue(8)
	q.poll = 10 * time.Millisecond
	w := NewWorker(q, sender, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(context.Background(), sampleJob())
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	job := sampleJob()
	job.ID = "job-3"
	msg, err := BuildMessage(job, now)
	require.NoError(t, err)
	s := string(msg)
	assert.Contains(t, s, "From: \"Billing\" <billing@example.com>\r\n")
	assert.Contains(t, s, "To: alice@example.com\r\n")
	assert.Contains(t, s, "Subject: Invoice\r\n")
	assert.Contains(t, s, "Message-ID: <job-3@docrelay>\r\n")
	assert.Contains(t, s, "Content-Type: text/plain; charset=utf-8\r\n\r\nHello")

	job.Body = "<p>Hello</p>"
	job.Attachments = []Attachment{
		{Filename: "report.pdf", Content: "JVBERi0=", Encoding: "base64", ContentType: "application/pdf"},
		{Filename: "note.txt", Content: "plain"},
	}
	msg, err = BuildMessage(job, now)
	require.NoError(t, err)
	s = string(msg)
	assert.Contains(t, s, "Content-Type: multipart/mixed; boundary=")
	assert.Contains(t, s, "text/html; charset=utf-8")
	assert.Contains(t, s, `attachment; filename=report.pdf`)
	assert.Contains(t, s, "JVBERi0=")
	assert.Contains(t, s, "cGxhaW4=", "text attachments are base64 encoded")

	job.Attachments = []Attachment{{Filename: "bad", Content: "***", Encoding: "base64"}}
	_, err = BuildMessage(job, now)
	assert.Error(t, err)
}

func TestRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, recipients(" a@x.io, ,b@x.io "))
	assert.Nil(t, recipients(""))
	assert.True(t, strings.HasPrefix(bodyContentType("  <html>"), "text/html"))
}
