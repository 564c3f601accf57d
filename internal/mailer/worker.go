package mailer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"docrelay/internal/usage"
)

// EventLogger records usage events without failing the caller.
type EventLogger interface {
	LogBestEffort(ctx context.Context, c usage.Candidate)
}

// Worker drains a Queue and sends each job.
type Worker struct {
	queue       Queue
	sender      Sender
	events      EventLogger
	logger      *zap.Logger
	maxAttempts int
	sendTimeout time.Duration
}

// NewWorker creates a worker. events may be nil.
func NewWorker(queue Queue, sender Sender, events EventLogger, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:       queue,
		sender:      sender,
		events:      events,
		logger:      logger,
		maxAttempts: 1,
		sendTimeout: time.Minute,
	}
}

// WithMaxAttempts sets how many times a job is tried before it is reported
// failed.
func (w *Worker) WithMaxAttempts(n int) *Worker {
	if n < 1 {
		n = 1
	}
	w.maxAttempts = n
	return w
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("mail worker started")
	for {
		job, err := w.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			w.logger.Info("mail worker stopped")
			return
		}
		if errors.Is(err, ErrQueueEmpty) {
			continue
		}
		if err != nil {
			w.logger.Warn("mail dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		w.Process(ctx, job)
	}
}

// Process sends one job and records its outcome.
func (w *Worker) Process(ctx context.Context, job *Job) {
	job.Attempts++
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	err := w.sender.Send(sendCtx, job)
	cancel()

	if err == nil {
		w.logger.Info("email delivered",
			zap.String("job_id", job.ID),
			zap.String("config_id", job.Account.ConfigID),
			zap.Int("attempts", job.Attempts),
		)
		w.record(ctx, job, usage.EventEmailDelivered, "delivered", nil)
		return
	}

	if job.Attempts < w.maxAttempts {
		w.logger.Warn("email send failed, requeueing",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(err),
		)
		_, qerr := w.queue.Enqueue(ctx, job)
		if qerr == nil {
			return
		}
		w.logger.Error("email requeue failed", zap.String("job_id", job.ID), zap.Error(qerr))
	}

	w.logger.Error("email failed",
		zap.String("job_id", job.ID),
		zap.String("config_id", job.Account.ConfigID),
		zap.Int("attempts", job.Attempts),
		zap.Error(err),
	)
	w.record(ctx, job, usage.EventEmailFailed, "failed", usage.Metadata{"error": err.Error()})
}

func (w *Worker) record(ctx context.Context, job *Job, et usage.EventType, status string, extra usage.Metadata) {
	if w.events == nil {
		return
	}
	md := usage.Metadata{
		"configId": job.Account.ConfigID,
		"subject":  job.Subject,
		"attempts": job.Attempts,
	}
	for k, v := range extra {
		md[k] = v
	}
	w.events.LogBestEffort(ctx, usage.Candidate{
		RecordID:       job.ID,
		RecordType:     usage.RecordEmail,
		EventType:      et,
		RecipientEmail: job.To,
		Status:         status,
		Source:         "worker",
		Metadata:       md,
	})
}
