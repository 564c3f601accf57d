// Package ratelimit implements the fixed-window request limiter that guards
// the PDF rendering and email dispatch endpoints.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRequests = 60
	DefaultWindow      = 60 * time.Second
	MinWindow          = time.Second
)

// Options configures one admission check.
type Options struct {
	MaxRequests int
	Window      time.Duration
}

// Normalize applies defaults to zero values and clamps the rest to sane
// minimums.
func (o Options) Normalize() Options {
	if o.MaxRequests == 0 {
		o.MaxRequests = DefaultMaxRequests
	}
	if o.MaxRequests < 1 {
		o.MaxRequests = 1
	}
	if o.Window == 0 {
		o.Window = DefaultWindow
	}
	if o.Window < MinWindow {
		o.Window = MinWindow
	}
	return o
}

// OptionsFromMillis builds Options from the millisecond form used in
// configuration.
func OptionsFromMillis(maxRequests int, windowMs int64) Options {
	return Options{MaxRequests: maxRequests, Window: time.Duration(windowMs) * time.Millisecond}
}

// Admission is the outcome of one check.
type Admission struct {
	Admitted  bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfterSeconds is set only when the request was denied.
	RetryAfterSeconds int64
}

// Admitter is satisfied by every limiter backend.
type Admitter interface {
	Admit(ctx context.Context, key string, opts Options) (Admission, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a process-local fixed-window limiter. Each key has one active
// window; every request in that window shares its counter.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   Clock
}

// New creates a Limiter. A nil clock uses the system time.
func New(clock Clock) *Limiter {
	if clock == nil {
		clock = systemClock{}
	}
	return &Limiter{
		windows: make(map[string]*window),
		clock:   clock,
	}
}

// Admit counts one request for key and reports whether it may proceed.
func (l *Limiter) Admit(_ context.Context, key string, opts Options) (Admission, error) {
	opts = opts.Normalize()
	now := l.clock.Now()

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(opts.Window)}
		l.windows[key] = w
	} else {
		w.count++
	}
	count, resetAt := w.count, w.resetAt
	l.mu.Unlock()

	return admission(count, opts.MaxRequests, resetAt, now), nil
}

// admission builds the result for a window that has seen count requests.
func admission(count, limit int, resetAt, now time.Time) Admission {
	a := Admission{
		Admitted:  count <= limit,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}
	if a.Remaining < 0 {
		a.Remaining = 0
	}
	if !a.Admitted {
		a.RetryAfterSeconds = retryAfterSeconds(resetAt, now)
	}
	return a
}

func retryAfterSeconds(resetAt, now time.Time) int64 {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep forgets every window that ended at or before now and returns how
// many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(l.clock.Now()); n > 0 {
					logger.Debug("rate limit windows swept", zap.Int("removed", n))
				}
			}
		}
	}()
}

var _ Admitter = (*Limiter)(nil)
