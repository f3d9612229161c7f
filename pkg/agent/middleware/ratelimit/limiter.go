// Package ratelimit caps the number of in-flight backend calls per client.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chatagent/pkg/logx"
)

// Limiter is a counting semaphore over backend calls.
type Limiter struct {
	model string
	slots chan struct{}

	concurrencyHits atomic.Int64
}

// LimiterStats represents current limiter statistics.
type LimiterStats struct {
	Model           string `json:"model"`
	ActiveRequests  int    `json:"active_requests"`
	MaxConcurrency  int    `json:"max_concurrency"`
	ConcurrencyHits int64  `json:"concurrency_hits"`
}

// NewLimiter returns a limiter allowing maxConcurrency concurrent calls, or
// nil when maxConcurrency <= 0 (unlimited).
func NewLimiter(model string, maxConcurrency int) *Limiter {
	if maxConcurrency <= 0 {
		return nil
	}
	return &Limiter{
		model: model,
		slots: make(chan struct{}, maxConcurrency),
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// function must be called exactly once; extra calls are ignored. waited
// reports how long the caller queued.
func (l *Limiter) Acquire(ctx context.Context) (release func(), waited time.Duration, err error) {
	select {
	case l.slots <- struct{}{}:
		return l.releaser(), 0, nil
	default:
	}

	l.concurrencyHits.Add(1)
	logx.Infof("RATELIMIT: %s concurrency limit hit, waiting for slot (active: %d/%d)",
		l.model, len(l.slots), cap(l.slots))

	start := time.Now()
	select {
	case l.slots <- struct{}{}:
		return l.releaser(), time.Since(start), nil
	case <-ctx.Done():
		return nil, time.Since(start), ctx.Err() //nolint:wrapcheck // Context error propagated as-is
	}
}

func (l *Limiter) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-l.slots })
	}
}

// GetStats returns current limiter statistics.
func (l *Limiter) GetStats() LimiterStats {
	return LimiterStats{
		Model:           l.model,
		ActiveRequests:  len(l.slots),
		MaxConcurrency:  cap(l.slots),
		ConcurrencyHits: l.concurrencyHits.Load(),
	}
}
