// Package pacer serializes outbound requests to one external source at a
// bounded, adaptively backed-off rate. One Pacer per source; never share an
// instance across sources.
package pacer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"research_fetcher/internal/domain"
)

// Executor performs one outbound request. It owns its own deadline; the
// pacer only controls when it is allowed to start.
type Executor func(ctx context.Context) ([]byte, error)

type Config struct {
	Source       string
	BaseInterval time.Duration
	BackoffCap   float64
	// Buffer is a fixed courtesy pause after each settled request,
	// independent of backoff.
	Buffer time.Duration
}

// Status is a point-in-time snapshot of the pacer's state.
type Status struct {
	QueueLength       int
	Processing        bool
	BackoffMultiplier float64
	ConsecutiveErrors int
}

type outcome struct {
	payload []byte
	err     error
}

type request struct {
	ctx  context.Context
	fn   Executor
	done chan outcome
}

// Pacer dispatches queued requests FIFO, one at a time, spacing them by
// baseInterval * backoffMultiplier. Enqueue is safe from many goroutines;
// queue and backoff state are mutated only under the mutex, and exactly one
// drain loop runs at a time.
type Pacer struct {
	cfg    Config
	logger *slog.Logger

	mu                sync.Mutex
	queue             []*request
	processing        bool
	multiplier        float64
	consecutiveErrors int
	lastDispatch      time.Time
}

func New(cfg Config, logger *slog.Logger) *Pacer {
	if cfg.BackoffCap < 1 {
		cfg.BackoffCap = 1
	}
	return &Pacer{
		cfg:        cfg,
		logger:     logger.With("source", cfg.Source),
		multiplier: 1,
	}
}

// Schedule enqueues fn and blocks until it settles or ctx is done. A request
// abandoned while still queued is skipped by the drain loop; an in-flight
// request runs to completion.
func (p *Pacer) Schedule(ctx context.Context, fn Executor) ([]byte, error) {
	req := &request{ctx: ctx, fn: fn, done: make(chan outcome, 1)}

	p.mu.Lock()
	p.queue = append(p.queue, req)
	start := !p.processing
	if start {
		p.processing = true
	}
	p.mu.Unlock()

	if start {
		go p.drain()
	}

	select {
	case out := <-req.done:
		return out.payload, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pacer) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.processing = false
			p.mu.Unlock()
			return
		}
		req := p.queue[0]
		p.queue = p.queue[1:]
		effective := time.Duration(float64(p.cfg.BaseInterval) * p.multiplier)
		wait := effective - time.Since(p.lastDispatch)
		p.mu.Unlock()

		if req.ctx.Err() != nil {
			continue
		}

		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-req.ctx.Done():
				continue
			}
		}

		p.mu.Lock()
		p.lastDispatch = time.Now()
		p.mu.Unlock()

		payload, err := req.fn(req.ctx)
		p.settle(err)
		req.done <- outcome{payload: payload, err: err}

		if p.cfg.Buffer > 0 {
			time.Sleep(p.cfg.Buffer)
		}
	}
}

func (p *Pacer) settle(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var throttled *domain.ThrottledError
	switch {
	case err == nil:
		if p.multiplier != 1 || p.consecutiveErrors != 0 {
			p.logger.Info("backoff recovered")
		}
		p.multiplier = 1
		p.consecutiveErrors = 0
	case errors.As(err, &throttled):
		p.consecutiveErrors++
		p.multiplier *= 2
		if p.multiplier > p.cfg.BackoffCap {
			p.multiplier = p.cfg.BackoffCap
		}
		p.logger.Warn("source throttled, backing off",
			"multiplier", p.multiplier,
			"consecutive_errors", p.consecutiveErrors,
		)
	default:
		// Non-throttling failures are the caller's problem, not a pacing
		// signal.
	}
}

func (p *Pacer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		QueueLength:       len(p.queue),
		Processing:        p.processing,
		BackoffMultiplier: p.multiplier,
		ConsecutiveErrors: p.consecutiveErrors,
	}
}

// ResetBackoff restores baseline spacing. Operator escape hatch.
func (p *Pacer) ResetBackoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.multiplier = 1
	p.consecutiveErrors = 0
	p.logger.Info("backoff reset")
}
