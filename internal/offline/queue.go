// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxRetries is how many failed sends a request survives.
const DefaultMaxRetries = 3

var (
	// ErrBusy is returned when a drain pass is already running.
	ErrBusy = errors.New("offline queue is already draining")

	// ErrOffline is returned when a drain is requested while offline.
	ErrOffline = errors.New("offline queue cannot drain while offline")

	// ErrEmptyPrompt is returned by Enqueue for blank prompts.
	ErrEmptyPrompt = errors.New("cannot queue an empty prompt")
)

// Queue events reported to Metrics.
const (
	EventEnqueued = "enqueued"
	EventSent     = "sent"
	EventFailed   = "failed"
	EventDropped  = "dropped"
)

// Executor replays one queued request.
type Executor func(ctx context.Context, req Request) error

// Metrics receives queue activity.
type Metrics interface {
	ObserveQueue(event string)
	SetQueueDepth(n int)
}

// Options configures a Queue. Zero values pick defaults.
type Options struct {
	// MaxRetries is the failure count at which a request is dropped.
	MaxRetries int

	// Interval is the minimum gap between two sends in a drain pass.
	// Zero means no pacing.
	Interval time.Duration

	// Connectivity gates draining. Nil means always online.
	Connectivity *Connectivity

	Logger  *zap.Logger
	Metrics Metrics
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// Queue is a persistent FIFO of prompts awaiting replay.
type Queue struct {
	store      Store
	conn       *Connectivity
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
	metrics    Metrics

	mu         sync.Mutex
	items      []Request
	processing bool
}

// New loads the persisted queue from store.
func New(ctx context.Context, store Store, opts Options) (*Queue, error) {
	if store == nil {
		return nil, errors.New("offline: store cannot be nil")
	}
	items, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		store:      store,
		conn:       opts.Connectivity,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		items:      items,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	if q.maxRetries <= 0 {
		q.maxRetries = DefaultMaxRetries
	}
	if opts.Interval > 0 {
		q.limiter = rate.NewLimiter(rate.Every(opts.Interval), 1)
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	q.reportDepth()
	return q, nil
}

// MaxRetries returns the drop threshold.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue appends a prompt to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, prompt, model string) (Request, error) {
	if strings.TrimSpace(prompt) == "" {
		return Request{}, ErrEmptyPrompt
	}
	req := Request{
		ID:         "q-" + uuid.NewString(),
		Prompt:     prompt,
		Model:      model,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Append(ctx, req); err != nil {
		return Request{}, err
	}
	q.items = append(q.items, req)

	q.logger.Info("prompt queued", zap.String("id", req.ID), zap.Int("depth", len(q.items)))
	q.event(EventEnqueued)
	q.reportDepthLocked()
	return req, nil
}

// Dequeue removes a request by id.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(ctx, id)
}

// Items returns a copy of the queue in FIFO order.
func (q *Queue) Items() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued request.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Clear(ctx); err != nil {
		return err
	}
	q.items = nil
	q.reportDepthLocked()
	return nil
}

// Processing reports whether a drain pass is running.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Drain makes one pass over the queue in FIFO order, sending each request at
// most once. Requests that already failed MaxRetries times are dropped
// without another attempt; a successful send removes the request; a failure
// bumps its retry count and the pass moves on.
//
// Drain returns ErrBusy if another pass is running and ErrOffline if the
// connectivity flag is down. An empty queue is a no-op.
func (q *Queue) Drain(ctx context.Context, exec Executor) (report DrainReport, err error) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return report, ErrBusy
	}
	if !q.online() {
		q.mu.Unlock()
		return report, ErrOffline
	}
	if len(q.items) == 0 {
		q.mu.Unlock()
		return report, nil
	}
	q.processing = true
	pending := slices.Clone(q.items)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		report.Remaining = len(q.items)
		q.mu.Unlock()
	}()

	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !q.online() {
			return report, ErrOffline
		}

		if req.Retries >= q.maxRetries {
			if err := q.Dequeue(ctx, req.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return report, err
			}
			report.Dropped++
			q.event(EventDropped)
			q.logger.Warn("dropping queued prompt after repeated failures",
				zap.String("id", req.ID), zap.Int("retries", req.Retries))
			continue
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return report, err
		}

		sendErr := exec(ctx, req)
		if sendErr == nil {
			if err := q.Dequeue(ctx, req.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return report, err
			}
			report.Sent++
			q.event(EventSent)
			q.logger.Info("queued prompt sent", zap.String("id", req.ID))
			continue
		}

		// Cancelling the pass does not count against the request.
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if err := q.bumpRetries(ctx, req.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return report, err
		}
		report.Failed++
		q.event(EventFailed)
		q.logger.Warn("queued prompt failed",
			zap.String("id", req.ID), zap.Int("retries", req.Retries+1), zap.Error(sendErr))
	}

	return report, nil
}

// Watch drains the queue whenever conn reports online, and once at start if
// already online. It blocks until ctx is done.
func (q *Queue) Watch(ctx context.Context, conn *Connectivity, exec Executor) {
	updates, unsubscribe := conn.Subscribe()
	defer unsubscribe()

	drain := func() {
		report, err := q.Drain(ctx, exec)
		switch {
		case errors.Is(err, ErrBusy), errors.Is(err, ErrOffline), errors.Is(err, context.Canceled):
		case err != nil:
			q.logger.Error("offline queue drain failed", zap.Error(err))
		case report.Sent+report.Failed+report.Dropped > 0:
			q.logger.Info("offline queue drained",
				zap.Int("sent", report.Sent),
				zap.Int("failed", report.Failed),
				zap.Int("dropped", report.Dropped),
				zap.Int("remaining", report.Remaining))
		}
	}

	if conn.Online() {
		drain()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-updates:
			if online {
				drain()
			}
		}
	}
}

func (q *Queue) bumpRetries(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.IndexFunc(q.items, func(r Request) bool { return r.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	updated := q.items[i]
	updated.Retries++
	if err := q.store.Update(ctx, updated); err != nil {
		return fmt.Errorf("failed to persist retry count: %w", err)
	}
	q.items[i] = updated
	return nil
}

func (q *Queue) removeLocked(ctx context.Context, id string) error {
	i := slices.IndexFunc(q.items, func(r Request) bool { return r.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	if err := q.store.Remove(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	q.items = slices.Delete(q.items, i, i+1)
	q.reportDepthLocked()
	return nil
}

func (q *Queue) online() bool {
	return q.conn == nil || q.conn.Online()
}

func (q *Queue) event(name string) {
	if q.metrics != nil {
		q.metrics.ObserveQueue(name)
	}
}

func (q *Queue) reportDepth() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reportDepthLocked()
}

func (q *Queue) reportDepthLocked() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.items))
	}
}
