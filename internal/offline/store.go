// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned by stores when a request id is unknown.
var ErrNotFound = errors.New("queued request not found")

// Request is a prompt waiting to be replayed.
type Request struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	Model      string    `json:"model,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Retries    int       `json:"retries"`
}

// Store persists queued requests. Load returns them in enqueue order.
type Store interface {
	Load(ctx context.Context) ([]Request, error)
	Append(ctx context.Context, req Request) error
	Update(ctx context.Context, req Request) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// MemoryStore keeps requests in a slice.
type MemoryStore struct {
	mu    sync.Mutex
	items []Request
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items), nil
}

func (m *MemoryStore) Append(ctx context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, req)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(req.ID)
	if i < 0 {
		return ErrNotFound
	}
	m.items[i] = req
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	m.items = slices.Delete(m.items, i, i+1)
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) index(id string) int {
	return slices.IndexFunc(m.items, func(r Request) bool { return r.ID == id })
}
