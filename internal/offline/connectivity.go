// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHealthInterval is how often Monitor checks the backend.
const DefaultHealthInterval = 30 * time.Second

// Connectivity is the shared online flag.
type Connectivity struct {
	mu     sync.RWMutex
	online bool
	forced bool
	subs   map[int]chan bool
	nextID int
}

// NewConnectivity returns a flag starting at online.
func NewConnectivity(online bool) *Connectivity {
	return &Connectivity{online: online, subs: make(map[int]chan bool)}
}

// ForceOffline pins the flag to offline; later SetOnline calls are ignored.
func (c *Connectivity) ForceOffline() {
	c.SetOnline(false)
	c.mu.Lock()
	c.forced = true
	c.mu.Unlock()
}

// Forced reports whether ForceOffline was called.
func (c *Connectivity) Forced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forced
}

// Online reports the current flag.
func (c *Connectivity) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// SetOnline updates the flag and notifies subscribers on a change.
func (c *Connectivity) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forced || c.online == online {
		return
	}
	c.online = online
	for _, ch := range c.subs {
		// Slow subscribers only see the latest value.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe returns a channel receiving each change of the flag and a
// function that ends the subscription.
func (c *Connectivity) Subscribe() (<-chan bool, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan bool, 1)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// HealthChecker checks the backend.
type HealthChecker interface {
	CheckHealth(ctx context.Context) bool
}

// Monitor polls a HealthChecker and mirrors the result into Connectivity.
type Monitor struct {
	checker  HealthChecker
	conn     *Connectivity
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a monitor. A non-positive interval uses
// DefaultHealthInterval.
func NewMonitor(checker HealthChecker, conn *Connectivity, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{checker: checker, conn: conn, interval: interval, logger: logger}
}

// Check runs once and updates the flag.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.checker.CheckHealth(ctx)
	if ctx.Err() != nil {
		return m.conn.Online()
	}
	if online != m.conn.Online() {
		m.logger.Info("connectivity changed", zap.Bool("online", online))
	}
	m.conn.SetOnline(online)
	return online
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
