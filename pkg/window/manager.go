// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package window keeps the rolling event state of the pipeline: a bounded
// main buffer of recent events plus lazily created named windows.
package window

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

// Config configures a window manager.
type Config struct {
	MainSize   int // default: 1000
	WindowSize int // default size of named windows: 100
	Clock      clock.Clock
}

// DefaultConfig returns the default window sizes.
func DefaultConfig() Config {
	return Config{
		MainSize:   1000,
		WindowSize: 100,
	}
}

// Manager is a bounded FIFO of events with auxiliary named windows. The
// pipeline is the only writer; the status API reads concurrently, hence the
// lock.
type Manager struct {
	mu sync.RWMutex

	events  []*event.Event
	windows map[string][]*event.Event
	sizes   map[string]int

	mainSize   int
	windowSize int
	clock      clock.Clock
}

// NewManager creates a window manager with the given config.
func NewManager(cfg Config) *Manager {
	if cfg.MainSize <= 0 {
		cfg.MainSize = 1000
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Manager{
		events:     make([]*event.Event, 0, cfg.MainSize),
		windows:    make(map[string][]*event.Event),
		sizes:      make(map[string]int),
		mainSize:   cfg.MainSize,
		windowSize: cfg.WindowSize,
		clock:      cfg.Clock,
	}
}

// AddEvent appends e to the main buffer, evicting the oldest event beyond
// capacity. Events arriving without a timestamp are stamped with the current
// time in the canonical format; the monotonic instant is stamped whenever
// missing.
func (m *Manager) AddEvent(e *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp(e)
	m.events = ringAppend(m.events, e, m.mainSize)
}

func (m *Manager) stamp(e *event.Event) {
	now := m.clock.Now()
	if e.Timestamp == "" {
		e.Timestamp = event.FormatTime(now)
	}
	if e.Instant.IsZero() {
		e.Instant = now
	}
}

func ringAppend(ring []*event.Event, e *event.Event, max int) []*event.Event {
	if len(ring) >= max {
		// Shift left, drop oldest
		copy(ring, ring[1:])
		ring = ring[:len(ring)-1]
	}
	return append(ring, e)
}

// RecentEvents returns the last n events in arrival order; n <= 0 returns
// all buffered events.
func (m *Manager) RecentEvents(n int) []*event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	result := make([]*event.Event, n)
	copy(result, m.events[len(m.events)-n:])
	return result
}

// TimeWindow returns the events whose time falls within [anchor - seconds,
// anchor], anchored on the newest event. The scan walks backwards and stops
// at the first event outside the range, so a single out-of-order event ends
// the scan. Events carrying only a display timestamp are parsed; a malformed
// timestamp aborts the query.
func (m *Manager) TimeWindow(seconds float64) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.events) == 0 {
		return nil, nil
	}

	anchor, err := m.events[len(m.events)-1].When()
	if err != nil {
		return nil, err
	}
	cutoff := anchor.Add(-time.Duration(seconds * float64(time.Second)))

	var result []*event.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		ts, err := m.events[i].When()
		if err != nil {
			return nil, err
		}
		if ts.Before(cutoff) || ts.After(anchor) {
			break
		}
		result = append(result, m.events[i])
	}

	// restore arrival order
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// UpdateWindow appends e to the named window, lazily creating it with the
// requested size (or the default when size <= 0).
func (m *Manager) UpdateWindow(name string, e *event.Event, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp(e)
	if _, ok := m.windows[name]; !ok {
		if size <= 0 {
			size = m.windowSize
		}
		m.windows[name] = make([]*event.Event, 0, size)
		m.sizes[name] = size
	}
	m.windows[name] = ringAppend(m.windows[name], e, m.sizes[name])
}

// Window returns a copy of the named window, lazily creating it like
// UpdateWindow does.
func (m *Manager) Window(name string, size int) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.windows[name]; !ok {
		if size <= 0 {
			size = m.windowSize
		}
		m.windows[name] = make([]*event.Event, 0, size)
		m.sizes[name] = size
	}
	result := make([]*event.Event, len(m.windows[name]))
	copy(result, m.windows[name])
	return result
}

// Clear empties a single named window. Unknown names are ignored.
func (m *Manager) Clear(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.windows[name]; ok {
		m.windows[name] = w[:0]
	}
}

// ClearAll empties the main buffer and every named window.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = m.events[:0]
	m.windows = make(map[string][]*event.Event)
	m.sizes = make(map[string]int)
}

// Stats contains window manager statistics.
type Stats struct {
	BufferSize  int            `json:"buffer_size"`
	WindowCount int            `json:"window_count"`
	Windows     map[string]int `json:"windows"`
}

// Stats returns the current buffer sizes.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	windows := make(map[string]int, len(m.windows))
	for name, w := range m.windows {
		windows[name] = len(w)
	}
	return Stats{
		BufferSize:  len(m.events),
		WindowCount: len(m.windows),
		Windows:     windows,
	}
}
