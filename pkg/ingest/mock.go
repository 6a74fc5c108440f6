// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ingest

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/DataDog/anomaly-agent/pkg/event"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

// mockBuffer is the delivery buffer of the mock source.
const mockBuffer = 100

var mockEndpoints = []string{
	"/api/users",
	"/api/products",
	"/api/orders",
	"/api/payments",
	"/api/auth",
	"/api/search",
	"/api/recommendations",
}

// mockStatuses weights the status codes of normal traffic.
var mockStatuses = []struct {
	code   float64
	weight int
}{
	{200, 70},
	{201, 5},
	{400, 10},
	{404, 10},
	{500, 5},
}

// MockConfig parametrizes the synthetic source.
type MockConfig struct {
	// EventsPerSecond paces generation. Defaults to 10.
	EventsPerSecond float64
	// AnomalyProbability is the chance each event is drawn from an anomaly
	// pattern instead of the normal ranges.
	AnomalyProbability float64
	// Duration stops the source after the given run time. 0 means unbounded.
	Duration time.Duration
	// Seed makes the stream reproducible. 0 seeds from the wall clock.
	Seed int64
	// Clock paces the ticker and stamps events. Defaults to the wall clock.
	Clock clock.Clock
}

// MockSource generates synthetic API telemetry: weighted status codes,
// normal operating ranges, and occasional spike, drop, or error_spike
// patterns labeled via IsAnomaly.
type MockSource struct {
	cfg    MockConfig
	clock  clock.Clock
	rng    *rand.Rand
	events chan *event.Event

	mu         sync.Mutex
	started    bool
	connected  bool
	eventCount int
	startTime  time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMockSource builds a mock source, applying defaults for unset fields.
func NewMockSource(cfg MockConfig) *MockSource {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 10
	}
	if cfg.AnomalyProbability < 0 {
		cfg.AnomalyProbability = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockSource{
		cfg:    cfg,
		clock:  cfg.Clock,
		rng:    rand.New(rand.NewSource(seed)),
		events: make(chan *event.Event, mockBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the generator goroutine.
func (s *MockSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("mock source already started")
	}
	s.started = true
	s.connected = true
	s.startTime = s.clock.Now()

	// The ticker is armed here, not in the goroutine, so generation is
	// paced from the moment Start returns.
	interval := time.Duration(float64(time.Second) / s.cfg.EventsPerSecond)
	go s.run(ctx, s.clock.Ticker(interval))
	log.Infof("mock stream started: %.0f events/sec", s.cfg.EventsPerSecond)
	return nil
}

// Stop halts generation and waits for the generator to exit.
func (s *MockSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		close(s.stop)
		if started {
			<-s.done
		}
	})
}

// Events returns the delivery channel.
func (s *MockSource) Events() <-chan *event.Event {
	return s.events
}

// Stats reports generation counters.
func (s *MockSource) Stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SourceStats{
		Mode:       ModeMock,
		EventCount: s.eventCount,
		Connected:  s.connected,
	}
	if !s.startTime.IsZero() {
		elapsed := s.clock.Since(s.startTime).Seconds()
		stats.ElapsedTime = elapsed
		if elapsed > 0 {
			stats.EventsPerSecond = float64(s.eventCount) / elapsed
		}
	}
	return stats
}

func (s *MockSource) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.done)
	defer close(s.events)
	defer s.setConnected(false)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if s.cfg.Duration > 0 && s.clock.Since(s.startTime) >= s.cfg.Duration {
				log.Infof("mock stream finished: %d events generated", s.count())
				return
			}
			select {
			case s.events <- s.generate():
				s.incr()
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *MockSource) generate() *event.Event {
	if s.rng.Float64() < s.cfg.AnomalyProbability {
		return s.anomalyEvent()
	}
	return s.normalEvent()
}

func (s *MockSource) normalEvent() *event.Event {
	now := s.clock.Now()
	return &event.Event{
		Timestamp:    event.FormatTime(now),
		Instant:      now,
		Endpoint:     mockEndpoints[s.rng.Intn(len(mockEndpoints))],
		StatusCode:   event.Float(s.weightedStatus()),
		ResponseTime: event.Float(s.uniform(50, 200)),
		CPUUsage:     event.Float(s.uniform(20, 60)),
		MemoryUsage:  event.Float(s.uniform(30, 70)),
		IsAnomaly:    event.Bool(false),
	}
}

func (s *MockSource) anomalyEvent() *event.Event {
	now := s.clock.Now()
	e := &event.Event{
		Timestamp: event.FormatTime(now),
		Instant:   now,
		Endpoint:  mockEndpoints[s.rng.Intn(len(mockEndpoints))],
		IsAnomaly: event.Bool(true),
	}

	switch s.rng.Intn(3) {
	case 0: // spike
		e.StatusCode = event.Float(200)
		e.ResponseTime = event.Float(s.uniform(1000, 5000))
		e.CPUUsage = event.Float(s.uniform(80, 95))
		e.MemoryUsage = event.Float(s.uniform(85, 95))
	case 1: // drop
		e.StatusCode = event.Float(200)
		e.ResponseTime = event.Float(s.uniform(10, 30))
		e.CPUUsage = event.Float(s.uniform(5, 15))
		e.MemoryUsage = event.Float(s.uniform(10, 20))
	default: // error_spike
		codes := []float64{500, 503, 504}
		e.StatusCode = event.Float(codes[s.rng.Intn(len(codes))])
		e.ResponseTime = event.Float(s.uniform(3000, 10000))
		e.CPUUsage = event.Float(s.uniform(70, 90))
		e.MemoryUsage = event.Float(s.uniform(75, 90))
	}
	return e
}

func (s *MockSource) weightedStatus() float64 {
	r := s.rng.Intn(100)
	for _, ws := range mockStatuses {
		if r < ws.weight {
			return ws.code
		}
		r -= ws.weight
	}
	return 200
}

func (s *MockSource) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *MockSource) incr() {
	s.mu.Lock()
	s.eventCount++
	s.mu.Unlock()
}

func (s *MockSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventCount
}

func (s *MockSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
