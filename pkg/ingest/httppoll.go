// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ingest

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/DataDog/anomaly-agent/pkg/config"
	"github.com/DataDog/anomaly-agent/pkg/event"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

const (
	// httpBuffer is the delivery buffer of the polling source.
	httpBuffer = 100
	// defaultPollInterval paces polling when none is configured.
	defaultPollInterval = time.Second
	// defaultPollTimeout bounds each request when none is configured.
	defaultPollTimeout = 5 * time.Second
)

// HTTPPollerSource probes a set of URLs on a fixed interval and emits one
// event per response carrying the status code and the measured latency. A
// failed request emits a synthetic event with status code 0 so outages stay
// visible in the stream.
type HTTPPollerSource struct {
	urls     []string
	interval time.Duration
	method   string
	headers  map[string]string
	client   *http.Client
	clock    clock.Clock
	events   chan *event.Event

	mu         sync.Mutex
	started    bool
	running    bool
	eventCount int
	failures   int
	startTime  time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHTTPPollerSource builds a polling source for the configured URLs.
func NewHTTPPollerSource(settings config.HTTPSettings, clk clock.Clock) *HTTPPollerSource {
	if clk == nil {
		clk = clock.New()
	}
	interval := settings.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	method := settings.Method
	if method == "" {
		method = http.MethodGet
	}
	return &HTTPPollerSource{
		urls:     append([]string(nil), settings.URLs...),
		interval: interval,
		method:   method,
		headers:  settings.Headers,
		client:   &http.Client{Timeout: timeout},
		clock:    clk,
		events:   make(chan *event.Event, httpBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (s *HTTPPollerSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("http poller already started")
	}
	if len(s.urls) == 0 {
		return errors.New("http poller has no urls configured")
	}
	s.started = true
	s.running = true
	s.startTime = s.clock.Now()

	go s.run(ctx, s.clock.Ticker(s.interval))
	log.Infof("http poller started: %d urls every %s", len(s.urls), s.interval)
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (s *HTTPPollerSource) Stop() {
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
func (s *HTTPPollerSource) Events() <-chan *event.Event {
	return s.events
}

// Stats reports polling counters.
func (s *HTTPPollerSource) Stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SourceStats{
		Mode:       ModeHTTP,
		EventCount: s.eventCount,
		Failures:   s.failures,
		Connected:  s.running,
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

func (s *HTTPPollerSource) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.done)
	defer close(s.events)
	defer s.setRunning(false)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			var errs error
			for _, url := range s.urls {
				e, err := s.poll(ctx, url)
				if err != nil {
					s.countFailure()
					errs = multierror.Append(errs, errors.Wrap(err, url))
				}
				select {
				case s.events <- e:
					s.mu.Lock()
					s.eventCount++
					s.mu.Unlock()
				case <-s.stop:
					return
				case <-ctx.Done():
					return
				}
			}
			if errs != nil {
				log.Warnf("http poll cycle failures: %v", errs)
			}
		}
	}
}

// poll issues one request. Latency is wall-clock measured around the full
// round trip, in milliseconds. A failed request still yields an event, with
// status code 0 and no latency, alongside the error.
func (s *HTTPPollerSource) poll(ctx context.Context, url string) (*event.Event, error) {
	now := s.clock.Now()
	e := &event.Event{
		Timestamp: event.FormatTime(now),
		Instant:   now,
		Endpoint:  url,
	}

	req, err := http.NewRequestWithContext(ctx, s.method, url, nil)
	if err != nil {
		e.StatusCode = event.Float(0)
		return e, errors.Wrap(err, "bad request")
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start).Seconds() * 1000
	if err != nil {
		e.StatusCode = event.Float(0)
		return e, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	e.StatusCode = event.Float(float64(resp.StatusCode))
	e.ResponseTime = event.Float(elapsed)
	return e, nil
}

func (s *HTTPPollerSource) countFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *HTTPPollerSource) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}
