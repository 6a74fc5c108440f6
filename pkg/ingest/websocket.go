// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/DataDog/anomaly-agent/pkg/config"
	"github.com/DataDog/anomaly-agent/pkg/event"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

const (
	defaultWebSocketQueue     = 256
	defaultReconnectInterval  = 5 * time.Second
	webSocketHandshakeTimeout = 10 * time.Second
)

// WebSocketSource subscribes to a WebSocket endpoint emitting JSON events.
// Messages are decoded on the read goroutine and pushed into a bounded
// queue; when the queue is full the incoming event is dropped with a
// warning. A lost connection is re-dialed at a constant interval until the
// source is stopped. The initial dial failing is an error.
type WebSocketSource struct {
	url               string
	reconnectInterval time.Duration
	events            chan *event.Event

	mu         sync.Mutex
	started    bool
	connected  bool
	conn       *websocket.Conn
	cancel     context.CancelFunc
	eventCount int
	dropped    int
	malformed  int
	startTime  time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewWebSocketSource builds a WebSocket source for the configured URL.
func NewWebSocketSource(settings config.WebSocketSettings) *WebSocketSource {
	queue := settings.QueueSize
	if queue <= 0 {
		queue = defaultWebSocketQueue
	}
	interval := settings.ReconnectInterval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}
	return &WebSocketSource{
		url:               settings.URL,
		reconnectInterval: interval,
		events:            make(chan *event.Event, queue),
		done:              make(chan struct{}),
	}
}

// Start dials the endpoint and launches the read loop.
func (s *WebSocketSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("websocket source already started")
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return errors.Wrapf(err, "websocket connect %s", s.url)
	}
	log.Infof("websocket connected: %s", s.url)

	runCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.connected = true
	s.conn = conn
	s.cancel = cancel
	s.startTime = time.Now()

	go s.run(runCtx, conn)
	return nil
}

// Stop closes the connection and waits for the read loop to exit. The
// context is canceled before the connection is closed so an in-flight
// redial cannot install a live connection afterwards.
func (s *WebSocketSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()
		if !started {
			return
		}
		cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		<-s.done
	})
}

// Events returns the delivery channel.
func (s *WebSocketSource) Events() <-chan *event.Event {
	return s.events
}

// Stats reports read counters.
func (s *WebSocketSource) Stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SourceStats{
		Mode:       ModeWebSocket,
		EventCount: s.eventCount,
		Dropped:    s.dropped,
		Malformed:  s.malformed,
		Connected:  s.connected,
	}
	if !s.startTime.IsZero() {
		elapsed := time.Since(s.startTime).Seconds()
		stats.ElapsedTime = elapsed
		if elapsed > 0 {
			stats.EventsPerSecond = float64(s.eventCount) / elapsed
		}
	}
	return stats
}

func (s *WebSocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: webSocketHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// run alternates between reading the active connection and re-dialing a
// lost one, until the context is canceled.
func (s *WebSocketSource) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.events)

	for {
		s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		var err error
		conn, err = s.redial(ctx)
		if err != nil {
			return
		}
	}
}

// readLoop consumes one connection until it fails or the context ends.
func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	s.setConnected(true)
	defer s.setConnected(false)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warnf("websocket connection lost: %v", err)
			}
			return
		}
		e, decodeErr := event.Decode(data)
		if decodeErr != nil {
			log.Warnf("dropping malformed event: %v, data: %s", decodeErr, data)
			s.mu.Lock()
			s.malformed++
			s.mu.Unlock()
			continue
		}
		select {
		case s.events <- e:
			s.mu.Lock()
			s.eventCount++
			s.mu.Unlock()
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			log.Warnf("websocket queue full, dropping event")
		}
	}
}

// redial reconnects at a constant interval until it succeeds or the context
// is canceled.
func (s *WebSocketSource) redial(ctx context.Context) (*websocket.Conn, error) {
	log.Infof("websocket reconnecting every %s: %s", s.reconnectInterval, s.url)
	policy := backoff.WithContext(backoff.NewConstantBackOff(s.reconnectInterval), ctx)

	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, err = s.dial(ctx)
		if err != nil {
			log.Warnf("websocket reconnect failed: %v", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()
	log.Infof("websocket reconnected: %s", s.url)
	return conn, nil
}

func (s *WebSocketSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
