// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/DataDog/anomaly-agent/pkg/config"
	"github.com/DataDog/anomaly-agent/pkg/event"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

const (
	// socketReadTimeout bounds each read so the loop can notice a stop.
	socketReadTimeout = 5 * time.Second
	// socketBuffer is the delivery buffer of the socket source.
	socketBuffer = 100
	// defaultSocketReadSize is the read size when none is configured.
	defaultSocketReadSize = 1024
)

// SocketSource connects to a TCP endpoint and reads newline-delimited JSON
// events. The connection is not re-established: a peer close or read error
// ends the stream.
type SocketSource struct {
	addr     string
	readSize int
	events   chan *event.Event

	mu         sync.Mutex
	started    bool
	connected  bool
	conn       net.Conn
	eventCount int
	malformed  int
	startTime  time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSocketSource builds a socket source for the configured address.
func NewSocketSource(settings config.SocketSettings) *SocketSource {
	readSize := settings.BufferSize
	if readSize <= 0 {
		readSize = defaultSocketReadSize
	}
	return &SocketSource{
		addr:     fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		readSize: readSize,
		events:   make(chan *event.Event, socketBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start dials the endpoint and launches the read loop. A failed dial is
// returned as an error and the source stays unusable.
func (s *SocketSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("socket source already started")
	}

	dialer := &net.Dialer{Timeout: socketReadTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "socket connect %s", s.addr)
	}
	log.Infof("socket connected: %s", s.addr)

	s.started = true
	s.connected = true
	s.conn = conn
	s.startTime = time.Now()

	go s.run(ctx, conn)
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (s *SocketSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		conn := s.conn
		started := s.started
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if started {
			<-s.done
		}
	})
}

// Events returns the delivery channel.
func (s *SocketSource) Events() <-chan *event.Event {
	return s.events
}

// Stats reports read counters.
func (s *SocketSource) Stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SourceStats{
		Mode:       ModeSocket,
		EventCount: s.eventCount,
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

// run reads until the peer closes, an error occurs, or the source stops.
// Lines are accumulated across reads and decoded one event per line.
func (s *SocketSource) run(ctx context.Context, conn net.Conn) {
	defer close(s.done)
	defer close(s.events)
	defer conn.Close()
	defer s.setConnected(false)

	buf := make([]byte, s.readSize)
	var pending []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			var ok bool
			pending, ok = s.flushLines(append(pending, buf[:n]...))
			if !ok {
				return
			}
		}
		if err == nil {
			continue
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		if s.stopping() {
			return
		}
		if err == io.EOF {
			log.Warn("socket stream closed by peer")
		} else {
			log.Errorf("socket read error: %v", err)
		}
		return
	}
}

// flushLines decodes and delivers every complete line in pending, returning
// the unterminated remainder. ok is false when the source stopped mid-flush.
func (s *SocketSource) flushLines(pending []byte) (rest []byte, ok bool) {
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			return pending, true
		}
		line := bytes.TrimSpace(pending[:i])
		pending = pending[i+1:]
		if len(line) == 0 {
			continue
		}
		e, err := event.Decode(line)
		if err != nil {
			log.Warnf("dropping malformed event: %v, data: %s", err, line)
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
		case <-s.stop:
			return pending, false
		}
	}
}

func (s *SocketSource) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *SocketSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
