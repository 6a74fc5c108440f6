// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ingest

import (
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/DataDog/anomaly-agent/pkg/config"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

// Stream modes accepted by stream.mode.
const (
	ModeMock      = "mock"
	ModeSocket    = "socket"
	ModeWebSocket = "websocket"
	ModeHTTP      = "http"
)

// New builds the source selected by settings.Mode.
func New(settings config.StreamSettings, clk clock.Clock) (Source, error) {
	switch settings.Mode {
	case ModeMock:
		log.Infof("using mock stream source: %.0f events/sec, anomaly probability %.2f",
			settings.Mock.EventsPerSecond, settings.Mock.AnomalyProbability)
		return NewMockSource(MockConfig{
			EventsPerSecond:    settings.Mock.EventsPerSecond,
			AnomalyProbability: settings.Mock.AnomalyProbability,
			Duration:           settings.Mock.Duration,
			Seed:               settings.Mock.Seed,
			Clock:              clk,
		}), nil
	case ModeSocket:
		log.Infof("using socket stream source: %s:%d", settings.Socket.Host, settings.Socket.Port)
		return NewSocketSource(settings.Socket), nil
	case ModeWebSocket:
		log.Infof("using websocket stream source: %s", settings.WebSocket.URL)
		return NewWebSocketSource(settings.WebSocket), nil
	case ModeHTTP:
		log.Infof("using http polling source: %d urls", len(settings.HTTP.URLs))
		return NewHTTPPollerSource(settings.HTTP, clk), nil
	default:
		return nil, errors.Errorf("unsupported stream mode %q", settings.Mode)
	}
}
