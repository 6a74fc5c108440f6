// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ingest produces the event stream the pipeline consumes. Four
// source kinds are supported: a synthetic generator, a TCP line-delimited
// client, a WebSocket client, and an HTTP poller. All of them implement
// Source and deliver events on a channel.
package ingest

import (
	"context"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

// Source is a stream of telemetry events.
type Source interface {
	// Start begins producing into Events. It returns an error when the
	// source cannot establish its initial connection.
	Start(ctx context.Context) error
	// Stop shuts the source down and waits for the producer to exit. It is
	// idempotent.
	Stop()
	// Events is the delivery channel. It is closed when the source stops
	// for good.
	Events() <-chan *event.Event
	// Stats describes the source activity so far.
	Stats() SourceStats
}

// SourceStats describes a source's activity.
type SourceStats struct {
	Mode            string  `json:"mode"`
	EventCount      int     `json:"event_count"`
	Dropped         int     `json:"dropped_events"`
	Malformed       int     `json:"malformed_events"`
	Failures        int     `json:"failed_requests"`
	Connected       bool    `json:"connected"`
	ElapsedTime     float64 `json:"elapsed_time"`
	EventsPerSecond float64 `json:"events_per_second"`
}
