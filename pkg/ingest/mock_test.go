// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

func waitEvent(t *testing.T, ch <-chan *event.Event) *event.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "event channel closed early")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitClosed(t *testing.T, ch <-chan *event.Event) {
	t.Helper()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestMockSourceNormalTraffic(t *testing.T) {
	mk := clock.NewMock()
	mk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	src := NewMockSource(MockConfig{
		EventsPerSecond:    10,
		AnomalyProbability: 0,
		Seed:               1,
		Clock:              mk,
	})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	for i := 0; i < 5; i++ {
		mk.Add(100 * time.Millisecond)
		e := waitEvent(t, src.Events())

		assert.Contains(t, mockEndpoints, e.Endpoint)
		require.NotNil(t, e.StatusCode)
		assert.Contains(t, []float64{200, 201, 400, 404, 500}, *e.StatusCode)
		require.NotNil(t, e.ResponseTime)
		assert.GreaterOrEqual(t, *e.ResponseTime, 50.0)
		assert.Less(t, *e.ResponseTime, 200.0)
		require.NotNil(t, e.CPUUsage)
		assert.GreaterOrEqual(t, *e.CPUUsage, 20.0)
		assert.Less(t, *e.CPUUsage, 60.0)
		require.NotNil(t, e.IsAnomaly)
		assert.False(t, *e.IsAnomaly)
		assert.Equal(t, event.FormatTime(mk.Now()), e.Timestamp)
	}

	stats := src.Stats()
	assert.Equal(t, ModeMock, stats.Mode)
	assert.Equal(t, 5, stats.EventCount)
	assert.True(t, stats.Connected)
	assert.InDelta(t, 0.5, stats.ElapsedTime, 1e-9)
}

func TestMockSourceAnomalyPatterns(t *testing.T) {
	mk := clock.NewMock()
	src := NewMockSource(MockConfig{
		EventsPerSecond:    10,
		AnomalyProbability: 1,
		Seed:               7,
		Clock:              mk,
	})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	for i := 0; i < 10; i++ {
		mk.Add(100 * time.Millisecond)
		e := waitEvent(t, src.Events())

		require.NotNil(t, e.IsAnomaly)
		assert.True(t, *e.IsAnomaly)
		require.NotNil(t, e.ResponseTime)
		require.NotNil(t, e.StatusCode)
		rt := *e.ResponseTime
		if *e.StatusCode >= 500 {
			// error_spike
			assert.Contains(t, []float64{500, 503, 504}, *e.StatusCode)
			assert.GreaterOrEqual(t, rt, 3000.0)
		} else {
			// spike or drop, both report 200
			assert.Equal(t, 200.0, *e.StatusCode)
			assert.True(t, rt >= 1000 || rt < 30, "response time %f matches no pattern", rt)
		}
	}
}

func TestMockSourceDuration(t *testing.T) {
	mk := clock.NewMock()
	src := NewMockSource(MockConfig{
		EventsPerSecond:    10,
		AnomalyProbability: 0,
		Duration:           300 * time.Millisecond,
		Seed:               1,
		Clock:              mk,
	})
	require.NoError(t, src.Start(context.Background()))

	mk.Add(100 * time.Millisecond)
	waitEvent(t, src.Events())
	mk.Add(100 * time.Millisecond)
	waitEvent(t, src.Events())

	// The third tick reaches the configured duration and ends the stream.
	mk.Add(100 * time.Millisecond)
	waitClosed(t, src.Events())

	stats := src.Stats()
	assert.Equal(t, 2, stats.EventCount)
	assert.False(t, stats.Connected)

	src.Stop() // already finished, must not hang
}

func TestMockSourceDoubleStart(t *testing.T) {
	src := NewMockSource(MockConfig{Seed: 1, Clock: clock.NewMock()})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	assert.Error(t, src.Start(context.Background()))
}

func TestMockSourceStop(t *testing.T) {
	mk := clock.NewMock()
	src := NewMockSource(MockConfig{EventsPerSecond: 10, Seed: 1, Clock: mk})
	require.NoError(t, src.Start(context.Background()))

	mk.Add(100 * time.Millisecond)
	waitEvent(t, src.Events())

	src.Stop()
	src.Stop() // idempotent
	waitClosed(t, src.Events())
	assert.False(t, src.Stats().Connected)
}

func TestMockSourceContextCancel(t *testing.T) {
	mk := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	src := NewMockSource(MockConfig{EventsPerSecond: 10, Seed: 1, Clock: mk})
	require.NoError(t, src.Start(ctx))

	cancel()
	waitClosed(t, src.Events())
}
