// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

func eventsAt(base time.Time, gap time.Duration, n int, rt float64) []*event.Event {
	events := make([]*event.Event, n)
	for i := 0; i < n; i++ {
		events[i] = &event.Event{
			Instant:      base.Add(time.Duration(i) * gap),
			ResponseTime: event.Float(rt),
			StatusCode:   event.Float(200),
		}
	}
	return events
}

func TestRPS(t *testing.T) {
	x := New(Config{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

	assert.Equal(t, 0.0, x.RPS(nil))
	assert.Equal(t, 1.0, x.RPS(eventsAt(base, time.Second, 1, 100)))

	// 10 events spanning 9 seconds
	rps := x.RPS(eventsAt(base, time.Second, 10, 100))
	assert.InDelta(t, 10.0/9.0, rps, 1e-9)

	// span below the 1s floor: divide by the floor
	burst := x.RPS(eventsAt(base, 10*time.Millisecond, 5, 100))
	assert.InDelta(t, 5.0, burst, 1e-9)

	// unparseable timestamps fall back to count per time window
	unstamped := []*event.Event{
		{Timestamp: "garbage"},
		{Timestamp: "more garbage"},
		{Timestamp: "still bad"},
	}
	assert.Equal(t, 3.0, x.RPS(unstamped))
}

func TestErrorRate(t *testing.T) {
	x := New(Config{})

	events := []*event.Event{
		{StatusCode: event.Float(200)},
		{StatusCode: event.Float(404)},
		{StatusCode: event.Float(500)},
		{}, // no status: not counted either way
		{StatusCode: event.Float(201)},
	}
	assert.InDelta(t, 0.5, x.ErrorRate(events), 1e-9)

	assert.Equal(t, 0.0, x.ErrorRate(nil))
	assert.Equal(t, 0.0, x.ErrorRate([]*event.Event{{}, {}}))
}

func TestExtractEmpty(t *testing.T) {
	x := New(Config{})
	feats := x.Extract(nil)
	assert.Empty(t, feats)
}

func TestExtract(t *testing.T) {
	x := New(Config{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	events := eventsAt(base, time.Second, 20, 100)
	// one slower response
	events[19].ResponseTime = event.Float(200)

	feats := x.Extract(events)

	assert.Equal(t, 20.0, feats["event_count"])
	assert.Equal(t, 0.0, feats["error_rate"])
	assert.Greater(t, feats["rps"], 0.0)

	assert.InDelta(t, 105.0, feats["response_time_mean"], 1e-9)
	assert.Equal(t, 100.0, feats["response_time_min"])
	assert.Equal(t, 200.0, feats["response_time_max"])
	assert.Equal(t, 100.0, feats["response_time_median"])
	require.Contains(t, feats, "response_time_spike_score")
	assert.Greater(t, feats["response_time_spike_score"], 1.0)
	assert.Contains(t, feats, "response_time_rolling_mean")
	assert.Contains(t, feats, "response_time_ema")

	// fields absent from the first event are skipped
	assert.NotContains(t, feats, "cpu_usage_mean")
}

func TestExtractSkipsFieldMissingFromFirstEvent(t *testing.T) {
	x := New(Config{})
	events := []*event.Event{
		{ResponseTime: event.Float(100)},
		{ResponseTime: event.Float(110), CPUUsage: event.Float(50)},
	}
	feats := x.Extract(events)
	assert.Contains(t, feats, "response_time_mean")
	assert.NotContains(t, feats, "cpu_usage_mean")
}

func TestMovingAverageShortInputCollapsesToMean(t *testing.T) {
	out := MovingAverage([]float64{10, 20}, 5)
	assert.Equal(t, []float64{15, 15}, out)
}

func TestRollingStats(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}

	// shorter than the window: overall stats everywhere
	mean, std := RollingStats(values, 10)
	assert.InDelta(t, 3.5, mean[0], 1e-9)
	assert.Equal(t, mean[0], mean[5])
	assert.Greater(t, std[0], 0.0)

	// the newest position always reads the overall aggregate because its
	// centered window extends past the series end
	mean, _ = RollingStats(values, 4)
	assert.InDelta(t, 3.5, mean[len(values)-1], 1e-9)
}

func TestSpikeScoreZeroStd(t *testing.T) {
	values := []float64{5, 5, 5}
	mean, std := RollingStats(values, 10)
	assert.Equal(t, 0.0, SpikeScore(values, mean, std))
}

func TestEventFeatures(t *testing.T) {
	x := New(Config{})
	recent := eventsAt(time.Now(), time.Second, 10, 100)
	recent[0].ResponseTime = event.Float(120) // give the history some spread

	e := &event.Event{ResponseTime: event.Float(160), StatusCode: event.Float(500)}
	feats := x.EventFeatures(e, recent)

	assert.Greater(t, feats["response_time_zscore"], 0.0)
	assert.Greater(t, feats["response_time_deviation"], 0.0)
	assert.Equal(t, 1.0, feats["is_error"])

	// flat history: z-score collapses to zero
	flat := eventsAt(time.Now(), time.Second, 5, 100)
	feats = x.EventFeatures(&event.Event{ResponseTime: event.Float(100)}, flat)
	assert.Equal(t, 0.0, feats["response_time_zscore"])
	assert.Equal(t, 0.0, feats["is_error"])
}
