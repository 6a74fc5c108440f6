// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package preprocess

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

func TestClipOutliersIQR(t *testing.T) {
	values := []float64{10, 11, 12, 11, 10, 12, 11, 500}
	clipped := ClipOutliers(values, "iqr", 0)

	require.Len(t, clipped, len(values))
	// the outlier is pulled down to the upper fence
	assert.Less(t, clipped[7], 500.0)
	// inliers are untouched
	assert.Equal(t, 10.0, clipped[0])
	// input is not modified
	assert.Equal(t, 500.0, values[7])
}

func TestClipOutliersZScore(t *testing.T) {
	values := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 1000}
	clipped := ClipOutliers(values, "zscore", 2)

	assert.Less(t, clipped[9], 1000.0)
	assert.Equal(t, 10.0, clipped[0])

	// constant series has zero std and stays unchanged
	flat := []float64{5, 5, 5}
	assert.Equal(t, flat, ClipOutliers(flat, "zscore", 0))
}

func TestMovingAverage(t *testing.T) {
	// shorter than the window: unchanged
	short := []float64{1, 2}
	assert.Equal(t, short, MovingAverage(short, 5))

	values := []float64{1, 1, 1, 1, 1}
	smoothed := MovingAverage(values, 3)
	// interior points average to 1; zero-padded edges are damped
	assert.InDelta(t, 1.0, smoothed[2], 1e-9)
	assert.InDelta(t, 2.0/3.0, smoothed[0], 1e-9)
}

func TestEMA(t *testing.T) {
	values := []float64{10, 20, 30}
	out := EMA(values, 3) // alpha = 0.5

	require.Len(t, out, 3)
	assert.Equal(t, 10.0, out[0])
	assert.InDelta(t, 15.0, out[1], 1e-9)
	assert.InDelta(t, 22.5, out[2], 1e-9)
}

func TestScaleMinMax(t *testing.T) {
	p := New(DefaultConfig())

	out := p.Scale([]float64{0, 5, 10}, "minmax", "rt")
	assert.Equal(t, []float64{0, 0.5, 1}, out)

	// degenerate range yields zeros, not NaN
	flat := p.Scale([]float64{3, 3, 3}, "minmax", "flat")
	assert.Equal(t, []float64{0, 0, 0}, flat)
}

func TestScaleStandardDegenerate(t *testing.T) {
	p := New(DefaultConfig())
	out := p.Scale([]float64{7, 7, 7, 7}, "standard", "cpu")
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, out)
}

func TestScaleRobustDegenerate(t *testing.T) {
	p := New(DefaultConfig())
	out := p.Scale([]float64{2, 2, 2, 2}, "robust", "mem")
	assert.Equal(t, []float64{0, 0, 0, 0}, out)
}

func TestScalerParamsReused(t *testing.T) {
	p := New(DefaultConfig())

	first := p.Scale([]float64{0, 10}, "minmax", "rt")
	assert.Equal(t, []float64{0, 1}, first)

	params, ok := p.Params("rt")
	require.True(t, ok)
	assert.Equal(t, 0.0, params.Min)
	assert.Equal(t, 10.0, params.Max)

	// later values reuse the fitted range instead of refitting
	second := p.Scale([]float64{20}, "minmax", "rt")
	assert.Equal(t, []float64{2.0}, second)
}

func TestTransformPipeline(t *testing.T) {
	p := New(Config{Clip: true, SmoothingWindow: 3, Scaling: "minmax"})
	values := []float64{10, 12, 11, 13, 10, 12, 11, 900}

	out := p.Transform(values, "rt")
	require.Len(t, out, len(values))
	for _, v := range out {
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	assert.Empty(t, p.Transform(nil, "rt"))
}

func TestEventPreservesOriginals(t *testing.T) {
	p := New(DefaultConfig())
	e := &event.Event{
		ResponseTime: event.Float(120),
		CPUUsage:     event.Float(44),
	}

	p.Event(e)
	assert.Equal(t, 120.0, *e.ResponseTime)
	assert.Equal(t, 120.0, e.Extra["response_time_original"])
	assert.Equal(t, 44.0, e.Extra["cpu_usage_original"])
	assert.NotContains(t, e.Extra, "memory_usage_original")
}

func TestBatchFillsNaN(t *testing.T) {
	p := New(Config{SmoothingWindow: 1})
	out := p.Batch(map[string][]float64{
		"rt":  {10, math.NaN(), 20},
		"bad": {math.NaN(), math.NaN()},
	})

	require.Contains(t, out, "rt")
	for _, v := range out["rt"] {
		assert.False(t, math.IsNaN(v))
	}
	assert.Equal(t, []float64{0, 0}, out["bad"])
}
