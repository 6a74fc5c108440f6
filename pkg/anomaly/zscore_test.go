// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alternating seeds the detector with values oscillating around 10 so the
// history has mean 10 and population standard deviation 1.
func alternating(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		if i%2 == 0 {
			values[i] = 9
		} else {
			values[i] = 11
		}
	}
	return values
}

func TestZScorePredictWarmup(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())

	isAnomaly, z := d.Predict(100)
	assert.False(t, isAnomaly)
	assert.Zero(t, z)

	isAnomaly, z = d.Predict(200)
	assert.False(t, isAnomaly)
	assert.Zero(t, z)

	// Two samples absorbed, the third is scored.
	_, z = d.Predict(120)
	assert.NotZero(t, z)
}

func TestZScorePredictFlatHistory(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())
	d.Fit([]float64{10, 10, 10, 10})

	isAnomaly, z := d.Predict(1000)
	assert.False(t, isAnomaly)
	assert.Zero(t, z)
}

func TestZScorePredictFlagsOutlier(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())
	d.Fit(alternating(10))

	isAnomaly, z := d.Predict(10.5)
	assert.False(t, isAnomaly)
	assert.InDelta(t, 0.5, z, 1e-9)

	isAnomaly, z = d.Predict(16)
	assert.True(t, isAnomaly)
	assert.Greater(t, z, 3.0)
}

func TestZScoreWindowBound(t *testing.T) {
	d := NewZScoreDetector(ZScoreConfig{Threshold: 3.0, WindowSize: 4})
	for i := 0; i < 20; i++ {
		d.Predict(float64(i))
	}
	assert.Len(t, d.history, 4)
	assert.Equal(t, []float64{16, 17, 18, 19}, d.history)
}

func TestZScoreFitKeepsTail(t *testing.T) {
	d := NewZScoreDetector(ZScoreConfig{Threshold: 3.0, WindowSize: 3})
	d.Fit([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, []float64{3, 4, 5}, d.history)
}

func TestZScoreDetect(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())
	d.Fit(alternating(10))

	res := d.Detect(map[string]float64{"a": 10, "b": 16}, nil)

	require.Contains(t, res.Details, "a")
	require.Contains(t, res.Details, "b")
	assert.False(t, res.Details["a"].IsAnomaly)
	assert.True(t, res.Details["b"].IsAnomaly)
	assert.Equal(t, 16.0, res.Details["b"].Value)

	assert.True(t, res.IsAnomaly)
	// Score is the largest z-score over the threshold.
	assert.Greater(t, res.Score, 1.0)
}

func TestZScoreDetectNamedSubset(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())
	d.Fit(alternating(10))

	res := d.Detect(map[string]float64{"a": 10, "b": 16}, []string{"a"})

	assert.Contains(t, res.Details, "a")
	assert.NotContains(t, res.Details, "b")
	assert.False(t, res.IsAnomaly)
}

func TestZScoreDetectSkipsMissingNames(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())
	d.Fit(alternating(10))

	res := d.Detect(map[string]float64{"a": 10}, []string{"a", "gone"})
	assert.Len(t, res.Details, 1)
}

func TestZScorePredictBatch(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())
	d.Fit(alternating(10))

	anomalies, scores := d.PredictBatch([]float64{10, 16})
	require.Len(t, anomalies, 2)
	require.Len(t, scores, 2)
	assert.False(t, anomalies[0])
	assert.True(t, anomalies[1])
	assert.Greater(t, scores[1], 3.0)
}

func TestZScoreReset(t *testing.T) {
	d := NewZScoreDetector(DefaultZScoreConfig())
	d.Fit(alternating(10))
	d.Reset()

	// Back to warmup behaviour.
	isAnomaly, z := d.Predict(1000)
	assert.False(t, isAnomaly)
	assert.Zero(t, z)
}
