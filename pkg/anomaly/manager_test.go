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

func testManagerConfig(method string) Config {
	cfg := DefaultConfig()
	cfg.Method = method
	cfg.Features = []string{"response_time"}
	cfg.Forest.Seed = 1
	return cfg
}

// jitter alternates a feature value around center so the z-score history
// keeps a nonzero spread.
func jitter(center float64, i int) float64 {
	if i%2 == 0 {
		return center - 1
	}
	return center + 1
}

func TestManagerZScoreMethod(t *testing.T) {
	m := NewManager(testManagerConfig(MethodZScore))

	for i := 0; i < 30; i++ {
		res := m.Detect(map[string]float64{"response_time": jitter(100, i)})
		assert.Equal(t, MethodZScore, res.Method)
		assert.False(t, res.IsAnomaly)
		require.NotNil(t, res.ZScore)
		assert.Nil(t, res.Forest)
	}

	res := m.Detect(map[string]float64{"response_time": 150})
	assert.True(t, res.IsAnomaly)
	assert.Greater(t, res.Score, 1.0)
}

func TestManagerIsolationForestUnfittedIsNeutral(t *testing.T) {
	cfg := testManagerConfig(MethodIsolationForest)
	cfg.MinTrainingSamples = 50
	m := NewManager(cfg)

	res := m.Detect(map[string]float64{"response_time": 100})
	assert.False(t, res.IsAnomaly)
	assert.Zero(t, res.Score)
	assert.Nil(t, res.Forest)
}

func TestManagerFitsForestOnce(t *testing.T) {
	cfg := testManagerConfig(MethodHybrid)
	cfg.MinTrainingSamples = 50
	m := NewManager(cfg)

	for i := 0; i < 49; i++ {
		res := m.Detect(map[string]float64{"response_time": jitter(100, i)})
		assert.Nil(t, res.Forest)
		assert.False(t, m.Stats().ForestFitted)
	}

	res := m.Detect(map[string]float64{"response_time": jitter(100, 49)})
	assert.True(t, m.Stats().ForestFitted)
	require.NotNil(t, res.Forest)
	assert.Equal(t, 50, m.Stats().TrainingSamples)
}

func TestManagerHybridFusesVerdicts(t *testing.T) {
	cfg := testManagerConfig(MethodHybrid)
	cfg.MinTrainingSamples = 50
	m := NewManager(cfg)

	for i := 0; i < 60; i++ {
		m.Detect(map[string]float64{"response_time": jitter(100, i)})
	}

	res := m.Detect(map[string]float64{"response_time": 10000})
	assert.Equal(t, MethodHybrid, res.Method)
	assert.True(t, res.IsAnomaly)
	require.NotNil(t, res.ZScore)
	require.NotNil(t, res.Forest)
	assert.GreaterOrEqual(t, res.Score, res.ZScore.Score)
	assert.GreaterOrEqual(t, res.Score, res.Forest.Score)
}

func TestManagerChangePointOverlay(t *testing.T) {
	cfg := testManagerConfig(MethodZScore)
	m := NewManager(cfg)

	for i := 0; i < 60; i++ {
		res := m.Detect(map[string]float64{"response_time": 10})
		assert.Nil(t, res.ChangePoint)
	}
	var res *Result
	for i := 0; i < 40; i++ {
		res = m.Detect(map[string]float64{"response_time": 30})
	}

	require.NotNil(t, res.ChangePoint)
	assert.True(t, res.ChangePoint.HasChangePoint)
	assert.Equal(t, "spike", res.ChangePoint.Type)
}

func TestManagerChangePointDisabled(t *testing.T) {
	cfg := testManagerConfig(MethodZScore)
	cfg.ChangePointEnabled = false
	m := NewManager(cfg)

	for i := 0; i < 120; i++ {
		res := m.Detect(map[string]float64{"response_time": jitter(100, i)})
		assert.Nil(t, res.ChangePoint)
	}
	assert.False(t, m.Stats().ChangePointEnabled)
}

func TestManagerReset(t *testing.T) {
	cfg := testManagerConfig(MethodHybrid)
	cfg.MinTrainingSamples = 50
	m := NewManager(cfg)

	for i := 0; i < 60; i++ {
		m.Detect(map[string]float64{"response_time": jitter(100, i)})
	}
	require.True(t, m.Stats().ForestFitted)

	m.Reset()
	stats := m.Stats()
	assert.Zero(t, stats.TrainingSamples)
	assert.False(t, stats.ForestFitted)

	// Training starts over and refits at the threshold.
	for i := 0; i < 50; i++ {
		m.Detect(map[string]float64{"response_time": jitter(100, i)})
	}
	assert.True(t, m.Stats().ForestFitted)
}

func TestManagerUnknownMethodFallsBack(t *testing.T) {
	cfg := testManagerConfig("bogus")
	m := NewManager(cfg)
	assert.Equal(t, MethodHybrid, m.Stats().Method)
}

func TestManagerDefaultFeatures(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, DefaultConfig().Features, m.features)
}
