// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := Defaults()

	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "mock", s.Stream.Mode)
	assert.Equal(t, 10.0, s.Stream.Mock.EventsPerSecond)
	assert.Equal(t, 0.05, s.Stream.Mock.AnomalyProbability)
	assert.Equal(t, time.Duration(0), s.Stream.Mock.Duration)
	assert.Equal(t, "localhost", s.Stream.Socket.Host)
	assert.Equal(t, 8888, s.Stream.Socket.Port)
	assert.Equal(t, "ws://localhost:8765", s.Stream.WebSocket.URL)
	assert.Equal(t, 5*time.Second, s.Stream.WebSocket.ReconnectInterval)
	assert.Equal(t, []string{"https://httpbin.org/status/200"}, s.Stream.HTTP.URLs)
	assert.Equal(t, 5*time.Second, s.Stream.HTTP.Timeout)
	assert.Equal(t, "GET", s.Stream.HTTP.Method)

	assert.Equal(t, "hybrid", s.Anomaly.Method)
	assert.Equal(t, []string{"response_time", "cpu_usage", "memory_usage"}, s.Anomaly.Features)
	assert.Equal(t, 50, s.Anomaly.MinTrainingSamples)
	assert.Equal(t, 3.0, s.Anomaly.ZScore.Threshold)
	assert.Equal(t, 100, s.Anomaly.ZScore.WindowSize)
	assert.Equal(t, 0.1, s.Anomaly.IsolationForest.Contamination)
	assert.Equal(t, 100, s.Anomaly.IsolationForest.NEstimators)
	assert.Equal(t, 256, s.Anomaly.IsolationForest.MaxSamples)
	assert.True(t, s.Anomaly.ChangePoint.Enabled)
	assert.Equal(t, 0.3, s.Anomaly.ChangePoint.Sensitivity)
	assert.Equal(t, 0.2, s.Anomaly.ChangePoint.MinChange)

	assert.Equal(t, 1000, s.Alerts.MaxAlerts)
	assert.Equal(t, 0.7, s.Alerts.Threshold)
	assert.Equal(t, 100, s.Alerts.DedupWindow)
	assert.True(t, s.API.Enabled)
	assert.Equal(t, 5012, s.API.Port)
}

func TestLoadFile(t *testing.T) {
	content := `
log_level: debug
stream:
  mode: socket
  socket:
    host: stream.internal
    port: 9999
  http:
    urls: https://one.example.com
anomaly:
  method: zscore
  zscore:
    threshold: 2.5
alerts:
  threshold: 0.5
`
	path := filepath.Join(t.TempDir(), "anomaly-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "socket", s.Stream.Mode)
	assert.Equal(t, "stream.internal", s.Stream.Socket.Host)
	assert.Equal(t, 9999, s.Stream.Socket.Port)
	// a single string value normalizes to a one-element list
	assert.Equal(t, []string{"https://one.example.com"}, s.Stream.HTTP.URLs)
	assert.Equal(t, "zscore", s.Anomaly.Method)
	assert.Equal(t, 2.5, s.Anomaly.ZScore.Threshold)
	assert.Equal(t, 0.5, s.Alerts.Threshold)
	// untouched keys keep their defaults
	assert.Equal(t, 1000, s.Alerts.MaxAlerts)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestBuildLoggerConfig(t *testing.T) {
	cfg, err := buildLoggerConfig("INFO", "")
	require.NoError(t, err)
	assert.Contains(t, cfg, `minlevel="info"`)
	assert.NotContains(t, cfg, "rollingfile")

	cfg, err = buildLoggerConfig("debug", "/var/log/anomaly-agent.log")
	require.NoError(t, err)
	assert.Contains(t, cfg, `filename="/var/log/anomaly-agent.log"`)
	assert.Contains(t, cfg, "rollingfile")

	_, err = buildLoggerConfig("noisy", "")
	assert.Error(t, err)
}
