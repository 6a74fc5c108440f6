// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config holds the configuration surface of the anomaly agent.
//
// The agent reads a single YAML file (plus DD_-prefixed environment
// variables) into a typed Settings tree. Components never consult a global
// configuration object: each constructor receives the settings it needs.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Agent is the viper instance backing the command line interface. Pipeline
// components receive typed Settings instead of reading from it directly.
var Agent *viper.Viper

func init() {
	Agent = viper.New()
	Agent.SetEnvPrefix("DD")
	Agent.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Agent.AutomaticEnv()
	initDefaults(Agent)
}

// initDefaults initializes the config defaults on a viper instance
func initDefaults(c *viper.Viper) {
	c.SetDefault("log_level", "info")
	c.SetDefault("log_file", "")
	c.SetDefault("statsd_addr", "")

	// Ingestion
	c.SetDefault("stream.mode", "mock")
	c.SetDefault("stream.mock.events_per_second", 10.0)
	c.SetDefault("stream.mock.anomaly_probability", 0.05)
	c.SetDefault("stream.mock.duration_seconds", 0.0)
	c.SetDefault("stream.mock.seed", int64(0))
	c.SetDefault("stream.socket.host", "localhost")
	c.SetDefault("stream.socket.port", 8888)
	c.SetDefault("stream.socket.buffer_size", 1024)
	c.SetDefault("stream.websocket.url", "ws://localhost:8765")
	c.SetDefault("stream.websocket.reconnect_interval_seconds", 5.0)
	c.SetDefault("stream.websocket.queue_size", 256)
	c.SetDefault("stream.http.urls", []string{"https://httpbin.org/status/200"})
	c.SetDefault("stream.http.interval_seconds", 1.0)
	c.SetDefault("stream.http.timeout_seconds", 5.0)
	c.SetDefault("stream.http.method", "GET")
	c.SetDefault("stream.http.headers", map[string]string{})

	// Detection
	c.SetDefault("anomaly.method", "hybrid")
	c.SetDefault("anomaly.features", []string{"response_time", "cpu_usage", "memory_usage"})
	c.SetDefault("anomaly.min_training_samples", 50)
	c.SetDefault("anomaly.zscore.threshold", 3.0)
	c.SetDefault("anomaly.zscore.window_size", 100)
	c.SetDefault("anomaly.isolation_forest.contamination", 0.1)
	c.SetDefault("anomaly.isolation_forest.n_estimators", 100)
	c.SetDefault("anomaly.isolation_forest.max_samples", 256)
	c.SetDefault("anomaly.changepoint.enabled", true)
	c.SetDefault("anomaly.changepoint.sensitivity", 0.3)
	c.SetDefault("anomaly.changepoint.min_change", 0.2)
	c.SetDefault("anomaly.changepoint.window_size", 50)

	// Alerting
	c.SetDefault("alerts.max_alerts", 1000)
	c.SetDefault("alerts.threshold", 0.7)
	c.SetDefault("alerts.dedup_window", 100)
	c.SetDefault("alerts.console", true)

	// Status API
	c.SetDefault("api.enabled", true)
	c.SetDefault("api.host", "localhost")
	c.SetDefault("api.port", 5012)
}

// Settings is the typed configuration tree handed to the pipeline.
type Settings struct {
	LogLevel   string
	LogFile    string
	StatsdAddr string
	Stream     StreamSettings
	Anomaly    AnomalySettings
	Alerts     AlertSettings
	API        APISettings
}

// StreamSettings selects and parametrizes the event source.
type StreamSettings struct {
	Mode      string
	Mock      MockSettings
	Socket    SocketSettings
	WebSocket WebSocketSettings
	HTTP      HTTPSettings
}

// MockSettings parametrizes the synthetic event source.
type MockSettings struct {
	EventsPerSecond    float64
	AnomalyProbability float64
	Duration           time.Duration // 0 means unbounded
	Seed               int64         // 0 means time-seeded
}

// SocketSettings parametrizes the TCP line-delimited source.
type SocketSettings struct {
	Host       string
	Port       int
	BufferSize int
}

// WebSocketSettings parametrizes the WebSocket source.
type WebSocketSettings struct {
	URL               string
	ReconnectInterval time.Duration
	QueueSize         int
}

// HTTPSettings parametrizes the HTTP polling source.
type HTTPSettings struct {
	URLs     []string
	Interval time.Duration
	Timeout  time.Duration
	Method   string
	Headers  map[string]string
}

// AnomalySettings parametrizes the detector manager.
type AnomalySettings struct {
	Method             string
	Features           []string
	MinTrainingSamples int
	ZScore             ZScoreSettings
	IsolationForest    ForestSettings
	ChangePoint        ChangePointSettings
}

// ZScoreSettings parametrizes the z-score detector.
type ZScoreSettings struct {
	Threshold  float64
	WindowSize int
}

// ForestSettings parametrizes the isolation forest detector.
type ForestSettings struct {
	Contamination float64
	NEstimators   int
	MaxSamples    int
}

// ChangePointSettings parametrizes the change point overlay.
type ChangePointSettings struct {
	Enabled     bool
	Sensitivity float64
	MinChange   float64
	WindowSize  int
}

// AlertSettings parametrizes the alert manager.
type AlertSettings struct {
	MaxAlerts   int
	Threshold   float64
	DedupWindow int
	Console     bool
}

// APISettings parametrizes the local status server.
type APISettings struct {
	Enabled bool
	Host    string
	Port    int
}

// Load reads the configuration file at path into the global viper instance
// and returns the typed settings. The agent cannot run without its
// configuration: a missing or unreadable file is an error the caller treats
// as fatal.
func Load(path string) (*Settings, error) {
	Agent.SetConfigFile(path)
	if err := Agent.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "unable to read configuration %q", path)
	}
	return settingsFrom(Agent), nil
}

// Defaults returns the settings tree with no configuration file applied.
// The start command uses it when no configuration file is supplied.
func Defaults() *Settings {
	c := viper.New()
	initDefaults(c)
	return settingsFrom(c)
}

func settingsFrom(c *viper.Viper) *Settings {
	return &Settings{
		LogLevel:   c.GetString("log_level"),
		LogFile:    c.GetString("log_file"),
		StatsdAddr: c.GetString("statsd_addr"),
		Stream: StreamSettings{
			Mode: c.GetString("stream.mode"),
			Mock: MockSettings{
				EventsPerSecond:    c.GetFloat64("stream.mock.events_per_second"),
				AnomalyProbability: c.GetFloat64("stream.mock.anomaly_probability"),
				Duration:           secondsToDuration(c.GetFloat64("stream.mock.duration_seconds")),
				Seed:               c.GetInt64("stream.mock.seed"),
			},
			Socket: SocketSettings{
				Host:       c.GetString("stream.socket.host"),
				Port:       c.GetInt("stream.socket.port"),
				BufferSize: c.GetInt("stream.socket.buffer_size"),
			},
			WebSocket: WebSocketSettings{
				URL:               c.GetString("stream.websocket.url"),
				ReconnectInterval: secondsToDuration(c.GetFloat64("stream.websocket.reconnect_interval_seconds")),
				QueueSize:         c.GetInt("stream.websocket.queue_size"),
			},
			HTTP: HTTPSettings{
				// GetStringSlice accepts a single string value as a
				// one-element list, so `urls: https://x` works.
				URLs:     c.GetStringSlice("stream.http.urls"),
				Interval: secondsToDuration(c.GetFloat64("stream.http.interval_seconds")),
				Timeout:  secondsToDuration(c.GetFloat64("stream.http.timeout_seconds")),
				Method:   c.GetString("stream.http.method"),
				Headers:  c.GetStringMapString("stream.http.headers"),
			},
		},
		Anomaly: AnomalySettings{
			Method:             c.GetString("anomaly.method"),
			Features:           c.GetStringSlice("anomaly.features"),
			MinTrainingSamples: c.GetInt("anomaly.min_training_samples"),
			ZScore: ZScoreSettings{
				Threshold:  c.GetFloat64("anomaly.zscore.threshold"),
				WindowSize: c.GetInt("anomaly.zscore.window_size"),
			},
			IsolationForest: ForestSettings{
				Contamination: c.GetFloat64("anomaly.isolation_forest.contamination"),
				NEstimators:   c.GetInt("anomaly.isolation_forest.n_estimators"),
				MaxSamples:    c.GetInt("anomaly.isolation_forest.max_samples"),
			},
			ChangePoint: ChangePointSettings{
				Enabled:     c.GetBool("anomaly.changepoint.enabled"),
				Sensitivity: c.GetFloat64("anomaly.changepoint.sensitivity"),
				MinChange:   c.GetFloat64("anomaly.changepoint.min_change"),
				WindowSize:  c.GetInt("anomaly.changepoint.window_size"),
			},
		},
		Alerts: AlertSettings{
			MaxAlerts:   c.GetInt("alerts.max_alerts"),
			Threshold:   c.GetFloat64("alerts.threshold"),
			DedupWindow: c.GetInt("alerts.dedup_window"),
			Console:     c.GetBool("alerts.console"),
		},
		API: APISettings{
			Enabled: c.GetBool("api.enabled"),
			Host:    c.GetString("api.host"),
			Port:    c.GetInt("api.port"),
		},
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
