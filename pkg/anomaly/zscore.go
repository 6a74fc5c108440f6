// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ZScoreConfig tunes the statistical detector.
type ZScoreConfig struct {
	// Threshold is the number of standard deviations a value may stray from
	// the rolling mean before it is flagged.
	Threshold float64
	// WindowSize bounds the rolling history the statistics are computed over.
	WindowSize int
}

// DefaultZScoreConfig returns the stock z-score tuning.
func DefaultZScoreConfig() ZScoreConfig {
	return ZScoreConfig{Threshold: 3.0, WindowSize: 100}
}

// ZScoreDetector flags values whose distance from the rolling mean exceeds a
// fixed number of population standard deviations. A single history window is
// shared across every feature it scores, so the baseline reflects the stream
// as a whole rather than any one feature.
type ZScoreDetector struct {
	threshold  float64
	windowSize int
	history    []float64
}

// NewZScoreDetector returns a detector with an empty history. Zero or
// negative config values fall back to the defaults.
func NewZScoreDetector(cfg ZScoreConfig) *ZScoreDetector {
	def := DefaultZScoreConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	return &ZScoreDetector{threshold: cfg.Threshold, windowSize: cfg.WindowSize}
}

// Fit seeds the history with the tail of a prior sample.
func (d *ZScoreDetector) Fit(values []float64) {
	if len(values) > d.windowSize {
		values = values[len(values)-d.windowSize:]
	}
	d.history = append(d.history[:0], values...)
}

// Predict scores a single value against the current history and then folds
// the value into it. With fewer than two samples, or a flat history, the
// value is absorbed without being scored.
func (d *ZScoreDetector) Predict(value float64) (bool, float64) {
	if len(d.history) < 2 {
		d.history = append(d.history, value)
		return false, 0
	}

	mean := stat.Mean(d.history, nil)
	std := stat.PopStdDev(d.history, nil)
	if std == 0 {
		d.history = append(d.history, value)
		return false, 0
	}

	z := math.Abs((value - mean) / std)
	d.history = ringAppend(d.history, value, d.windowSize)
	return z > d.threshold, z
}

// PredictBatch runs Predict over each value in order.
func (d *ZScoreDetector) PredictBatch(values []float64) ([]bool, []float64) {
	anomalies := make([]bool, len(values))
	scores := make([]float64, len(values))
	for i, v := range values {
		anomalies[i], scores[i] = d.Predict(v)
	}
	return anomalies, scores
}

// FeatureScore is the per-feature outcome of a z-score pass.
type FeatureScore struct {
	IsAnomaly bool    `json:"is_anomaly"`
	ZScore    float64 `json:"z_score"`
	Value     float64 `json:"value"`
}

// ZScoreResult aggregates per-feature z-scores into one verdict. Score is
// the largest z-score normalized by the threshold, so values above 1.0 mean
// at least one feature crossed it.
type ZScoreResult struct {
	IsAnomaly bool                    `json:"is_anomaly"`
	Score     float64                 `json:"anomaly_score"`
	Details   map[string]FeatureScore `json:"details"`
}

// Detect scores the named features against the shared history. A nil names
// slice scores every feature, in sorted order so repeated calls fold values
// into the history deterministically.
func (d *ZScoreDetector) Detect(features map[string]float64, names []string) *ZScoreResult {
	if names == nil {
		names = make([]string, 0, len(features))
		for name := range features {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	res := &ZScoreResult{Details: make(map[string]FeatureScore, len(names))}
	var maxZ float64
	for _, name := range names {
		value, ok := features[name]
		if !ok {
			continue
		}
		isAnomaly, z := d.Predict(value)
		res.Details[name] = FeatureScore{IsAnomaly: isAnomaly, ZScore: z, Value: value}
		if isAnomaly {
			res.IsAnomaly = true
		}
		if z > maxZ {
			maxZ = z
		}
	}
	res.Score = maxZ / d.threshold
	return res
}

// Reset drops the learned history.
func (d *ZScoreDetector) Reset() {
	d.history = d.history[:0]
}

// ringAppend appends v and evicts the oldest value once the ring holds more
// than max entries.
func ringAppend(ring []float64, v float64, max int) []float64 {
	ring = append(ring, v)
	if len(ring) > max {
		copy(ring, ring[1:])
		ring = ring[:max]
	}
	return ring
}
