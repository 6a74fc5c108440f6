// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/DataDog/anomaly-agent/pkg/preprocess"
)

// smoothedDeltaWindow is the moving-average width used by the smoothed-delta
// method.
const smoothedDeltaWindow = 10

// ChangePointConfig tunes the change-point detector.
type ChangePointConfig struct {
	// Sensitivity scales how far beyond MinChange a shift must go.
	Sensitivity float64
	// MinChange is the smallest relative change worth reporting.
	MinChange float64
	// WindowSize is the width of the two windows being compared.
	WindowSize int
}

// DefaultChangePointConfig returns the stock change-point tuning.
func DefaultChangePointConfig() ChangePointConfig {
	return ChangePointConfig{Sensitivity: 0.3, MinChange: 0.2, WindowSize: 50}
}

// ChangePointDetector compares the oldest and newest windows of a series and
// reports abrupt level or pattern shifts between them. It keeps no state
// between calls.
type ChangePointDetector struct {
	sensitivity float64
	minChange   float64
	windowSize  int
}

// NewChangePointDetector returns a detector. Zero or negative config values
// fall back to the defaults.
func NewChangePointDetector(cfg ChangePointConfig) *ChangePointDetector {
	def := DefaultChangePointConfig()
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = def.Sensitivity
	}
	if cfg.MinChange <= 0 {
		cfg.MinChange = def.MinChange
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	return &ChangePointDetector{
		sensitivity: cfg.Sensitivity,
		minChange:   cfg.MinChange,
		windowSize:  cfg.WindowSize,
	}
}

// windows splits values into its oldest and newest windowSize-wide slices.
func (d *ChangePointDetector) windows(values []float64) (prev, cur []float64, ok bool) {
	if len(values) < d.windowSize*2 {
		return nil, nil, false
	}
	return values[:d.windowSize], values[len(values)-d.windowSize:], true
}

// DetectSpike reports an abrupt increase between the oldest and newest
// windows. The returned index is where the newest window starts.
func (d *ChangePointDetector) DetectSpike(values []float64) (bool, int) {
	prev, cur, ok := d.windows(values)
	if !ok {
		return false, -1
	}
	prevMean := stat.Mean(prev, nil)
	curMean := stat.Mean(cur, nil)
	if prevMean == 0 {
		return false, -1
	}
	change := (curMean - prevMean) / prevMean
	if change > d.minChange && curMean > prevMean*(1+d.sensitivity) {
		return true, len(values) - d.windowSize
	}
	return false, -1
}

// DetectDrop reports an abrupt decrease between the oldest and newest
// windows.
func (d *ChangePointDetector) DetectDrop(values []float64) (bool, int) {
	prev, cur, ok := d.windows(values)
	if !ok {
		return false, -1
	}
	prevMean := stat.Mean(prev, nil)
	curMean := stat.Mean(cur, nil)
	if prevMean == 0 {
		return false, -1
	}
	change := math.Abs((curMean - prevMean) / prevMean)
	if change > d.minChange && curMean < prevMean*(1-d.sensitivity) {
		return true, len(values) - d.windowSize
	}
	return false, -1
}

// DetectPatternShift reports a combined mean and spread change between the
// oldest and newest windows.
func (d *ChangePointDetector) DetectPatternShift(values []float64) (bool, int) {
	prev, cur, ok := d.windows(values)
	if !ok {
		return false, -1
	}
	prevMean := stat.Mean(prev, nil)
	prevStd := stat.PopStdDev(prev, nil)
	curMean := stat.Mean(cur, nil)
	curStd := stat.PopStdDev(cur, nil)

	meanChange := math.Abs(curMean-prevMean) / (prevMean + 1e-10)
	stdChange := math.Abs(curStd-prevStd) / (prevStd + 1e-10)
	if (meanChange+stdChange)/2 > d.minChange {
		return true, len(values) - d.windowSize
	}
	return false, -1
}

// DetectSmoothedDelta smooths the series, then flags the most recent
// step between consecutive smoothed values that stands out from the rest.
func (d *ChangePointDetector) DetectSmoothedDelta(values []float64, smoothingWindow int) (bool, int) {
	if smoothingWindow <= 0 {
		smoothingWindow = smoothedDeltaWindow
	}
	if len(values) < smoothingWindow*2 {
		return false, -1
	}

	smoothed := preprocess.MovingAverage(values, smoothingWindow)
	deltas := make([]float64, len(smoothed)-1)
	for i := range deltas {
		deltas[i] = math.Abs(smoothed[i+1] - smoothed[i])
	}
	if len(deltas) == 0 {
		return false, -1
	}

	threshold := stat.Mean(deltas, nil) + d.sensitivity*stat.PopStdDev(deltas, nil)
	idx := -1
	for i, delta := range deltas {
		if delta > threshold {
			idx = i
		}
	}
	if idx < 0 {
		return false, -1
	}
	return true, idx
}

// ChangePointDetail records which method fired on a feature and where.
type ChangePointDetail struct {
	Type  string `json:"type"`
	Index int    `json:"idx"`
}

// ChangePointResult aggregates change points across features. Index is the
// largest change index seen; Type is the kind that fired last.
type ChangePointResult struct {
	HasChangePoint bool                         `json:"has_changepoint"`
	Type           string                       `json:"changepoint_type,omitempty"`
	Index          int                          `json:"changepoint_idx"`
	Details        map[string]ChangePointDetail `json:"details"`
}

// Detect scans each feature trail with the requested method. "auto" tries
// spike first and falls back to drop; a feature that matches spike is not
// re-checked for drop. Features shorter than twice the window are skipped.
func (d *ChangePointDetector) Detect(featureValues map[string][]float64, method string) *ChangePointResult {
	res := &ChangePointResult{
		Index:   -1,
		Details: make(map[string]ChangePointDetail),
	}

	names := make([]string, 0, len(featureValues))
	for name := range featureValues {
		names = append(names, name)
	}
	sort.Strings(names)

	record := func(name, typ string, idx int) {
		res.HasChangePoint = true
		res.Type = typ
		if idx > res.Index {
			res.Index = idx
		}
		res.Details[name] = ChangePointDetail{Type: typ, Index: idx}
	}

	for _, name := range names {
		values := featureValues[name]
		if len(values) < d.windowSize*2 {
			continue
		}

		switch method {
		case "auto":
			if ok, idx := d.DetectSpike(values); ok {
				record(name, "spike", idx)
				continue
			}
			if ok, idx := d.DetectDrop(values); ok {
				record(name, "drop", idx)
			}
		case "spike":
			if ok, idx := d.DetectSpike(values); ok {
				record(name, "spike", idx)
			}
		case "drop":
			if ok, idx := d.DetectDrop(values); ok {
				record(name, "drop", idx)
			}
		case "pattern_shift":
			if ok, idx := d.DetectPatternShift(values); ok {
				record(name, "pattern_shift", idx)
			}
		case "smoothed_delta":
			if ok, idx := d.DetectSmoothedDelta(values, smoothedDeltaWindow); ok {
				record(name, "smoothed_delta", idx)
			}
		}
	}
	return res
}
