// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package features computes the statistical features consumed by the
// anomaly detectors: request rate, error rate, and per-field rolling
// statistics over a window of events.
package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

// DefaultFields are the numeric event fields features are extracted from.
var DefaultFields = []string{"response_time", "cpu_usage", "memory_usage"}

// Config configures an Extractor.
type Config struct {
	Fields        []string
	RollingWindow int     // default: 100
	TimeWindow    float64 // seconds, floor of the rps denominator; default: 1
}

// Extractor derives a flat feature map from a window of events.
type Extractor struct {
	fields        []string
	rollingWindow int
	timeWindow    float64
}

// New creates an Extractor with defaults applied.
func New(cfg Config) *Extractor {
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = 100
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 1
	}
	return &Extractor{
		fields:        cfg.Fields,
		rollingWindow: cfg.RollingWindow,
		timeWindow:    cfg.TimeWindow,
	}
}

// RPS computes requests per second over the events' time span. With fewer
// than two timestamped events the count itself is the rate (per the
// configured time window floor).
func (x *Extractor) RPS(events []*event.Event) float64 {
	if len(events) == 0 {
		return 0.0
	}
	if len(events) < 2 {
		return 1.0
	}

	var earliest, latest int64 // unix micros
	var parsed int
	for _, e := range events {
		t, err := e.When()
		if err != nil {
			continue
		}
		us := t.UnixMicro()
		if parsed == 0 || us < earliest {
			earliest = us
		}
		if parsed == 0 || us > latest {
			latest = us
		}
		parsed++
	}
	if parsed < 2 {
		return float64(len(events)) / x.timeWindow
	}

	span := float64(latest-earliest) / 1e6
	return float64(len(events)) / math.Max(span, x.timeWindow)
}

// ErrorRate is the share of error responses among events that carry a
// numeric status code. Events without one do not count either way.
func (x *Extractor) ErrorRate(events []*event.Event) float64 {
	var errors, total int
	for _, e := range events {
		v, ok := e.NumericStatus()
		if !ok {
			continue
		}
		total++
		if v >= 400 {
			errors++
		}
	}
	if total == 0 {
		return 0.0
	}
	return float64(errors) / float64(total)
}

// Extract produces the feature map for a window of events. An empty window
// yields an empty map. Per configured field present in the first event:
// mean/std/min/max/median, plus rolling statistics when at least two samples
// exist.
func (x *Extractor) Extract(events []*event.Event) map[string]float64 {
	if len(events) == 0 {
		return map[string]float64{}
	}

	feats := map[string]float64{
		"rps":         x.RPS(events),
		"error_rate":  x.ErrorRate(events),
		"event_count": float64(len(events)),
	}

	for _, field := range x.fields {
		if _, ok := events[0].Field(field); !ok {
			continue
		}
		values := fieldValues(events, field)
		if len(values) == 0 {
			continue
		}

		mean := stat.Mean(values, nil)
		feats[field+"_mean"] = mean
		feats[field+"_std"] = stat.PopStdDev(values, nil)
		feats[field+"_min"] = minOf(values)
		feats[field+"_max"] = maxOf(values)
		feats[field+"_median"] = median(values)

		if len(values) >= 2 {
			rollMean, rollStd := RollingStats(values, x.rollingWindow)
			last := len(values) - 1
			feats[field+"_rolling_mean"] = rollMean[last]
			feats[field+"_rolling_std"] = rollStd[last]
			feats[field+"_spike_score"] = SpikeScore(values, rollMean, rollStd)
			feats[field+"_ema"] = EMA(values, x.rollingWindow)[last]
		}
	}
	return feats
}

// EventFeatures compares a single event against the history in recent:
// per field a z-score and deviation from the historical mean, plus an
// is_error flag.
func (x *Extractor) EventFeatures(e *event.Event, recent []*event.Event) map[string]float64 {
	feats := make(map[string]float64)

	for _, field := range x.fields {
		v, ok := e.Field(field)
		if !ok {
			continue
		}
		history := fieldValues(recent, field)
		if len(history) == 0 {
			continue
		}
		mean := stat.Mean(history, nil)
		std := stat.PopStdDev(history, nil)
		z := 0.0
		if std > 0 {
			z = (v - mean) / std
		}
		feats[field+"_zscore"] = z
		feats[field+"_deviation"] = v - mean
	}

	if e.IsError() {
		feats["is_error"] = 1.0
	} else {
		feats["is_error"] = 0.0
	}
	return feats
}

// MovingAverage computes a same-length centered moving average. Inputs
// shorter than the window collapse to their overall mean.
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if window <= 0 || len(values) < window {
		mean := stat.Mean(values, nil)
		for i := range out {
			out[i] = mean
		}
		return out
	}
	half := (window - 1) / 2
	for i := range values {
		var sum float64
		for k := 0; k < window; k++ {
			idx := i + half - k
			if idx >= 0 && idx < len(values) {
				sum += values[idx]
			}
		}
		out[i] = sum / float64(window)
	}
	return out
}

// EMA computes an exponential moving average with alpha = 2/(window+1),
// seeded from the first value.
func EMA(values []float64, window int) []float64 {
	if len(values) == 0 {
		return nil
	}
	if window <= 0 {
		window = 1
	}
	alpha := 2.0 / (float64(window) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RollingStats computes centered rolling mean and std arrays. Positions
// whose centered window is incomplete, and inputs shorter than the window,
// are filled with the overall aggregate. In particular the newest position
// always reads the overall statistics, since its centered window extends
// past the end of the series.
func RollingStats(values []float64, window int) ([]float64, []float64) {
	mean := make([]float64, len(values))
	std := make([]float64, len(values))
	if len(values) == 0 {
		return mean, std
	}

	overallMean := stat.Mean(values, nil)
	overallStd := stat.PopStdDev(values, nil)

	if window <= 0 || len(values) < window {
		for i := range values {
			mean[i] = overallMean
			std[i] = overallStd
		}
		return mean, std
	}

	half := (window - 1) / 2
	for i := range values {
		lo := i + half - window + 1
		hi := i + half
		if lo < 0 || hi >= len(values) {
			mean[i] = overallMean
			std[i] = overallStd
			continue
		}
		slice := values[lo : hi+1]
		mean[i] = stat.Mean(slice, nil)
		std[i] = stat.PopStdDev(slice, nil)
	}
	return mean, std
}

// SpikeScore is the rolling z-score of the newest value: how far it sits
// from the rolling mean in rolling standard deviations, 0 when flat.
func SpikeScore(values, rollMean, rollStd []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	last := len(values) - 1
	if rollStd[last] == 0 {
		return 0
	}
	return (values[last] - rollMean[last]) / rollStd[last]
}

func fieldValues(events []*event.Event, field string) []float64 {
	values := make([]float64, 0, len(events))
	for _, e := range events {
		if v, ok := e.Field(field); ok {
			values = append(values, v)
		}
	}
	return values
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
