// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package preprocess cleans numeric series before feature extraction:
// outlier clipping, smoothing and scaling, applied in that order.
package preprocess

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

// Config configures a Preprocessor.
type Config struct {
	Clip            bool    // default: true
	ClipMethod      string  // "iqr" (default) or "zscore"
	SmoothingWindow int     // default: 5
	SmoothMethod    string  // "moving_average" (default) or "ema"
	Scaling         string  // "", "minmax", "standard", "robust"; "" disables scaling
	ClipMultiplier  float64 // 0 picks the method default (1.5 for iqr, 3 for zscore)
}

// DefaultConfig returns the default preprocessing configuration: IQR
// clipping and a 5-point moving average, no scaling.
func DefaultConfig() Config {
	return Config{
		Clip:            true,
		ClipMethod:      "iqr",
		SmoothingWindow: 5,
		SmoothMethod:    "moving_average",
	}
}

// ScalerParams holds the fitted parameters of a scaler so that the same
// transformation can be reapplied to later values of the same field.
type ScalerParams struct {
	Method string
	Min    float64
	Max    float64
	Mean   float64
	Std    float64
	Median float64
	IQR    float64
}

// Preprocessor applies the configured transforms. Scaler parameters are
// fitted once per field name and reused afterwards.
type Preprocessor struct {
	cfg    Config
	params map[string]ScalerParams
}

// New creates a Preprocessor with defaults applied.
func New(cfg Config) *Preprocessor {
	if cfg.ClipMethod == "" {
		cfg.ClipMethod = "iqr"
	}
	if cfg.SmoothingWindow <= 0 {
		cfg.SmoothingWindow = 5
	}
	if cfg.SmoothMethod == "" {
		cfg.SmoothMethod = "moving_average"
	}
	return &Preprocessor{cfg: cfg, params: make(map[string]ScalerParams)}
}

// Transform runs the configured clip, smooth and scale stages over values.
// The input slice is not modified; the result has the same length.
func (p *Preprocessor) Transform(values []float64, field string) []float64 {
	out := append([]float64(nil), values...)
	if len(out) == 0 {
		return out
	}
	if p.cfg.Clip {
		out = ClipOutliers(out, p.cfg.ClipMethod, p.cfg.ClipMultiplier)
	}
	out = Smooth(out, p.cfg.SmoothMethod, p.cfg.SmoothingWindow)
	if p.cfg.Scaling != "" {
		out = p.Scale(out, p.cfg.Scaling, field)
	}
	return out
}

// ClipOutliers bounds extreme values. Method "iqr" clamps everything to
// [Q1 - m*IQR, Q3 + m*IQR]; method "zscore" replaces values with |z| > m by
// mean ± m*std. A multiplier <= 0 picks the method default.
func ClipOutliers(values []float64, method string, multiplier float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := append([]float64(nil), values...)

	switch method {
	case "zscore":
		if multiplier <= 0 {
			multiplier = 3.0
		}
		mean := stat.Mean(out, nil)
		std := stat.PopStdDev(out, nil)
		if std == 0 {
			return out
		}
		for i, v := range out {
			z := (v - mean) / std
			if z > multiplier {
				out[i] = mean + multiplier*std
			} else if z < -multiplier {
				out[i] = mean - multiplier*std
			}
		}
	default: // iqr
		if multiplier <= 0 {
			multiplier = 1.5
		}
		q1, q3 := quartiles(out)
		iqr := q3 - q1
		lower, upper := q1-multiplier*iqr, q3+multiplier*iqr
		for i, v := range out {
			if v < lower {
				out[i] = lower
			} else if v > upper {
				out[i] = upper
			}
		}
	}
	return out
}

// Smooth smooths values with the given method: "ema" or a same-length
// centered moving average. Inputs shorter than the window are returned
// unchanged (moving average) while EMA always applies.
func Smooth(values []float64, method string, window int) []float64 {
	if method == "ema" {
		return EMA(values, window)
	}
	return MovingAverage(values, window)
}

// MovingAverage computes a same-length centered moving average with
// zero-padded edges. Inputs shorter than the window are returned unchanged.
func MovingAverage(values []float64, window int) []float64 {
	out := append([]float64(nil), values...)
	if window <= 0 || len(values) < window {
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

// Scale scales values with the given method, fitting parameters on first
// use per field name and reusing them afterwards. Degenerate inputs (zero
// range, zero std, zero IQR) yield sentinel arrays instead of NaN: zeros
// for minmax and robust, 0.5 for standard.
func (p *Preprocessor) Scale(values []float64, method, field string) []float64 {
	if len(values) == 0 {
		return nil
	}

	params, ok := p.params[field]
	if !ok || params.Method != method {
		params = fitScaler(values, method)
		if field != "" {
			p.params[field] = params
		}
	}

	out := make([]float64, len(values))
	switch method {
	case "standard":
		if params.Std == 0 {
			for i := range out {
				out[i] = 0.5
			}
			return out
		}
		for i, v := range values {
			out[i] = (v - params.Mean) / params.Std
		}
	case "robust":
		if params.IQR == 0 {
			return out // zeros
		}
		for i, v := range values {
			out[i] = (v - params.Median) / params.IQR
		}
	default: // minmax
		span := params.Max - params.Min
		if span == 0 {
			return out // zeros
		}
		for i, v := range values {
			out[i] = (v - params.Min) / span
		}
	}
	return out
}

// Params returns the fitted scaler parameters for a field, if any.
func (p *Preprocessor) Params(field string) (ScalerParams, bool) {
	params, ok := p.params[field]
	return params, ok
}

func fitScaler(values []float64, method string) ScalerParams {
	params := ScalerParams{Method: method}
	switch method {
	case "standard":
		params.Mean = stat.Mean(values, nil)
		params.Std = stat.PopStdDev(values, nil)
	case "robust":
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		params.Median = percentile(sorted, 50)
		params.IQR = percentile(sorted, 75) - percentile(sorted, 25)
	default: // minmax
		params.Min, params.Max = values[0], values[0]
		for _, v := range values[1:] {
			params.Min = math.Min(params.Min, v)
			params.Max = math.Max(params.Max, v)
		}
	}
	return params
}

func quartiles(values []float64) (float64, float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentile(sorted, 25), percentile(sorted, 75)
}

// percentile interpolates linearly between the two closest ranks of an
// already sorted sample. p is in percent, 0 to 100.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}

// Event preprocesses a single event: numeric scalar fields are preserved
// untouched, with a "<field>_original" copy recorded in Extra so later
// stages can still see the raw value.
func (p *Preprocessor) Event(e *event.Event) *event.Event {
	for _, field := range []string{"response_time", "cpu_usage", "memory_usage", "status_code"} {
		if v, ok := e.Field(field); ok {
			e.SetExtra(field+"_original", v)
		}
	}
	return e
}

// Batch preprocesses named columns: NaN values are replaced by the column
// mean (0 when the whole column is NaN), then each column runs through the
// configured transform stages.
func (p *Preprocessor) Batch(columns map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(columns))
	for field, values := range columns {
		filled := fillNaN(values)
		out[field] = p.Transform(filled, field)
	}
	return out
}

func fillNaN(values []float64) []float64 {
	var sum float64
	var n int
	for _, v := range values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = mean
		} else {
			out[i] = v
		}
	}
	return out
}
