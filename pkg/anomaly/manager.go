// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package anomaly implements the detection ensemble: a z-score pass over
// engineered features, an isolation forest trained on the live stream, a
// change-point scan over recent feature trails, and a rule-based detector
// for HTTP, performance, resource, and security anomalies. Manager fuses
// the statistical detectors into a single verdict.
package anomaly

import (
	"math"
	"sync"

	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

const (
	// trainingRingSize bounds the retained feature vectors. The isolation
	// forest fits from this ring and the change-point overlay scans its tail.
	trainingRingSize = 1000
	// changePointMinSamples is how much history the change-point overlay
	// needs before it starts scanning.
	changePointMinSamples = 100
)

// Detection methods accepted by Config.Method.
const (
	MethodZScore          = "zscore"
	MethodIsolationForest = "isolation_forest"
	MethodHybrid          = "hybrid"
)

// Config selects the detection method and tunes each detector.
type Config struct {
	// Method is one of zscore, isolation_forest, or hybrid.
	Method string
	// Features names the feature keys the statistical detectors score.
	Features []string
	// MinTrainingSamples is how many feature vectors must accumulate before
	// the isolation forest is fit.
	MinTrainingSamples int

	ZScore             ZScoreConfig
	Forest             ForestConfig
	ChangePoint        ChangePointConfig
	ChangePointEnabled bool
}

// DefaultConfig returns the stock ensemble tuning.
func DefaultConfig() Config {
	return Config{
		Method:             MethodHybrid,
		Features:           []string{"response_time", "cpu_usage", "memory_usage"},
		MinTrainingSamples: 50,
		ZScore:             DefaultZScoreConfig(),
		Forest:             DefaultForestConfig(),
		ChangePoint:        DefaultChangePointConfig(),
		ChangePointEnabled: true,
	}
}

// Result is a fused detection verdict. The per-detector results that fed it
// are attached when their detector ran.
type Result struct {
	IsAnomaly   bool               `json:"is_anomaly"`
	Score       float64            `json:"anomaly_score"`
	Method      string             `json:"method"`
	ZScore      *ZScoreResult      `json:"zscore,omitempty"`
	Forest      *ForestResult      `json:"isolation_forest,omitempty"`
	ChangePoint *ChangePointResult `json:"changepoint,omitempty"`
}

// Manager owns the statistical detectors, feeds them training data, and
// fuses their verdicts. Training is opportunistic: every Detect call adds
// the feature vector to the training ring, and the isolation forest is fit
// exactly once when enough samples have accumulated.
type Manager struct {
	mu                 sync.RWMutex
	method             string
	features           []string
	minTrainingSamples int

	zscore      *ZScoreDetector
	forest      *IsolationForestDetector
	changepoint *ChangePointDetector

	training     []map[string]float64
	totalSamples int
}

// NewManager builds the ensemble described by cfg. An unknown method falls
// back to hybrid with a warning; an empty feature list takes the defaults.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	switch cfg.Method {
	case MethodZScore, MethodIsolationForest, MethodHybrid:
	case "":
		cfg.Method = MethodHybrid
	default:
		log.Warnf("unknown detection method %q, using %s", cfg.Method, MethodHybrid)
		cfg.Method = MethodHybrid
	}
	if len(cfg.Features) == 0 {
		cfg.Features = def.Features
	}
	if cfg.MinTrainingSamples <= 0 {
		cfg.MinTrainingSamples = def.MinTrainingSamples
	}

	m := &Manager{
		method:             cfg.Method,
		features:           append([]string(nil), cfg.Features...),
		minTrainingSamples: cfg.MinTrainingSamples,
		zscore:             NewZScoreDetector(cfg.ZScore),
		forest:             NewIsolationForestDetector(cfg.Forest),
	}
	if cfg.ChangePointEnabled {
		m.changepoint = NewChangePointDetector(cfg.ChangePoint)
	}
	return m
}

// Detect scores a feature vector with the configured method and attaches the
// change-point overlay once enough history exists. The overlay never alters
// the top-level verdict.
func (m *Manager) Detect(features map[string]float64) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addTrainingSample(features)

	res := &Result{Method: m.method}
	switch m.method {
	case MethodZScore:
		zr := m.zscore.Detect(features, m.features)
		res.IsAnomaly, res.Score, res.ZScore = zr.IsAnomaly, zr.Score, zr

	case MethodIsolationForest:
		if m.forest.IsFitted() {
			fr := m.forest.Detect(features)
			res.IsAnomaly, res.Score, res.Forest = fr.IsAnomaly, fr.Score, fr
		} else {
			log.Warnf("isolation forest not fitted yet (%d/%d training samples)",
				m.totalSamples, m.minTrainingSamples)
		}

	default: // hybrid
		zr := m.zscore.Detect(features, m.features)
		res.IsAnomaly, res.Score, res.ZScore = zr.IsAnomaly, zr.Score, zr
		if m.forest.IsFitted() {
			fr := m.forest.Detect(features)
			res.Forest = fr
			res.IsAnomaly = res.IsAnomaly || fr.IsAnomaly
			res.Score = math.Max(res.Score, fr.Score)
		}
	}

	if m.changepoint != nil && len(m.training) >= changePointMinSamples {
		res.ChangePoint = m.changePointOverlay()
	}
	return res
}

// addTrainingSample copies the vector into the training ring and fits the
// forest once the ring reaches the configured minimum.
func (m *Manager) addTrainingSample(features map[string]float64) {
	sample := make(map[string]float64, len(features))
	for k, v := range features {
		sample[k] = v
	}
	m.training = append(m.training, sample)
	if len(m.training) > trainingRingSize {
		copy(m.training, m.training[1:])
		m.training = m.training[:trainingRingSize]
	}
	m.totalSamples++

	if m.totalSamples >= m.minTrainingSamples && !m.forest.IsFitted() {
		if err := m.forest.Fit(m.training, m.features); err != nil {
			log.Errorf("isolation forest training failed: %v", err)
		} else {
			log.Infof("isolation forest trained on %d samples", len(m.training))
		}
	}
}

// changePointOverlay scans the last changePointMinSamples training vectors,
// one trail per configured feature. Features absent from the oldest sample
// of the window are skipped.
func (m *Manager) changePointOverlay() *ChangePointResult {
	recent := m.training[len(m.training)-changePointMinSamples:]
	values := make(map[string][]float64, len(m.features))
	for _, name := range m.features {
		if _, ok := recent[0][name]; !ok {
			continue
		}
		trail := make([]float64, len(recent))
		for i, sample := range recent {
			trail[i] = sample[name]
		}
		values[name] = trail
	}
	if len(values) == 0 {
		return nil
	}
	return m.changepoint.Detect(values, "auto")
}

// Stats describes the ensemble state.
type Stats struct {
	Method             string `json:"method"`
	TrainingSamples    int    `json:"training_samples"`
	ForestFitted       bool   `json:"forest_fitted"`
	ChangePointEnabled bool   `json:"changepoint_enabled"`
}

// Stats reports the method, accumulated training samples, and fit state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Method:             m.method,
		TrainingSamples:    m.totalSamples,
		ForestFitted:       m.forest.IsFitted(),
		ChangePointEnabled: m.changepoint != nil,
	}
}

// Reset clears the training ring and every detector history. The isolation
// forest returns to its unfitted state and will retrain.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.training = m.training[:0]
	m.totalSamples = 0
	m.zscore.Reset()
	m.forest.Reset()
}
