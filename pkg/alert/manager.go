// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package alert

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/twmb/murmur3"

	"github.com/DataDog/anomaly-agent/pkg/anomaly"
	"github.com/DataDog/anomaly-agent/pkg/event"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

const defaultRecentCount = 50

// Config tunes the alert manager.
type Config struct {
	// MaxAlerts bounds the retained alert ring.
	MaxAlerts int
	// Threshold is the minimum anomaly score that produces an alert. HTTP
	// error events bypass it.
	Threshold float64
	// DedupWindow is how many recent alert fingerprints are kept to suppress
	// duplicates.
	DedupWindow int
	// Clock stamps alerts. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns the stock alert tuning.
func DefaultConfig() Config {
	return Config{
		MaxAlerts:   1000,
		Threshold:   0.7,
		DedupWindow: 100,
	}
}

// Manager converts detection results into alerts, deduplicates them against
// a fingerprint ring, retains a bounded history, and fans new alerts out to
// registered sinks.
type Manager struct {
	mu          sync.RWMutex
	maxAlerts   int
	threshold   float64
	dedupWindow int
	clock       clock.Clock

	alerts []*Alert
	hashes []uint64
	sinks  []Sink
}

// NewManager builds an alert manager, applying defaults for unset fields.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = def.MaxAlerts
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Manager{
		maxAlerts:   cfg.MaxAlerts,
		threshold:   cfg.Threshold,
		dedupWindow: cfg.DedupWindow,
		clock:       cfg.Clock,
	}
}

// AddSink registers a sink. Every alert that survives dedup is emitted to
// all sinks in registration order.
func (m *Manager) AddSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Process turns a detection result into an alert, or returns nil when the
// result is below the threshold or a duplicate. Events with an HTTP error
// status always alert: the verdict is forced anomalous with score 1.0 for
// 5xx and 0.8 otherwise, bypassing the threshold.
func (m *Manager) Process(res *anomaly.Result, e *event.Event) *Alert {
	var isAnomaly bool
	var score float64
	if res != nil {
		isAnomaly = res.IsAnomaly
		score = res.Score
	}

	httpError := false
	if e != nil {
		if code, ok := e.NumericStatus(); ok && code >= 400 {
			httpError = true
			isAnomaly = true
			if code >= 500 {
				score = 1.0
			} else {
				score = 0.8
			}
		}
	}

	if !httpError && (!isAnomaly || score < m.threshold) {
		return nil
	}

	message := buildMessage(res, e, score)
	level := determineLevel(score, isAnomaly)
	details := buildDetails(res, e, score, isAnomaly)
	fp := fingerprint(message, isAnomaly, score)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.hashes {
		if h == fp {
			log.Debugf("duplicate alert suppressed: %s", message)
			return nil
		}
	}

	a := newAlert(level, message, details, event.FormatTime(m.clock.Now()))
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.maxAlerts {
		copy(m.alerts, m.alerts[1:])
		m.alerts = m.alerts[:m.maxAlerts]
	}
	m.hashes = append(m.hashes, fp)
	if len(m.hashes) > m.dedupWindow {
		copy(m.hashes, m.hashes[1:])
		m.hashes = m.hashes[:m.dedupWindow]
	}

	for _, s := range m.sinks {
		s.Emit(a)
	}
	log.Infof("alert created: [%s] %s", strings.ToUpper(string(level)), message)
	return a
}

// ProcessRules funnels a rule-based detection through the same alert path,
// with the hit type standing in for the detection method. For HTTP error
// events the short-circuit in Process produces the same fingerprint as the
// statistical alert for that event, so rule hits on error responses collapse
// into one alert.
func (m *Manager) ProcessRules(res *anomaly.ComprehensiveResult, e *event.Event) *Alert {
	if res == nil {
		return nil
	}
	method := res.Type
	if method == "" {
		method = "rules"
	}
	return m.Process(&anomaly.Result{
		IsAnomaly: res.IsAnomaly,
		Score:     res.Score,
		Method:    method,
	}, e)
}

func buildMessage(res *anomaly.Result, e *event.Event, score float64) string {
	if e != nil {
		if code, ok := e.NumericStatus(); ok && code >= 400 {
			return fmt.Sprintf("[%s] HTTP 에러 발생: %d %s",
				e.EndpointOrUnknown(), int(code), statusMessage(int(code)))
		}
	}

	method := "unknown"
	if res != nil && res.Method != "" {
		method = res.Method
	}
	message := fmt.Sprintf("이상 탐지됨 (점수: %.2f, 방법: %s)", score, method)
	if e != nil {
		status := "unknown"
		if code, ok := e.NumericStatus(); ok {
			status = strconv.Itoa(int(code))
		}
		message = fmt.Sprintf("[%s] %s (상태: %s)", e.EndpointOrUnknown(), message, status)
	}
	if res != nil && res.ChangePoint != nil && res.ChangePoint.HasChangePoint {
		cpType := res.ChangePoint.Type
		if cpType == "" {
			cpType = "unknown"
		}
		message += " | 변화점: " + cpType
	}
	return message
}

func buildDetails(res *anomaly.Result, e *event.Event, score float64, isAnomaly bool) map[string]interface{} {
	method := "unknown"
	detection := map[string]interface{}{}
	if res != nil {
		if res.Method != "" {
			method = res.Method
		}
		if res.ZScore != nil {
			detection["zscore"] = res.ZScore
		}
		if res.Forest != nil {
			detection["isolation_forest"] = res.Forest
		}
		if res.ChangePoint != nil {
			detection["changepoint"] = res.ChangePoint
		}
	}

	details := map[string]interface{}{
		"anomaly_score":     score,
		"is_anomaly":        isAnomaly,
		"method":            method,
		"detection_details": detection,
	}
	if e != nil {
		var status interface{} = "unknown"
		if code, ok := e.NumericStatus(); ok {
			status = int(code)
		}
		ts := e.Timestamp
		if ts == "" {
			ts = "unknown"
		}
		details["event"] = map[string]interface{}{
			"endpoint":    e.EndpointOrUnknown(),
			"status_code": status,
			"timestamp":   ts,
		}
	}
	return details
}

// fingerprint hashes the fields that make two alerts interchangeable. The
// message embeds the endpoint and rendered score, so distinct endpoints and
// materially different scores produce distinct fingerprints.
func fingerprint(message string, isAnomaly bool, score float64) uint64 {
	return murmur3.StringSum64(fmt.Sprintf("%s|%t|%.2f", message, isAnomaly, score))
}

// RecentAlerts returns up to count alerts, oldest first. A non-empty level
// filters before the count is applied; count <= 0 means the default of 50.
func (m *Manager) RecentAlerts(count int, level Level) []Alert {
	if count <= 0 {
		count = defaultRecentCount
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if level != "" && a.Level != level {
			continue
		}
		out = append(out, *a)
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out
}

// Acknowledge marks one alert as seen. The index counts back from the newest
// alert, 0 being the most recent. Returns false when out of range.
func (m *Manager) Acknowledge(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.alerts) {
		return false
	}
	m.alerts[len(m.alerts)-1-index].Acknowledged = true
	log.Infof("alert acknowledged: index %d", index)
	return true
}

// Stats summarizes the retained alerts.
type Stats struct {
	Total          int           `json:"total_alerts"`
	ByLevel        map[Level]int `json:"level_counts"`
	Unacknowledged int           `json:"unacknowledged"`
	Threshold      float64       `json:"alert_threshold"`
}

// Stats reports totals, per-level counts, and the active threshold.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Total:     len(m.alerts),
		ByLevel:   make(map[Level]int),
		Threshold: m.threshold,
	}
	for _, a := range m.alerts {
		stats.ByLevel[a.Level]++
		if !a.Acknowledged {
			stats.Unacknowledged++
		}
	}
	return stats
}

// Clear drops retained alerts of the given level, or all of them when level
// is empty. The dedup ring is left alone, so recently suppressed duplicates
// stay suppressed.
func (m *Manager) Clear(level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if level == "" {
		m.alerts = m.alerts[:0]
		log.Infof("alerts cleared: all")
		return
	}
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Level != level {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
	log.Infof("alerts cleared: %s", level)
}

// Reset drops all alerts and the dedup ring.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = m.alerts[:0]
	m.hashes = m.hashes[:0]
}
