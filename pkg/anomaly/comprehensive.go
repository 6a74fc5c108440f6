// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package anomaly

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"
	"gonum.org/v1/gonum/stat"

	"github.com/DataDog/anomaly-agent/pkg/event"
)

// Severity levels attached to rule hits and fused results.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

const (
	responseTimeHistorySize = 1000
	rpsHistorySize          = 100
	errorRateHistorySize    = 100
	resourceHistorySize     = 500
	ipRequestWindow         = 100
	endpointRTWindow        = 100
)

var serverErrorNames = map[int]string{
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

var clientErrorNames = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	408: "Request Timeout",
	429: "Too Many Requests",
}

// ComprehensiveConfig tunes the rule-based detector.
type ComprehensiveConfig struct {
	// Clock drives last-seen stamps. Nil means the wall clock.
	Clock clock.Clock
	// IPCacheSize bounds how many client IPs are tracked at once; the least
	// recently seen IP is evicted beyond that.
	IPCacheSize int
	// EndpointTTL expires per-endpoint counters that have not been touched.
	EndpointTTL time.Duration
}

// DefaultComprehensiveConfig returns the stock rule-detector tuning.
func DefaultComprehensiveConfig() ComprehensiveConfig {
	return ComprehensiveConfig{IPCacheSize: 10000, EndpointTTL: time.Hour}
}

// RuleHit is one rule family firing on the current event.
type RuleHit struct {
	Type     string                 `json:"anomaly_type"`
	Score    float64                `json:"anomaly_score"`
	Severity string                 `json:"severity"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// ComprehensiveResult is the fused outcome of every rule family. When
// anything fired, the highest-scoring critical hit wins, falling back to the
// highest-scoring hit overall.
type ComprehensiveResult struct {
	IsAnomaly bool                   `json:"is_anomaly"`
	Score     float64                `json:"anomaly_score"`
	Type      string                 `json:"anomaly_type"`
	Severity  string                 `json:"severity"`
	Details   map[string]interface{} `json:"details,omitempty"`
	All       []RuleHit              `json:"all_anomalies,omitempty"`
	Count     int                    `json:"anomaly_count"`
}

type ipStats struct {
	Count      int
	Endpoints  map[string]struct{}
	UserAgents map[string]struct{}
	LastSeen   time.Time
	Requests   []time.Time
}

type endpointStats struct {
	Count         int
	ErrorCount    int
	ResponseTimes []float64
	LastSeen      time.Time
}

// ComprehensiveDetector runs rule families over each event: HTTP status
// checks, latency and throughput regressions against its own rolling
// history, resource saturation, and per-client request patterns. All state
// is bounded, so it can watch a stream indefinitely.
type ComprehensiveDetector struct {
	mu    sync.RWMutex
	clock clock.Clock

	responseTimes []float64
	rpsHistory    []float64
	errorRates    []float64
	cpuHistory    []float64
	memoryHistory []float64

	endpoints *cache.Cache
	ips       *lru.Cache[string, *ipStats]
}

// NewComprehensiveDetector returns a detector with empty history. Zero
// config values fall back to the defaults.
func NewComprehensiveDetector(cfg ComprehensiveConfig) *ComprehensiveDetector {
	def := DefaultComprehensiveConfig()
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.IPCacheSize <= 0 {
		cfg.IPCacheSize = def.IPCacheSize
	}
	if cfg.EndpointTTL <= 0 {
		cfg.EndpointTTL = def.EndpointTTL
	}
	ips, _ := lru.New[string, *ipStats](cfg.IPCacheSize)
	return &ComprehensiveDetector{
		clock:     cfg.Clock,
		endpoints: cache.New(cfg.EndpointTTL, 10*time.Minute),
		ips:       ips,
	}
}

// Check runs every rule family over the event and the recent window and
// fuses the hits into a single verdict.
func (d *ComprehensiveDetector) Check(e *event.Event, recent []*event.Event) *ComprehensiveResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	var hits []RuleHit
	if hit := d.checkHTTPError(e); hit != nil {
		hits = append(hits, *hit)
	}
	hits = append(hits, d.checkPerformance(e, recent)...)
	hits = append(hits, d.checkResources(e)...)
	hits = append(hits, d.checkSecurity(e, recent)...)
	d.trackEndpoint(e)

	if len(hits) == 0 {
		return &ComprehensiveResult{Type: "normal", Severity: SeverityInfo}
	}
	winner := mostSevere(hits)
	return &ComprehensiveResult{
		IsAnomaly: true,
		Score:     winner.Score,
		Type:      winner.Type,
		Severity:  winner.Severity,
		Details:   winner.Details,
		All:       hits,
		Count:     len(hits),
	}
}

// mostSevere prefers the highest-scoring critical hit, then the
// highest-scoring hit of any severity. Earlier hits win ties.
func mostSevere(hits []RuleHit) RuleHit {
	best := -1
	for i, h := range hits {
		if h.Severity != SeverityCritical {
			continue
		}
		if best < 0 || h.Score > hits[best].Score {
			best = i
		}
	}
	if best >= 0 {
		return hits[best]
	}
	for i, h := range hits {
		if best < 0 || h.Score > hits[best].Score {
			best = i
		}
	}
	return hits[best]
}

func (d *ComprehensiveDetector) checkHTTPError(e *event.Event) *RuleHit {
	status, ok := e.NumericStatus()
	if !ok {
		return nil
	}
	code := int(status)

	switch {
	case status >= 500:
		name, found := serverErrorNames[code]
		if !found {
			name = fmt.Sprintf("Server Error %d", code)
		}
		return &RuleHit{
			Type:     "http_server_error",
			Score:    1.0,
			Severity: SeverityCritical,
			Details: map[string]interface{}{
				"status_code":   code,
				"error_message": name,
				"endpoint":      e.EndpointOrUnknown(),
				"timestamp":     e.Timestamp,
			},
		}
	case status >= 400:
		name, found := clientErrorNames[code]
		if !found {
			name = fmt.Sprintf("Client Error %d", code)
		}
		score := 0.5
		if code == 429 {
			score = 0.7
		}
		return &RuleHit{
			Type:     "http_client_error",
			Score:    score,
			Severity: SeverityWarning,
			Details: map[string]interface{}{
				"status_code":   code,
				"error_message": name,
				"endpoint":      e.EndpointOrUnknown(),
				"timestamp":     e.Timestamp,
			},
		}
	}
	return nil
}

func (d *ComprehensiveDetector) checkPerformance(e *event.Event, recent []*event.Event) []RuleHit {
	var hits []RuleHit

	if rt, ok := e.Field("response_time"); ok && rt > 0 {
		d.responseTimes = ringAppend(d.responseTimes, rt, responseTimeHistorySize)

		if len(d.responseTimes) >= 10 {
			recentAvg := stat.Mean(d.responseTimes[len(d.responseTimes)-10:], nil)
			historicalAvg := recentAvg
			if len(d.responseTimes) > 10 {
				historicalAvg = stat.Mean(d.responseTimes[:len(d.responseTimes)-10], nil)
			}

			if historicalAvg > 0 && recentAvg > historicalAvg*2 {
				hits = append(hits, RuleHit{
					Type:     "response_time_spike",
					Score:    math.Min(1.0, (recentAvg/historicalAvg-1)*0.5),
					Severity: SeverityWarning,
					Details: map[string]interface{}{
						"current_avg":    recentAvg,
						"historical_avg": historicalAvg,
						"increase_ratio": recentAvg / historicalAvg,
					},
				})
			}

			if len(d.responseTimes) >= 20 {
				sorted := append([]float64(nil), d.responseTimes...)
				sort.Float64s(sorted)
				p95 := percentileOf(sorted, 95)
				p99 := percentileOf(sorted, 99)
				if p99 > historicalAvg*3 {
					hits = append(hits, RuleHit{
						Type:     "p99_latency_spike",
						Score:    0.9,
						Severity: SeverityCritical,
						Details: map[string]interface{}{
							"p99": p99,
							"p95": p95,
							"avg": historicalAvg,
						},
					})
				}
			}
		}
	}

	if len(recent) >= 10 {
		last10 := recent[len(recent)-10:]
		if span, ok := eventSpanSeconds(last10); ok && span > 0 {
			d.rpsHistory = ringAppend(d.rpsHistory, float64(len(last10))/span, rpsHistorySize)

			if len(d.rpsHistory) >= 5 {
				recentRPS := stat.Mean(d.rpsHistory[len(d.rpsHistory)-3:], nil)
				historicalRPS := stat.Mean(d.rpsHistory[:len(d.rpsHistory)-3], nil)
				switch {
				case historicalRPS > 0 && recentRPS > historicalRPS*2:
					hits = append(hits, RuleHit{
						Type:     "rps_spike",
						Score:    math.Min(1.0, (recentRPS/historicalRPS-1)*0.3),
						Severity: SeverityWarning,
						Details: map[string]interface{}{
							"current_rps":    recentRPS,
							"historical_rps": historicalRPS,
						},
					})
				case historicalRPS > 0 && recentRPS < historicalRPS*0.3:
					hits = append(hits, RuleHit{
						Type:     "rps_drop",
						Score:    0.8,
						Severity: SeverityCritical,
						Details: map[string]interface{}{
							"current_rps":    recentRPS,
							"historical_rps": historicalRPS,
						},
					})
				}
			}
		}
	}

	if len(recent) >= 10 {
		errors := 0
		for _, ev := range recent {
			if ev.IsError() {
				errors++
			}
		}
		d.errorRates = ringAppend(d.errorRates, float64(errors)/float64(len(recent)), errorRateHistorySize)

		if len(d.errorRates) >= 5 {
			recentRate := stat.Mean(d.errorRates[len(d.errorRates)-3:], nil)
			historicalRate := stat.Mean(d.errorRates[:len(d.errorRates)-3], nil)
			if historicalRate < 0.1 && recentRate > 0.2 {
				severity := SeverityWarning
				if recentRate > 0.5 {
					severity = SeverityCritical
				}
				hits = append(hits, RuleHit{
					Type:     "error_rate_spike",
					Score:    math.Min(1.0, recentRate*2),
					Severity: severity,
					Details: map[string]interface{}{
						"current_error_rate":    recentRate,
						"historical_error_rate": historicalRate,
					},
				})
			}
		}
	}

	return hits
}

func (d *ComprehensiveDetector) checkResources(e *event.Event) []RuleHit {
	var hits []RuleHit

	if cpu, ok := e.Field("cpu_usage"); ok && cpu > 0 {
		d.cpuHistory = ringAppend(d.cpuHistory, cpu, resourceHistorySize)

		if len(d.cpuHistory) >= 5 {
			recentAvg := stat.Mean(d.cpuHistory[len(d.cpuHistory)-3:], nil)
			historicalAvg := stat.Mean(d.cpuHistory[:len(d.cpuHistory)-3], nil)

			if recentAvg > historicalAvg*1.5 && recentAvg > 70 {
				severity := SeverityWarning
				if recentAvg >= 90 {
					severity = SeverityCritical
				}
				hits = append(hits, RuleHit{
					Type:     "cpu_spike",
					Score:    math.Min(1.0, (recentAvg-70)/30),
					Severity: severity,
					Details: map[string]interface{}{
						"current_cpu":    recentAvg,
						"historical_cpu": historicalAvg,
					},
				})
			}
			if recentAvg >= 95 {
				hits = append(hits, RuleHit{
					Type:     "cpu_saturated",
					Score:    1.0,
					Severity: SeverityCritical,
					Details:  map[string]interface{}{"cpu_usage": recentAvg},
				})
			}
		}
	}

	if mem, ok := e.Field("memory_usage"); ok && mem > 0 {
		d.memoryHistory = ringAppend(d.memoryHistory, mem, resourceHistorySize)

		if len(d.memoryHistory) >= 10 {
			recentAvg := stat.Mean(d.memoryHistory[len(d.memoryHistory)-5:], nil)
			historicalAvg := stat.Mean(d.memoryHistory[:len(d.memoryHistory)-5], nil)

			if recentAvg > historicalAvg*1.2 && recentAvg > 80 {
				severity := SeverityWarning
				if recentAvg >= 90 {
					severity = SeverityCritical
				}
				hits = append(hits, RuleHit{
					Type:     "memory_leak",
					Score:    math.Min(1.0, (recentAvg-80)/20),
					Severity: severity,
					Details: map[string]interface{}{
						"current_memory":    recentAvg,
						"historical_memory": historicalAvg,
					},
				})
			}
			if recentAvg >= 95 {
				hits = append(hits, RuleHit{
					Type:     "oom_imminent",
					Score:    1.0,
					Severity: SeverityCritical,
					Details:  map[string]interface{}{"memory_usage": recentAvg},
				})
			}
		}
	}

	return hits
}

func (d *ComprehensiveDetector) checkSecurity(e *event.Event, recent []*event.Event) []RuleHit {
	var hits []RuleHit

	if ip := clientIP(e); ip != "unknown" {
		stats, ok := d.ips.Get(ip)
		if !ok {
			stats = &ipStats{
				Endpoints:  make(map[string]struct{}),
				UserAgents: make(map[string]struct{}),
			}
		}
		stats.Count++
		stats.Endpoints[e.EndpointOrUnknown()] = struct{}{}
		stats.UserAgents[userAgent(e)] = struct{}{}
		stats.LastSeen = d.clock.Now()
		if when, err := e.When(); err == nil {
			stats.Requests = append(stats.Requests, when)
			if len(stats.Requests) > ipRequestWindow {
				copy(stats.Requests, stats.Requests[1:])
				stats.Requests = stats.Requests[:ipRequestWindow]
			}
		}
		d.ips.Add(ip, stats)

		if stats.Count > 50 {
			hits = append(hits, RuleHit{
				Type:     "suspicious_ip_activity",
				Score:    math.Min(1.0, float64(stats.Count)/100),
				Severity: SeverityWarning,
				Details: map[string]interface{}{
					"ip":                 ip,
					"request_count":      stats.Count,
					"endpoints_accessed": len(stats.Endpoints),
					"description":        "동일 IP에서 과도한 요청 감지",
				},
			})
		}

		if len(stats.Requests) >= 10 {
			last10 := stats.Requests[len(stats.Requests)-10:]
			span := last10[len(last10)-1].Sub(last10[0]).Seconds()
			if span > 0 && span < 10 {
				if rps := 10 / span; rps > 5 {
					hits = append(hits, RuleHit{
						Type:     "rapid_request_pattern",
						Score:    math.Min(1.0, rps/10),
						Severity: SeverityWarning,
						Details: map[string]interface{}{
							"ip":          ip,
							"rps":         rps,
							"description": "짧은 주기 반복 요청 패턴",
						},
					})
				}
			}
		}
	}

	counts := make(map[string]int)
	tail := recent
	if len(tail) > 50 {
		tail = tail[len(tail)-50:]
	}
	for _, ev := range tail {
		counts[ev.EndpointOrUnknown()]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if counts[name] > 30 {
			hits = append(hits, RuleHit{
				Type:     "endpoint_attack",
				Score:    math.Min(1.0, float64(counts[name])/50),
				Severity: SeverityWarning,
				Details: map[string]interface{}{
					"endpoint":      name,
					"request_count": counts[name],
					"description":   "특정 엔드포인트 집중 공격 의심",
				},
			})
		}
	}

	return hits
}

func (d *ComprehensiveDetector) trackEndpoint(e *event.Event) {
	name := e.EndpointOrUnknown()
	var stats *endpointStats
	if v, ok := d.endpoints.Get(name); ok {
		stats = v.(*endpointStats)
	} else {
		stats = &endpointStats{}
	}
	stats.Count++
	if e.IsError() {
		stats.ErrorCount++
	}
	if rt, ok := e.Field("response_time"); ok {
		stats.ResponseTimes = ringAppend(stats.ResponseTimes, rt, endpointRTWindow)
	}
	stats.LastSeen = d.clock.Now()
	d.endpoints.Set(name, stats, cache.DefaultExpiration)
}

// EndpointSnapshot summarizes one endpoint's traffic.
type EndpointSnapshot struct {
	Count           int     `json:"count"`
	ErrorCount      int     `json:"error_count"`
	AvgResponseTime float64 `json:"avg_response_time"`
	LastSeen        string  `json:"last_seen"`
}

// EndpointStats snapshots every tracked endpoint.
func (d *ComprehensiveDetector) EndpointStats() map[string]EndpointSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	items := d.endpoints.Items()
	out := make(map[string]EndpointSnapshot, len(items))
	for name, item := range items {
		stats, ok := item.Object.(*endpointStats)
		if !ok {
			continue
		}
		snap := EndpointSnapshot{
			Count:      stats.Count,
			ErrorCount: stats.ErrorCount,
			LastSeen:   event.FormatTime(stats.LastSeen),
		}
		if len(stats.ResponseTimes) > 0 {
			snap.AvgResponseTime = stat.Mean(stats.ResponseTimes, nil)
		}
		out[name] = snap
	}
	return out
}

// IPSnapshot summarizes one client's request history.
type IPSnapshot struct {
	Count      int    `json:"count"`
	Endpoints  int    `json:"endpoints"`
	UserAgents int    `json:"user_agents"`
	LastSeen   string `json:"last_seen"`
}

// IPStats snapshots every tracked client IP.
func (d *ComprehensiveDetector) IPStats() map[string]IPSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]IPSnapshot, d.ips.Len())
	for _, ip := range d.ips.Keys() {
		stats, ok := d.ips.Peek(ip)
		if !ok {
			continue
		}
		out[ip] = IPSnapshot{
			Count:      stats.Count,
			Endpoints:  len(stats.Endpoints),
			UserAgents: len(stats.UserAgents),
			LastSeen:   event.FormatTime(stats.LastSeen),
		}
	}
	return out
}

// ComprehensiveStats reports how much rolling state the detector holds.
type ComprehensiveStats struct {
	ResponseTimeSamples int `json:"response_time_samples"`
	RPSSamples          int `json:"rps_samples"`
	ErrorRateSamples    int `json:"error_rate_samples"`
	CPUSamples          int `json:"cpu_samples"`
	MemorySamples       int `json:"memory_samples"`
	TrackedIPs          int `json:"tracked_ips"`
	TrackedEndpoints    int `json:"tracked_endpoints"`
}

// Stats reports the size of each rolling history.
func (d *ComprehensiveDetector) Stats() ComprehensiveStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return ComprehensiveStats{
		ResponseTimeSamples: len(d.responseTimes),
		RPSSamples:          len(d.rpsHistory),
		ErrorRateSamples:    len(d.errorRates),
		CPUSamples:          len(d.cpuHistory),
		MemorySamples:       len(d.memoryHistory),
		TrackedIPs:          d.ips.Len(),
		TrackedEndpoints:    d.endpoints.ItemCount(),
	}
}

// Reset drops every rolling history and tracked client.
func (d *ComprehensiveDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.responseTimes = nil
	d.rpsHistory = nil
	d.errorRates = nil
	d.cpuHistory = nil
	d.memoryHistory = nil
	d.ips.Purge()
	d.endpoints.Flush()
}

func clientIP(e *event.Event) string {
	if e.IP != "" {
		return e.IP
	}
	if v, ok := e.Extra["remote_addr"].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func userAgent(e *event.Event) string {
	if e.UserAgent != "" {
		return e.UserAgent
	}
	return "unknown"
}

// eventSpanSeconds is the elapsed time between the first and last event.
func eventSpanSeconds(events []*event.Event) (float64, bool) {
	if len(events) < 2 {
		return 0, false
	}
	first, err := events[0].When()
	if err != nil {
		return 0, false
	}
	last, err := events[len(events)-1].When()
	if err != nil {
		return 0, false
	}
	return last.Sub(first).Seconds(), true
}

// percentileOf interpolates linearly between the two closest ranks of an
// already sorted sample. p is in percent, 0 to 100.
func percentileOf(sorted []float64, p float64) float64 {
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
