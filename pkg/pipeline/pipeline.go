// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pipeline wires the agent together: one event source feeding a
// single consumer goroutine that owns the rolling windows, the statistical
// detectors, the rule detector, and the alert manager. Detection state has
// exactly one writer; the status API reads concurrently through the
// components' own locks.
package pipeline

import (
	"context"
	"sync"

	ddgostatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/DataDog/anomaly-agent/pkg/alert"
	"github.com/DataDog/anomaly-agent/pkg/anomaly"
	"github.com/DataDog/anomaly-agent/pkg/config"
	"github.com/DataDog/anomaly-agent/pkg/event"
	"github.com/DataDog/anomaly-agent/pkg/features"
	"github.com/DataDog/anomaly-agent/pkg/ingest"
	"github.com/DataDog/anomaly-agent/pkg/preprocess"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
	"github.com/DataDog/anomaly-agent/pkg/window"
)

// recentWindow is how many buffered events each detection pass sees: the
// feature extractor aggregates over it and the rule detector scans it.
const recentWindow = 100

const metricPrefix = "anomaly_agent.pipeline."

// Pipeline runs the ingest-detect-alert loop. Sources are single use, so
// every Start obtains a fresh one from the factory; detection state persists
// across runs until Reset.
type Pipeline struct {
	mu sync.Mutex

	settings *config.Settings
	clock    clock.Clock

	newSource func() (ingest.Source, error)

	windows   *window.Manager
	pre       *preprocess.Preprocessor
	extractor *features.Extractor
	detector  *anomaly.Manager
	rules     *anomaly.ComprehensiveDetector
	alerts    *alert.Manager

	statsd ddgostatsd.ClientInterface

	featureNames []string

	source    ingest.Source
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
	processed int64
}

// New assembles a pipeline from the settings tree. A nil clock means the
// wall clock. Nothing runs until Start.
func New(settings *config.Settings, clk clock.Clock) *Pipeline {
	if clk == nil {
		clk = clock.New()
	}

	featureNames := settings.Anomaly.Features
	if len(featureNames) == 0 {
		featureNames = anomaly.DefaultConfig().Features
	}

	detector := anomaly.NewManager(anomaly.Config{
		Method:             settings.Anomaly.Method,
		Features:           featureNames,
		MinTrainingSamples: settings.Anomaly.MinTrainingSamples,
		ZScore: anomaly.ZScoreConfig{
			Threshold:  settings.Anomaly.ZScore.Threshold,
			WindowSize: settings.Anomaly.ZScore.WindowSize,
		},
		Forest: anomaly.ForestConfig{
			Contamination: settings.Anomaly.IsolationForest.Contamination,
			NEstimators:   settings.Anomaly.IsolationForest.NEstimators,
			MaxSamples:    settings.Anomaly.IsolationForest.MaxSamples,
		},
		ChangePoint: anomaly.ChangePointConfig{
			Sensitivity: settings.Anomaly.ChangePoint.Sensitivity,
			MinChange:   settings.Anomaly.ChangePoint.MinChange,
			WindowSize:  settings.Anomaly.ChangePoint.WindowSize,
		},
		ChangePointEnabled: settings.Anomaly.ChangePoint.Enabled,
	})

	alerts := alert.NewManager(alert.Config{
		MaxAlerts:   settings.Alerts.MaxAlerts,
		Threshold:   settings.Alerts.Threshold,
		DedupWindow: settings.Alerts.DedupWindow,
		Clock:       clk,
	})
	if settings.Alerts.Console {
		alerts.AddSink(alert.NewConsoleSink())
	}

	var statsdClient ddgostatsd.ClientInterface = &ddgostatsd.NoOpClient{}
	if settings.StatsdAddr != "" {
		client, err := ddgostatsd.New(settings.StatsdAddr)
		if err != nil {
			log.Warnf("statsd client unavailable at %s: %v", settings.StatsdAddr, err)
		} else {
			statsdClient = client
		}
	}

	return &Pipeline{
		settings: settings,
		clock:    clk,
		newSource: func() (ingest.Source, error) {
			return ingest.New(settings.Stream, clk)
		},
		windows:      window.NewManager(window.Config{Clock: clk}),
		pre:          preprocess.New(preprocess.DefaultConfig()),
		extractor:    features.New(features.Config{Fields: featureNames}),
		detector:     detector,
		rules:        anomaly.NewComprehensiveDetector(anomaly.ComprehensiveConfig{Clock: clk}),
		alerts:       alerts,
		statsd:       statsdClient,
		featureNames: featureNames,
	}
}

// Alerts exposes the alert manager for the status API.
func (p *Pipeline) Alerts() *alert.Manager { return p.alerts }

// Start obtains a fresh source and begins consuming it. Starting a running
// pipeline is a no-op.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		log.Warn("pipeline already running")
		return nil
	}

	src, err := p.newSource()
	if err != nil {
		p.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		cancel()
		p.mu.Unlock()
		return errors.Wrap(err, "starting event source")
	}

	done := make(chan struct{})
	p.source = src
	p.cancel = cancel
	p.done = done
	p.running = true
	p.mu.Unlock()

	log.Infof("pipeline started (mode: %s)", p.settings.Stream.Mode)
	go p.loop(src, done)
	return nil
}

// Stop halts the source, drains what it already produced, and waits for the
// consumer to finish. Windows, training state, and alerts are preserved.
// Safe to call multiple times and before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	src, done, cancel := p.source, p.done, p.cancel
	p.mu.Unlock()

	if src != nil {
		src.Stop()
	}
	if done != nil {
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

// loop consumes the source until its channel closes, which happens on Stop
// or when the source ends on its own (a bounded mock stream, a peer
// hangup). Either way the pipeline is marked stopped on exit.
func (p *Pipeline) loop(src ingest.Source, done chan struct{}) {
	defer func() {
		stats := src.Stats()
		if stats.Dropped > 0 {
			p.statsd.Count(metricPrefix+"events_dropped", int64(stats.Dropped), nil, 1) //nolint:errcheck
		}
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
		log.Infof("pipeline stopped after %d events", stats.EventCount)
	}()

	for e := range src.Events() {
		p.handle(e)
		p.statsd.Gauge(metricPrefix+"buffer_size", float64(len(src.Events())), nil, 1) //nolint:errcheck
	}
}

// handle runs one event through the full detection pass: buffer it, extract
// features over the recent window, score it with the statistical ensemble,
// then with the rule detector, and hand both verdicts to the alert manager.
func (p *Pipeline) handle(e *event.Event) {
	p.windows.AddEvent(e)
	e = p.pre.Event(e)

	recent := p.windows.RecentEvents(recentWindow)
	res := p.detector.Detect(p.featureVector(e, recent))
	emitted := 0
	if a := p.alerts.Process(res, e); a != nil {
		emitted++
	}

	comp := p.rules.Check(e, recent)
	if a := p.alerts.ProcessRules(comp, e); a != nil {
		emitted++
	}

	p.statsd.Incr(metricPrefix+"events_ingested", nil, 1) //nolint:errcheck
	if res.IsAnomaly || comp.IsAnomaly {
		p.statsd.Incr(metricPrefix+"anomalies_detected", nil, 1) //nolint:errcheck
	}
	if emitted > 0 {
		p.statsd.Count(metricPrefix+"alerts_emitted", int64(emitted), nil, 1) //nolint:errcheck
	}

	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
}

// featureVector assembles the map the statistical detectors score: windowed
// aggregates over the recent snapshot, overlaid with the current event's own
// fields, which win under the same name.
func (p *Pipeline) featureVector(e *event.Event, recent []*event.Event) map[string]float64 {
	vector := p.extractor.Extract(recent)
	for _, name := range p.featureNames {
		if v, ok := e.Field(name); ok {
			vector[name] = v
		}
	}
	return vector
}

// Reset clears windows, detector training, rule histories, and alerts. The
// pipeline must be stopped first.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("cannot reset a running pipeline")
	}
	p.source = nil
	p.processed = 0
	p.mu.Unlock()

	p.windows.ClearAll()
	p.detector.Reset()
	p.rules.Reset()
	p.alerts.Reset()
	log.Info("pipeline state reset")
	return nil
}

// Status is a point-in-time snapshot of every component, shaped for the
// status API.
type Status struct {
	Running   bool                       `json:"running"`
	Mode      string                     `json:"mode"`
	Processed int64                      `json:"events_processed"`
	Source    *ingest.SourceStats        `json:"source,omitempty"`
	Windows   window.Stats               `json:"windows"`
	Detector  anomaly.Stats              `json:"detector"`
	Rules     anomaly.ComprehensiveStats `json:"rules"`
	Alerts    alert.Stats                `json:"alerts"`
}

// Status reports the pipeline and component state. Source stats stay
// readable after a stop until the next Reset.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	running := p.running
	src := p.source
	processed := p.processed
	p.mu.Unlock()

	st := Status{
		Running:   running,
		Mode:      p.settings.Stream.Mode,
		Processed: processed,
		Windows:   p.windows.Stats(),
		Detector:  p.detector.Stats(),
		Rules:     p.rules.Stats(),
		Alerts:    p.alerts.Stats(),
	}
	if src != nil {
		stats := src.Stats()
		st.Source = &stats
	}
	return st
}
