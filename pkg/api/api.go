// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package api exposes the agent's local control surface over HTTP: component
// stats for dashboards, the retained alerts, and pipeline start/stop/reset.
// The server binds to localhost by default and speaks JSON only.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/DataDog/anomaly-agent/pkg/alert"
	"github.com/DataDog/anomaly-agent/pkg/config"
	"github.com/DataDog/anomaly-agent/pkg/pipeline"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Error *APIError `json:"error,omitempty"`
}

// APIError is an error response.
type APIError struct {
	Message string `json:"message"`
}

// SystemStats is the agent process footprint reported by the status
// endpoint. Zero values mean the probe failed.
type SystemStats struct {
	RSS    uint64  `json:"rss_bytes"`
	Load1  float64 `json:"load_1"`
	Load5  float64 `json:"load_5"`
	Load15 float64 `json:"load_15"`
}

// StatusResponse is the response to the status endpoint.
type StatusResponse struct {
	APIResponse
	Pipeline pipeline.Status `json:"pipeline"`
	System   SystemStats     `json:"system"`
}

// AlertsResponse is the response to the alerts endpoint.
type AlertsResponse struct {
	APIResponse
	Count  int           `json:"count"`
	Alerts []alert.Alert `json:"alerts"`
}

// Server serves the local status API for one pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	listener net.Listener
	server   *http.Server
}

// NewServer binds the configured address. Nothing is served until Start.
func NewServer(settings config.APISettings, p *pipeline.Pipeline) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding status API on %s", addr)
	}
	return &Server{
		pipeline: p,
		listener: listener,
		server:   &http.Server{},
	}, nil
}

// Addr returns the bound address, which differs from the configured one when
// the port was 0.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Start begins serving in the background.
func (s *Server) Start() {
	s.server.Handler = s.handler()
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("status API server stopped: %v", err)
		}
	}()
	log.Infof("status API listening on %s", s.Addr())
}

// Stop shuts the server down, waiting for in-flight requests until the
// context expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.alerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/{index}/ack", s.acknowledge).Methods(http.MethodPost)
	r.HandleFunc("/pipeline/start", s.startPipeline).Methods(http.MethodPost)
	r.HandleFunc("/pipeline/stop", s.stopPipeline).Methods(http.MethodPost)
	r.HandleFunc("/pipeline/reset", s.resetPipeline).Methods(http.MethodPost)
	return r
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var response StatusResponse
	defer func() {
		_ = json.NewEncoder(w).Encode(response)
	}()
	response.Pipeline = s.pipeline.Status()
	response.System = systemStats()
}

// systemStats probes the agent process and the host. Best effort: a failed
// probe leaves its fields zero rather than failing the status request.
func systemStats() SystemStats {
	var stats SystemStats
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			stats.RSS = mem.RSS
		}
	}
	if avg, err := load.Avg(); err == nil && avg != nil {
		stats.Load1 = avg.Load1
		stats.Load5 = avg.Load5
		stats.Load15 = avg.Load15
	}
	return stats
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var response AlertsResponse
	defer func() {
		_ = json.NewEncoder(w).Encode(response)
	}()

	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			response.Error = &APIError{Message: fmt.Sprintf("invalid count %q", raw)}
			return
		}
		count = parsed
	}

	level := alert.Level(r.URL.Query().Get("level"))
	switch level {
	case "", alert.LevelInfo, alert.LevelWarning, alert.LevelCritical:
	default:
		w.WriteHeader(http.StatusBadRequest)
		response.Error = &APIError{Message: fmt.Sprintf("unknown level %q", level)}
		return
	}

	response.Alerts = s.pipeline.Alerts().RecentAlerts(count, level)
	response.Count = len(response.Alerts)
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var response APIResponse
	defer func() {
		_ = json.NewEncoder(w).Encode(response)
	}()

	raw := mux.Vars(r)["index"]
	index, err := strconv.Atoi(raw)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		response.Error = &APIError{Message: fmt.Sprintf("invalid alert index %q", raw)}
		return
	}
	if !s.pipeline.Alerts().Acknowledge(index) {
		w.WriteHeader(http.StatusNotFound)
		response.Error = &APIError{Message: fmt.Sprintf("no alert at index %d", index)}
		return
	}
}

func (s *Server) startPipeline(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var response APIResponse
	defer func() {
		_ = json.NewEncoder(w).Encode(response)
	}()
	log.Info("received local request to start the pipeline")
	if err := s.pipeline.Start(); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		response.Error = &APIError{Message: err.Error()}
		return
	}
}

func (s *Server) stopPipeline(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var response APIResponse
	defer func() {
		_ = json.NewEncoder(w).Encode(response)
	}()
	log.Info("received local request to stop the pipeline")
	s.pipeline.Stop()
}

func (s *Server) resetPipeline(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var response APIResponse
	defer func() {
		_ = json.NewEncoder(w).Encode(response)
	}()
	log.Info("received local request to reset the pipeline")
	if err := s.pipeline.Reset(); err != nil {
		w.WriteHeader(http.StatusConflict)
		response.Error = &APIError{Message: err.Error()}
		return
	}
}
