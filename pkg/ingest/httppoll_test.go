// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/anomaly-agent/pkg/config"
)

func TestHTTPPollerEmitsPerURL(t *testing.T) {
	headers := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("X-Probe")
		if r.URL.Path == "/ok" {
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	mk := clock.NewMock()
	src := NewHTTPPollerSource(config.HTTPSettings{
		URLs:     []string{srv.URL + "/ok", srv.URL + "/missing"},
		Interval: time.Second,
		Timeout:  5 * time.Second,
		Method:   http.MethodGet,
		Headers:  map[string]string{"X-Probe": "anomaly-agent"},
	}, mk)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	mk.Add(time.Second)

	first := waitEvent(t, src.Events())
	assert.Equal(t, srv.URL+"/ok", first.Endpoint)
	require.NotNil(t, first.StatusCode)
	assert.Equal(t, 200.0, *first.StatusCode)
	require.NotNil(t, first.ResponseTime)
	assert.GreaterOrEqual(t, *first.ResponseTime, 0.0)

	second := waitEvent(t, src.Events())
	assert.Equal(t, srv.URL+"/missing", second.Endpoint)
	require.NotNil(t, second.StatusCode)
	assert.Equal(t, 404.0, *second.StatusCode)

	assert.Equal(t, "anomaly-agent", <-headers)

	stats := src.Stats()
	assert.Equal(t, ModeHTTP, stats.Mode)
	assert.Equal(t, 2, stats.EventCount)
	assert.Zero(t, stats.Failures)
}

func TestHTTPPollerRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // refuse every request

	mk := clock.NewMock()
	src := NewHTTPPollerSource(config.HTTPSettings{
		URLs:     []string{url},
		Interval: time.Second,
		Timeout:  time.Second,
	}, mk)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	mk.Add(time.Second)

	e := waitEvent(t, src.Events())
	assert.Equal(t, url, e.Endpoint)
	require.NotNil(t, e.StatusCode)
	assert.Zero(t, *e.StatusCode)
	assert.Nil(t, e.ResponseTime)

	assert.Equal(t, 1, src.Stats().Failures)
}

func TestHTTPPollerNoURLs(t *testing.T) {
	src := NewHTTPPollerSource(config.HTTPSettings{}, clock.NewMock())
	assert.Error(t, src.Start(context.Background()))
}

func TestHTTPPollerPollsEveryInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	mk := clock.NewMock()
	src := NewHTTPPollerSource(config.HTTPSettings{
		URLs:     []string{srv.URL},
		Interval: time.Second,
		Timeout:  5 * time.Second,
	}, mk)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	for i := 0; i < 3; i++ {
		mk.Add(time.Second)
		e := waitEvent(t, src.Events())
		assert.Equal(t, srv.URL, e.Endpoint)
	}
	assert.Equal(t, 3, src.Stats().EventCount)
}
