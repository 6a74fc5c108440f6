// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	data := []byte(`{
		"timestamp": "2026-03-01 10:00:00.000000",
		"endpoint": "/api/users",
		"status_code": 500,
		"response_time": 123.4,
		"cpu_usage": 55,
		"memory_usage": 61.2,
		"ip": "10.0.0.1",
		"user_agent": "curl/8.0",
		"is_anomaly": true,
		"region": "eu-west-1"
	}`)

	e, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "2026-03-01 10:00:00.000000", e.Timestamp)
	assert.Equal(t, "/api/users", e.Endpoint)
	require.NotNil(t, e.StatusCode)
	assert.Equal(t, 500.0, *e.StatusCode)
	require.NotNil(t, e.ResponseTime)
	assert.Equal(t, 123.4, *e.ResponseTime)
	require.NotNil(t, e.CPUUsage)
	assert.Equal(t, 55.0, *e.CPUUsage)
	assert.Equal(t, "10.0.0.1", e.IP)
	assert.Equal(t, "curl/8.0", e.UserAgent)
	require.NotNil(t, e.IsAnomaly)
	assert.True(t, *e.IsAnomaly)
	// unknown keys are preserved opaquely
	assert.Contains(t, e.Extra, "region")
}

func TestDecodeNonNumericSkipped(t *testing.T) {
	e, err := Decode([]byte(`{"status_code": "error", "response_time": null, "cpu_usage": [1, 2]}`))
	require.NoError(t, err)

	// mistyped fields are never coerced
	assert.Nil(t, e.StatusCode)
	assert.Nil(t, e.ResponseTime)
	assert.Nil(t, e.CPUUsage)
	assert.Contains(t, e.Extra, "status_code")

	// absent status reads as the default
	assert.Equal(t, 200.0, e.Status())
	_, ok := e.NumericStatus()
	assert.False(t, ok)
	assert.False(t, e.IsError())
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
	_, err = Decode([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestTimeCodec(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 15, 123456000, time.Local)
	s := FormatTime(ts)
	assert.Equal(t, "2026-03-01 09:30:15.123456", s)

	parsed, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	// deviations from the canonical layout are rejected
	for _, bad := range []string{
		"2026-03-01T09:30:15.123456",
		"2026-03-01 09:30:15",
		"01/03/2026 09:30:15.123456",
		"",
	} {
		_, err := ParseTime(bad)
		assert.Error(t, err, "expected parse failure for %q", bad)
	}
}

func TestField(t *testing.T) {
	e := &Event{
		ResponseTime: Float(42),
		Extra:        map[string]interface{}{"queue_depth": 7.0, "zone": "a"},
	}

	v, ok := e.Field("response_time")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = e.Field("cpu_usage")
	assert.False(t, ok)

	v, ok = e.Field("queue_depth")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	_, ok = e.Field("zone")
	assert.False(t, ok)
}

func TestWhenPrefersInstant(t *testing.T) {
	now := time.Now()
	e := &Event{Timestamp: "garbage", Instant: now}
	got, err := e.When()
	require.NoError(t, err)
	assert.True(t, got.Equal(now))

	e = &Event{Timestamp: "2026-03-01 09:30:15.123456"}
	got, err = e.When()
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01 09:30:15.123456", FormatTime(got))

	e = &Event{Timestamp: "garbage"}
	_, err = e.When()
	assert.Error(t, err)
}
