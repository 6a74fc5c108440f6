// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package event defines the telemetry record flowing through the pipeline.
package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// TimeFormat is the canonical timestamp layout carried by events. Producers
// format with it, consumers reject any deviation.
const TimeFormat = "2006-01-02 15:04:05.000000"

// DefaultStatus is assumed when an event carries no status code.
const DefaultStatus = 200.0

// Event is one telemetry record. Numeric fields are pointers: nil means the
// field was absent or not of numeric kind in the source record. Unknown keys
// are preserved opaquely in Extra.
type Event struct {
	// Timestamp is the display timestamp in TimeFormat, local time.
	Timestamp string
	// Instant is the monotonic receipt or emission time. It is stamped by
	// sources and by the window manager; time-based detector rules prefer
	// it over re-parsing Timestamp.
	Instant time.Time

	Endpoint     string
	StatusCode   *float64
	ResponseTime *float64 // milliseconds
	CPUUsage     *float64 // percent
	MemoryUsage  *float64 // percent
	IP           string
	UserAgent    string
	// IsAnomaly is a source-provided label. Informational only: detectors
	// never read it.
	IsAnomaly *bool

	Extra map[string]interface{}
}

// Float returns a pointer to v, for constructing events.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to b, for constructing events.
func Bool(b bool) *bool { return &b }

// FormatTime renders t in the canonical event timestamp format.
func FormatTime(t time.Time) string {
	return t.Format(TimeFormat)
}

// ParseTime parses a canonical event timestamp in local time. Any deviation
// from the canonical layout is an error.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeFormat, s, time.Local)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bad event timestamp %q", s)
	}
	return t, nil
}

// Decode unmarshals a single JSON object into an Event. Numbers are decoded
// with UseNumber so that numeric kind is preserved exactly; a field of the
// wrong kind is never coerced, it lands in Extra instead.
func Decode(data []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "malformed event")
	}
	return FromMap(raw), nil
}

// FromMap builds an Event from a decoded JSON object.
func FromMap(raw map[string]interface{}) *Event {
	e := &Event{}
	for k, v := range raw {
		switch k {
		case "timestamp":
			if s, ok := v.(string); ok {
				e.Timestamp = s
				continue
			}
		case "endpoint":
			if s, ok := v.(string); ok {
				e.Endpoint = s
				continue
			}
		case "status_code":
			if f, ok := coerceNumber(v); ok {
				e.StatusCode = &f
				continue
			}
		case "response_time":
			if f, ok := coerceNumber(v); ok {
				e.ResponseTime = &f
				continue
			}
		case "cpu_usage":
			if f, ok := coerceNumber(v); ok {
				e.CPUUsage = &f
				continue
			}
		case "memory_usage":
			if f, ok := coerceNumber(v); ok {
				e.MemoryUsage = &f
				continue
			}
		case "ip":
			if s, ok := v.(string); ok {
				e.IP = s
				continue
			}
		case "user_agent":
			if s, ok := v.(string); ok {
				e.UserAgent = s
				continue
			}
		case "is_anomaly":
			if b, ok := v.(bool); ok {
				e.IsAnomaly = &b
				continue
			}
		}
		e.SetExtra(k, v)
	}
	return e
}

// coerceNumber reports the float value of v when v is of numeric kind.
func coerceNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// SetExtra records an unknown or mistyped key.
func (e *Event) SetExtra(k string, v interface{}) {
	if e.Extra == nil {
		e.Extra = make(map[string]interface{})
	}
	e.Extra[k] = v
}

// Status returns the status code, or DefaultStatus when absent.
func (e *Event) Status() float64 {
	if e.StatusCode == nil {
		return DefaultStatus
	}
	return *e.StatusCode
}

// NumericStatus returns the status code only when the source record carried
// one of numeric kind.
func (e *Event) NumericStatus() (float64, bool) {
	if e.StatusCode == nil {
		return 0, false
	}
	return *e.StatusCode, true
}

// IsError reports whether the event carries a numeric status code >= 400.
func (e *Event) IsError() bool {
	v, ok := e.NumericStatus()
	return ok && v >= 400
}

// EndpointOrUnknown returns the endpoint, or "unknown" when empty.
func (e *Event) EndpointOrUnknown() string {
	if e.Endpoint == "" {
		return "unknown"
	}
	return e.Endpoint
}

// Field returns the named numeric field. Known fields read the typed
// members; anything else is looked up in Extra and accepted only if of
// numeric kind.
func (e *Event) Field(name string) (float64, bool) {
	switch name {
	case "response_time":
		if e.ResponseTime != nil {
			return *e.ResponseTime, true
		}
	case "cpu_usage":
		if e.CPUUsage != nil {
			return *e.CPUUsage, true
		}
	case "memory_usage":
		if e.MemoryUsage != nil {
			return *e.MemoryUsage, true
		}
	case "status_code":
		if e.StatusCode != nil {
			return *e.StatusCode, true
		}
	default:
		if v, ok := e.Extra[name]; ok {
			return coerceNumber(v)
		}
	}
	return 0, false
}

// When returns the event's time: the monotonic instant when stamped,
// otherwise the parsed display timestamp.
func (e *Event) When() (time.Time, error) {
	if !e.Instant.IsZero() {
		return e.Instant, nil
	}
	return ParseTime(e.Timestamp)
}
