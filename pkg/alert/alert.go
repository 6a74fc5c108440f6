// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package alert turns detection results into deduplicated, leveled alerts
// and fans them out to registered sinks.
package alert

import (
	"fmt"

	"github.com/google/uuid"
)

// Level grades an alert.
type Level string

// Alert levels, least to most severe.
const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is a single notification. Details carries the detection result and a
// summary of the event that produced it.
type Alert struct {
	ID           string                 `json:"id"`
	Level        Level                  `json:"level"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details"`
	Timestamp    string                 `json:"timestamp"`
	Acknowledged bool                   `json:"acknowledged"`
}

func newAlert(level Level, message string, details map[string]interface{}, timestamp string) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   message,
		Details:   details,
		Timestamp: timestamp,
	}
}

// statusMessages is the reason-phrase table used in HTTP error alerts.
// Codes outside the table render as "HTTP <code>".
var statusMessages = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	408: "Request Timeout",
	418: "I'm a teapot",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

func statusMessage(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("HTTP %d", code)
}

// determineLevel maps a detection verdict to an alert level.
func determineLevel(score float64, isAnomaly bool) Level {
	switch {
	case !isAnomaly:
		return LevelInfo
	case score >= 0.9:
		return LevelCritical
	case score >= 0.7:
		return LevelWarning
	default:
		return LevelInfo
	}
}
