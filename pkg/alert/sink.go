// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package alert

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Sink receives every alert that survives dedup.
type Sink interface {
	Emit(a *Alert)
}

// ConsoleSink prints alerts to the terminal, color-coded by level.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink returns a sink writing to the process standard output.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{w: color.Output}
}

// Emit writes one line per alert.
func (s *ConsoleSink) Emit(a *Alert) {
	line := fmt.Sprintf("%s | %-8s | %s", a.Timestamp, strings.ToUpper(string(a.Level)), a.Message)
	switch a.Level {
	case LevelCritical:
		fmt.Fprintln(s.w, color.RedString(line))
	case LevelWarning:
		fmt.Fprintln(s.w, color.YellowString(line))
	default:
		fmt.Fprintln(s.w, color.CyanString(line))
	}
}
