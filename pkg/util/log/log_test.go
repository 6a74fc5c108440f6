// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cihub/seelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, w *bytes.Buffer, minLevel seelog.LogLevel) seelog.LoggerInterface {
	l, err := seelog.LoggerFromWriterWithMinLevelAndFormat(w, minLevel, "[%LEVEL] %Msg\n")
	require.NoError(t, err)
	return l
}

func TestBasicLogging(t *testing.T) {
	var w bytes.Buffer
	SetupLogger(newTestLogger(t, &w, seelog.TraceLvl), "debug")

	Tracef("%s am %s", "I", "trace")
	Debugf("%s am %s", "I", "debug")
	Infof("%s am %s", "I", "info")
	Warnf("%s am %s", "I", "warn")
	Errorf("%s am %s", "I", "error")
	Criticalf("%s am %s", "I", "critical")
	Flush()

	// trace is below the configured level and must not appear
	assert.NotContains(t, w.String(), "I am trace")
	for _, msg := range []string{"I am debug", "I am info", "I am warn", "I am error", "I am critical"} {
		assert.Contains(t, w.String(), msg)
	}

	w.Reset()
	Info("an", "unformatted", "message")
	Flush()
	assert.Contains(t, w.String(), "an unformatted message")
}

func TestWarnReturnsError(t *testing.T) {
	var w bytes.Buffer
	SetupLogger(newTestLogger(t, &w, seelog.TraceLvl), "info")

	err := Warnf("socket %s unreachable", "localhost:8888")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket localhost:8888 unreachable")
}

func TestChangeLogLevel(t *testing.T) {
	var w bytes.Buffer
	SetupLogger(newTestLogger(t, &w, seelog.TraceLvl), "info")

	require.NoError(t, ChangeLogLevel(newTestLogger(t, &w, seelog.TraceLvl), "error"))
	lvl, err := GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, seelog.LogLevel(seelog.ErrorLvl), lvl)

	Info("should be filtered")
	Error("should pass")
	Flush()
	assert.NotContains(t, w.String(), "should be filtered")
	assert.Contains(t, w.String(), "should pass")

	assert.Error(t, ChangeLogLevel(newTestLogger(t, &w, seelog.TraceLvl), "not-a-level"))
}

func TestLogBufferedBeforeInit(t *testing.T) {
	// reset global state to simulate pre-init logging
	logger = nil
	bufferLogsBeforeInit = true
	logsBuffer = []func(){}

	Infof("buffered %d", 1)
	Warnf("buffered %d", 2)

	var w bytes.Buffer
	SetupLogger(newTestLogger(t, &w, seelog.TraceLvl), "debug")
	Flush()

	assert.Contains(t, w.String(), "buffered 1")
	assert.Contains(t, w.String(), "buffered 2")
	assert.Equal(t, 1, strings.Count(w.String(), "buffered 1"))
}
