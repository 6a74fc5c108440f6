// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"strings"

	"github.com/cihub/seelog"

	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

const logFileMaxSize = 10 * 1024 * 1024         // 10MB
const logDateFormat = "2006-01-02 15:04:05 MST" // see time.Format for format syntax

// SetupLogger sets up the default logger: console output, plus a size-rolled
// file when logFile is non-empty.
func SetupLogger(logLevel, logFile string) error {
	seelogConfig, err := buildLoggerConfig(logLevel, logFile)
	if err != nil {
		return err
	}
	logger, err := seelog.LoggerFromConfigAsString(seelogConfig)
	if err != nil {
		return err
	}
	log.SetupLogger(logger, logLevel)
	return nil
}

func buildLoggerConfig(logLevel, logFile string) (string, error) {
	if _, ok := seelog.LogLevelFromString(strings.ToLower(logLevel)); !ok {
		return "", fmt.Errorf("unknown log level: %s", logLevel)
	}

	configTemplate := `<seelog minlevel="%s">
    <outputs formatid="common">
        <console />`
	args := []interface{}{strings.ToLower(logLevel)}
	if logFile != "" {
		configTemplate += `<rollingfile type="size" filename="%s" maxsize="%d" maxrolls="1" />`
		args = append(args, logFile, logFileMaxSize)
	}
	configTemplate += `</outputs>
    <formats>
        <format id="common" format="%%Date(%s) | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
    </formats>
</seelog>`
	args = append(args, logDateFormat)

	return fmt.Sprintf(configTemplate, args...), nil
}
