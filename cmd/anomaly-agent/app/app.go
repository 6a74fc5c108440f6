// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package app implements the anomaly-agent command line interface.
package app

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DataDog/anomaly-agent/pkg/config"
)

var (
	// AgentCmd is the root command
	AgentCmd = &cobra.Command{
		Use:   "anomaly-agent [command]",
		Short: "Datadog anomaly agent at your service.",
		Long: `
The anomaly agent ingests request telemetry from a TCP socket, a WebSocket, an
HTTP endpoint, or a built-in mock generator, keeps sliding windows over the
recent traffic, and raises alerts when the statistical detectors or the
security rules flag an event.`,
		PersistentPreRun: func(*cobra.Command, []string) {
			if flagNoColor {
				color.NoColor = true
			}
		},
	}

	// confFilePath holds the path to the configuration file, to allow
	// overrides from the command line
	confFilePath string
	flagNoColor  bool
)

func init() {
	AgentCmd.PersistentFlags().StringVarP(&confFilePath, "cfgpath", "c", "", "path to anomaly-agent.yaml")
	AgentCmd.PersistentFlags().BoolVarP(&flagNoColor, "no-color", "n", false, "disable color output")
}

// loadSettings reads the configuration file when one was supplied on the
// command line and falls back to the built-in defaults otherwise.
func loadSettings() (*config.Settings, error) {
	if confFilePath == "" {
		return config.Defaults(), nil
	}
	return config.Load(confFilePath)
}
