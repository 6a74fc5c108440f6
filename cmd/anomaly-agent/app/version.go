// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DataDog/anomaly-agent/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(
			color.Output,
			fmt.Sprintf("Anomaly Agent %s - Commit: %s",
				color.CyanString(version.AgentVersion),
				color.GreenString(version.Commit)),
		)
	},
}

func init() {
	// attach the command to the root
	AgentCmd.AddCommand(versionCmd)
}
