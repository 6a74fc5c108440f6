// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"os"

	"github.com/DataDog/anomaly-agent/cmd/anomaly-agent/app"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
)

func main() {
	if err := app.AgentCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}
