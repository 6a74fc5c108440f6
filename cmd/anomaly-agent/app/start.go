// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DataDog/anomaly-agent/pkg/api"
	"github.com/DataDog/anomaly-agent/pkg/config"
	"github.com/DataDog/anomaly-agent/pkg/pidfile"
	"github.com/DataDog/anomaly-agent/pkg/pipeline"
	"github.com/DataDog/anomaly-agent/pkg/util/log"
	"github.com/DataDog/anomaly-agent/pkg/version"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the anomaly agent",
		Long:  `Runs the anomaly agent in the foreground`,
		RunE:  start,
	}

	pidfilePath string
)

func init() {
	// attach the command to the root
	AgentCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&pidfilePath, "pidfile", "p", "", "path to the pidfile")
}

func start(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	if err := config.SetupLogger(settings.LogLevel, settings.LogFile); err != nil {
		return log.Errorf("Unable to set up logger: %s", err)
	}

	if confFilePath == "" {
		log.Info("No configuration file supplied, using defaults")
	}
	log.Infof("Starting Anomaly Agent v%s (stream mode: %s)", version.AgentVersion, settings.Stream.Mode)

	if pidfilePath != "" {
		if err := pidfile.WritePID(pidfilePath); err != nil {
			return log.Errorf("Error while writing PID file, exiting: %v", err)
		}
		log.Infof("pid '%d' written to pid file '%s'", os.Getpid(), pidfilePath)
		defer os.Remove(pidfilePath)
	}

	pipe := pipeline.New(settings, nil)

	var apiServer *api.Server
	if settings.API.Enabled {
		apiServer, err = api.NewServer(settings.API, pipe)
		if err != nil {
			log.Criticalf("Unable to start the status API: %s", err)
			return nil
		}
		apiServer.Start()
	}

	if err := pipe.Start(); err != nil {
		log.Criticalf("Unable to start the pipeline: %s", err)
		return nil
	}

	// Setup a channel to catch OS signals
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	// Block here until we receive the interrupt signal
	<-signalCh

	// gracefully shut down every component
	pipe.Stop()
	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Stop(ctx); err != nil {
			log.Warnf("Error shutting down the status API: %s", err)
		}
		cancel()
	}

	log.Info("See ya!")
	log.Flush()
	return nil
}
