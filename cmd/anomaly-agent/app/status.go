// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DataDog/anomaly-agent/pkg/alert"
	"github.com/DataDog/anomaly-agent/pkg/api"
	"github.com/DataDog/anomaly-agent/pkg/version"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of a running agent",
	Long:  `Queries the local status API of a running agent and prints a summary`,
	RunE:  status,
}

func init() {
	// attach the command to the root
	AgentCmd.AddCommand(statusCmd)
}

func status(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if !settings.API.Enabled {
		return fmt.Errorf("the status API is disabled in the configuration")
	}

	baseURL := fmt.Sprintf("http://%s:%d", settings.API.Host, settings.API.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	statusResp, err := fetchStatus(client, baseURL)
	if err != nil {
		return fmt.Errorf("unable to reach the agent at %s: %v", baseURL, err)
	}
	printStatus(statusResp)

	alertsResp, err := fetchAlerts(client, baseURL)
	if err != nil {
		return err
	}
	printAlerts(alertsResp)
	return nil
}

func fetchStatus(client *http.Client, baseURL string) (*api.StatusResponse, error) {
	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Error != nil {
		return nil, fmt.Errorf("%s", body.Error.Message)
	}
	return &body, nil
}

func fetchAlerts(client *http.Client, baseURL string) (*api.AlertsResponse, error) {
	resp, err := client.Get(baseURL + "/alerts?count=5")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body api.AlertsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Error != nil {
		return nil, fmt.Errorf("%s", body.Error.Message)
	}
	return &body, nil
}

func printStatus(resp *api.StatusResponse) {
	state := color.RedString("stopped")
	if resp.Pipeline.Running {
		state = color.GreenString("running")
	}

	fmt.Fprintf(color.Output, "Anomaly Agent %s\n", color.CyanString(version.AgentVersion))
	fmt.Fprintf(color.Output, "  Pipeline:  %s (stream mode: %s)\n", state, resp.Pipeline.Mode)
	fmt.Fprintf(color.Output, "  Processed: %s events\n", humanize.Comma(resp.Pipeline.Processed))
	if src := resp.Pipeline.Source; src != nil {
		fmt.Fprintf(color.Output, "  Source:    %d events, %d dropped, %d malformed (%.1f events/s)\n",
			src.EventCount, src.Dropped, src.Malformed, src.EventsPerSecond)
	}
	det := resp.Pipeline.Detector
	fmt.Fprintf(color.Output, "  Detector:  %s, %d training samples, forest fitted: %t\n",
		det.Method, det.TrainingSamples, det.ForestFitted)
	fmt.Fprintf(color.Output, "  Windows:   %d buffered events across %d windows\n",
		resp.Pipeline.Windows.BufferSize, resp.Pipeline.Windows.WindowCount)
	fmt.Fprintf(color.Output, "  Alerts:    %d total, %d unacknowledged\n",
		resp.Pipeline.Alerts.Total, resp.Pipeline.Alerts.Unacknowledged)
	fmt.Fprintf(color.Output, "  Memory:    %s RSS\n", humanize.Bytes(resp.System.RSS))
	fmt.Fprintf(color.Output, "  Load:      %.2f / %.2f / %.2f\n",
		resp.System.Load1, resp.System.Load5, resp.System.Load15)
}

func printAlerts(resp *api.AlertsResponse) {
	if len(resp.Alerts) == 0 {
		return
	}

	fmt.Fprintf(color.Output, "\nLast %d alerts:\n", len(resp.Alerts))
	for _, a := range resp.Alerts {
		level := string(a.Level)
		switch a.Level {
		case alert.LevelCritical:
			level = color.RedString(level)
		case alert.LevelWarning:
			level = color.YellowString(level)
		default:
			level = color.BlueString(level)
		}
		suffix := ""
		if a.Acknowledged {
			suffix = " (acknowledged)"
		}
		fmt.Fprintf(color.Output, "  %s [%s] %s%s\n", a.Timestamp, level, a.Message, suffix)
	}
}
