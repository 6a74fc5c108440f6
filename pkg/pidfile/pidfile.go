// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pidfile manages the agent's pidfile.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// WritePID writes the current PID to the file at pidFilePath, creating
// missing parent directories. It refuses to overwrite a pidfile that still
// belongs to a running process.
func WritePID(pidFilePath string) error {
	if byteContent, err := os.ReadFile(pidFilePath); err == nil {
		pidStr := strings.TrimSpace(string(byteContent))
		pid, err := strconv.Atoi(pidStr)
		if err == nil && isProcess(pid) {
			return fmt.Errorf("pidfile already exists, please check %d isn't running or remove %s", pid, pidFilePath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(pidFilePath), os.FileMode(0755)); err != nil {
		return err
	}

	return os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func isProcess(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}
