package watch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/torturbo/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging sends logs to logFile, or to stderr when it is empty, so
// stdout only carries the rendered view. The returned func closes the file.
func SetupLogging(logFile string, verbose bool) (func(), error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = file
		closeFn = func() { _ = file.Close() }
	}

	if err := logger.InitWithWriter(w, "text"); err != nil {
		closeFn()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	_ = logger.SetLevelString(level)
	if logFile != "" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	}
	return closeFn, nil
}

// ShowHelp prints usage information for the status watcher.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `TorTurbo Status Watch
=====================

Polls a circuit status endpoint and prints the circuits as text.

Usage:
  statuswatch [options]

Options:
  -url string
        Status URL (default "http://127.0.0.1:18080/api/status")
  -interval duration
        Re-poll interval (default 5s)
  -timeout duration
        Request timeout (default 5s)
  -once
        Poll once, print the result and exit; exits non-zero on failure
  -proxy string
        SOCKS5 proxy for status requests, e.g. socks5://127.0.0.1:9050
  -log string
        Log file (default: stderr)
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  # Watch the local daemon
  statuswatch

  # Check once from a script
  statuswatch -once -url http://10.0.0.5:18080/api/status
`)
}
