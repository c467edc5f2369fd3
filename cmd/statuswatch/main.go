package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/torturbo/internal/watch"
)

// Default configuration constants.
const (
	defaultURL      = "http://127.0.0.1:18080/api/status"
	defaultInterval = 5 * time.Second
	defaultTimeout  = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("statuswatch", flag.ContinueOnError)
	var (
		url      = fs.String("url", defaultURL, "Status URL")
		interval = fs.Duration("interval", defaultInterval, "Re-poll interval")
		timeout  = fs.Duration("timeout", defaultTimeout, "Request timeout")
		once     = fs.Bool("once", false, "Poll once, print and exit")
		proxy    = fs.String("proxy", "", "SOCKS5 proxy for status requests")
		logFile  = fs.String("log", "", "Log file (default: stderr)")
		verbose  = fs.Bool("verbose", false, "Enable verbose logging")
		help     = fs.Bool("help", false, "Show help")
	)
	fs.Usage = func() { watch.ShowHelp(os.Stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		watch.ShowHelp(os.Stdout)
		return 0
	}

	closeLog, err := watch.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := &watch.Config{
		URL:      *url,
		Interval: *interval,
		Timeout:  *timeout,
		Once:     *once,
		Proxy:    *proxy,
		LogFile:  *logFile,
		Verbose:  *verbose,
	}

	if err := watch.Run(ctx, config, os.Stdout); err != nil {
		os.Stderr.WriteString("statuswatch: " + err.Error() + "\n")
		if errors.Is(err, watch.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}
