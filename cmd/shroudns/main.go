// Command shroudns is a recursive-forwarding DNS proxy: it answers queries
// for blocked names locally and forwards everything else to a single
// upstream DNS-over-HTTPS resolver.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shroudns/shroudns/internal/config"
	"github.com/shroudns/shroudns/internal/logging"
	"github.com/shroudns/shroudns/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	debug      bool
	jsonLogs   bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if flags.debug {
		cfg.Logging.Level = "DEBUG"
	}
	if flags.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("shroudns starting",
		"udp", cfg.UDP.Enabled,
		"tcp", cfg.TCP.Enabled,
		"doh", cfg.DoH.Enabled,
		"admin", cfg.Admin.Enabled,
		"upstream", cfg.Upstream.Endpoint,
	)

	runner := server.NewRunner(logger)
	if err := runner.Run(cfg); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
