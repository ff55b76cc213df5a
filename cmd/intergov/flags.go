package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Workers         string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

// allWorkers names every worker the binary can run.
var allWorkers = []string{
	"inbound", "router", "dispatcher", "deliverer",
	"updater", "rejecter", "spider", "subrefresh", "api",
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("IGL_CONFIG", ""),
		"Path to configuration file (env: IGL_CONFIG)")
	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("IGL_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: IGL_LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("IGL_LOG_FORMAT", "json"),
		"Log format: json, text (env: IGL_LOG_FORMAT)")
	flag.StringVar(&cfg.Workers, "workers",
		getEnv("IGL_WORKERS", "all"),
		"Comma-separated workers to run, or \"all\" (env: IGL_WORKERS)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		30*time.Second, "Graceful shutdown timeout")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	for _, name := range selectedWorkers(cfg.Workers) {
		if !slices.Contains(allWorkers, name) {
			return fmt.Errorf("unknown worker %q, valid: %s", name, strings.Join(allWorkers, ", "))
		}
	}
	return nil
}

// selectedWorkers expands the -workers flag into worker names.
func selectedWorkers(spec string) []string {
	if spec == "" || spec == "all" {
		return allWorkers
	}
	var names []string
	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func setupLogger(level, format string) *slog.Logger {
	var leveler slog.Level
	switch level {
	case "debug":
		leveler = slog.LevelDebug
	case "warn":
		leveler = slog.LevelWarn
	case "error":
		leveler = slog.LevelError
	default:
		leveler = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: leveler}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
