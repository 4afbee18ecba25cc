// Package cmd implements the brokkrctl operator CLI.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/logger"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "brokkrctl",
	Short: "Operator CLI for the brokkr firmware rollout service",
	Long:  `brokkrctl evaluates rule files offline, inspects a project's published firmware catalog and manages the decision log schema.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds a logger from the persistent flags. Diagnostics go to
// stderr so stdout stays clean for command output.
func newLogger() *slog.Logger {
	return logger.NewWithWriter(&config.AppConfig{
		Name:      "brokkrctl",
		Version:   Version,
		LogLevel:  logLevel,
		LogFormat: logFormat,
	}, os.Stderr)
}
