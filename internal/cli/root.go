package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/frontiertower/towerbot/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _____                      ____        _\n" +
		" |_   _|____      _____ _ __| __ )  ___ | |_\n" +
		"   | |/ _ \\ \\ /\\ / / _ \\ '__|  _ \\ / _ \\| __|\n" +
		"   | | (_) \\ V  V /  __/ |  | |_) | (_) | |_\n" +
		"   |_|\\___/ \\_/\\_/ \\___|_|  |____/ \\___/ \\__|\n"
)

var (
	logFormat string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "towerbot",
	Short: "TowerBot - Frontier Tower community assistant",
	Long:  color.CyanString(logo) + "\nAccess-controlled chat gateway for the Frontier Tower community.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr(), logFormat, logLevel)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envDefault("TOWERBOT_LOG_FORMAT", "text"), "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envDefault("TOWERBOT_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	rootCmd.AddCommand(versionCmd)
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// setupLogging installs the process-wide slog handler.
func setupLogging(w io.Writer, format, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
