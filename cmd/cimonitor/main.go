package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cimonitor/cimonitor/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

// logLevel is shared by the default handler so a config reload can change
// the level in place.
var logLevel = new(slog.LevelVar)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cimonitor",
	Short: "cimonitor - CI build health monitor",
	Long: `cimonitor polls CruiseControl, Hudson/Jenkins and TeamCity servers,
records every change in build health and serves a dashboard of projects
and project groups over HTTP and WebSocket.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cimonitor version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig reads the config file and installs the default logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(lc config.LogConfig) {
	if lvl, err := config.ParseLevel(lc.Level); err == nil {
		logLevel.Set(lvl)
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if lc.JSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d projects, %d groups\n", len(cfg.Projects), len(cfg.Groups))
		return nil
	},
}
