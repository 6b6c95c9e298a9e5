package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cenkalti/magnet"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run executes the CLI and returns the exit code. The logger is flushed
// before main exits.
func run() int {
	// Load .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		return 1
	}

	app := &magnet.App{}
	defer app.Close()

	rootCmd := &cobra.Command{
		Use:           "magnet",
		Short:         "Topic clustering, trend detection and problem ranking for forum and news items",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Init()
		},
	}
	rootCmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&app.DBPath, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(magnet.NewEnrichCmd(app))
	rootCmd.AddCommand(magnet.NewClusterCmd(app))
	rootCmd.AddCommand(magnet.NewRankCmd(app))
	rootCmd.AddCommand(magnet.NewTrendsCmd(app))
	rootCmd.AddCommand(magnet.NewAnalyzeCmd(app))
	rootCmd.AddCommand(magnet.NewReportCmd(app))
	rootCmd.AddCommand(magnet.NewRunsCmd(app))
	rootCmd.AddCommand(magnet.NewRunCmd(app))
	rootCmd.AddCommand(magnet.NewCleanCmd(app))

	if err := rootCmd.Execute(); err != nil {
		if app.Log != nil {
			app.Log.Error("Command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}
