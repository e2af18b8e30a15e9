// Package commands provides the CLI commands for fbc.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/config"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "fbc",
	Short: "fbc - consulting session orchestration core",
	Long: `fbc runs the session core of an AI consulting assistant: consent
gating, automatic research, capture widgets with adaptive frame analysis,
and streamed artifact generation.

Run 'fbc serve' to start the HTTP API, 'fbc ask' to push one text
through the research path, or 'fbc artifact' to stream an artifact.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Directory holding fbc.json (defaults to the working directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("fbc %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(artifactCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogging routes logs to stderr with --print-logs and to a log file
// under the state directory otherwise.
func initLogging() {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	if printLogs {
		cfg.Pretty = true
		logging.Init(cfg)
		return
	}
	cfg.Output = io.Discard
	cfg.LogToFile = true
	cfg.LogDir = config.GetPaths().LogPath()
	logging.Init(cfg)
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
