// Command tapestry reconstructs readable transcripts from agent frame streams.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bazelment/tapestry/config"
	"github.com/bazelment/tapestry/transcript"
)

var (
	configPath string
	verbose    bool
	noColor    bool
)

// version is stamped at build time.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tapestry",
	Short: "Reconstruct agent transcripts from frame streams",
	Long: `Tapestry consumes the incremental frame protocol emitted by agent
backends and reconstructs readable conversation transcripts. It can
replay a recorded frame log, tail a log while an agent is still
writing it, or attach to a live websocket stream.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.tapestry.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the file named by --config, falling back to the per-user
// default path.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.Load(path)
}

// engineOptions converts config into reconstruction options.
func engineOptions(cfg *config.Config, logger *slog.Logger) []transcript.Option {
	opts := []transcript.Option{transcript.WithLogger(logger)}
	if cfg.MaxToolInputBytes > 0 {
		opts = append(opts, transcript.WithMaxToolInputBytes(cfg.MaxToolInputBytes))
	}
	if cfg.RecordErrorFrames {
		opts = append(opts, transcript.WithRecordErrorFrames(true))
	}
	return opts
}
