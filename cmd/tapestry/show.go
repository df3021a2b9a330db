package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bazelment/tapestry/transcript"
	"github.com/bazelment/tapestry/transport"
)

var showCmd = &cobra.Command{
	Use:   "show <frames.jsonl>",
	Short: "Render a recorded frame log as a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger()

		src, err := transport.OpenFile(args[0], transport.WithFileLogger(logger))
		if err != nil {
			return err
		}
		defer src.Close()

		engine := transcript.NewEngine(engineOptions(cfg, logger)...)
		ctx := cmd.Context()
		for {
			frame, err := src.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			engine.Apply(frame)
		}

		fmt.Print(renderTranscript(engine.Messages(), newStyles(useColor()), termWidth()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
