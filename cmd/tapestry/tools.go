package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bazelment/tapestry/protocol"
	"github.com/bazelment/tapestry/transcript"
	"github.com/bazelment/tapestry/transport"
)

var toolsCmd = &cobra.Command{
	Use:   "tools <frames.jsonl>",
	Short: "Summarize tool calls in a recorded frame log",
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

		printToolSummary(engine.Messages(), newStyles(useColor()), termWidth())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func printToolSummary(messages []transcript.Message, st styles, width int) {
	var tools []protocol.ToolUseBlock
	for i := range messages {
		for _, block := range messages[i].Content {
			if tool, ok := block.(protocol.ToolUseBlock); ok {
				tools = append(tools, tool)
			}
		}
	}
	if len(tools) == 0 {
		fmt.Println("No tool calls.")
		return
	}

	ids := make([]string, len(tools))
	for i, tool := range tools {
		ids[i] = tool.ID
	}
	statuses := transcript.ResolveToolStatuses(ids, messages)

	var running, succeeded, failed int
	for _, tool := range tools {
		status := statuses[tool.ID]
		switch status.State {
		case transcript.ToolStateSuccess:
			succeeded++
		case transcript.ToolStateError:
			failed++
		default:
			running++
		}
		fmt.Println(renderToolLine(tool, status, st, width) + " " + st.dim.Render("("+tool.ID+")"))
	}

	fmt.Printf("\nTotal: %d tool calls | succeeded: %d | failed: %d | unresolved: %d\n",
		len(tools), succeeded, failed, running)
}
