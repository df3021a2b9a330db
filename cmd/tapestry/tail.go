package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bazelment/tapestry/config"
	"github.com/bazelment/tapestry/session"
	"github.com/bazelment/tapestry/transcript"
	"github.com/bazelment/tapestry/transport"
)

var (
	tailFollow bool
	tailURL    string
	tailRecord string
)

var tailCmd = &cobra.Command{
	Use:   "tail [frames.jsonl]",
	Short: "Stream a transcript as frames arrive",
	Long: `Tail prints the transcript incrementally as frames arrive. With a file
argument it replays the log; add --follow to keep reading while an
agent is still appending. Without a file it attaches to the configured
websocket server, or to --url when given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTail(args)
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Keep reading as the file grows")
	tailCmd.Flags().StringVar(&tailURL, "url", "", "Websocket frame stream to attach to")
	tailCmd.Flags().StringVar(&tailRecord, "record", "", "Append received frames to an NDJSON log")
}

func runTail(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	src, err := openSource(ctx, cfg, logger, args)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithEngineOptions(engineOptions(cfg, logger)...),
		session.WithEventBuffer(cfg.EventBuffer),
	}
	if tailRecord != "" {
		f, err := os.OpenFile(tailRecord, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open record log: %w", err)
		}
		defer f.Close()
		opts = append(opts, session.WithRecorder(f))
	}

	sess := session.New(src, opts...)
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	st := newStyles(useColor())
	width := termWidth()

	// Closed messages print as they settle; the transcript tail may still
	// be growing, so it is held back until the stream ends.
	printed := 0
	flush := func(upTo int) {
		msgs := sess.Messages()
		statuses := transcript.ResolveToolStatuses(collectToolIDs(msgs), msgs)
		for ; printed < upTo; printed++ {
			fmt.Print(renderMessage(msgs[printed], statuses, st, width))
		}
	}

	for ev := range sess.Events() {
		switch e := ev.(type) {
		case session.TranscriptEvent:
			flush(len(sess.Messages()) - 1)
		case session.StreamErrorEvent:
			fmt.Fprintln(os.Stderr, st.err.Render("✗ "+e.Err.Error()))
		case session.ClientToolEvent:
			logger.Info("client tool completed", "tool", e.Name, "id", e.ToolID)
		case session.ClosedEvent:
			flush(len(sess.Messages()))
			if e.Err != nil && !errors.Is(e.Err, context.Canceled) {
				return e.Err
			}
		}
	}
	return nil
}

// openSource picks the frame source: an explicit file (optionally followed),
// an explicit url, or the configured server.
func openSource(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (transport.Source, error) {
	if tailURL != "" && len(args) > 0 {
		return nil, errors.New("pass a file or --url, not both")
	}
	if len(args) > 0 {
		if tailFollow {
			return transport.Follow(args[0], transport.WithFollowLogger(logger))
		}
		return transport.OpenFile(args[0], transport.WithFileLogger(logger))
	}
	url := tailURL
	if url == "" {
		url = cfg.ServerURL
	}
	return transport.DialWS(ctx, url,
		transport.WithWSLogger(logger),
		transport.WithHello(transport.Hello{Version: version}))
}
