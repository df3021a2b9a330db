package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/tapestry/protocol"
)

func writeFrameLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenFile_ReplaysFrames(t *testing.T) {
	path := writeFrameLog(t,
		`{"type":"message_start","message_id":"msg_1"}`,
		``,
		`{"type":"text_delta","text":"hello"}`,
		`{"type":"message_complete"}`,
	)

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()

	frame, err := src.Next(ctx)
	require.NoError(t, err)
	start, ok := frame.(protocol.MessageStartFrame)
	require.True(t, ok, "expected MessageStartFrame, got %T", frame)
	assert.Equal(t, "msg_1", start.MessageID)

	frame, err = src.Next(ctx)
	require.NoError(t, err)
	delta, ok := frame.(protocol.TextDeltaFrame)
	require.True(t, ok, "expected TextDeltaFrame, got %T", frame)
	assert.Equal(t, "hello", delta.Text)

	frame, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameTypeMessageComplete, frame.FrameType())

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	// EOF is sticky.
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenFile_MissingFile(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSource_SkipsMalformedLines(t *testing.T) {
	path := writeFrameLog(t,
		`{"type":"text_delta","text":"first"}`,
		`this is not json`,
		`{"type":"text_delta",`,
		`{"type":"text_delta","text":"second"}`,
	)

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	var texts []string
	for {
		frame, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		texts = append(texts, frame.(protocol.TextDeltaFrame).Text)
	}
	assert.Equal(t, []string{"first", "second"}, texts)
}

func TestFileSource_UnknownFrameTypePassedThrough(t *testing.T) {
	src := NewFileSource(strings.NewReader(`{"type":"future_thing","x":1}` + "\n"))

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	unknown, ok := frame.(protocol.UnknownFrame)
	require.True(t, ok, "expected UnknownFrame, got %T", frame)
	assert.Equal(t, protocol.FrameType("future_thing"), unknown.FrameType())
}

func TestNewFileSource_Reader(t *testing.T) {
	lines := `{"type":"user","content":"hi"}` + "\n" + `{"type":"assistant","content":"hello"}`
	src := NewFileSource(strings.NewReader(lines))

	ctx := context.Background()

	frame, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameTypeUser, frame.FrameType())

	// The final line without a trailing newline still counts.
	frame, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameTypeAssistant, frame.FrameType())

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, src.Close())
}

func TestFileSource_ContextCancellation(t *testing.T) {
	src := NewFileSource(strings.NewReader(`{"type":"text_delta","text":"hi"}` + "\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSource_CloseUnblocksRead(t *testing.T) {
	r, w := io.Pipe()
	src := NewFileSource(r)

	errs := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		errs <- err
	}()

	require.NoError(t, src.Close())
	assert.ErrorIs(t, <-errs, ErrClosed)
	w.Close()

	// Close is idempotent.
	require.NoError(t, src.Close())
}
