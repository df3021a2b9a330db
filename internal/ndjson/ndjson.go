// Package ndjson reads and writes newline-delimited JSON streams.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// maxLineSize bounds a single line; agent transcripts can carry large
// tool results, so the ceiling is generous.
const maxLineSize = 10 * 1024 * 1024

// Reader reads one JSON document per line from an underlying stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next non-empty line without its trailing newline.
// It returns io.EOF when the stream ends. Lines longer than the internal
// ceiling return bufio.ErrBufferFull semantics via an explicit error.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.readFullLine()
		if err != nil {
			// A final line without a trailing newline is still a line.
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				return line, nil
			}
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
}

// readFullLine assembles a line across bufio buffer boundaries.
func (r *Reader) readFullLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			return buf, err
		}
		if buf == nil && !isPrefix {
			// Common case: the whole line fit in the bufio buffer.
			// Copy it out since ReadLine's result is invalidated by the
			// next read.
			out := make([]byte, len(chunk))
			copy(out, chunk)
			return out, nil
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLineSize {
			return nil, io.ErrShortBuffer
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

// Writer writes one JSON document per line. Safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRaw writes an already-encoded JSON document followed by a newline.
func (w *Writer) WriteRaw(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	_, err := w.w.Write([]byte{'\n'})
	return err
}

// WriteJSON encodes v and writes it as a single line.
func (w *Writer) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(data)
}
