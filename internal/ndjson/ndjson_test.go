package ndjson

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestReadLine_SkipsBlanks(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\n\n   \n{\"b\":2}\n")
	r := NewReader(in)

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("first line: %v", err)
	}
	if string(line) != `{"a":1}` {
		t.Errorf("first line = %q", line)
	}

	line, err = r.ReadLine()
	if err != nil {
		t.Fatalf("second line: %v", err)
	}
	if string(line) != `{"b":2}` {
		t.Errorf("second line = %q", line)
	}

	if _, err = r.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadLine_FinalLineWithoutNewline(t *testing.T) {
	r := NewReader(strings.NewReader(`{"tail":true}`))

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != `{"tail":true}` {
		t.Errorf("line = %q", line)
	}
	if _, err = r.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF after final line, got %v", err)
	}
}

func TestReadLine_LongLineSpansBufferBoundary(t *testing.T) {
	// Longer than the 64KiB bufio buffer so assembly across isPrefix
	// chunks is exercised.
	payload := `{"data":"` + strings.Repeat("x", 200*1024) + `"}`
	r := NewReader(strings.NewReader(payload + "\n" + `{"next":1}` + "\n"))

	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("long line: %v", err)
	}
	if string(line) != payload {
		t.Errorf("long line mangled: got %d bytes, want %d", len(line), len(payload))
	}

	line, err = r.ReadLine()
	if err != nil {
		t.Fatalf("line after long line: %v", err)
	}
	if string(line) != `{"next":1}` {
		t.Errorf("next line = %q", line)
	}
}

func TestReadLine_EmptyStream(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	if _, err := r.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteRaw([]byte(`{"raw":true}`)); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if err := w.WriteJSON(map[string]int{"n": 7}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	r := NewReader(&buf)
	first, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if string(first) != `{"raw":true}` {
		t.Errorf("first = %q", first)
	}
	second, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if string(second) != `{"n":7}` {
		t.Errorf("second = %q", second)
	}
}
