package util

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
)

func TestIsHarmless(t *testing.T) {
	if !IsHarmless(nil) {
		t.Error("nil should be harmless")
	}
	if !IsHarmless(io.EOF) {
		t.Error("io.EOF should be harmless")
	}
	if !IsHarmless(net.ErrClosed) {
		t.Error("net.ErrClosed should be harmless")
	}
	if !IsHarmless(&net.OpError{Op: "accept", Net: "tcp", Err: net.ErrClosed}) {
		t.Error("OpError wrapping ErrClosed should be harmless")
	}
	if IsHarmless(io.ErrUnexpectedEOF) {
		t.Error("ErrUnexpectedEOF should NOT be harmless")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(os.ErrDeadlineExceeded) {
		t.Error("ErrDeadlineExceeded should be a timeout")
	}
	if !IsTimeout(fmt.Errorf("read: %w", os.ErrDeadlineExceeded)) {
		t.Error("wrapped deadline should be a timeout")
	}
	if IsTimeout(io.EOF) {
		t.Error("EOF is not a timeout")
	}
}

type shortWriter struct{ max int }

func (w shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.max {
		return w.max, nil
	}
	return len(p), nil
}

func TestWriteAll(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteAll(&buf, []byte("command\n\ncommand:  "))
	if err != nil || n != 19 {
		t.Fatalf("WriteAll = %d, %v", n, err)
	}

	n, err = WriteAll(shortWriter{max: 3}, []byte("Goodbye.\n\n"))
	if n != 3 || !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("short write = %d, %v; want 3, ErrShortWrite", n, err)
	}
}
