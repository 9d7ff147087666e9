package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNop_DiscardsWithoutError(t *testing.T) {
	l := Nop()
	l.Debugf("hello %s", "world")
	if err := l.Close(); err != nil {
		t.Errorf("Close on Nop logger should be a no-op, got %v", err)
	}
}

func TestNew_EmptyPathReturnsNop(t *testing.T) {
	l, err := New("")
	if err != nil {
		t.Fatalf("New(\"\") returned error: %v", err)
	}
	l.Debugf("should be discarded")
	if err := l.Close(); err != nil {
		t.Errorf("Close on empty-path logger should be a no-op, got %v", err)
	}
}

func TestNew_WritesFormattedMessageToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	l.Debugf("segment %d failed: %s", 3, "timeout")
	if err := l.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "segment 3 failed: timeout") {
		t.Errorf("log file missing expected message, got: %q", data)
	}
}

func TestNew_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "debug.log")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer l.Close()

	l.Debugf("first line")

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected log file to exist at %s: %v", path, err)
	}
}

func TestNew_AppendsAcrossSeparateOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	first, err := New(path)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	first.Debugf("first")
	if err := first.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	second, err := New(path)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	second.Debugf("second")
	if err := second.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Errorf("expected both messages appended, got: %q", data)
	}
}

func TestLogger_NilReceiverIsSafe(t *testing.T) {
	var l *Logger
	l.Debugf("should not panic")
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil logger should be a no-op, got %v", err)
	}
}
