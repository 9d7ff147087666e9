// Package logx is a minimal file-backed debug logger, after the teacher's
// internal/utils debug log. Logging is opt-in by path: New("") returns a
// Logger that discards everything, and there is no environment switch or
// lazy one-time init. Ketch has no hidden global
// logger — callers get a *Logger from New and pass it down
// explicitly (spec.md §9: "no hidden singletons").
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger is the component reference callers inject. Nop() returns a
// null-object implementation that discards everything, and a nil *Logger
// is also safe to call; a zero Logger{} has no output and is not usable.
type Logger struct {
	out    *log.Logger
	closer io.Closer
	mu     sync.Mutex
}

// Nop returns a Logger that discards all output — the default when the
// caller doesn't wire one up.
func Nop() *Logger {
	return &Logger{out: log.New(io.Discard, "", 0)}
}

// New opens (creating parent directories as needed) a log file at path
// and returns a Logger writing to it with a standard timestamp prefix.
func New(path string) (*Logger, error) {
	if path == "" {
		return Nop(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{out: log.New(f, "", log.LstdFlags|log.Lmicroseconds), closer: f}, nil
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Output(2, fmt.Sprintf(format, args...))
}

func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
