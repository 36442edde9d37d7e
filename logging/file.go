// Package logging provides the operational log and the protocol debug trace.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// LogFunc is the callback signature components accept for operational logging.
type LogFunc func(format string, args ...interface{})

// Nop discards log output.
func Nop(string, ...interface{}) {}

// FileLogger writes timestamped lines to a file and optionally mirrors them
// to a console writer. It is safe for concurrent use.
type FileLogger struct {
	file   *os.File
	mirror io.Writer
	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{file: file}, nil
}

// NewConsoleLogger returns a logger that only writes to w.
func NewConsoleLogger(w io.Writer) *FileLogger {
	return &FileLogger{mirror: w}
}

// SetMirror copies every line to w as well as the file.
func (l *FileLogger) SetMirror(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirror = w
}

// Log writes a formatted line with a timestamp.
func (l *FileLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	line := fmt.Sprintf("%s %s\n", timestamp(), fmt.Sprintf(format, args...))
	if l.file != nil {
		io.WriteString(l.file, line)
	}
	if l.mirror != nil {
		io.WriteString(l.mirror, line)
	}
}

// Func adapts the logger to a LogFunc.
func (l *FileLogger) Func() LogFunc {
	if l == nil {
		return Nop
	}
	return l.Log
}

// Close closes the log file. Further Log calls are dropped.
func (l *FileLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
