package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// DebugLogger writes protocol-level traces (frames, dial attempts, link
// events) to a dedicated file. Output can be narrowed to a set of
// components with SetFilter.
type DebugLogger struct {
	w       io.Writer
	closer  io.Closer
	mu      sync.Mutex
	closed  bool
	filters map[string]bool // empty = log all
}

var (
	globalDebugLogger *DebugLogger
	globalDebugMu     sync.RWMutex
)

// Components understood by SetFilter.
var knownComponents = []string{
	"mdc", "pjlink", "node", "wol",
	"gateway", "bridge", "dispatch",
	"mqtt", "kafka", "valkey",
	"api", "debug",
}

// Aliases expand into several components.
var componentGroups = map[string][]string{
	"hardware": {"mdc", "pjlink", "node", "wol"},
	"link":     {"gateway", "bridge"},
	"brokers":  {"mqtt", "kafka", "valkey"},
	"node":     {"wol"},
	"bridge":   {"dispatch"},
}

// KnownComponents returns the component names accepted by SetFilter.
func KnownComponents() []string {
	out := make([]string, len(knownComponents))
	copy(out, knownComponents)
	return out
}

// NewDebugLogger creates a debug logger writing to path.
// The file is truncated for each session.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log file: %w", err)
	}
	l := NewDebugWriter(file)
	l.closer = file
	return l, nil
}

// NewDebugWriter creates a debug logger on an arbitrary writer.
func NewDebugWriter(w io.Writer) *DebugLogger {
	l := &DebugLogger{
		w:       w,
		filters: make(map[string]bool),
	}
	l.Log("debug", "Debug logging started - %s", time.Now().Format(time.RFC3339))
	return l
}

// SetFilter restricts output to a comma-separated list of components.
// An empty filter (or "all") logs everything.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)
	filter = strings.TrimSpace(filter)
	if filter == "" || strings.EqualFold(filter, "all") {
		return
	}

	for _, p := range strings.Split(filter, ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		l.filters[p] = true
		for _, related := range componentGroups[p] {
			l.filters[related] = true
		}
	}

	if len(l.filters) > 0 {
		list := make([]string, 0, len(l.filters))
		for p := range l.filters {
			list = append(list, p)
		}
		sort.Strings(list)
		fmt.Fprintf(l.w, "%s [debug] Filtering enabled for: %s\n", timestamp(), strings.Join(list, ", "))
	}
}

// shouldLog must be called with l.mu held.
func (l *DebugLogger) shouldLog(component string) bool {
	if len(l.filters) == 0 {
		return true
	}
	c := strings.ToLower(component)
	return c == "debug" || l.filters[c]
}

// SetGlobalDebugLogger sets the process-wide debug logger. Nil disables debug output.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the process-wide debug logger, or nil.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

// Log writes a formatted line tagged with the component.
func (l *DebugLogger) Log(component, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(component) {
		return
	}
	fmt.Fprintf(l.w, "%s [%s] %s\n", timestamp(), component, fmt.Sprintf(format, args...))
}

// LogTX logs an outgoing frame.
func (l *DebugLogger) LogTX(component string, data []byte) {
	if l == nil {
		return
	}
	l.logFrame(component, "TX", data)
}

// LogRX logs an incoming frame.
func (l *DebugLogger) LogRX(component string, data []byte) {
	if l == nil {
		return
	}
	l.logFrame(component, "RX", data)
}

func (l *DebugLogger) logFrame(component, direction string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(component) {
		return
	}
	fmt.Fprintf(l.w, "%s [%s] %s (%d bytes):\n%s\n", timestamp(), component, direction, len(data), hexDump(data))
}

// Close writes a footer and closes the underlying file, if any.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	fmt.Fprintf(l.w, "%s [debug] Debug logging ended\n", timestamp())

	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// hexDump renders data as offset, two groups of eight hex bytes, then ASCII:
//
//	0000: AA 11 FF 01 01 12                                 ......
func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}

	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		fmt.Fprintf(&sb, "    %04X: ", offset)
		for i := 0; i < 16; i++ {
			if i == 8 {
				sb.WriteByte(' ')
			}
			if offset+i < len(data) {
				fmt.Fprintf(&sb, "%02X ", data[offset+i])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteByte(' ')
		for i := 0; i < 16 && offset+i < len(data); i++ {
			b := data[offset+i]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000")
}

// Package-level helpers used by protocol code. All are no-ops when no
// global debug logger is installed.

// DebugLog logs a message.
func DebugLog(component, format string, args ...interface{}) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.Log(component, format, args...)
	}
}

// DebugTX logs transmitted bytes.
func DebugTX(component string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogTX(component, data)
	}
}

// DebugRX logs received bytes.
func DebugRX(component string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogRX(component, data)
	}
}

// DebugConnect logs a dial attempt.
func DebugConnect(component, address string) {
	DebugLog(component, "CONNECT to %s", address)
}

// DebugConnectError logs a failed dial.
func DebugConnectError(component, address string, err error) {
	DebugLog(component, "CONNECT FAILED to %s: %v", address, err)
}

// DebugDisconnect logs a closed connection.
func DebugDisconnect(component, address, reason string) {
	DebugLog(component, "DISCONNECT from %s: %s", address, reason)
}

// DebugError logs an error with context.
func DebugError(component, context string, err error) {
	DebugLog(component, "ERROR in %s: %v", context, err)
}
