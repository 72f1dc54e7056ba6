// Package logging provides a small leveled logger with text and JSON output.
// It is intentionally global: every package logs through the same sink so the
// CLI can configure level and format once at startup.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name. It accepts any case but no surrounding
// whitespace. "warning" is accepted as an alias for "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = "text"
	out    io.Writer = os.Stderr
)

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetFormat selects the output format: "text" or "json".
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f == "json" {
		format = "json"
	} else {
		format = "text"
	}
}

// SetOutput redirects log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		out = os.Stderr
	} else {
		out = w
	}
}

type jsonEntry struct {
	TS    string `json:"ts"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func logf(l Level, msg string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}
	text := fmt.Sprintf(msg, args...)
	now := time.Now().Format(time.RFC3339)
	if format == "json" {
		b, err := json.Marshal(jsonEntry{TS: now, Level: strings.ToLower(l.String()), Msg: text})
		if err != nil {
			return
		}
		fmt.Fprintln(out, string(b))
		return
	}
	fmt.Fprintf(out, "%s [%s] %s\n", now, l.String(), text)
}

// Debug logs at debug level.
func Debug(msg string, args ...interface{}) { logf(LevelDebug, msg, args...) }

// Info logs at info level.
func Info(msg string, args ...interface{}) { logf(LevelInfo, msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...interface{}) { logf(LevelWarn, msg, args...) }

// Error logs at error level.
func Error(msg string, args ...interface{}) { logf(LevelError, msg, args...) }
