// Package obslog provides leveled, field-based logging with redaction of
// sensitive values, built directly on the standard library the way the
// teacher builds its SecurityLogger on top of "log" rather than adopting a
// structured-logging framework (no such framework appears in this
// repository's grounding corpus).
package obslog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// redactKeys lists field-name substrings whose values are masked before
// they reach the log sink.
var redactKeys = []string{
	"token", "password", "secret", "authorization", "bearer", "cookie", "signature",
}

// Logger writes leveled, redacted, field-annotated lines.
type Logger struct {
	mu    sync.Mutex
	out   *log.Logger
	level Level
}

// New creates a Logger writing to w at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), level: level}
}

// Default writes to stderr at LevelInfo.
func Default() *Logger { return New(os.Stderr, LevelInfo) }

// Field is a single structured log attribute.
type Field struct {
	Key   string
	Value any
}

// F builds a Field inline: obslog.F("name", value).
func F(key string, value any) Field { return Field{Key: key, Value: value} }

func (l *Logger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	b.WriteString(level.String())
	b.WriteString(" ")
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	byKey := make(map[string]Field, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
		byKey[f.Key] = f
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(" %s=%v", k, redact(k, byKey[k].Value)))
	}
	l.out.Println(b.String())
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, bad := range redactKeys {
		if strings.Contains(lower, bad) {
			return "[redacted]"
		}
	}
	return value
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }
