// Package logger provides leveled console logging with per-component prefixes.
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel maps "debug", "info", "notice" or "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

var componentColors = map[string]color.Attribute{
	"engine":  color.FgHiGreen,
	"api":     color.FgHiBlue,
	"hub":     color.FgMagenta,
	"store":   color.FgYellow,
	"watcher": color.FgCyan,
	"events":  color.FgHiWhite,
	"server":  color.FgWhite,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})

	// With returns a logger that prefixes every message with [component].
	With(component string) Logger
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{}) {}
func (l *EmptyLogger) With(_ string) Logger              { return l }

// StdLogger logs through the standard log package.
type StdLogger struct {
	enableColoring bool
	level          Level
	component      string
	mu             *sync.Mutex
	out            *log.Logger
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		mu:             &sync.Mutex{},
		out:            log.Default(),
	}
}

// With returns a child logger sharing level, output and lock.
func (l *StdLogger) With(component string) Logger {
	child := *l
	child.component = component
	return &child
}

// formatMessage formats the log message with the level, component prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, format string) string {
	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	prefix := ""
	if l.component != "" {
		prefix = "[" + l.component + "] "
		if l.enableColoring {
			attr, ok := componentColors[l.component]
			if !ok {
				attr = color.FgWhite
			}
			prefix = color.New(attr).Sprint(prefix)
		}
	}
	if l.enableColoring && level == ErrorLevel {
		levelStr = color.New(color.FgRed).Sprint(levelStr)
	}

	return levelStr + prefix + format
}

func (l *StdLogger) logf(level Level, format string, args ...interface{}) {
	if l.level > level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf(l.formatMessage(level, format), args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, format, args...)
}
