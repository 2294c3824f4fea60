// Package logger is the console logger shared by every pg2parquet package.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// Level orders message severities. Messages below the logger's level are
// dropped; Error is always printed.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger interface defines the logging methods
type Logger interface {
	Info(format string, args ...any)
	Debug(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	SetOutput(out, errOut io.Writer)
	SetLevel(level Level)
	Level() Level
}

// ConsoleLogger writes one line per message, with icons and colours when the
// destination is a terminal.
type ConsoleLogger struct {
	mu     sync.Mutex
	output io.Writer
	errOut io.Writer
	level  Level
	color  bool
}

var (
	instance *ConsoleLogger
	once     sync.Once
)

// GetLogger returns the singleton instance
func GetLogger() Logger {
	return get()
}

func get() *ConsoleLogger {
	once.Do(func() {
		instance = &ConsoleLogger{level: LevelInfo}
		instance.SetOutput(os.Stdout, os.Stderr)
	})
	return instance
}

// SetVerbose switches debug output on or off.
func SetVerbose(verbose bool) {
	if verbose {
		get().SetLevel(LevelDebug)
	} else if get().Level() == LevelDebug {
		get().SetLevel(LevelInfo)
	}
}

// SetQuiet keeps only errors.
func SetQuiet(quiet bool) {
	if quiet {
		get().SetLevel(LevelError)
	} else if get().Level() == LevelError {
		get().SetLevel(LevelInfo)
	}
}

func IsVerbose() bool { return get().Level() == LevelDebug }
func IsQuiet() bool   { return get().Level() == LevelError }

// SetOutput redirects both streams; tests pass buffers.
func SetOutput(out, errOut io.Writer) { get().SetOutput(out, errOut) }

// Global helper functions for convenience
func Info(format string, args ...any)    { get().Info(format, args...) }
func Debug(format string, args ...any)   { get().Debug(format, args...) }
func Success(format string, args ...any) { get().Success(format, args...) }
func Warn(format string, args ...any)    { get().Warn(format, args...) }
func Error(format string, args ...any)   { get().Error(format, args...) }

// -------------------- Implementation --------------------

func (l *ConsoleLogger) SetOutput(out, errOut io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = out
	l.errOut = errOut
	l.color = isTerminal(out)
}

func (l *ConsoleLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ConsoleLogger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

const (
	blueColor   = "\033[34m"
	greenColor  = "\033[32m"
	yellowColor = "\033[33m"
	redColor    = "\033[31m"
	grayColor   = "\033[90m"
	resetColor  = "\033[0m"
)

type style struct {
	level Level
	icon  string
	plain string
	color string
	toErr bool
	stamp bool
}

var (
	debugStyle   = style{level: LevelDebug, icon: "🔍", plain: "DEBUG", color: grayColor, stamp: true}
	infoStyle    = style{level: LevelInfo, icon: "ℹ️", plain: "INFO", color: blueColor}
	successStyle = style{level: LevelInfo, icon: "✓", plain: "SUCCESS", color: greenColor}
	warnStyle    = style{level: LevelWarn, icon: "⚠", plain: "WARN", color: yellowColor}
	errorStyle   = style{level: LevelError, icon: "✗", plain: "ERROR", color: redColor, toErr: true}
)

func (l *ConsoleLogger) log(s style, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.level < l.level {
		return
	}

	out := l.output
	if s.toErr {
		out = l.errOut
	}

	prefix := s.plain
	if l.color {
		prefix = s.icon
	}
	if s.stamp {
		prefix = fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05.000"), prefix)
	}

	msg := fmt.Sprintf(format, args...)
	if l.color {
		fmt.Fprintf(out, "%s%s %s%s\n", s.color, prefix, msg, resetColor)
	} else {
		fmt.Fprintf(out, "%s %s\n", prefix, msg)
	}
}

func (l *ConsoleLogger) Info(format string, args ...any)    { l.log(infoStyle, format, args...) }
func (l *ConsoleLogger) Debug(format string, args ...any)   { l.log(debugStyle, format, args...) }
func (l *ConsoleLogger) Success(format string, args ...any) { l.log(successStyle, format, args...) }
func (l *ConsoleLogger) Warn(format string, args ...any)    { l.log(warnStyle, format, args...) }
func (l *ConsoleLogger) Error(format string, args ...any)   { l.log(errorStyle, format, args...) }
