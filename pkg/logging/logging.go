// Package logging defines the structured logger used across the controller.
//
// Core packages depend only on the Logger interface so that TinyGo firmware can
// plug a UART printer while host binaries pass a zap SugaredLogger.
package logging

import (
	"fmt"
	"io"
	"strings"
)

// Logger is the subset of *zap.SugaredLogger used by the controller packages.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type nop struct{}

func (nop) Debugw(string, ...interface{}) {}
func (nop) Infow(string, ...interface{})  {}
func (nop) Warnw(string, ...interface{})  {}
func (nop) Errorw(string, ...interface{}) {}

// Nop returns a logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}

// Level orders PrintLogger output.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

// PrintLogger writes one "LEVEL msg key=value ..." line per call.
// It is meant for targets without zap, such as the firmware UART.
type PrintLogger struct {
	w     io.Writer
	level Level
}

// NewPrintLogger creates a PrintLogger writing entries at or above level.
func NewPrintLogger(w io.Writer, level Level) *PrintLogger {
	return &PrintLogger{w: w, level: level}
}

func (p *PrintLogger) Debugw(msg string, kv ...interface{}) { p.log(DebugLevel, msg, kv) }
func (p *PrintLogger) Infow(msg string, kv ...interface{})  { p.log(InfoLevel, msg, kv) }
func (p *PrintLogger) Warnw(msg string, kv ...interface{})  { p.log(WarnLevel, msg, kv) }
func (p *PrintLogger) Errorw(msg string, kv ...interface{}) { p.log(ErrorLevel, msg, kv) }

func (p *PrintLogger) log(level Level, msg string, kv []interface{}) {
	if p == nil || p.w == nil || level < p.level {
		return
	}
	var sb strings.Builder
	sb.WriteString(level.String())
	sb.WriteByte(' ')
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		sb.WriteByte(' ')
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteByte('=')
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("?")
		}
	}
	sb.WriteByte('\n')
	_, _ = io.WriteString(p.w, sb.String())
}
