package slog

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

const separator = " - "

func (lv Level) String() string {
	switch lv {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	}
	return "FATAL"
}

// sink is shared between a Logger and the copies returned by WithCaller
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	colors bool
	json   bool
	caller bool
}

type Logger struct {
	prefix     string
	sink       *sink
	withCaller bool
}

func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		sink: &sink{
			out:   os.Stderr,
			level: LevelInfo,
		},
	}
}

// NewDummyLog returns a standard logger that discards everything, for
// libraries that insist on a *log.Logger
func NewDummyLog() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.out = w
	l.sink.mu.Unlock()
}

func (l *Logger) WithDebug() {
	l.setLevel(LevelDebug)
}

func (l *Logger) WithInfo() {
	l.setLevel(LevelInfo)
}

func (l *Logger) WithWarn() {
	l.setLevel(LevelWarn)
}

func (l *Logger) WithError() {
	l.setLevel(LevelError)
}

func (l *Logger) setLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

func (l *Logger) Level() Level {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

func (l *Logger) IsDebug() bool {
	return l.Level() == LevelDebug
}

func (l *Logger) SetLevel(verbosity string) error {
	switch strings.ToUpper(verbosity) {
	case "DEBUG":
		l.WithDebug()
	case "INFO":
		l.WithInfo()
	case "WARN":
		l.WithWarn()
	case "ERROR":
		l.WithError()
	case "OFF":
		l.setLevel(LevelOff)
	default:
		return fmt.Errorf("incorrect log level, expected one of [DEBUG|INFO|WARN|ERROR|OFF]")
	}
	return nil
}

func (l *Logger) WithColors(enabled bool) {
	l.sink.mu.Lock()
	l.sink.colors = enabled
	l.sink.mu.Unlock()
}

func (l *Logger) WithJSON(enabled bool) {
	l.sink.mu.Lock()
	l.sink.json = enabled
	l.sink.mu.Unlock()
}

// WithCallerInfo adds file:line to every entry
func (l *Logger) WithCallerInfo(enabled bool) {
	l.sink.mu.Lock()
	l.sink.caller = enabled
	l.sink.mu.Unlock()
}

// WithCaller returns a logger writing to the same output that adds
// file:line to its entries regardless of WithCallerInfo
func (l *Logger) WithCaller() *Logger {
	return &Logger{
		prefix:     l.prefix,
		sink:       l.sink,
		withCaller: true,
	}
}

// Named returns a logger sharing output and level with a different prefix
func (l *Logger) Named(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		sink:       l.sink,
		withCaller: l.withCaller,
	}
}

func (l *Logger) Printf(t string, args ...interface{}) {
	l.emit(LevelInfo, fmt.Sprintf(t, args...), nil)
}

func (l *Logger) Debugf(t string, args ...interface{}) {
	l.emit(LevelDebug, fmt.Sprintf(t, args...), nil)
}

func (l *Logger) Infof(t string, args ...interface{}) {
	l.emit(LevelInfo, fmt.Sprintf(t, args...), nil)
}

func (l *Logger) Warnf(t string, args ...interface{}) {
	l.emit(LevelWarn, fmt.Sprintf(t, args...), nil)
}

func (l *Logger) Errorf(t string, args ...interface{}) {
	l.emit(LevelError, fmt.Sprintf(t, args...), nil)
}

func (l *Logger) Fatalf(t string, args ...interface{}) {
	l.emit(levelFatal, fmt.Sprintf(t, args...), nil)
	os.Exit(1)
}

func (l *Logger) DebugWith(msg string, fields ...Field) {
	l.emit(LevelDebug, msg, fields)
}

func (l *Logger) InfoWith(msg string, fields ...Field) {
	l.emit(LevelInfo, msg, fields)
}

func (l *Logger) WarnWith(msg string, fields ...Field) {
	l.emit(LevelWarn, msg, fields)
}

func (l *Logger) ErrorWith(msg string, fields ...Field) {
	l.emit(LevelError, msg, fields)
}

func (l *Logger) FatalWith(msg string, fields ...Field) {
	l.emit(levelFatal, msg, fields)
	os.Exit(1)
}

// levelFatal always passes the level filter
const levelFatal Level = LevelOff + 1

func (l *Logger) emit(level Level, msg string, fields []Field) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	var caller string
	if l.withCaller || s.caller {
		// emit <- public method <- caller
		if _, file, line, ok := runtime.Caller(2); ok {
			caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	now := time.Now()
	if s.json {
		entry := make(map[string]interface{}, len(fields)+4)
		entry["time"] = now.Format(time.RFC3339)
		entry["level"] = level.String()
		entry["msg"] = msg
		if l.prefix != "" {
			entry["logger"] = strings.TrimSpace(l.prefix)
		}
		if caller != "" {
			entry["caller"] = caller
		}
		for _, f := range fields {
			entry[f.Key] = f.jsonValue()
		}
		line, err := json.Marshal(entry)
		if err != nil {
			line = []byte(fmt.Sprintf(`{"level":"ERROR","msg":"failed to marshal log entry: %v"}`, err))
		}
		_, _ = s.out.Write(append(line, '\n'))
		return
	}

	var b strings.Builder
	b.WriteString(colorGreyOut(now.Format("2006/01/02 15:04:05"), s.colors))
	b.WriteByte(' ')
	b.WriteString(l.prefix)
	b.WriteString(levelLabel(level, s.colors))
	if caller != "" {
		b.WriteString(" ")
		b.WriteString(colorGreyOut(caller, s.colors))
	}
	b.WriteString(separator)
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(colorGreyOut(f.Key+"=", s.colors))
		b.WriteString(f.textValue())
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(s.out, b.String())
}
