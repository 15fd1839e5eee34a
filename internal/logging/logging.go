// Package logging provides the library's internal logging facility: a
// per-topic Logger formats messages and hands them to a single
// process-wide Sink, which is the only bit of global mutable state in
// the library, held behind an atomic pointer with a default fallback
// so it can be swapped without a data race.
package logging

import (
	"fmt"
	"sync/atomic"

	golog "github.com/op/go-logging"
)

// Level is a log severity, ordered least to most severe.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Sink receives formatted log messages for the whole library. Callers
// embedding throng may install their own Sink with SetSink to route
// logging wherever they like.
type Sink interface {
	// Log writes message, which has already passed ShouldLog.
	Log(level Level, topic string, message string)
	// ShouldLog reports whether a message at level for topic should
	// be emitted at all, letting a sink skip formatting work.
	ShouldLog(topic string, level Level) bool
}

// sinkHolder wraps every stored Sink so currentSink always holds the
// same concrete type, which atomic.Value requires.
type sinkHolder struct{ sink Sink }

var currentSink atomic.Value

func init() {
	currentSink.Store(sinkHolder{goLoggingSink{}})
}

// SetSink installs s as the process-wide log sink. Safe to call
// concurrently with logging from other goroutines.
func SetSink(s Sink) {
	currentSink.Store(sinkHolder{s})
}

// CurrentSink returns the currently installed sink.
func CurrentSink() Sink {
	return currentSink.Load().(sinkHolder).sink
}

// goLoggingSink is the default sink, backed by github.com/op/go-logging.
type goLoggingSink struct{}

func (goLoggingSink) ShouldLog(topic string, level Level) bool { return true }

func (goLoggingSink) Log(level Level, topic string, message string) {
	lgr := golog.MustGetLogger(topic)
	switch level {
	case Debug:
		lgr.Debug(message)
	case Info:
		lgr.Info(message)
	case Warning:
		lgr.Warning(message)
	case Error:
		lgr.Error(message)
	case Fatal:
		lgr.Critical(message)
	}
}

// Logger is a per-subsystem handle that formats messages and routes
// them to the current Sink.
type Logger struct {
	topic string
}

// New creates a logger for a subtopic of the library's top-level
// "throng" topic, e.g. New("processor") logs under "throng.processor".
func New(topic string) *Logger {
	return &Logger{topic: "throng." + topic}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	sink := CurrentSink()
	if !sink.ShouldLog(l.topic, level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	sink.Log(level, l.topic, msg)
}

func (l *Logger) Debugf(format string, args ...interface{})   { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})    { l.log(Info, format, args...) }
func (l *Logger) Warningf(format string, args ...interface{}) { l.log(Warning, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})   { l.log(Error, format, args...) }
