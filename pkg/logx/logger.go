// Package logx provides structured logging for the episense daemon
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger provides structured leveled logging with key-value fields.
type Logger struct {
	l *logrus.Logger
}

// New creates a new structured logger at the given level
// (debug|info|warn|error); unknown levels fall back to info.
func New(levelStr string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05Z07:00"})

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return &Logger{l: l}
}

// fields converts alternating key-value pairs into logrus fields. A trailing
// key without a value is dropped.
func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}

// Debug logs a debug message
func (lg *Logger) Debug(msg string, keysAndValues ...interface{}) {
	lg.l.WithFields(fields(keysAndValues)).Debug(msg)
}

// Info logs an info message
func (lg *Logger) Info(msg string, keysAndValues ...interface{}) {
	lg.l.WithFields(fields(keysAndValues)).Info(msg)
}

// Warn logs a warning message
func (lg *Logger) Warn(msg string, keysAndValues ...interface{}) {
	lg.l.WithFields(fields(keysAndValues)).Warn(msg)
}

// Error logs an error message
func (lg *Logger) Error(msg string, keysAndValues ...interface{}) {
	lg.l.WithFields(fields(keysAndValues)).Error(msg)
}
