// Package logger adapts logrus to the ports.Logger interface.
package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger implements ports.Logger on top of a logrus.Logger.
type Logger struct {
	log *logrus.Logger
}

// Options controls the underlying logrus instance.
type Options struct {
	Level  string    // debug, info, warn, error; defaults to info
	JSON   bool      // JSON formatter instead of text
	Output io.Writer // defaults to os.Stderr
}

// New builds a logger. Unknown level strings fall back to info.
func New(opts Options) *Logger {
	l := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}
	return &Logger{log: l}
}

func (l *Logger) entry(fields ...map[string]interface{}) *logrus.Entry {
	if len(fields) == 0 || fields[0] == nil {
		return logrus.NewEntry(l.log)
	}
	return l.log.WithFields(logrus.Fields(fields[0]))
}

// Debug logs a message at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Debug(msg)
}

// Info logs a message at info level.
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Info(msg)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(fields...).Warn(msg)
}

// Error logs an error with its message at error level.
func (l *Logger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	entry := l.entry(fields...)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}
