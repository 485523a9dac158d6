// Package logging provides the structured, leveled logger used throughout
// this repository, backed by logrus.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled, structured logging surface every component in
// this repository depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// With returns a Logger that attaches the given structured fields to
	// every subsequent message, without mutating the receiver.
	With(fields map[string]interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger that writes structured, leveled lines to w.
func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Default returns a Logger writing Info-and-above structured lines to
// standard output.
func Default() Logger {
	return New(os.Stdout, logrus.InfoLevel)
}

// Nop returns a Logger that discards everything, for use in tests.
func Nop() Logger {
	return New(io.Discard, logrus.PanicLevel)
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) With(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}
