package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used throughout the runner. It is satisfied
// by both *logrus.Logger and *logrus.Entry, so components can receive either
// the root logger or a field-scoped entry.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// Component returns a logger scoped to the named daemon component.
func Component(log *logrus.Logger, name string) Logger {
	return log.WithFields(logrus.Fields{"component": name})
}

// Discard returns a logger that swallows all output. Intended for tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
