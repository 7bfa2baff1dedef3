package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log *logrus.Logger
	mu  sync.RWMutex
)

// Fields is an alias so callers don't need to import logrus directly
type Fields = logrus.Fields

// Init initializes the logger with the given configuration
func Init(level, logFile string, console bool) error {
	l := logrus.New()

	// Set log level
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var writers []io.Writer

	if console {
		writers = append(writers, os.Stderr)
	}

	if logFile != "" {
		dir := filepath.Dir(logFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	switch len(writers) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(writers[0])
	default:
		l.SetOutput(io.MultiWriter(writers...))
	}

	SetLogger(l)
	return nil
}

// Get returns the logger instance
func Get() *logrus.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log = logrus.New()
	}
	return log
}

// SetLogger replaces the package logger. Tests use it to install a logger
// whose ExitFunc panics instead of terminating the process.
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

// WithFields starts a structured entry on the package logger
func WithFields(fields Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

// Convenience functions
func Debugf(format string, args ...interface{}) {
	Get().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Get().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Get().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Get().Errorf(format, args...)
}

// Fatalf logs at fatal level and terminates through the logger's ExitFunc.
func Fatalf(format string, args ...interface{}) {
	Get().Fatalf(format, args...)
}

// Die logs a fatal entry with fields and terminates through the logger's
// ExitFunc. It never returns: if ExitFunc does, Die panics with the message.
func Die(fields Fields, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	Get().WithFields(fields).Fatal(msg)
	panic(msg)
}
