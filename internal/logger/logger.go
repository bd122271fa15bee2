package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var (
	log = newLogger(io.Discard)

	DebugEnabled = false

	logFile *os.File
)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)

	return l
}

// InitLogging sets up logging based on configuration. Without a log path,
// messages go to stderr.
func InitLogging(debugMode bool, logPath string) error {
	DebugEnabled = debugMode

	var out io.Writer = os.Stderr

	if logPath != "" {
		logDir := filepath.Dir(logPath)
		err := os.MkdirAll(logDir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		logFile = f
		out = f
	}

	log = newLogger(out)
	if DebugEnabled {
		log.SetLevel(logrus.DebugLevel)
	}

	return nil
}

// Close closes the log file if open.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Torrent returns an entry tagged with the torrent's name, used for the
// per-torrent deep logging of piece and metadata traffic.
func Torrent(name string) *logrus.Entry {
	return log.WithField("torrent", name)
}

func Infof(format string, v ...interface{}) {
	log.Infof(format, v...)
}

// Errorf logs an error message.
func Errorf(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

func Debugf(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	log.Warnf(format, v...)
}
