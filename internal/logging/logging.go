// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/config"
)

// Init configures level, format and output. verbose forces debug level.
// It returns a closer for file outputs; the closer is a no-op otherwise.
func Init(cfg config.Logging, verbose bool) func() error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Invalid log level '%s', using 'info' instead. Error: %v", cfg.Level, err)
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	output, closer := openOutput(cfg.Output)
	logrus.SetOutput(output)

	logrus.Debug("Logger initialized")
	return closer
}

func openOutput(target string) (io.Writer, func() error) {
	noop := func() error { return nil }
	switch strings.ToLower(target) {
	case "stdout":
		return os.Stdout, noop
	case "", "stderr":
		return os.Stderr, noop
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logrus.Warnf("Failed to open log file '%s', using 'stderr' instead. Error: %v", target, err)
		return os.Stderr, noop
	}
	return file, file.Close
}
