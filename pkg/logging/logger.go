// Package logging provides a structured logger shared by every long-lived
// task in the runtime (sources, router edges, node workers, the alarm
// manager). It is a thin wrapper over logrus so call sites depend on this
// package, not on logrus directly.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/WispAyr/overwatch-sub003/pkg/config"
)

// Logger is the logger type passed through every component constructor.
type Logger = *logrus.Logger

// Fields is structured logging key/value context.
type Fields = logrus.Fields

// Level is a log level.
type Level = logrus.Level

const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// NewLogger creates a JSON-formatted logger at the level set by OVERWATCH_LOG_LEVEL.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithComponent returns a logger with a fixed "component" field,
// e.g. "ingest", "router", "workflow", "alarm".
func NewLoggerWithComponent(component string) *logrus.Logger {
	logger := NewLogger()
	return logger.WithField("component", component).Logger
}
