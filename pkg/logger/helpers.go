package logger

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// LogFetch logs the outcome of one download attempt
func LogFetch(l Logger, entryID string, attempt int, size int, took time.Duration, err error) {
	fields := map[string]interface{}{
		"id":          entryID,
		"attempt":     attempt,
		"duration_ms": took.Milliseconds(),
	}
	if err != nil {
		l.WithError(err).WarnWithFields("Download attempt failed", fields)
		return
	}
	fields["size"] = humanize.Bytes(uint64(size))
	l.DebugWithFields("Download attempt succeeded", fields)
}

// LogThrottle logs the single transition into sequential mode
func LogThrottle(l Logger, entryID string, status int) {
	l.WithFields(map[string]interface{}{
		"id":     entryID,
		"status": status,
		"action": "sequential_fallback",
	}).Warn("Throttling detected, switching to sequential downloads for the rest of the run")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, settings map[string]interface{}) {
	l.WithField("component", component).InfoWithFields("Component started", settings)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	z := zerolog.Nop()
	return &z
}
