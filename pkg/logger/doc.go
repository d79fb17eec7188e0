// Package logger provides the structured logging interface used across snapmem.
//
// It wraps zerolog behind a small Logger interface so components can be
// handed a real logger, a no-op logger or a TestLogger that captures messages.
//
//	log := logger.GetLogger().WithField("component", "downloader")
//	log.InfoWithFields("Download completed", map[string]interface{}{
//	    "id":   entry.ID,
//	    "size": len(payload),
//	})
//
// Console output is colourised only when attached to a terminal. When a log
// file is configured, JSON lines are appended to it as well.
package logger
