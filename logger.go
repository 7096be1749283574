package blobfs

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with blobfs-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithPath adds a path field to the logger (useful for tagging operations).
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithSession adds an upload session ID field to the logger.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("session", id),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogOpen logs an open operation.
func (l *Logger) LogOpen(ctx context.Context, path string, offset int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"path", path,
			"offset", offset,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "open completed",
			"path", path,
			"offset", offset,
		)
	}
}

// LogCreate logs the outcome of a create, observed when the writer closes.
func (l *Logger) LogCreate(ctx context.Context, path string, written int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create failed",
			"path", path,
			"written", written,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "create completed",
			"path", path,
			"written", written,
		)
	}
}

// LogCopy logs a copy operation.
func (l *Logger) LogCopy(ctx context.Context, src, dst string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "copy failed",
			"src", src,
			"dst", dst,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "copy completed",
			"src", src,
			"dst", dst,
		)
	}
}

// LogRemove logs a remove operation.
func (l *Logger) LogRemove(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"path", path,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"path", path,
		)
	}
}

// LogRemoveDir logs a directory remove operation.
func (l *Logger) LogRemoveDir(ctx context.Context, dir string, removed int, err error) {
	if err != nil {
		l.WarnContext(ctx, "remove dir completed with failures",
			"dir", dir,
			"removed", removed,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove dir completed",
			"dir", dir,
			"removed", removed,
		)
	}
}

// LogList logs a listing operation.
func (l *Logger) LogList(ctx context.Context, dir string, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "list failed",
			"dir", dir,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "list completed",
			"dir", dir,
			"entries", entries,
		)
	}
}

// LogDirSize logs a directory size computation.
func (l *Logger) LogDirSize(ctx context.Context, dir string, total int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dir size failed",
			"dir", dir,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "dir size computed",
			"dir", dir,
			"bytes", total,
		)
	}
}

// LogStat logs a stat operation.
func (l *Logger) LogStat(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "stat failed",
			"path", path,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "stat completed",
			"path", path,
		)
	}
}

// LogMkdir logs a directory creation.
func (l *Logger) LogMkdir(ctx context.Context, dir string) {
	l.DebugContext(ctx, "mkdir completed",
		"dir", dir,
	)
}

// LogUploadBegin logs the start of an upload session. startChunk is non-zero
// for resumed sessions.
func (l *Logger) LogUploadBegin(ctx context.Context, path, session string, startChunk int32) {
	l.InfoContext(ctx, "upload session started",
		"path", path,
		"session", session,
		"start_chunk", startChunk,
	)
}

// LogUploadComplete logs the finalization of an upload.
func (l *Logger) LogUploadComplete(ctx context.Context, path string, chunks int32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upload finalize failed",
			"path", path,
			"chunks", chunks,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "upload completed",
			"path", path,
			"chunks", chunks,
		)
	}
}

// LogUploadCancel logs an upload cancellation.
func (l *Logger) LogUploadCancel(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upload cancel failed",
			"path", path,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "upload cancelled",
			"path", path,
		)
	}
}
