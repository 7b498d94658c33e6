package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes the optional rotating file sink. Rotation parameters
// follow lumberjack semantics.
type FileConfig struct {
	Path       string // log file path; empty disables the file sink
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

// Config describes the application log output.
type Config struct {
	Level  string // debug, info, warn, error (default info)
	Format string // "color" or "text" (default color on a terminal)
	File   FileConfig
}

// Writer returns the rotating file writer, or nil when no path is set.
func (c Config) Writer() io.WriteCloser {
	if c.File.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File.Path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// New builds the application slog.Logger: colored text on stdout, optionally
// duplicated to a rotating file. The returned closer owns the file handle and
// is a no-op when no file sink is configured.
func New(c Config) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	var out io.Writer = os.Stdout
	closer := io.Closer(nopCloser{})
	if w := c.Writer(); w != nil {
		out = io.MultiWriter(os.Stdout, w)
		closer = w
	}
	var h slog.Handler
	if strings.EqualFold(c.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = NewColorTextHandler(out, opts, true)
	}
	return slog.New(h), closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
