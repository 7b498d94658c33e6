package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriterNilWithoutPath(t *testing.T) {
	if w := (Config{}).Writer(); w != nil {
		t.Fatalf("expected nil writer when no path set")
	}
}

func TestWriterDefaultsAndOverrides(t *testing.T) {
	w := Config{File: FileConfig{Path: "x"}}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}

	w = Config{File: FileConfig{Path: "y", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}.Writer()
	l = w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("overrides not applied: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	log, closer := New(Config{Level: "debug", Format: "text", File: FileConfig{Path: path}})
	log.Info("hello", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("log file empty")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"junk":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
