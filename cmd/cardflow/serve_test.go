package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTOML(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestServeRejectsMissingConfigFile(t *testing.T) {
	err := runServeCommand(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Fatalf("expected config load error, got %v", err)
	}
}

func TestServeRejectsInvalidStoreType(t *testing.T) {
	p := writeTOML(t, t.TempDir(), "bad.toml", `
[store]
type = "oracle"
`)
	err := runServeCommand(p)
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
