package factory

import (
	"fmt"
	"strings"

	"github.com/loykin/cardflow/internal/store"
	"github.com/loykin/cardflow/internal/store/postgres"
	"github.com/loykin/cardflow/internal/store/sqlite"
)

// New builds a store from configuration. An empty type means memory.
func New(cfg store.Config) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires path")
		}
		return sqlite.New(cfg.Path)
	case "postgresql", "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgresql store requires dsn")
		}
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// SupportedTypes lists the selectable store backends.
func SupportedTypes() []string {
	return []string{"memory", "sqlite", "postgresql"}
}
