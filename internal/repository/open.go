package repository

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/harunnryd/brain/internal/config"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/store"
	"github.com/harunnryd/brain/internal/store/sqlite"
)

// Open builds the repositories over the backend named in the store config.
func Open(cfg config.StoreConfig) (*Repositories, error) {
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	return New(backend), nil
}

func openBackend(cfg config.StoreConfig) (store.Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if kind == "" {
		kind = config.DefaultStoreBackend
	}
	switch kind {
	case "memory":
		return store.NewMemoryBackend(), nil
	case "sqlite":
		dir, err := store.ResolveDataDir(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(filepath.Join(dir, "brain.db"))
	case "file":
		lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse store lock timeout: %w", err)
		}
		lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse store lock retry: %w", err)
		}
		return store.NewFileBackend(cfg.DataDir, store.RuntimeConfig{
			LockTimeout:  lockTimeout,
			LockRetry:    lockRetry,
			LockMaxRetry: cfg.LockMaxRetry,
			InboxSize:    cfg.InboxSize,
		})
	}
	return nil, brainErrors.InvalidInput(fmt.Sprintf("unknown store backend %q", cfg.Backend))
}
