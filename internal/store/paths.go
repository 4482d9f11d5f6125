package store

import (
	"path/filepath"
	"strings"

	"github.com/harunnryd/brain/internal/config"
)

// ResolveDataDir resolves the configured data directory, falling back to
// ~/.brain/data.
func ResolveDataDir(dataDir string) (string, error) {
	if trimmed := strings.TrimSpace(dataDir); trimmed != "" {
		return config.ExpandPath(trimmed)
	}
	return filepath.Join(config.DefaultDataDir(), "data"), nil
}

// CollectionPath returns the JSON file backing a collection.
func CollectionPath(dataDir, collection string) string {
	return filepath.Join(dataDir, collection+".json")
}

// LockPath returns the process lock file of a data directory.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "brain.lock")
}
