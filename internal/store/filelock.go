package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/harunnryd/brain/internal/config"

	"github.com/gofrs/flock"
)

// FileLock guarantees a single brain process per data directory.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.RWMutex
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func DefaultFileLockConfig() *FileLockConfig {
	lockTimeout, _ := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
	lockRetry, _ := config.DurationOrDefault("", config.DefaultStoreLockRetry)

	return &FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: config.DefaultStoreLockMaxRetry,
	}
}

func NewFileLock(dataDir string, cfg *FileLockConfig) (*FileLock, error) {
	if cfg == nil {
		cfg = DefaultFileLockConfig()
	}

	fl := &FileLock{
		fileLock: flock.New(LockPath(dataDir)),
		lockPath: LockPath(dataDir),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LockTimeout)
	defer cancel()

	if err := fl.acquireWithRetry(ctx, cfg); err != nil {
		return nil, err
	}

	fl.acquiredAt = time.Now()
	slog.Info("Data dir lock acquired", "path", fl.lockPath)
	return fl, nil
}

func (fl *FileLock) acquireWithRetry(ctx context.Context, cfg *FileLockConfig) error {
	for i := 0; i < cfg.LockMaxRetry; i++ {
		locked, err := fl.fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to attempt lock: %w", err)
		}
		if locked {
			return nil
		}
		if i == cfg.LockMaxRetry-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
		case <-time.After(cfg.LockRetry):
		}
	}

	return fmt.Errorf("data dir %s is locked by another brain process (timeout after %v)", fl.lockPath, cfg.LockTimeout)
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		return
	}

	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release data dir lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Info("Data dir lock released", "path", fl.lockPath, "held_ms", time.Since(fl.acquiredAt).Milliseconds())
	}
	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}

// CleanupStaleLock removes a lock file older than maxAge. Without force it
// only reports the stale lock.
func CleanupStaleLock(dataDir string, maxAge time.Duration, force bool) error {
	path := LockPath(dataDir)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	age := time.Since(info.ModTime())
	if age <= maxAge {
		return nil
	}

	slog.Warn("Found stale lock file", "path", path, "age", age)
	if !force {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	slog.Info("Stale lock file removed", "path", path)
	return nil
}
