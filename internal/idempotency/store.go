// Package idempotency remembers inbound chat updates so a redelivered
// Telegram update or Slack event is handled once.
package idempotency

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

type seenKeys struct {
	Keys map[string]int64 `json:"keys"` // key -> expiry, unix seconds
}

// Store is a TTL set of seen update keys. With an empty path it lives in
// memory only.
type Store struct {
	path  string
	state seenKeys
	mu    sync.Mutex
	now   func() time.Time
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		state: seenKeys{Keys: make(map[string]int64)},
		now:   time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore() *Store {
	s, _ := NewStore("")
	return s
}

// Key builds a namespaced key such as "telegram:1234".
func Key(source string, id any) string {
	return fmt.Sprintf("%s:%v", source, id)
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("create idempotency dir: %w", err)
		}
		return s.save()
	}
	if err != nil {
		return fmt.Errorf("read idempotency store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("decode idempotency store: %w", err)
	}
	if s.state.Keys == nil {
		s.state.Keys = make(map[string]int64)
	}
	return nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

// Save flushes the seen keys to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// CheckAndMark reports whether key was already seen and not yet expired.
// Unseen or expired keys are marked for ttl and false is returned.
func (s *Store) CheckAndMark(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	if expiry, ok := s.state.Keys[key]; ok && expiry > now {
		return true
	}
	s.state.Keys[key] = now + int64(ttl.Seconds())
	return false
}

// Prune drops expired keys and returns how many went.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	count := 0
	for k, expiry := range s.state.Keys {
		if expiry <= now {
			delete(s.state.Keys, k)
			count++
		}
	}
	return count
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Keys)
}
