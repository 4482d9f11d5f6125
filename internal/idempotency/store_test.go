package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndMark(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	key := Key("telegram", 42)
	assert.Equal(t, "telegram:42", key)
	assert.False(t, s.CheckAndMark(key, time.Minute), "first delivery")
	assert.True(t, s.CheckAndMark(key, time.Minute), "redelivery")

	now = now.Add(2 * time.Minute)
	assert.False(t, s.CheckAndMark(key, time.Minute), "expired key is handled again")
}

func TestPrune(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.CheckAndMark("a", time.Minute)
	s.CheckAndMark("b", time.Hour)
	now = now.Add(5 * time.Minute)

	if got := s.Prune(); got != 1 {
		t.Fatalf("Prune() = %d, want 1", got)
	}
	assert.Equal(t, 1, s.Len())
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "updates.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	s.CheckAndMark("slack:Ev1", time.Hour)
	require.NoError(t, s.Save())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	assert.True(t, reopened.CheckAndMark("slack:Ev1", time.Hour))
}
