package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	b, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, path
}

func TestBackendRoundTrip(t *testing.T) {
	b, _ := openTestBackend(t)
	ctx := context.Background()

	_, err := b.Get(ctx, store.CollectionPlans, "missing")
	assert.True(t, errors.Is(err, brainErrors.ErrNotFound))

	require.NoError(t, b.Put(ctx, store.CollectionPlans, store.Record{ID: "b", Owner: "u1", Data: json.RawMessage(`{"n":2}`)}))
	require.NoError(t, b.Put(ctx, store.CollectionPlans, store.Record{ID: "a", Owner: "u1", Data: json.RawMessage(`{"n":1}`)}))
	require.NoError(t, b.Put(ctx, store.CollectionPlans, store.Record{ID: "c", Owner: "u2", Data: json.RawMessage(`{"n":3}`)}))
	require.NoError(t, b.Put(ctx, store.CollectionGoals, store.Record{ID: "a", Owner: "u1", Data: json.RawMessage(`{}`)}))

	rec, err := b.Get(ctx, store.CollectionPlans, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(rec.Data))
	assert.False(t, rec.UpdatedAt.IsZero())

	list, err := b.List(ctx, store.CollectionPlans, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	all, err := b.List(ctx, store.CollectionPlans, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, b.Put(ctx, store.CollectionPlans, store.Record{ID: "a", Owner: "u1", Data: json.RawMessage(`{"n":10}`)}))
	rec, err = b.Get(ctx, store.CollectionPlans, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"n":10}`, string(rec.Data))

	require.NoError(t, b.Delete(ctx, store.CollectionPlans, "a"))
	_, err = b.Get(ctx, store.CollectionPlans, "a")
	assert.True(t, errors.Is(err, brainErrors.ErrNotFound))

	// Same ID in another collection is untouched.
	_, err = b.Get(ctx, store.CollectionGoals, "a")
	assert.NoError(t, err)
}

func TestBackendReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	ctx := context.Background()

	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, store.CollectionKnowledge, store.Record{ID: "k1", Owner: "u1", Data: json.RawMessage(`{"title":"Voice"}`)}))
	require.NoError(t, b.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(ctx, store.CollectionKnowledge, "k1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.Owner)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.True(t, errors.Is(err, brainErrors.ErrInvalidInput))
}
