package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

func newTestFileBackend(t *testing.T, dir string) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(dir, RuntimeConfig{LockMaxRetry: 5})
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	return b
}

// exerciseBackend runs the contract every Backend implementation must honor.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, err := b.Get(ctx, CollectionPlans, "missing"); !errors.Is(err, brainErrors.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	for i, owner := range []string{"u1", "u2", "u1"} {
		rec := Record{ID: fmt.Sprintf("01H%03d", i), Owner: owner, Data: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))}
		if err := b.Put(ctx, CollectionPlans, rec); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	got, err := b.Get(ctx, CollectionPlans, "01H001")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Owner != "u2" || string(got.Data) != `{"n":1}` {
		t.Fatalf("Get() = %+v", got)
	}

	owned, err := b.List(ctx, CollectionPlans, "u1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(owned) != 2 || owned[0].ID != "01H000" || owned[1].ID != "01H002" {
		t.Fatalf("List(u1) = %+v", owned)
	}

	all, _ := b.List(ctx, CollectionPlans, "")
	if len(all) != 3 {
		t.Fatalf("List(all) len = %d, want 3", len(all))
	}

	if err := b.Delete(ctx, CollectionPlans, "01H000"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := b.Get(ctx, CollectionPlans, "01H000"); !errors.Is(err, brainErrors.ErrNotFound) {
		t.Fatalf("expected deleted record to be gone, err = %v", err)
	}
	if err := b.Delete(ctx, CollectionPlans, "01H000"); err != nil {
		t.Fatalf("Delete() of missing record should be a no-op, got %v", err)
	}
}

func TestMemoryBackendContract(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestFileBackendContract(t *testing.T) {
	b := newTestFileBackend(t, t.TempDir())
	defer b.Close()
	exerciseBackend(t, b)
}

func TestFileBackendPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := newTestFileBackend(t, dir)
	if err := b.Put(ctx, CollectionGoals, Record{ID: "g1", Owner: "u1", Data: json.RawMessage(`{"title":"Grow"}`)}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	b.Close()

	if _, err := os.Stat(CollectionPath(dir, CollectionGoals)); err != nil {
		t.Fatalf("expected collection file: %v", err)
	}

	reopened := newTestFileBackend(t, dir)
	defer reopened.Close()
	rec, err := reopened.Get(ctx, CollectionGoals, "g1")
	if err != nil {
		t.Fatalf("Get() after restart error = %v", err)
	}
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(rec.Data, &payload); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if payload.Title != "Grow" || rec.Owner != "u1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestFileBackendConcurrentWrites(t *testing.T) {
	b := newTestFileBackend(t, t.TempDir())
	defer b.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := Record{ID: fmt.Sprintf("k%02d", i), Owner: "u1", Data: json.RawMessage(`{}`)}
			if err := b.Put(ctx, CollectionActivity, rec); err != nil {
				t.Errorf("Put() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, err := b.List(ctx, CollectionActivity, "u1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 25 {
		t.Fatalf("len = %d, want 25", len(list))
	}
}

func TestFileBackendRejectsAfterClose(t *testing.T) {
	b := newTestFileBackend(t, t.TempDir())
	b.Close()
	if b.IsRunning() {
		t.Fatal("expected worker stopped")
	}
	if err := b.Put(context.Background(), CollectionPlans, Record{ID: "x"}); err == nil {
		t.Fatal("expected error after close")
	}
	// Close is idempotent.
	b.Close()
}
