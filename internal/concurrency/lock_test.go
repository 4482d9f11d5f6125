package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestUserLockerSerializesCounters(t *testing.T) {
	locker := NewUserLocker()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock("u1", func() error {
				v := counter
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	if locker.Size() != 0 {
		t.Fatalf("expected idle locks to be released, got %d", locker.Size())
	}
}

func TestWithLockReturnsError(t *testing.T) {
	locker := NewUserLocker()
	want := errors.New("boom")
	if err := locker.WithLock("u1", func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("WithLock() error = %v, want %v", err, want)
	}
}

func TestSafeRunRecoversPanic(t *testing.T) {
	ran := false
	SafeRun(context.Background(), "panics", func(context.Context) error {
		ran = true
		panic("boom")
	})
	if !ran {
		t.Fatal("expected function to run")
	}
}
