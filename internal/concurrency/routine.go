package concurrency

import (
	"context"
	"log/slog"
	"runtime/debug"
)

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(interface{})) {
	go func() {
		defer recoverPanic(onPanic)
		fn()
	}()
}

// SafeRun runs fn synchronously and logs any error or panic instead of
// propagating it.
func SafeRun(ctx context.Context, name string, fn func(context.Context) error) {
	defer recoverPanic(nil)
	if err := fn(ctx); err != nil {
		slog.Warn("Background step failed", "step", name, "error", err)
	}
}

func recoverPanic(onPanic func(interface{})) {
	if r := recover(); r != nil {
		slog.Error("Panic recovered", "panic", r, "stack", string(debug.Stack()))
		if onPanic != nil {
			onPanic(r)
		}
	}
}
