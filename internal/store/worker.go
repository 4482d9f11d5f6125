package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/harunnryd/brain/internal/config"
	brainErrors "github.com/harunnryd/brain/internal/errors"

	"github.com/natefinch/atomic"
)

type Operation int

const (
	OpPut Operation = iota
	OpGet
	OpList
	OpDelete
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type PutPayload struct {
	Collection string
	Record     Record
}

type GetPayload struct {
	Collection string
	ID         string
}

type ListPayload struct {
	Collection string
	Owner      string
}

type DeletePayload struct {
	Collection string
	ID         string
}

type RuntimeConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
	InboxSize    int
}

// FileBackend stores each collection as one JSON document. All file access
// goes through a single worker goroutine, and a process lock keeps other
// brain processes out of the data directory.
type FileBackend struct {
	dataDir     string
	inbox       chan Request
	fileLock    *FileLock
	quit        chan struct{}
	wg          sync.WaitGroup
	collections map[string]map[string]Record
	running     stdatomic.Bool
	stopOnce    sync.Once
}

func NewFileBackend(dataDir string, runtimeCfg RuntimeConfig) (*FileBackend, error) {
	dir, err := ResolveDataDir(dataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}

	fileLock, err := NewFileLock(dir, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	b := &FileBackend{
		dataDir:     dir,
		inbox:       make(chan Request, runtimeCfg.InboxSize),
		fileLock:    fileLock,
		quit:        make(chan struct{}),
		collections: make(map[string]map[string]Record),
	}
	b.start()
	return b, nil
}

func (b *FileBackend) start() {
	b.wg.Add(1)
	b.running.Store(true)
	go b.loop()
}

func (b *FileBackend) loop() {
	slog.Debug("Store worker started", "data_dir", b.dataDir)
	defer func() {
		b.running.Store(false)
		b.wg.Done()
	}()

	for {
		select {
		case req := <-b.inbox:
			err := b.handle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-b.quit:
			slog.Debug("Store worker stopping", "data_dir", b.dataDir)
			return
		}
	}
}

func (b *FileBackend) handle(req Request) error {
	switch req.Op {
	case OpPut:
		p, ok := req.Payload.(PutPayload)
		if !ok {
			return fmt.Errorf("invalid payload for Put")
		}
		col, err := b.collection(p.Collection)
		if err != nil {
			return err
		}
		col[p.Record.ID] = p.Record
		return b.flush(p.Collection)
	case OpGet:
		p, ok := req.Payload.(GetPayload)
		if !ok {
			return fmt.Errorf("invalid payload for Get")
		}
		col, err := b.collection(p.Collection)
		if err != nil {
			return err
		}
		rec, found := col[p.ID]
		if !found {
			return brainErrors.NotFound(fmt.Sprintf("%s/%s", p.Collection, p.ID))
		}
		req.Response <- rec
		return nil
	case OpList:
		p, ok := req.Payload.(ListPayload)
		if !ok {
			return fmt.Errorf("invalid payload for List")
		}
		col, err := b.collection(p.Collection)
		if err != nil {
			return err
		}
		out := make([]Record, 0, len(col))
		for _, rec := range col {
			if p.Owner == "" || rec.Owner == p.Owner {
				out = append(out, rec)
			}
		}
		sortRecords(out)
		req.Response <- out
		return nil
	case OpDelete:
		p, ok := req.Payload.(DeletePayload)
		if !ok {
			return fmt.Errorf("invalid payload for Delete")
		}
		col, err := b.collection(p.Collection)
		if err != nil {
			return err
		}
		if _, found := col[p.ID]; !found {
			return nil
		}
		delete(col, p.ID)
		return b.flush(p.Collection)
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

// collection lazily loads a collection file. Only called from the worker.
func (b *FileBackend) collection(name string) (map[string]Record, error) {
	if col, ok := b.collections[name]; ok {
		return col, nil
	}

	col := make(map[string]Record)
	data, err := os.ReadFile(CollectionPath(b.dataDir, name))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	case len(bytes.TrimSpace(data)) > 0:
		if err := json.Unmarshal(data, &col); err != nil {
			return nil, fmt.Errorf("parse collection %s: %w", name, err)
		}
	}
	b.collections[name] = col
	return col, nil
}

func (b *FileBackend) flush(name string) error {
	data, err := json.MarshalIndent(b.collections[name], "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(CollectionPath(b.dataDir, name), bytes.NewReader(data))
}

func (b *FileBackend) submit(ctx context.Context, req Request) error {
	if !b.running.Load() {
		return brainErrors.Internal("store worker is not running")
	}
	select {
	case b.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *FileBackend) Put(ctx context.Context, collection string, rec Record) error {
	return b.submit(ctx, Request{
		Op:      OpPut,
		Payload: PutPayload{Collection: collection, Record: rec},
		Result:  make(chan error, 1),
	})
}

func (b *FileBackend) Get(ctx context.Context, collection, id string) (Record, error) {
	resp := make(chan interface{}, 1)
	err := b.submit(ctx, Request{
		Op:       OpGet,
		Payload:  GetPayload{Collection: collection, ID: id},
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return Record{}, err
	}
	return (<-resp).(Record), nil
}

func (b *FileBackend) List(ctx context.Context, collection, owner string) ([]Record, error) {
	resp := make(chan interface{}, 1)
	err := b.submit(ctx, Request{
		Op:       OpList,
		Payload:  ListPayload{Collection: collection, Owner: owner},
		Result:   make(chan error, 1),
		Response: resp,
	})
	if err != nil {
		return nil, err
	}
	return (<-resp).([]Record), nil
}

func (b *FileBackend) Delete(ctx context.Context, collection, id string) error {
	return b.submit(ctx, Request{
		Op:      OpDelete,
		Payload: DeletePayload{Collection: collection, ID: id},
		Result:  make(chan error, 1),
	})
}

// Close stops the worker and releases the data dir lock.
func (b *FileBackend) Close() error {
	b.stopOnce.Do(func() {
		close(b.quit)
		b.wg.Wait()
		b.fileLock.Unlock()
	})
	return nil
}

func (b *FileBackend) IsLockHeld() bool {
	return b.fileLock.IsLocked()
}

func (b *FileBackend) IsRunning() bool {
	return b.fileLock.IsLocked() && b.running.Load()
}

// DataDir returns the resolved data directory.
func (b *FileBackend) DataDir() string {
	return b.dataDir
}
