// Package repository maps domain entities onto a store.Backend.
package repository

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/store"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-ordered ULID string.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// Entity constrains P to the pointer type of T implementing domain.Entity.
type Entity[T any] interface {
	*T
	domain.Entity
}

// Repo is a typed view over one collection.
type Repo[T any, P Entity[T]] struct {
	backend    store.Backend
	collection string
	now        func() time.Time
}

func NewRepo[T any, P Entity[T]](backend store.Backend, collection string) *Repo[T, P] {
	return &Repo[T, P]{backend: backend, collection: collection, now: time.Now}
}

// Collection returns the backing collection name.
func (r *Repo[T, P]) Collection() string {
	return r.collection
}

// Create assigns an ID when the entity has none and stores it.
func (r *Repo[T, P]) Create(ctx context.Context, entity P) error {
	now := r.now()
	if entity.EntityID() == "" {
		entity.SetEntityID(NewID(now))
	}
	entity.Touch(now)
	return r.put(ctx, entity, now)
}

// Update stores an existing entity.
func (r *Repo[T, P]) Update(ctx context.Context, entity P) error {
	if entity.EntityID() == "" {
		return brainErrors.InvalidInput(fmt.Sprintf("%s: update without id", r.collection))
	}
	now := r.now()
	entity.Touch(now)
	return r.put(ctx, entity, now)
}

func (r *Repo[T, P]) put(ctx context.Context, entity P, now time.Time) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return brainErrors.Wrap(err, fmt.Sprintf("encode %s/%s", r.collection, entity.EntityID()))
	}
	return r.backend.Put(ctx, r.collection, store.Record{
		ID:        entity.EntityID(),
		Owner:     entity.EntityOwner(),
		Data:      data,
		UpdatedAt: now,
	})
}

// Get loads one entity. Missing IDs return an error wrapping ErrNotFound.
func (r *Repo[T, P]) Get(ctx context.Context, id string) (P, error) {
	rec, err := r.backend.Get(ctx, r.collection, id)
	if err != nil {
		return nil, err
	}
	return r.decode(rec)
}

// GetOwned loads an entity and checks that it belongs to owner. Entities of
// other owners are reported as not found.
func (r *Repo[T, P]) GetOwned(ctx context.Context, id, owner string) (P, error) {
	entity, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.EntityOwner() != owner {
		return nil, brainErrors.NotFound(fmt.Sprintf("%s/%s", r.collection, id))
	}
	return entity, nil
}

func (r *Repo[T, P]) Delete(ctx context.Context, id string) error {
	return r.backend.Delete(ctx, r.collection, id)
}

// Query returns the owner's entities accepted by pred in ID order. An empty
// owner spans all owners; a nil pred accepts everything.
func (r *Repo[T, P]) Query(ctx context.Context, owner string, pred func(P) bool) ([]P, error) {
	records, err := r.backend.List(ctx, r.collection, owner)
	if err != nil {
		return nil, err
	}
	out := make([]P, 0, len(records))
	for _, rec := range records {
		entity, err := r.decode(rec)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(entity) {
			out = append(out, entity)
		}
	}
	return out, nil
}

// First returns the first match of pred, or nil when nothing matches.
func (r *Repo[T, P]) First(ctx context.Context, owner string, pred func(P) bool) (P, error) {
	matches, err := r.Query(ctx, owner, pred)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

// Last returns the newest match of pred, or nil when nothing matches.
func (r *Repo[T, P]) Last(ctx context.Context, owner string, pred func(P) bool) (P, error) {
	matches, err := r.Query(ctx, owner, pred)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[len(matches)-1], nil
}

// Owners returns the distinct owners present in the collection.
func (r *Repo[T, P]) Owners(ctx context.Context) ([]string, error) {
	records, err := r.backend.List(ctx, r.collection, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(records))
	var out []string
	for _, rec := range records {
		if !seen[rec.Owner] {
			seen[rec.Owner] = true
			out = append(out, rec.Owner)
		}
	}
	return out, nil
}

func (r *Repo[T, P]) decode(rec store.Record) (P, error) {
	entity := P(new(T))
	if err := json.Unmarshal(rec.Data, entity); err != nil {
		return nil, brainErrors.Wrap(err, fmt.Sprintf("decode %s/%s", r.collection, rec.ID))
	}
	return entity, nil
}
