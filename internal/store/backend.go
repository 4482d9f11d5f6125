package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Collections persisted by the brain.
const (
	CollectionUsers         = "users"
	CollectionSettings      = "settings"
	CollectionConversations = "conversations"
	CollectionPlans         = "plans"
	CollectionGoals         = "goals"
	CollectionApprovals     = "approvals"
	CollectionSnapshots     = "snapshots"
	CollectionKnowledge     = "knowledge"
	CollectionExecutions    = "executions"
	CollectionActivity      = "activity"
	CollectionProcessedKeys = "processed_keys"
	CollectionCalendar      = "calendar"
)

// Record is the storage envelope of one entity.
type Record struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Backend is a collection-oriented record store. Get returns an error
// wrapping errors.ErrNotFound for missing records. List with an empty owner
// returns every record of the collection.
type Backend interface {
	Put(ctx context.Context, collection string, rec Record) error
	Get(ctx context.Context, collection, id string) (Record, error)
	List(ctx context.Context, collection, owner string) ([]Record, error)
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// sortRecords orders records by ID. IDs are ULIDs, so this is creation order.
func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}
