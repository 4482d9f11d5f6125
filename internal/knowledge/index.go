package knowledge

import (
	"context"
	"fmt"
	"sync"

	"github.com/harunnryd/brain/internal/domain"

	"github.com/philippgille/chromem-go"
)

// Embedder turns text into a vector. model.Completer satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hit is one semantic search result.
type Hit struct {
	ID         string
	Category   string
	Title      string
	Similarity float32
}

// VectorIndex keeps one chromem collection per user. Embeddings are computed
// by the Embedder and handed to chromem explicitly.
type VectorIndex struct {
	db       *chromem.DB
	embedder Embedder
	mu       sync.Mutex
}

// NewVectorIndex opens a persistent index under path, or an in-memory one
// when path is empty.
func NewVectorIndex(path string, embedder Embedder) (*VectorIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to init vector db: %w", err)
		}
	}
	return &VectorIndex{db: db, embedder: embedder}, nil
}

func collectionName(userID string) string {
	return "knowledge_" + userID
}

func documentText(e *domain.KnowledgeEntry) string {
	return e.Title + "\n" + e.Content
}

// Upsert embeds the entry and stores it in the owner's collection.
func (v *VectorIndex) Upsert(ctx context.Context, e *domain.KnowledgeEntry) error {
	vec, err := v.embedder.Embed(ctx, documentText(e))
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// nil embedding func because embeddings are provided
	col, err := v.db.GetOrCreateCollection(collectionName(e.UserID), nil, nil)
	if err != nil {
		return err
	}
	// AddDocuments is upsert in chromem
	return col.AddDocuments(ctx, []chromem.Document{
		{
			ID:        e.ID,
			Embedding: vec,
			Content:   documentText(e),
			Metadata: map[string]string{
				"category": string(e.Category),
				"title":    e.Title,
			},
		},
	}, 1)
}

// Remove drops an entry from the owner's collection.
func (v *VectorIndex) Remove(ctx context.Context, userID, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	col := v.db.GetCollection(collectionName(userID), nil)
	if col == nil {
		return nil
	}
	return col.Delete(ctx, nil, nil, id)
}

// Search returns up to limit nearest entries for query, most similar first.
func (v *VectorIndex) Search(ctx context.Context, userID, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	v.mu.Lock()
	col := v.db.GetCollection(collectionName(userID), nil)
	v.mu.Unlock()
	if col == nil {
		return nil, nil
	}
	// chromem rejects nResults above the document count
	if n := col.Count(); n < limit {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	docs, err := col.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(docs))
	for _, doc := range docs {
		hits = append(hits, Hit{
			ID:         doc.ID,
			Category:   doc.Metadata["category"],
			Title:      doc.Metadata["title"],
			Similarity: doc.Similarity,
		})
	}
	return hits, nil
}

// Count returns the number of indexed entries for a user.
func (v *VectorIndex) Count(userID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	col := v.db.GetCollection(collectionName(userID), nil)
	if col == nil {
		return 0
	}
	return col.Count()
}
