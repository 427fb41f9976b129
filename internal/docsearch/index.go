// Package docsearch is the tenant document index: a small retrieval service
// answering Search(query, scope) with ranked passages. Each scope (tenant)
// gets its own collection, so a query can only ever see its own documents.
package docsearch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const (
	indexFile        = "documents.gob.gz"
	collectionPrefix = "scope:"
	defaultLimit     = 5
	maxLimit         = 20
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("search query is empty")

// Passage is one ranked search hit.
type Passage struct {
	ID      string  `json:"id"`
	Source  string  `json:"source,omitempty"`
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url,omitempty"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// Searcher is the contract consumed by the search_documents skill.
type Searcher interface {
	Search(ctx context.Context, query, scope string, limit int) ([]Passage, error)
}

// Index is a chromem-go backed Searcher.
type Index struct {
	mu       sync.Mutex
	db       *chromem.DB
	embed    chromem.EmbeddingFunc
	embedder Embedder
}

// NewIndex creates an empty in-memory index.
func NewIndex(embedder Embedder) *Index {
	return &Index{db: chromem.NewDB(), embed: chromemFunc(embedder), embedder: embedder}
}

func (ix *Index) collection(scope string, create bool) (*chromem.Collection, error) {
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("scope is required")
	}
	name := collectionPrefix + scope
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col := ix.db.GetCollection(name, ix.embed); col != nil || !create {
		return col, nil
	}
	col, err := ix.db.GetOrCreateCollection(name, map[string]string{"scope": scope}, ix.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return col, nil
}

// Add indexes passages under scope. Passages with an existing ID replace it.
func (ix *Index) Add(ctx context.Context, scope string, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}
	col, err := ix.collection(scope, true)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, len(passages))
	for i, p := range passages {
		if p.ID == "" {
			return fmt.Errorf("passage %d has no id", i)
		}
		docs[i] = chromem.Document{
			ID:      p.ID,
			Content: p.Content,
			Metadata: map[string]string{
				"source": p.Source,
				"title":  p.Title,
				"url":    p.URL,
			},
		}
	}
	return col.AddDocuments(ctx, docs, 1)
}

// Search returns up to limit passages of scope ranked by similarity.
func (ix *Index) Search(ctx context.Context, query, scope string, limit int) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	col, err := ix.collection(scope, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return []Passage{}, nil
	}
	// chromem-go requires nResults <= collection size.
	count := col.Count()
	if count == 0 {
		return []Passage{}, nil
	}
	limit = min(limit, count)

	results, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]Passage, len(results))
	for i, r := range results {
		out[i] = Passage{
			ID:      r.ID,
			Source:  r.Metadata["source"],
			Title:   r.Metadata["title"],
			URL:     r.Metadata["url"],
			Content: r.Content,
			Score:   r.Similarity,
		}
	}
	return out, nil
}

// Delete removes one passage from scope.
func (ix *Index) Delete(ctx context.Context, scope, id string) error {
	col, err := ix.collection(scope, false)
	if err != nil || col == nil {
		return err
	}
	return col.Delete(ctx, nil, nil, id)
}

// Count returns the number of passages in scope.
func (ix *Index) Count(scope string) int {
	col, err := ix.collection(scope, false)
	if err != nil || col == nil {
		return 0
	}
	return col.Count()
}

// Persist writes the whole index to dir.
func (ix *Index) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.ExportToFile(filepath.Join(dir, indexFile), true, "")
}

// Load replaces the index contents with what Persist wrote to dir. A
// missing file leaves the index empty.
func (ix *Index) Load(dir string) error {
	path := filepath.Join(dir, indexFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}
	return nil
}
