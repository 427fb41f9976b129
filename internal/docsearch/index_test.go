package docsearch

import (
	"context"
	"errors"
	"math"
	"testing"
)

// mockEmbedder returns deterministic embeddings based on text content.
// Shared characters contribute to the same positions, so similar texts
// produce similar vectors.
type mockEmbedder struct {
	dims int
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dims)
		for j, ch := range text {
			vec[(int(ch)+j)%m.dims] += 1.0
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for k := range vec {
				vec[k] = float32(float64(vec[k]) / norm)
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEmbedder) Name() string { return "mock" }

func seeded(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(&mockEmbedder{dims: 64})
	ctx := context.Background()
	err := ix.Add(ctx, "acme", []Passage{
		{ID: "a1", Title: "Return policy", Source: "policies.pdf", Content: "Customers may return products within 30 days of delivery"},
		{ID: "a2", Title: "Payment terms", Source: "terms.pdf", Content: "Invoices are payable within 45 days of the invoice date"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	err = ix.Add(ctx, "globex", []Passage{
		{ID: "g1", Title: "Globex secrets", Content: "Globex internal pricing for returns and payments"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return ix
}

func TestSearchIsScoped(t *testing.T) {
	ix := seeded(t)
	results, err := ix.Search(context.Background(), "return products", "acme", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.ID == "g1" {
			t.Fatal("acme search returned a globex passage")
		}
		if r.Score == 0 {
			t.Error("result has zero similarity")
		}
	}
	if results[0].Title == "" || results[0].Source == "" {
		t.Errorf("metadata not round-tripped: %+v", results[0])
	}
}

func TestSearchUnknownScopeIsEmpty(t *testing.T) {
	ix := seeded(t)
	results, err := ix.Search(context.Background(), "anything", "initech", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for an unindexed scope", len(results))
	}
}

func TestSearchValidation(t *testing.T) {
	ix := seeded(t)
	if _, err := ix.Search(context.Background(), "  ", "acme", 3); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank query: got %v", err)
	}
	if _, err := ix.Search(context.Background(), "x", "", 3); err == nil {
		t.Error("blank scope should fail")
	}
}

func TestDeleteAndCount(t *testing.T) {
	ix := seeded(t)
	if got := ix.Count("acme"); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
	if err := ix.Delete(context.Background(), "acme", "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := ix.Count("acme"); got != 1 {
		t.Errorf("Count after delete = %d, want 1", got)
	}
	if got := ix.Count("globex"); got != 1 {
		t.Errorf("globex Count = %d, want 1", got)
	}
}

func TestPersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	ix := seeded(t)
	if err := ix.Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded := NewIndex(&mockEmbedder{dims: 64})
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.Count("acme"); got != 2 {
		t.Errorf("loaded Count = %d, want 2", got)
	}

	empty := NewIndex(&mockEmbedder{dims: 64})
	if err := empty.Load(t.TempDir()); err != nil {
		t.Errorf("loading a missing index should be a no-op, got %v", err)
	}
}
