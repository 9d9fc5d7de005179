package inmemory

import (
	"context"
	"errors"
	"testing"

	apierrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/vector"
)

func embed(id string, vec []float32, meta map[string]any) *vector.Embedding {
	return &vector.Embedding{ID: id, Vector: vec, Text: "texto " + id, Metadata: meta}
}

func TestAddSearchFilter(t *testing.T) {
	ctx := context.Background()
	s := New()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.Add(ctx, embed("a", []float32{1, 0, 0}, map[string]any{"tipo_seccion": "garantias", "contract_id": "CON_2024_001"})))
	must(s.Add(ctx, embed("b", []float32{0.9, 0.1, 0}, map[string]any{"tipo_seccion": "economicas", "contract_id": "CON_2024_001"})))
	must(s.Add(ctx, embed("c", []float32{0, 1, 0}, map[string]any{"tipo_seccion": "garantias", "contract_id": "SER_2023_045"})))

	results, err := s.Search(ctx, []float32{1, 0, 0}, 10, nil)
	must(err)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Embedding.ID != "a" {
		t.Errorf("nearest = %s, want a", results[0].Embedding.ID)
	}

	results, err = s.Search(ctx, []float32{1, 0, 0}, 10, &vector.Filter{
		Eq: map[string]any{"tipo_seccion": "garantias"},
	})
	must(err)
	if len(results) != 2 {
		t.Fatalf("filtered: got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Embedding.Metadata["tipo_seccion"] != "garantias" {
			t.Errorf("filter leaked section %v", r.Embedding.Metadata["tipo_seccion"])
		}
	}

	results, err = s.Search(ctx, []float32{1, 0, 0}, 10, &vector.Filter{
		In: map[string][]any{"contract_id": {"SER_2023_045", "SUM_2022_001"}},
	})
	must(err)
	if len(results) != 1 || results[0].Embedding.ID != "c" {
		t.Fatalf("in-filter: got %v", results)
	}
}

func TestAddRejectsNonScalarMetadata(t *testing.T) {
	s := New()
	err := s.Add(context.Background(), embed("x", []float32{1}, map[string]any{
		"importes": []float64{100, 200},
	}))
	if !errors.Is(err, apierrors.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestGetDeleteCount(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Add(ctx, embed("a", []float32{1, 2}, nil)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil || got.Text != "texto a" {
		t.Fatalf("get: %v %v", got, err)
	}
	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, apierrors.ErrNotFound) {
		t.Errorf("get missing: got %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, apierrors.ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("count after delete = %d, want 0", n)
	}
}

func TestNumericFilterCrossesIntFloat(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Add(ctx, embed("a", []float32{1}, map[string]any{"pagina": 3})); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search(ctx, []float32{1}, 5, &vector.Filter{Eq: map[string]any{"pagina": float64(3)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("int/float equality: got %d results, want 1", len(results))
	}
}
