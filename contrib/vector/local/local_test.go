package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/defensa-digital/contratos-rag/vector"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.gob")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	err = s.AddBatch(ctx, []*vector.Embedding{
		{ID: "a", Vector: []float32{1, 0}, Text: "uno", Metadata: map[string]any{"tipo_seccion": "garantias"}},
		{ID: "b", Vector: []float32{0, 1}, Text: "dos", Metadata: map[string]any{"tipo_seccion": "economicas"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := reopened.Count(ctx); n != 2 {
		t.Fatalf("count after reopen = %d, want 2", n)
	}
	got, err := reopened.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "uno" || got.Metadata["tipo_seccion"] != "garantias" {
		t.Errorf("reopened embedding lost data: %+v", got)
	}
}

func TestClearPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.gob")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, &vector.Embedding{ID: "a", Vector: []float32{1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := reopened.Count(ctx); n != 0 {
		t.Errorf("count after clear+reopen = %d, want 0", n)
	}
}
