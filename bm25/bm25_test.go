package bm25

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/defensa-digital/contratos-rag/document"
)

func chunk(id, text string) document.Chunk {
	return document.Chunk{
		ID:         id,
		ContractID: "CON_2024_001",
		Text:       text,
		Metadata:   map[string]any{"contract_id": "CON_2024_001"},
	}
}

func buildIndex() *Index {
	ix := New()
	ix.Add(chunk("a", "el adjudicatario constituirá un aval bancario del cinco por ciento"))
	ix.Add(chunk("b", "el importe total asciende a 2.450.000,00 euros pagadero en anualidades"))
	ix.Add(chunk("c", "aplican las normas STANAG 4107 y PECAL 2110 de aseguramiento de calidad"))
	return ix
}

func TestSearchRanksLexicalMatches(t *testing.T) {
	ix := buildIndex()

	results := ix.Search("aval bancario", 10)
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Chunk.ID != "a" {
		t.Errorf("top hit = %s, want a", results[0].Chunk.ID)
	}
	for _, r := range results {
		if r.Score <= 0 {
			t.Errorf("non-positive score %f for %s", r.Score, r.Chunk.ID)
		}
		if r.Chunk.BM25Score != r.Score {
			t.Errorf("chunk score not set")
		}
	}
}

func TestSearchNoMatch(t *testing.T) {
	ix := buildIndex()
	if results := ix.Search("submarino nuclear", 10); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearchDeterministicOrder(t *testing.T) {
	ix := buildIndex()
	first := ix.Search("el adjudicatario importe", 10)
	for i := 0; i < 5; i++ {
		again := ix.Search("el adjudicatario importe", 10)
		if !reflect.DeepEqual(ids(first), ids(again)) {
			t.Fatalf("ordering changed between runs: %v vs %v", ids(first), ids(again))
		}
	}
}

func TestAddTokenlessChunkStillCounted(t *testing.T) {
	ix := New()
	ix.Add(chunk("a", "aval bancario del cinco por ciento"))
	ix.Add(chunk("p", "¡¡¡ --- ··· !!!"))

	if ix.Count() != 2 {
		t.Fatalf("count = %d, want 2", ix.Count())
	}
	hits := ix.Search("aval bancario", 5)
	if len(hits) != 1 || hits[0].Chunk.ID != "a" {
		t.Fatalf("hits = %+v", hits)
	}

	// Replacing the tokenless chunk must not corrupt the counters.
	ix.Add(chunk("p", "penalización por demora"))
	if ix.Count() != 2 {
		t.Fatalf("count after replace = %d, want 2", ix.Count())
	}
	if hits := ix.Search("penalización demora", 5); len(hits) != 1 {
		t.Fatalf("replaced chunk not searchable: %+v", hits)
	}
}

func TestReAddReplaces(t *testing.T) {
	ix := buildIndex()
	ix.Add(chunk("a", "texto completamente distinto sobre penalizaciones"))

	if n := ix.Count(); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	if results := ix.Search("aval bancario", 10); len(results) != 0 {
		t.Errorf("stale postings survived re-add: %v", ids(results))
	}
	results := ix.Search("penalizaciones", 10)
	if len(results) != 1 || results[0].Chunk.ID != "a" {
		t.Errorf("re-added chunk not searchable: %v", ids(results))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25_index.gob")
	ix := buildIndex()
	if err := ix.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Count() != 3 {
		t.Fatalf("loaded count = %d, want 3", loaded.Count())
	}

	want := ids(ix.Search("aval bancario", 10))
	got := ids(loaded.Search("aval bancario", 10))
	if !reflect.DeepEqual(want, got) {
		t.Errorf("loaded index ranks differently: %v vs %v", got, want)
	}
	if loaded.Search("aval", 1)[0].Chunk.Metadata["contract_id"] != "CON_2024_001" {
		t.Error("metadata lost across persistence")
	}
}

func TestLoadMissingFile(t *testing.T) {
	ix, err := Load(filepath.Join(t.TempDir(), "nope.gob"))
	if err != nil {
		t.Fatal(err)
	}
	if ix.Count() != 0 {
		t.Errorf("missing file should load empty, got %d", ix.Count())
	}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}
