package retrieval

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/defensa-digital/contratos-rag/bm25"
	"github.com/defensa-digital/contratos-rag/contrib/vector/inmemory"
	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/vector"
)

// keywordEmbedder produces deterministic vectors from keyword counts.
type keywordEmbedder struct {
	vocab []string
	fail  bool
}

func (e keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, len(e.vocab))
		lower := strings.ToLower(t)
		for j, w := range e.vocab {
			vec[j] = float32(strings.Count(lower, w))
		}
		out[i] = vector.Normalize(vec)
	}
	return out, nil
}

var testVocab = []string{"aval", "importe", "plazo", "stanag", "entrega", "penalizacion"}

type fixtureChunk struct {
	id, contract, section, text string
	flags                       map[string]bool
}

var fixtures = []fixtureChunk{
	{"a1", "CON_2024_001", "GARANTIAS", "el aval bancario cubre el cinco por ciento del importe", map[string]bool{document.FlagAval: true, document.FlagImporte: true}},
	{"a2", "CON_2024_001", "ECONOMICAS", "importe total de 2.450.000,00 EUR en tres anualidades", map[string]bool{document.FlagImporte: true}},
	{"a3", "CON_2024_001", "PLAZOS", "plazo de entrega de dieciocho meses desde la firma", map[string]bool{document.FlagFecha: true}},
	{"b1", "SER_2023_045", "GARANTIAS", "aval solidario constituido ante la caja general de depositos", map[string]bool{document.FlagAval: true}},
	{"b2", "SER_2023_045", "NORMAS", "certificacion stanag 4107 exigible al subcontratista", map[string]bool{document.FlagSTANAG: true}},
	{"c1", "SUM_2022_010", "PLAZOS", "entrega escalonada con penalizacion por demora semanal", map[string]bool{document.FlagFecha: true, document.FlagPenalizacion: true}},
}

func buildRetriever(t *testing.T, emb Embedder) (*Retriever, *inmemory.Store) {
	t.Helper()
	ctx := context.Background()
	store := inmemory.New()
	keyword := bm25.New()

	base := keywordEmbedder{vocab: testVocab}
	for _, f := range fixtures {
		meta := map[string]any{
			"contract_id":  f.contract,
			"archivo":      strings.ToLower(f.contract) + ".pdf",
			"seccion":      f.section,
			"tipo_seccion": "general",
			"ordinal":      0,
		}
		for flag, v := range f.flags {
			meta[flag] = v
		}
		vecs, err := base.Embed(ctx, []string{f.text})
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Add(ctx, &vector.Embedding{ID: f.id, Vector: vecs[0], Text: f.text, Metadata: meta}); err != nil {
			t.Fatal(err)
		}
		keyword.Add(document.Chunk{ID: f.id, ContractID: f.contract, Section: f.section, Text: f.text, Metadata: meta})
	}
	return New(store, keyword, emb), store
}

func TestHybridSearchFusesSources(t *testing.T) {
	r, _ := buildRetriever(t, keywordEmbedder{vocab: testVocab})

	results, err := r.HybridSearch(context.Background(), "aval bancario del importe", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].ID != "a1" {
		t.Errorf("top result = %s, want a1", results[0].ID)
	}
	if results[0].RRFScore <= 0 {
		t.Error("fused score not set")
	}
	if results[0].ContractID != "CON_2024_001" || results[0].Section != "GARANTIAS" {
		t.Errorf("chunk not rebuilt from metadata: %+v", results[0])
	}
}

func TestHybridSearchDeterministic(t *testing.T) {
	r, _ := buildRetriever(t, keywordEmbedder{vocab: testVocab})
	ctx := context.Background()

	first, err := r.HybridSearch(ctx, "plazo de entrega", 5)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.HybridSearch(ctx, "plazo de entrega", 5)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(chunkIDs(first), chunkIDs(again)) {
			t.Fatalf("ordering changed: %v vs %v", chunkIDs(first), chunkIDs(again))
		}
	}
}

func TestHybridSearchDedupesByLeadingText(t *testing.T) {
	ctx := context.Background()
	r, store := buildRetriever(t, keywordEmbedder{vocab: testVocab})

	// same leading text as a1, different id
	dup := fixtures[0]
	vecs, _ := keywordEmbedder{vocab: testVocab}.Embed(ctx, []string{dup.text})
	if err := store.Add(ctx, &vector.Embedding{
		ID: "a1-dup", Vector: vecs[0], Text: dup.text,
		Metadata: map[string]any{"contract_id": dup.contract, "seccion": dup.section, "tipo_seccion": "general", "ordinal": 1},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := r.HybridSearch(ctx, "aval bancario del importe", 10)
	if err != nil {
		t.Fatal(err)
	}
	seen := 0
	for _, c := range results {
		if strings.HasPrefix(c.Text, "el aval bancario") {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("duplicate text appeared %d times", seen)
	}
}

func TestDedupeKeyRuneBoundary(t *testing.T) {
	long := strings.Repeat("x", dedupePrefixLen-1) + "ñen la garantía definitiva"
	key := dedupeKey(long)
	if len(key) > dedupePrefixLen {
		t.Fatalf("key length = %d, want <= %d", len(key), dedupePrefixLen)
	}
	if !utf8.ValidString(key) {
		t.Error("key holds a split UTF-8 sequence")
	}
	if dedupeKey(long) != dedupeKey(long+" con otra cola") {
		t.Error("texts sharing a prefix key differently")
	}
	if short := "aval"; dedupeKey(short) != short {
		t.Error("short text altered")
	}
}

func TestFilterFromQuery(t *testing.T) {
	cases := []struct {
		query string
		flag  string
	}{
		{"¿qué aval exige el contrato?", document.FlagAval},
		{"nivel de clasificación del programa", document.FlagClasificacion},
		{"códigos NSN del material", document.FlagNSN},
		{"¿aplica el STANAG 4107?", document.FlagSTANAG},
		{"penalización por demora", document.FlagPenalizacion},
		{"condiciones de subcontratación", document.FlagSubcontratacion},
		{"importe total adjudicado", document.FlagImporte},
		{"plazo de entrega", document.FlagFecha},
	}
	for _, tc := range cases {
		f := FilterFromQuery(tc.query)
		if f == nil {
			t.Errorf("FilterFromQuery(%q) = nil", tc.query)
			continue
		}
		if f.Eq[tc.flag] != true {
			t.Errorf("FilterFromQuery(%q) = %v, want %s", tc.query, f.Eq, tc.flag)
		}
	}

	if f := FilterFromQuery("objeto del contrato"); f != nil {
		t.Errorf("neutral query produced filter %v", f.Eq)
	}

	// aval group wins over importe when both appear
	f := FilterFromQuery("aval sobre el importe total")
	if f == nil || f.Eq[document.FlagAval] != true {
		t.Errorf("first matching group did not win: %v", f)
	}
}

func TestSmartHierarchicalDiversifies(t *testing.T) {
	r, _ := buildRetriever(t, keywordEmbedder{vocab: testVocab})

	results, err := r.SmartHierarchical(context.Background(), "aval del contrato", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	contracts := map[string]bool{}
	for _, c := range results {
		contracts[c.ContractID] = true
	}
	if len(contracts) < 2 {
		t.Errorf("results cover %d contracts, want at least 2: %v", len(contracts), chunkIDs(results))
	}
	for _, c := range results {
		if !c.Metadata[document.FlagAval].(bool) {
			t.Errorf("chunk %s escaped the aval filter", c.ID)
		}
	}
}

func TestSmartHierarchicalWidensWhenFilterEmpty(t *testing.T) {
	r, _ := buildRetriever(t, keywordEmbedder{vocab: testVocab})

	// subcontratación flag is never set in fixtures, so the filtered pass
	// returns nothing and the retriever must widen
	results, err := r.SmartHierarchical(context.Background(), "condiciones de subcontratación y entrega", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("widened search returned nothing")
	}
}

func TestRerankSmallSetKeepsOrder(t *testing.T) {
	r, _ := buildRetriever(t, keywordEmbedder{vocab: testVocab})
	chunks := []document.Chunk{{ID: "x", Text: "uno"}, {ID: "y", Text: "dos"}}

	out := r.Rerank(context.Background(), "consulta", chunks, 1)
	if len(out) != 1 || out[0].ID != "x" {
		t.Errorf("small set reordered: %v", chunkIDs(out))
	}
}

func TestRerankFallsBackOnEmbedderFailure(t *testing.T) {
	r, _ := buildRetriever(t, keywordEmbedder{vocab: testVocab, fail: true})

	var chunks []document.Chunk
	for i := 0; i < 12; i++ {
		chunks = append(chunks, document.Chunk{ID: fmt.Sprintf("c%02d", i), Text: "texto"})
	}
	out := r.Rerank(context.Background(), "consulta", chunks, 4)
	if len(out) != 4 {
		t.Fatalf("got %d chunks, want 4", len(out))
	}
	if out[0].ID != "c00" {
		t.Errorf("fallback did not keep incoming order: %v", chunkIDs(out))
	}
}

func TestRerankOrdersBySimilarity(t *testing.T) {
	r, _ := buildRetriever(t, keywordEmbedder{vocab: testVocab})

	var chunks []document.Chunk
	for i := 0; i < 11; i++ {
		chunks = append(chunks, document.Chunk{ID: fmt.Sprintf("f%02d", i), Text: "material sin relacion"})
	}
	chunks = append(chunks, document.Chunk{ID: "hit", Text: "aval bancario por el importe total"})

	out := r.Rerank(context.Background(), "aval importe", chunks, 3)
	if len(out) != 3 {
		t.Fatalf("got %d chunks, want 3", len(out))
	}
	if out[0].ID != "hit" {
		t.Errorf("best match = %s, want hit", out[0].ID)
	}
	if out[0].RerankScore <= out[1].RerankScore {
		t.Error("rerank scores not descending")
	}
}

func chunkIDs(chunks []document.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}
