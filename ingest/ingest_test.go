package ingest

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/defensa-digital/contratos-rag/audit"
	"github.com/defensa-digital/contratos-rag/bm25"
	"github.com/defensa-digital/contratos-rag/chunking"
	"github.com/defensa-digital/contratos-rag/contrib/vector/inmemory"
	"github.com/defensa-digital/contratos-rag/document"
	apperrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
	"github.com/defensa-digital/contratos-rag/normalize"
	"github.com/defensa-digital/contratos-rag/retrieval"
	"github.com/defensa-digital/contratos-rag/tokenizer"
)

// The normalized fixture repeats the raw text's numbers in the same order so
// the footprint comparison in the audit holds.
const rawPage1 = "CONTRATO CON_2024_001 por importe de 2.450.000,00 EUR"
const rawPage2 = "Aval del 5%: 122.500,00 EUR de garantía definitiva bancaria"

const normalizedMD = `id_contrato: CON_2024_001
adjudicatario: Industrias Meridional S.A.
importe_total: 2.450.000,00 EUR

=== GARANTIAS ===
El aval exigido es del 5%, es decir 122.500,00 EUR de garantía definitiva bancaria depositada.`

const auditPass = `{"integrity_score": 9, "detected_errors": [], "metadata": {
	"id_contrato": "CON_2024_001", "adjudicatario": "Industrias Meridional S.A.",
	"importe_total": "2.450.000,00 EUR", "objeto": "suministro", "security_level": 2}}`

type scriptedLLM struct {
	normalized    string
	auditReply    string
	auditAfterFix string // verdict for audits after the first, when set
	repairReply   string
	auditCalls    int
}

func (s *scriptedLLM) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	system := req.Messages[0].Text()
	reply := ""
	switch {
	case strings.Contains(system, "normalizador de contratos"):
		reply = s.normalized
	case strings.Contains(system, "supervisor de integridad"):
		s.auditCalls++
		reply = s.auditReply
		if s.auditCalls > 1 && s.auditAfterFix != "" {
			reply = s.auditAfterFix
		}
	case strings.Contains(system, "reparador de formato"):
		reply = s.repairReply
	}
	return &llm.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, reply)}, nil
}

func (s *scriptedLLM) GenerateStream(ctx context.Context, req *llm.GenerateRequest) iter.Seq2[*llm.GenerateResponse, error] {
	return func(yield func(*llm.GenerateResponse, error) bool) {
		resp, err := s.Generate(ctx, req)
		yield(resp, err)
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 2 }

func writeCorpus(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestIngestor(t *testing.T, stub *scriptedLLM) (*Ingestor, *inmemory.Store, *bm25.Index) {
	t.Helper()
	gw := llm.NewGateway(stub, stubEmbedder{}, llm.Selector{Chatbot: "m", Fast: "f", Normalizer: "n"})
	store := inmemory.New()
	keyword := bm25.New()
	in := New(
		normalize.New(gw, "==="),
		audit.New(gw, audit.NewReviewQueue(filepath.Join(t.TempDir(), "pending_review.json"))),
		chunking.New(tokenizer.NewHeuristicTokenizer(), "==="),
		gw,
		store,
		keyword,
		WithNormalizedDir(filepath.Join(t.TempDir(), "normalized")),
		WithBM25Path(filepath.Join(t.TempDir(), "bm25_index.gob")),
	)
	in.extractFile = func(string) ([]string, error) {
		return []string{rawPage1, rawPage2}, nil
	}
	return in, store, keyword
}

func TestRunIndexesContract(t *testing.T) {
	stub := &scriptedLLM{normalized: normalizedMD, auditReply: auditPass}
	in, store, keyword := newTestIngestor(t, stub)
	corpus := writeCorpus(t, "con_2024_001.pdf")

	report, err := in.Run(context.Background(), corpus)
	if err != nil {
		t.Fatal(err)
	}
	if report.Contracts != 1 {
		t.Fatalf("contracts = %d, failures = %+v", report.Contracts, report.Failures)
	}
	if report.Chunks == 0 {
		t.Fatal("no chunks indexed")
	}

	n, _ := store.Count(context.Background())
	if n != report.Chunks {
		t.Errorf("vector store holds %d, report says %d", n, report.Chunks)
	}
	if keyword.Count() != report.Chunks {
		t.Errorf("lexical index holds %d, report says %d", keyword.Count(), report.Chunks)
	}

	hits := keyword.Search("garantía definitiva bancaria", 5)
	if len(hits) == 0 {
		t.Fatal("indexed chunk not searchable")
	}
	if hits[0].Chunk.ContractID != "CON_2024_001" {
		t.Errorf("contract id = %s", hits[0].Chunk.ContractID)
	}
	if hits[0].Chunk.Page == 0 {
		t.Error("chunk page not assigned")
	}
}

func TestRunStoresPageForRetrieval(t *testing.T) {
	stub := &scriptedLLM{normalized: normalizedMD, auditReply: auditPass}
	in, store, _ := newTestIngestor(t, stub)
	corpus := writeCorpus(t, "con_2024_001.pdf")

	if _, err := in.Run(context.Background(), corpus); err != nil {
		t.Fatal(err)
	}

	embeddings := store.All()
	if len(embeddings) == 0 {
		t.Fatal("nothing indexed")
	}
	for _, emb := range embeddings {
		if _, ok := emb.Metadata["pagina"]; !ok {
			t.Fatalf("embedding %s: metadata has no pagina key", emb.ID)
		}
		chunk := retrieval.ChunkFromEmbedding(emb)
		if chunk.Page == 0 {
			t.Errorf("chunk %s: page lost in round trip", emb.ID)
		}
		if !strings.Contains(chunk.Source(), "Pág:") {
			t.Errorf("chunk %s: source label %q has no page", emb.ID, chunk.Source())
		}
	}
}

func TestRunRejectsTamperedDocument(t *testing.T) {
	tampered := strings.Replace(normalizedMD, "122.500,00", "988.500,00", 1)
	stub := &scriptedLLM{normalized: tampered, auditReply: auditPass, repairReply: tampered}
	in, store, _ := newTestIngestor(t, stub)
	corpus := writeCorpus(t, "con_2024_001.pdf")

	report, err := in.Run(context.Background(), corpus)
	if err != nil {
		t.Fatal(err)
	}
	if report.Contracts != 0 {
		t.Fatalf("tampered contract indexed: %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].Stage != "audit" {
		t.Fatalf("failures = %+v", report.Failures)
	}
	if !strings.Contains(report.Failures[0].Reason, "SECURITY VIOLATION") {
		t.Errorf("reason = %q", report.Failures[0].Reason)
	}
	if stub.auditCalls != 0 {
		t.Errorf("LLM consulted despite footprint mismatch: %d calls", stub.auditCalls)
	}

	n, _ := store.Count(context.Background())
	if n != 0 {
		t.Errorf("vector store not empty: %d", n)
	}
}

func TestRunRepairRecoversLowScore(t *testing.T) {
	stub := &scriptedLLM{
		normalized: normalizedMD,
		auditReply: `{"integrity_score": 4, "detected_errors": ["tabla rota"], "metadata": {
			"id_contrato": "CON_2024_001", "security_level": 1}}`,
		repairReply:   normalizedMD,
		auditAfterFix: auditPass,
	}
	in, _, _ := newTestIngestor(t, stub)
	corpus := writeCorpus(t, "con_2024_001.pdf")

	report, err := in.Run(context.Background(), corpus)
	if err != nil {
		t.Fatal(err)
	}
	if report.Contracts != 1 {
		t.Fatalf("repaired contract not indexed: %+v", report)
	}
	if stub.auditCalls != 2 {
		t.Errorf("audit calls = %d, want 2", stub.auditCalls)
	}
}

func TestRunAbortLeavesIndicesEmpty(t *testing.T) {
	// Three of four sections produce sub-minimal chunks, pushing the
	// invalid share past the tolerated fraction.
	raw := "Objeto del contrato: mantenimiento preventivo de los vehículos tácticos"
	md := "=== OBJETO ===\nEl contrato cubre el mantenimiento preventivo de los vehículos tácticos.\n" +
		"=== A ===\nx.\n=== B ===\ny.\n=== C ===\nz."
	stub := &scriptedLLM{normalized: md, auditReply: auditPass}
	in, store, keyword := newTestIngestor(t, stub)
	in.extractFile = func(string) ([]string, error) { return []string{raw}, nil }
	corpus := writeCorpus(t, "con_2024_002.pdf")

	_, err := in.Run(context.Background(), corpus)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("vector store still serves %d chunks after abort", n)
	}
	if keyword.Count() != 0 {
		t.Errorf("lexical index still serves %d chunks after abort", keyword.Count())
	}
}

func TestRunEmptyCorpusFails(t *testing.T) {
	stub := &scriptedLLM{normalized: normalizedMD, auditReply: auditPass}
	in, _, _ := newTestIngestor(t, stub)

	if _, err := in.Run(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for empty corpus")
	}
}

func TestBuildDocumentMetadata(t *testing.T) {
	rec := &audit.Record{
		Metadata: audit.Metadata{
			IDContrato:    "CON_2024_001",
			Adjudicatario: "Industrias Meridional S.A.",
			ImporteTotal:  "2.450.000,00 EUR",
			SecurityLevel: 3,
		},
	}
	md := "id_contrato: CON_2024_001\nfecha_firma: 12/01/2024\ncif: B-12345678\n\n=== OBJETO ===\nSuministro."

	doc := buildDocument("con_2024_001.pdf", md, rec)
	if doc.ContractID != "CON_2024_001" {
		t.Errorf("contract id = %s", doc.ContractID)
	}
	if doc.Meta.Importe != 2450000 {
		t.Errorf("importe = %f", doc.Meta.Importe)
	}
	if doc.Meta.CIF != "B-12345678" {
		t.Errorf("cif = %s", doc.Meta.CIF)
	}
	if doc.Meta.FechaInicio != "12/01/2024" {
		t.Errorf("fecha inicio = %s", doc.Meta.FechaInicio)
	}
	if doc.Meta.NivelSeguridad != 3 {
		t.Errorf("nivel seguridad = %d", doc.Meta.NivelSeguridad)
	}
}

func TestBuildDocumentFallsBackToFilename(t *testing.T) {
	rec := &audit.Record{}
	doc := buildDocument("anexo_tecnico.pdf", "Texto sin identificador.", rec)
	if doc.ContractID != "anexo_tecnico" {
		t.Errorf("contract id = %s", doc.ContractID)
	}
}

func TestAssignPagesMonotonic(t *testing.T) {
	md := strings.Repeat("a", 400) + "\nFINAL DEL DOCUMENTO"
	chunks := []document.Chunk{
		{Text: md[:50]},
		{Text: "FINAL DEL DOCUMENTO"},
	}
	assignPages(chunks, md, 4)
	if chunks[0].Page != 1 {
		t.Errorf("first chunk page = %d", chunks[0].Page)
	}
	if chunks[1].Page <= chunks[0].Page {
		t.Errorf("pages not monotonic: %d then %d", chunks[0].Page, chunks[1].Page)
	}
	if chunks[1].Page > 4 {
		t.Errorf("page out of range: %d", chunks[1].Page)
	}
}
