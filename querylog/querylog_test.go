package querylog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/pipeline"
)

func TestRecordAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "queries.jsonl")
	log := New(path)

	answer := &pipeline.Answer{
		Text:           "El aval asciende a 122.500,00 EUR (con_2024_001.pdf, Pág: 3).",
		Usage:          llm.Usage{PromptTokens: 1000, CompletionTokens: 500},
		RetrievalTime:  120 * time.Millisecond,
		GenerationTime: 800 * time.Millisecond,
		ValidationTime: 90 * time.Millisecond,
		Confidence:     pipeline.Confidence{Score: 85},
		Validation:     pipeline.Validation{NumericalOK: true, LogicalOK: true, CitationOK: true},
	}

	for i := 0; i < 2; i++ {
		if err := log.Record("¿Qué aval exige?", "hilo-1", "gpt-4o", answer, time.Second); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		entries = append(entries, entry)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	e := entries[0]
	if e.ID == "" || e.ID == entries[1].ID {
		t.Error("entry ids not unique")
	}
	if e.LatencyMS != 1000 || e.RetrievalMS != 120 {
		t.Errorf("latencies = %d/%d", e.LatencyMS, e.RetrievalMS)
	}
	if !e.ValidationOK || e.Confidence != 85 {
		t.Errorf("entry = %+v", e)
	}
	if e.CostUSD <= 0 {
		t.Error("cost not estimated")
	}
}

func TestPreviewBounded(t *testing.T) {
	long := strings.Repeat("una respuesta muy larga ", 30)
	if got := preview(long); len(got) > previewLen {
		t.Errorf("preview length = %d", len(got))
	}
	accented := strings.Repeat("garantía", 40)
	if got := preview(accented); !utf8.ValidString(got) {
		t.Errorf("preview cut a rune in half: %q", got)
	}
	if got := preview("respuesta corta"); got != "respuesta corta" {
		t.Errorf("short preview altered: %q", got)
	}
}

func TestEstimateCost(t *testing.T) {
	usage := llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}
	if got := EstimateCost("gpt-4o", usage); got != 12.5 {
		t.Errorf("gpt-4o cost = %.2f", got)
	}
	if got := EstimateCost("modelo-desconocido", usage); got != 4.0 {
		t.Errorf("fallback cost = %.2f", got)
	}
	if got := EstimateCost("gpt-4o-mini", llm.Usage{}); got != 0 {
		t.Errorf("zero usage cost = %.4f", got)
	}
}
