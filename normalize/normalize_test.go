package normalize

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

type stubLLM struct {
	reply string
	last  *llm.GenerateRequest
}

func (s *stubLLM) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	s.last = req
	return &llm.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, s.reply)}, nil
}

func (s *stubLLM) GenerateStream(ctx context.Context, req *llm.GenerateRequest) iter.Seq2[*llm.GenerateResponse, error] {
	return func(yield func(*llm.GenerateResponse, error) bool) {
		resp, err := s.Generate(ctx, req)
		yield(resp, err)
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 1 }

func newGateway(chat llm.Client) *llm.Gateway {
	return llm.NewGateway(chat, stubEmbedder{}, llm.Selector{Chatbot: "modelo", Normalizer: "modelo-norm"})
}

func TestCleanPreservesDigits(t *testing.T) {
	raw := "Importe:\t2.450.000,00 EUR\x00\x07\n\n\n\nﬁanza  del  5%"
	got := Clean(raw)
	want := "Importe: 2.450.000,00 EUR\n\nfianza del 5%"
	if got != want {
		t.Errorf("Clean() = %q, want %q", got, want)
	}
}

func TestDedupeParagraphs(t *testing.T) {
	in := "MINISTERIO DE DEFENSA\n\ncláusula primera\n\nMINISTERIO DE DEFENSA\n\ncláusula segunda"
	got := DedupeParagraphs(in)
	if strings.Count(got, "MINISTERIO DE DEFENSA") != 1 {
		t.Errorf("duplicate header survived: %q", got)
	}
	if !strings.Contains(got, "cláusula segunda") {
		t.Errorf("lost paragraph: %q", got)
	}
}

func TestNormalizeUsesNormalizerModelAndStripsFences(t *testing.T) {
	stub := &stubLLM{reply: "```markdown\nid_contrato: CON_2024_001\n\n=== GARANTIAS ===\naval del 5%\n```"}
	n := New(newGateway(stub), "===")

	md, err := n.Normalize(context.Background(), "texto crudo del contrato", "contrato.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(md, "```") {
		t.Errorf("fence not stripped: %q", md)
	}
	if !strings.HasPrefix(md, "id_contrato: CON_2024_001") {
		t.Errorf("metadata header missing: %q", md)
	}
	if stub.last.Model != "modelo-norm" {
		t.Errorf("model = %q, want modelo-norm", stub.last.Model)
	}
	system := stub.last.Messages[0].Text()
	if !strings.Contains(system, "=== NOMBRE_DE_SECCION ===") {
		t.Errorf("delimiter not injected into prompt")
	}
}

func TestNormalizeEmptyOutput(t *testing.T) {
	stub := &stubLLM{reply: "   "}
	n := New(newGateway(stub), "===")

	md, err := n.Normalize(context.Background(), "texto", "contrato.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if md != "" {
		t.Errorf("expected empty output, got %q", md)
	}
}
