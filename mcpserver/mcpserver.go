// Package mcpserver exposes the contract corpus to external tooling over the
// Model Context Protocol: hybrid retrieval, the full chat pipeline, and the
// destructive reindex.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/ingest"
	"github.com/defensa-digital/contratos-rag/pipeline"
)

// Service is the engine surface the tools call.
type Service interface {
	Chat(ctx context.Context, query, threadID string) (*pipeline.Answer, error)
	Retrieve(ctx context.Context, query string, k int) ([]document.Chunk, error)
	Ingest(ctx context.Context, corpusRoot string) (*ingest.Report, error)
}

// Server wraps an MCP server bound to the engine.
type Server struct {
	svc Service
	mcp *mcp.Server
}

// New builds the MCP server and registers the tools.
func New(svc Service, version string) *Server {
	s := &Server{svc: svc}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "contratos-rag",
		Version: version,
		Title:   "Corpus de contratos de defensa",
	}, nil)

	s.addRetrieveTool()
	s.addChatTool()
	s.addIngestTool()
	return s
}

// Run serves until the transport closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

type retrieveArgs struct {
	Consulta string `json:"consulta" jsonschema:"Texto de búsqueda sobre el corpus de contratos"`
	K        int    `json:"k,omitempty" jsonschema:"Número máximo de fragmentos (por defecto 5)"`
}

func (s *Server) addRetrieveTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "buscar_contratos",
		Description: "Búsqueda híbrida (semántica + léxica) de fragmentos de contratos",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, a retrieveArgs) (*mcp.CallToolResult, any, error) {
		return s.retrieve(ctx, a)
	})
}

func (s *Server) retrieve(ctx context.Context, a retrieveArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(a.Consulta) == "" {
		return nil, nil, fmt.Errorf("consulta is required")
	}
	chunks, err := s.svc.Retrieve(ctx, a.Consulta, a.K)
	if err != nil {
		return nil, nil, err
	}
	if len(chunks) == 0 {
		return textResult("Sin resultados para la consulta."), nil, nil
	}

	var b strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] %s · %s (rrf %.4f)\n%s\n\n", i+1, chunk.ContractID, chunk.Source(), chunk.RRFScore, chunk.Text)
	}
	return textResult(strings.TrimSpace(b.String())), nil, nil
}

type chatArgs struct {
	Pregunta string `json:"pregunta" jsonschema:"Pregunta en lenguaje natural sobre los contratos"`
	Hilo     string `json:"hilo,omitempty" jsonschema:"Identificador de conversación para mantener contexto"`
}

func (s *Server) addChatTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "preguntar",
		Description: "Responde una pregunta sobre el corpus con citas, confianza y validación",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, a chatArgs) (*mcp.CallToolResult, any, error) {
		return s.chat(ctx, a)
	})
}

func (s *Server) chat(ctx context.Context, a chatArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(a.Pregunta) == "" {
		return nil, nil, fmt.Errorf("pregunta is required")
	}
	thread := a.Hilo
	if thread == "" {
		thread = "mcp"
	}
	answer, err := s.svc.Chat(ctx, a.Pregunta, thread)
	if err != nil {
		return nil, nil, err
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if len(answer.Sources) > 0 {
		b.WriteString("\n\nFuentes:\n")
		for _, src := range answer.Sources {
			fmt.Fprintf(&b, "- %s %v\n", src.Archivo, src.Paginas)
		}
	}
	fmt.Fprintf(&b, "\nConfianza: %.0f/100 · %s", answer.Confidence.Score, answer.Confidence.Recommendation)
	return textResult(b.String()), nil, nil
}

type ingestArgs struct {
	Directorio string `json:"directorio,omitempty" jsonschema:"Directorio con los PDF; vacío usa el configurado"`
}

func (s *Server) addIngestTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindexar_corpus",
		Description: "Reconstruye ambos índices desde los PDF (operación destructiva)",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, a ingestArgs) (*mcp.CallToolResult, any, error) {
		return s.reindex(ctx, a)
	})
}

func (s *Server) reindex(ctx context.Context, a ingestArgs) (*mcp.CallToolResult, any, error) {
	report, err := s.svc.Ingest(ctx, a.Directorio)
	if err != nil {
		return nil, nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Contratos indexados: %d\nFragmentos: %d\n", report.Contracts, report.Chunks)
	for _, f := range report.Failures {
		fmt.Fprintf(&b, "FALLO %s [%s]: %s\n", f.Filename, f.Stage, f.Reason)
	}
	return textResult(strings.TrimSpace(b.String())), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
