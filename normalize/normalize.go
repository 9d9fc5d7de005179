// Package normalize converts raw PDF text into the canonical contract
// Markdown the rest of the pipeline works on: a metadata header followed by
// sections separated by a delimiter token.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
	"github.com/defensa-digital/contratos-rag/pkg/logging"
)

const systemPrompt = `Eres un normalizador de contratos de defensa. Convierte el texto extraído de un PDF en Markdown canónico.

REGLAS ESTRICTAS:
1. NO cambies NINGÚN número, importe, fecha, porcentaje ni identificador. Copia cada cifra EXACTAMENTE como aparece.
2. NO inventes información que no esté en el texto.
3. Empieza con una cabecera de metadatos, una línea por campo, formato "clave: valor". Campos: id_contrato, adjudicatario, importe_total, fecha_firma, objeto (los que existan).
4. Después de la cabecera, organiza el contenido en secciones. Separa cada sección con una línea que contenga únicamente "%s NOMBRE_DE_SECCION %s".
5. Usa nombres de sección descriptivos en mayúsculas (GARANTIAS, CONDICIONES ECONOMICAS, PLAZOS, CLAUSULAS, NORMATIVAS, ...).
6. Conserva tablas como tablas Markdown.
7. Devuelve SOLO el Markdown, sin comentarios ni explicaciones.`

// Normalizer drives the normalization model.
type Normalizer struct {
	gateway   *llm.Gateway
	delimiter string
	logger    *slog.Logger
}

// New builds a Normalizer using the configured section delimiter.
func New(gateway *llm.Gateway, delimiter string) *Normalizer {
	return &Normalizer{
		gateway:   gateway,
		delimiter: delimiter,
		logger:    logging.WithComponent("normalizer"),
	}
}

// Normalize cleans the raw text and runs the LLM pass. It returns the
// canonical Markdown, or an empty string with a nil error when the model
// produced nothing usable; the caller logs and skips the document.
func (n *Normalizer) Normalize(ctx context.Context, rawText, filename string) (string, error) {
	cleaned := DedupeParagraphs(Clean(rawText))
	if cleaned == "" {
		n.logger.Warn("empty document after cleaning", "file", filename)
		return "", nil
	}

	req := &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, fmt.Sprintf(systemPrompt, n.delimiter, n.delimiter)),
			message.NewMessage(message.RoleUser, cleaned),
		},
		MaxTokens:   8192,
		Temperature: 0,
	}

	resp, err := n.gateway.Generate(ctx, llm.RoleNormalizer, req)
	if err != nil {
		return "", fmt.Errorf("normalize %s: %w", filename, err)
	}

	md := StripFences(resp.Message.Text())
	if strings.TrimSpace(md) == "" {
		n.logger.Warn("normalizer returned empty output", "file", filename)
		return "", nil
	}
	return md, nil
}

// StripFences removes a surrounding Markdown code fence if the model wrapped
// its output in one.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
