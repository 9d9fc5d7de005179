// Package audit verifies the integrity of normalized contracts before they
// enter the corpus: a deterministic numeric-footprint comparison against the
// source text, then an LLM review that scores the document and extracts its
// core metadata.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/defensa-digital/contratos-rag/extract"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
	"github.com/defensa-digital/contratos-rag/normalize"
	"github.com/defensa-digital/contratos-rag/pkg/logging"
)

// Status classifies an audit outcome.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Metadata is the contract header the auditor extracts.
type Metadata struct {
	IDContrato    string `json:"id_contrato"`
	Adjudicatario string `json:"adjudicatario"`
	ImporteTotal  string `json:"importe_total"`
	Objeto        string `json:"objeto"`
	SecurityLevel int    `json:"security_level"`
}

// Record is the result of auditing one document.
type Record struct {
	Filename       string   `json:"filename"`
	Status         Status   `json:"status"`
	IntegrityScore float64  `json:"integrity_score"`
	DetectedErrors []string `json:"detected_errors"`
	Metadata       Metadata `json:"metadata"`
}

// Passed reports whether the document may enter the corpus.
func (r *Record) Passed() bool {
	return r.Status == StatusPass
}

// SecurityViolation reports whether the failure came from a numeric
// footprint mismatch. These documents are rejected outright, never repaired.
func (r *Record) SecurityViolation() bool {
	for _, detected := range r.DetectedErrors {
		if strings.HasPrefix(detected, "SECURITY VIOLATION") {
			return true
		}
	}
	return false
}

const auditPrompt = `Eres un supervisor de integridad de contratos de defensa. Analiza el documento Markdown y responde SOLO con JSON válido:

{
  "integrity_score": <0 a 10>,
  "detected_errors": ["descripción de cada problema encontrado"],
  "metadata": {
    "id_contrato": "<identificador tipo CON_2024_001 o vacío>",
    "adjudicatario": "<empresa adjudicataria o vacío>",
    "importe_total": "<importe total con moneda o vacío>",
    "objeto": "<objeto del contrato o vacío>",
    "security_level": <1 a 4, donde 1=sin clasificar y 4=secreto>
  }
}

Criterios: coherencia de importes y fechas, presencia del identificador del contrato, secciones legibles, ausencia de texto corrupto. Puntúa 8 o más solo si el documento es íntegro.`

const repairPrompt = `Eres un reparador de formato de documentos Markdown. Corrige ÚNICAMENTE el formato del documento: tablas rotas, delimitadores de sección y saltos de línea.

PROHIBIDO cambiar, añadir o eliminar números, importes, fechas, nombres o identificadores. Solo puedes añadir los caracteres "|", "-", ":" y saltos de línea.

Devuelve SOLO el documento corregido, sin comentarios.`

// passThreshold is the minimum LLM integrity score for a PASS.
const passThreshold = 7.0

// Auditor runs integrity checks with the fast model.
type Auditor struct {
	gateway *llm.Gateway
	queue   *ReviewQueue
	logger  *slog.Logger
}

// New builds an Auditor. Failed records are appended to queue when non-nil.
func New(gateway *llm.Gateway, queue *ReviewQueue) *Auditor {
	return &Auditor{
		gateway: gateway,
		queue:   queue,
		logger:  logging.WithComponent("audit"),
	}
}

// Audit checks the normalized Markdown. When originalText is non-empty, the
// numeric footprints of both texts are compared first; any divergence is a
// security violation and the LLM is never consulted.
func (a *Auditor) Audit(ctx context.Context, md, filename, originalText string) (*Record, error) {
	if originalText != "" && !extract.FootprintEqual(originalText, md) {
		rec := &Record{
			Filename:       filename,
			Status:         StatusFail,
			IntegrityScore: 0,
			DetectedErrors: []string{"SECURITY VIOLATION: la huella numérica del documento normalizado no coincide con el original"},
		}
		a.logger.Error("numeric footprint mismatch", "file", filename)
		a.enqueue(rec, md)
		return rec, nil
	}

	resp, err := a.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, auditPrompt),
			message.NewMessage(message.RoleUser, md),
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", filename, err)
	}

	var verdict struct {
		IntegrityScore float64  `json:"integrity_score"`
		DetectedErrors []string `json:"detected_errors"`
		Metadata       Metadata `json:"metadata"`
	}
	if err := decodeJSON(resp.Message.Text(), &verdict); err != nil {
		rec := &Record{
			Filename:       filename,
			Status:         StatusFail,
			IntegrityScore: 0,
			DetectedErrors: []string{fmt.Sprintf("respuesta del auditor no interpretable: %v", err)},
		}
		a.enqueue(rec, md)
		return rec, nil
	}

	rec := &Record{
		Filename:       filename,
		IntegrityScore: verdict.IntegrityScore,
		DetectedErrors: verdict.DetectedErrors,
		Metadata:       verdict.Metadata,
	}

	switch {
	case rec.Metadata.IDContrato == "":
		rec.Status = StatusFail
		rec.IntegrityScore = 0
		rec.DetectedErrors = append(rec.DetectedErrors, "falta id_contrato en los metadatos")
	case rec.IntegrityScore < passThreshold:
		rec.Status = StatusFail
	default:
		rec.Status = StatusPass
	}

	if !rec.Passed() {
		a.enqueue(rec, md)
	}
	return rec, nil
}

// Repair asks the model for a format-only fix. The caller must re-audit the
// result against the pre-repair text so numeric drift is caught.
func (a *Auditor) Repair(ctx context.Context, md, filename string) (string, error) {
	resp, err := a.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, repairPrompt),
			message.NewMessage(message.RoleUser, md),
		},
		MaxTokens:   8192,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("repair %s: %w", filename, err)
	}
	return normalize.StripFences(resp.Message.Text()), nil
}

func (a *Auditor) enqueue(rec *Record, md string) {
	if a.queue == nil {
		return
	}
	if err := a.queue.Append(rec, preview(md)); err != nil {
		a.logger.Error("cannot append to review queue", "file", rec.Filename, "error", err)
	}
}

func preview(md string) string {
	const maxLen = 300
	md = strings.TrimSpace(md)
	if len(md) > maxLen {
		return md[:maxLen]
	}
	return md
}

// decodeJSON strips an optional code fence and parses the outermost JSON
// object from the model output.
func decodeJSON(raw string, out any) error {
	s := normalize.StripFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in output")
	}
	return json.Unmarshal([]byte(s[start:end+1]), out)
}
