// Package querylog appends one JSON line per served query, the audit trail
// reviewers use to trace an answer back to its evidence and cost.
package querylog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/pipeline"
)

const previewLen = 200

// Entry is one served query.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	ID            string    `json:"id"`
	ThreadID      string    `json:"thread_id,omitempty"`
	Query         string    `json:"query"`
	AnswerPreview string    `json:"answer_preview"`
	AnswerLength  int       `json:"answer_length"`
	LatencyMS     int64     `json:"latency_ms"`
	RetrievalMS   int64     `json:"retrieval_ms"`
	GenerationMS  int64     `json:"generation_ms"`
	ValidationMS  int64     `json:"validation_ms"`
	Chunks        int       `json:"chunks"`
	Confidence    float64   `json:"confidence"`
	ValidationOK  bool      `json:"validation_ok"`
	Model         string    `json:"model"`
	CostUSD       float64   `json:"cost_usd"`
}

// Logger serialises entries to a JSONL file.
type Logger struct {
	mu   sync.Mutex
	path string
}

// New builds a Logger writing to path. The parent directory is created on
// first write.
func New(path string) *Logger {
	return &Logger{path: path}
}

// Record derives an entry from the answer and appends it.
func (l *Logger) Record(query, threadID, model string, answer *pipeline.Answer, total time.Duration) error {
	entry := Entry{
		Timestamp:     time.Now().UTC(),
		ID:            uuid.NewString(),
		ThreadID:      threadID,
		Query:         query,
		AnswerPreview: preview(answer.Text),
		AnswerLength:  len(answer.Text),
		LatencyMS:     total.Milliseconds(),
		RetrievalMS:   answer.RetrievalTime.Milliseconds(),
		GenerationMS:  answer.GenerationTime.Milliseconds(),
		ValidationMS:  answer.ValidationTime.Milliseconds(),
		Chunks:        len(answer.Chunks),
		Confidence:    answer.Confidence.Score,
		ValidationOK:  answer.Validation.Valid(),
		Model:         model,
		CostUSD:       EstimateCost(model, answer.Usage),
	}
	return l.Append(entry)
}

// Append writes one entry as a single JSON line.
func (l *Logger) Append(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal query log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open query log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write query log: %w", err)
	}
	return nil
}

func preview(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) <= previewLen {
		return text
	}
	cut := previewLen
	for cut > 0 && !isASCIIBoundary(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = previewLen
	}
	return text[:cut]
}

// isASCIIBoundary avoids cutting a UTF-8 sequence in half.
func isASCIIBoundary(b byte) bool {
	return b < 0x80 || b >= 0xC0
}

// Per-million-token USD prices for cost estimation. Unknown models fall back
// to a conservative default.
var modelPrices = map[string][2]float64{
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4.1":     {2.00, 8.00},
}

var defaultPrice = [2]float64{1.00, 3.00}

// EstimateCost converts token usage to an approximate USD cost.
func EstimateCost(model string, usage llm.Usage) float64 {
	price, ok := modelPrices[model]
	if !ok {
		price = defaultPrice
	}
	return float64(usage.PromptTokens)/1e6*price[0] +
		float64(usage.CompletionTokens)/1e6*price[1]
}
