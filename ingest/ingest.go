// Package ingest rebuilds the contract corpus from a directory of PDFs:
// extraction, LLM normalization, integrity audit with one repair attempt,
// chunking, and indexing into the vector store and the lexical index.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/defensa-digital/contratos-rag/audit"
	"github.com/defensa-digital/contratos-rag/bm25"
	"github.com/defensa-digital/contratos-rag/chunking"
	"github.com/defensa-digital/contratos-rag/document"
	apperrors "github.com/defensa-digital/contratos-rag/errors"
	"github.com/defensa-digital/contratos-rag/extract"
	"github.com/defensa-digital/contratos-rag/normalize"
	"github.com/defensa-digital/contratos-rag/pkg/logging"
	"github.com/defensa-digital/contratos-rag/vector"
)

// maxInvalidShare is the tolerated fraction of chunks failing validation
// before the whole run aborts.
const maxInvalidShare = 0.10

// Embedder converts chunk texts to vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// batchAdder is implemented by stores that persist once per batch.
type batchAdder interface {
	AddBatch(ctx context.Context, embeddings []*vector.Embedding) error
}

// Failure records one document or stage that did not make it into the corpus.
type Failure struct {
	Filename string `json:"filename"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// Report summarises an ingestion run.
type Report struct {
	Contracts int       `json:"contracts"`
	Chunks    int       `json:"chunks"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Ingestor drives the full pipeline. An ingestion run is destructive: both
// indices are cleared before the first document is processed.
type Ingestor struct {
	normalizer *normalize.Normalizer
	auditor    *audit.Auditor
	chunker    *chunking.Chunker
	embedder   Embedder
	store      vector.Store
	keyword    *bm25.Index
	logger     *slog.Logger

	normalizedDir string
	bm25Path      string

	// extractFile is swappable in tests.
	extractFile func(path string) ([]string, error)
}

// Option customises the ingestor.
type Option func(*Ingestor)

// WithNormalizedDir persists each contract's canonical Markdown under dir.
func WithNormalizedDir(dir string) Option {
	return func(in *Ingestor) { in.normalizedDir = dir }
}

// WithBM25Path persists the lexical index to path after the run.
func WithBM25Path(path string) Option {
	return func(in *Ingestor) { in.bm25Path = path }
}

// New builds an Ingestor from the pipeline components.
func New(normalizer *normalize.Normalizer, auditor *audit.Auditor, chunker *chunking.Chunker,
	embedder Embedder, store vector.Store, keyword *bm25.Index, opts ...Option) *Ingestor {
	in := &Ingestor{
		normalizer:  normalizer,
		auditor:     auditor,
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		keyword:     keyword,
		logger:      logging.WithComponent("ingest"),
		extractFile: ExtractPDF,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run reindexes every PDF under corpusRoot. It aborts with an error when no
// PDFs exist or when more than 10% of the produced chunks fail validation,
// emptying both indices on abort; per-document problems are recorded as
// failures and the run continues.
func (in *Ingestor) Run(ctx context.Context, corpusRoot string) (*Report, error) {
	files, err := listPDFs(corpusRoot)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no PDF files under %s: %w", corpusRoot, apperrors.ErrNotFound)
	}

	if err := in.store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear vector store: %w", err)
	}
	in.keyword.Clear()

	report := &Report{}
	totalChunks, invalidChunks := 0, 0

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := filepath.Base(path)
		log := in.logger.With("file", name)

		pages, err := in.extractFile(path)
		if err != nil {
			report.fail(name, "extract", err.Error())
			log.Warn("extraction failed", "error", err)
			continue
		}
		raw := strings.Join(pages, "\n")

		md, err := in.normalizer.Normalize(ctx, raw, name)
		if err != nil {
			report.fail(name, "normalize", err.Error())
			log.Warn("normalization failed", "error", err)
			continue
		}
		if md == "" {
			report.fail(name, "normalize", "empty normalizer output")
			continue
		}

		rec, err := in.auditor.Audit(ctx, md, name, raw)
		if err != nil {
			report.fail(name, "audit", err.Error())
			log.Warn("audit failed", "error", err)
			continue
		}
		if !rec.Passed() && !rec.SecurityViolation() {
			md, rec = in.tryRepair(ctx, md, name, rec)
		}
		if !rec.Passed() {
			report.fail(name, "audit", strings.Join(rec.DetectedErrors, "; "))
			log.Warn("document rejected", "score", rec.IntegrityScore, "errors", rec.DetectedErrors)
			continue
		}

		if err := in.persistNormalized(name, md); err != nil {
			log.Warn("cannot persist normalized markdown", "error", err)
		}

		doc := buildDocument(name, md, rec)
		chunks, err := in.chunker.Chunk(doc)
		if err != nil {
			report.fail(name, "chunk", err.Error())
			log.Warn("chunking failed", "error", err)
			continue
		}

		var valid []document.Chunk
		for _, chunk := range chunks {
			totalChunks++
			if err := chunk.Validate(); err != nil {
				invalidChunks++
				log.Warn("chunk rejected", "chunk", chunk.ID, "error", err)
				continue
			}
			valid = append(valid, chunk)
		}
		assignPages(valid, md, len(pages))

		if err := in.index(ctx, valid); err != nil {
			return report, fmt.Errorf("index %s: %w", name, err)
		}

		report.Contracts++
		report.Chunks += len(valid)
		log.Info("contract indexed", "contract", doc.ContractID, "chunks", len(valid))
	}

	if totalChunks > 0 && float64(invalidChunks) > maxInvalidShare*float64(totalChunks) {
		// The abort must not leave the partially built corpus serving
		// queries.
		if clearErr := in.store.Clear(ctx); clearErr != nil {
			in.logger.Warn("cannot clear vector store after abort", "error", clearErr)
		}
		in.keyword.Clear()
		return report, fmt.Errorf("%d of %d chunks failed validation: %w",
			invalidChunks, totalChunks, apperrors.ErrInvalidInput)
	}

	if in.bm25Path != "" {
		if err := in.keyword.Save(in.bm25Path); err != nil {
			return report, fmt.Errorf("persist lexical index: %w", err)
		}
	}
	return report, nil
}

// tryRepair runs one format repair pass and re-audits the result against the
// pre-repair text so any numeric drift introduced by the repair is caught.
func (in *Ingestor) tryRepair(ctx context.Context, md, name string, rec *audit.Record) (string, *audit.Record) {
	repaired, err := in.auditor.Repair(ctx, md, name)
	if err != nil || strings.TrimSpace(repaired) == "" {
		return md, rec
	}
	again, err := in.auditor.Audit(ctx, repaired, name, md)
	if err != nil || !again.Passed() {
		return md, rec
	}
	in.logger.Info("document repaired", "file", name, "score", again.IntegrityScore)
	return repaired, again
}

func (in *Ingestor) index(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	embeddings := make([]*vector.Embedding, len(chunks))
	for i, chunk := range chunks {
		embeddings[i] = &vector.Embedding{
			ID:       chunk.ID,
			Vector:   vectors[i],
			Text:     chunk.Text,
			Metadata: chunk.Metadata,
		}
	}
	if batcher, ok := in.store.(batchAdder); ok {
		if err := batcher.AddBatch(ctx, embeddings); err != nil {
			return err
		}
	} else {
		for _, emb := range embeddings {
			if err := in.store.Add(ctx, emb); err != nil {
				return err
			}
		}
	}
	for _, chunk := range chunks {
		in.keyword.Add(chunk)
	}
	return nil
}

func (in *Ingestor) persistNormalized(name, md string) error {
	if in.normalizedDir == "" {
		return nil
	}
	if err := os.MkdirAll(in.normalizedDir, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(name, filepath.Ext(name)) + ".md"
	return os.WriteFile(filepath.Join(in.normalizedDir, base), []byte(md), 0o644)
}

func (r *Report) fail(filename, stage, reason string) {
	r.Failures = append(r.Failures, Failure{Filename: filename, Stage: stage, Reason: reason})
}

func listPDFs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", root, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			files = append(files, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// buildDocument assembles the corpus document from the audited Markdown: the
// contract id comes from the audit metadata, falling back to the first id in
// the text and finally the filename; header fields fill the global metadata.
func buildDocument(filename, md string, rec *audit.Record) document.Document {
	contractID := rec.Metadata.IDContrato
	if contractID == "" {
		if ids := extract.ContractIDs(md); len(ids) > 0 {
			contractID = ids[0]
		}
	}
	if contractID == "" {
		contractID = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	meta := document.ContractMetadata{
		ContractID:     contractID,
		Adjudicatario:  rec.Metadata.Adjudicatario,
		NivelSeguridad: rec.Metadata.SecurityLevel,
	}
	if amounts := extract.Amounts(rec.Metadata.ImporteTotal); len(amounts) > 0 {
		if amount, err := extract.ParseAmount(amounts[0]); err == nil {
			meta.Importe = amount
		}
	}
	if cifs := extract.CIFs(md); len(cifs) > 0 {
		meta.CIF = cifs[0]
	}
	fillFromHeader(&meta, md)

	return document.Document{
		ContractID: contractID,
		Filename:   filename,
		Markdown:   md,
		Meta:       meta,
	}
}

// fillFromHeader reads the "clave: valor" lines preceding the first section
// delimiter.
func fillFromHeader(meta *document.ContractMetadata, md string) {
	for _, line := range strings.Split(md, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(strings.TrimLeft(key, "#* ")))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "tipo_contrato":
			meta.TipoContrato = value
		case "contratante":
			meta.Contratante = value
		case "contratista":
			meta.Contratista = value
		case "adjudicatario":
			if meta.Adjudicatario == "" {
				meta.Adjudicatario = value
			}
		case "fecha_firma", "fecha_inicio":
			meta.FechaInicio = value
		case "fecha_fin":
			meta.FechaFin = value
		case "normas":
			meta.Normas = value
		}
	}
}
