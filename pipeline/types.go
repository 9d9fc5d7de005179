// Package pipeline implements the agentic query workflow: context rewrite,
// planning, parallel retrieval, sufficiency evaluation with corrective
// loops, cited synthesis, and answer validation with a confidence score.
package pipeline

import (
	"time"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/llm"
)

// Complexity classifies a query for the planner.
type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityMultiHop    Complexity = "multi_hop"
	ComplexityAggregation Complexity = "aggregation"
)

// SubQuery is one retrieval task produced by the planner.
type SubQuery struct {
	ID        string `json:"id"`
	Query     string `json:"query"`
	Rationale string `json:"rationale,omitempty"`
}

// FindingStatus summarises one sub-query's retrieval outcome.
type FindingStatus string

const (
	FindingFound    FindingStatus = "Encontrado"
	FindingPartial  FindingStatus = "Parcial"
	FindingNotFound FindingStatus = "NoEncontrado"
	FindingError    FindingStatus = "Error"
)

// Finding is the per-sub-query retrieval report.
type Finding struct {
	SubQuery string        `json:"sub_query"`
	Status   FindingStatus `json:"status"`
	Chunks   int           `json:"chunks"`
	Error    string        `json:"error,omitempty"`
}

// Evaluation statuses.
const (
	EvalSufficient   = "SUFFICIENT"
	EvalPartial      = "PARTIAL"
	EvalInsufficient = "INSUFFICIENT"
)

// Evaluation is the evaluator agent's verdict on the retrieved context.
type Evaluation struct {
	Status      string   `json:"status"`
	Reasoning   string   `json:"reasoning"`
	MissingInfo []string `json:"missing_info"`
	Score       int      `json:"score"`
}

// Validation is the answer verification detail.
type Validation struct {
	NumericalOK      bool     `json:"numerical_ok"`
	UnverifiedData   []string `json:"unverified_data,omitempty"`
	LogicalOK        bool     `json:"logical_ok"`
	LogicalReason    string   `json:"logical_reason,omitempty"`
	CitationOK       bool     `json:"citation_ok"`
	CitationCoverage float64  `json:"citation_coverage"`
	SelfCorrected    bool     `json:"self_corrected,omitempty"`
}

// Valid reports whether every check passed.
func (v Validation) Valid() bool {
	return v.NumericalOK && v.LogicalOK && v.CitationOK
}

// Confidence scores the answer 0..100 across four weighted factors.
type Confidence struct {
	Score            float64 `json:"score"`
	RetrievalQuality float64 `json:"retrieval_quality"`
	Consensus        float64 `json:"consensus"`
	Specificity      float64 `json:"specificity"`
	Validation       float64 `json:"validation"`
	Recommendation   string  `json:"recommendation"`
}

// Source cites one file and the pages the answer drew from.
type Source struct {
	Archivo string `json:"archivo"`
	Paginas []int  `json:"paginas,omitempty"`
}

// Answer is the pipeline's final product.
type Answer struct {
	Text       string           `json:"text"`
	Sources    []Source         `json:"sources"`
	Confidence Confidence       `json:"confidence"`
	Validation Validation       `json:"validation"`
	Evaluation Evaluation       `json:"evaluation"`
	Complexity Complexity       `json:"complexity"`
	Retries    int              `json:"retries"`
	SubQueries []SubQuery       `json:"sub_queries"`
	Findings   []Finding        `json:"findings"`
	Chunks     []document.Chunk `json:"-"`
	Usage      llm.Usage        `json:"-"`

	RetrievalTime  time.Duration `json:"-"`
	GenerationTime time.Duration `json:"-"`
	ValidationTime time.Duration `json:"-"`
}
