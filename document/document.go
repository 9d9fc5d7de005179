// Package document defines the contract corpus data model: normalized
// documents, their global metadata, and the chunks both indices store.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SectionType classifies a section by its dominant content.
type SectionType string

const (
	SectionGarantias   SectionType = "garantias"
	SectionEconomicas  SectionType = "economicas"
	SectionTemporales  SectionType = "temporales"
	SectionCodigos     SectionType = "codigos"
	SectionMetadata    SectionType = "metadata"
	SectionDescripcion SectionType = "descripcion"
	SectionClausulas   SectionType = "clausulas"
	SectionNormas      SectionType = "normas"
	SectionGeneral     SectionType = "general"
)

// Content flag metadata keys shared by the enricher and the retriever's
// query-derived filters.
const (
	FlagAval            = "contains_aval"
	FlagImporte         = "contains_importe"
	FlagFecha           = "contains_fecha"
	FlagNSN             = "contains_nsn"
	FlagSTANAG          = "contains_stanag"
	FlagClasificacion   = "contains_clasificacion"
	FlagPenalizacion    = "contains_penalizacion"
	FlagSubcontratacion = "contains_subcontratacion"
)

// ContractMetadata is the global metadata block extracted once per contract
// and propagated to every chunk.
type ContractMetadata struct {
	ContractID              string  `json:"contract_id"`
	TipoContrato            string  `json:"tipo_contrato"`
	Contratante             string  `json:"contratante"`
	Contratista             string  `json:"contratista"`
	Adjudicatario           string  `json:"adjudicatario"`
	CIF                     string  `json:"cif"`
	FechaInicio             string  `json:"fecha_inicio"`
	FechaFin                string  `json:"fecha_fin"`
	Importe                 float64 `json:"importe"`
	AvalImporte             float64 `json:"aval_importe"`
	AvalEntidad             string  `json:"aval_entidad"`
	AvalVencimiento         string  `json:"aval_vencimiento"`
	NivelSeguridad          int     `json:"nivel_seguridad"`
	Normas                  string  `json:"normas"`
	RequiereConfidencial    bool    `json:"requiere_confidencialidad"`
}

// ToMap flattens the metadata to scalar values for index storage.
func (m ContractMetadata) ToMap() map[string]any {
	return map[string]any{
		"contract_id":               m.ContractID,
		"tipo_contrato":             m.TipoContrato,
		"contratante":               m.Contratante,
		"contratista":               m.Contratista,
		"adjudicatario":             m.Adjudicatario,
		"cif":                       m.CIF,
		"fecha_inicio":              m.FechaInicio,
		"fecha_fin":                 m.FechaFin,
		"importe":                   m.Importe,
		"aval_importe":              m.AvalImporte,
		"aval_entidad":              m.AvalEntidad,
		"aval_vencimiento":          m.AvalVencimiento,
		"nivel_seguridad":           m.NivelSeguridad,
		"normas":                    m.Normas,
		"requiere_confidencialidad": m.RequiereConfidencial,
	}
}

// Document is a normalized contract ready for chunking.
type Document struct {
	ContractID string           `json:"contract_id"`
	Filename   string           `json:"filename"`
	Markdown   string           `json:"markdown"`
	Meta       ContractMetadata `json:"meta"`
}

// Chunk is the unit both indices store and retrieval returns.
type Chunk struct {
	ID          string         `json:"id"`
	ContractID  string         `json:"contract_id"`
	Section     string         `json:"seccion"`
	SectionType SectionType    `json:"tipo_seccion"`
	Ordinal     int            `json:"ordinal"`
	Text        string         `json:"text"`
	Page        int            `json:"pagina"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Query-time scores; zero until retrieval sets them.
	RRFScore    float64 `json:"rrf_score,omitempty"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	BM25Score   float64 `json:"score_bm25,omitempty"`
	Distance    float64 `json:"distance,omitempty"`
}

// ChunkID derives a stable identifier from the chunk's position. The same
// contract, section, and ordinal always hash to the same id across rebuilds.
func ChunkID(contractID, section string, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", contractID, section, ordinal)))
	return hex.EncodeToString(sum[:])[:16]
}

// Clone returns a deep copy of the chunk.
func (c Chunk) Clone() Chunk {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Source renders the chunk's human-readable source label.
func (c Chunk) Source() string {
	archivo, _ := c.Metadata["archivo"].(string)
	if archivo == "" {
		archivo = c.ContractID
	}
	if c.Page > 0 {
		return fmt.Sprintf("%s, Pág: %d", archivo, c.Page)
	}
	return archivo
}

const maxReplacementChars = 5

var requiredKeys = []string{"contract_id", "archivo", "seccion", "tipo_seccion"}

// Validate enforces the chunk invariants: non-trivial text, bounded mojibake,
// and the presence of required metadata keys.
func (c Chunk) Validate() error {
	if len(strings.TrimSpace(c.Text)) < 10 {
		return fmt.Errorf("chunk %s: text shorter than 10 chars", c.ID)
	}
	if n := strings.Count(c.Text, "�"); n > maxReplacementChars {
		return fmt.Errorf("chunk %s: %d replacement characters", c.ID, n)
	}
	for _, key := range requiredKeys {
		if _, ok := c.Metadata[key]; !ok {
			return fmt.Errorf("chunk %s: missing metadata key %q", c.ID, key)
		}
	}
	return nil
}
