package pipeline

import (
	"fmt"

	"github.com/defensa-digital/contratos-rag/extract"
)

// Factor weights; they sum to 100.
const (
	weightRetrieval   = 30
	weightConsensus   = 25
	weightSpecificity = 20
	weightValidation  = 25
)

// computeConfidence scores the answer 0..100 from retrieval quality, source
// consensus, answer specificity, and validation outcome.
func computeConfidence(ps *pipelineState) *Confidence {
	c := &Confidence{
		RetrievalQuality: retrievalQuality(ps),
		Consensus:        consensus(ps),
		Specificity:      specificity(ps.Answer),
		Validation:       validationFactor(ps.Validation),
	}
	c.Score = c.RetrievalQuality*weightRetrieval +
		c.Consensus*weightConsensus +
		c.Specificity*weightSpecificity +
		c.Validation*weightValidation
	c.Recommendation = recommend(c, ps.Validation)
	return c
}

func retrievalQuality(ps *pipelineState) float64 {
	if ps.Evaluation == nil {
		return 0
	}
	q := float64(ps.Evaluation.Score) / 100
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// consensus measures how much of the evidence comes from the dominant
// contract: answers stitched from a single document are more trustworthy
// than ones hedged across many.
func consensus(ps *pipelineState) float64 {
	if len(ps.Chunks) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, chunk := range ps.Chunks {
		counts[chunk.ContractID]++
	}
	best := 0
	for _, n := range counts {
		if n > best {
			best = n
		}
	}
	return float64(best) / float64(len(ps.Chunks))
}

// specificity rewards answers that carry concrete data points.
func specificity(answer string) float64 {
	n := len(extract.Amounts(answer)) +
		len(extract.Dates(answer)) +
		len(extract.Percentages(answer)) +
		len(extract.Normatives(answer))
	if n >= 5 {
		return 1
	}
	return float64(n) / 5
}

func validationFactor(v *Validation) float64 {
	if v == nil {
		return 0
	}
	score := 0.0
	if v.NumericalOK {
		score += 0.5
	}
	if v.LogicalOK {
		score += 0.25
	}
	if v.CitationOK {
		score += 0.25
	}
	return score
}

func recommend(c *Confidence, v *Validation) string {
	if v != nil && !v.NumericalOK {
		return "CRÍTICO: la respuesta contiene datos numéricos no verificados; no utilizar sin revisión manual"
	}

	weakest := weakestFactor(c)
	switch {
	case c.Score >= 90:
		return "Alta confianza: respuesta utilizable directamente"
	case c.Score >= 70:
		return fmt.Sprintf("Confianza media: revisar %s antes de uso formal", weakest)
	case c.Score >= 50:
		return fmt.Sprintf("Confianza baja por %s: contrastar con el documento original", weakest)
	default:
		return fmt.Sprintf("Confianza muy baja por %s: no utilizar sin verificación completa", weakest)
	}
}

func weakestFactor(c *Confidence) string {
	factors := []struct {
		name  string
		value float64
	}{
		{"la calidad de la recuperación", c.RetrievalQuality},
		{"el consenso entre fuentes", c.Consensus},
		{"la especificidad de la respuesta", c.Specificity},
		{"la validación", c.Validation},
	}
	weakest := factors[0]
	for _, f := range factors[1:] {
		if f.value < weakest.value {
			weakest = f
		}
	}
	return weakest.name
}
