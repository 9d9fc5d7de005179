package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/extract"
	"github.com/defensa-digital/contratos-rag/graph"
	"github.com/defensa-digital/contratos-rag/llm"
	"github.com/defensa-digital/contratos-rag/message"
)

// validateNode verifies the synthesized answer: numerical integrity against
// the evidence, logical coherence via an LLM judge, and citation coverage.
// A numerical failure triggers one self-correction pass before the verdict
// is final.
func (p *Pipeline) validateNode(ctx context.Context, s graph.State) (graph.State, error) {
	ps, err := fromGraph(s)
	if err != nil {
		return nil, err
	}
	started := time.Now()

	v := Validation{}
	v.NumericalOK, v.UnverifiedData = verifyNumbers(ps.Answer, ps.Chunks)

	if !v.NumericalOK {
		if corrected := p.selfCorrect(ctx, ps); corrected != "" {
			if ok, unverified := verifyNumbers(corrected, ps.Chunks); ok {
				ps.Answer = corrected
				v.NumericalOK = true
				v.UnverifiedData = nil
				v.SelfCorrected = true
			} else {
				v.UnverifiedData = unverified
			}
		}
	}

	v.LogicalOK, v.LogicalReason = p.judgeCoherence(ctx, ps)
	v.CitationCoverage = citationCoverage(ps.Answer)
	v.CitationOK = v.CitationCoverage >= 0.8

	ps.Validation = &v
	ps.Confidence = computeConfidence(ps)
	ps.ValidationTime += time.Since(started)
	return s, nil
}

// computedPattern marks sentences whose numbers are arithmetic results the
// model was asked to produce, not corpus data.
var computedPattern = regexp.MustCompile(`(?i)\bsuma\b|\btotal de los\b|\bdiferencia\b|\bresultado\b|\ben conjunto\b|calculad`)

// verifyNumbers checks that every hard data token in the answer appears in
// the evidence, tolerating Spanish/US locale variants of the same number.
func verifyNumbers(answer string, chunks []document.Chunk) (bool, []string) {
	var corpus strings.Builder
	for _, chunk := range chunks {
		corpus.WriteString(chunk.Text)
		corpus.WriteString("\n")
	}
	corpusText := corpus.String()
	corpusCanon := make(map[string]struct{})
	for _, token := range extract.NumericFootprint(corpusText) {
		corpusCanon[canonNumber(token)] = struct{}{}
	}

	var tokens []string
	tokens = append(tokens, extract.Amounts(answer)...)
	tokens = append(tokens, extract.Dates(answer)...)
	tokens = append(tokens, extract.CIFs(answer)...)
	tokens = append(tokens, extract.Percentages(answer)...)
	tokens = append(tokens, extract.Durations(answer)...)
	tokens = append(tokens, extract.Normatives(answer)...)

	var unverified []string
	for _, token := range tokens {
		if inComputedSentence(answer, token) {
			continue
		}
		if strings.Contains(corpusText, token) {
			continue
		}
		if numeric := firstNumber(token); numeric != "" {
			if _, ok := corpusCanon[canonNumber(numeric)]; ok {
				continue
			}
		}
		unverified = append(unverified, token)
	}
	return len(unverified) == 0, unverified
}

func inComputedSentence(answer, token string) bool {
	idx := strings.Index(answer, token)
	if idx < 0 {
		return false
	}
	start := strings.LastIndexAny(answer[:idx], ".\n") + 1
	end := idx + len(token)
	if rest := strings.IndexAny(answer[end:], ".\n"); rest >= 0 {
		end += rest
	} else {
		end = len(answer)
	}
	return computedPattern.MatchString(answer[start:end])
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

func firstNumber(token string) string {
	return numberPattern.FindString(token)
}

// canonNumber reduces a number to its canonical value so "2.450.000,00" and
// "2,450,000.00" compare equal while "500,00" stays distinct from "50.000".
func canonNumber(s string) string {
	v, err := parseLocaleFloat(s)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseLocaleFloat reads a number written with Spanish or US separators. A
// lone separator followed by exactly three digits counts as a thousands
// group.
func parseLocaleFloat(s string) (float64, error) {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	var decimal byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimal = '.'
		} else {
			decimal = ','
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			decimal = ','
		}
	case lastDot >= 0:
		if strings.Count(s, ".") == 1 && len(s)-lastDot-1 != 3 {
			decimal = '.'
		}
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimal:
			b.WriteByte('.')
		}
	}
	return strconv.ParseFloat(b.String(), 64)
}

// judgeCoherence asks the fast model whether the answer follows from the
// evidence. Judge failures do not block the answer.
func (p *Pipeline) judgeCoherence(ctx context.Context, ps *pipelineState) (bool, string) {
	if strings.TrimSpace(ps.Answer) == "" || len(ps.Chunks) == 0 {
		return true, ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pregunta: %s\n\nFragmentos:\n", ps.Rewritten)
	for i, chunk := range ps.Chunks {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, chunk.Text)
	}
	fmt.Fprintf(&b, "\nRespuesta a verificar:\n%s", ps.Answer)

	resp, err := p.gateway.Generate(ctx, llm.RoleFast, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, judgePrompt),
			message.NewMessage(message.RoleUser, b.String()),
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Warn("coherence judge unavailable", "error", err)
		return true, ""
	}
	ps.addUsage(resp.Usage)

	verdict, err := decodeJSON[struct {
		Veredicto string `json:"veredicto"`
		Motivo    string `json:"motivo"`
	}](resp.Message.Text())
	if err != nil {
		p.logger.Warn("coherence verdict unparseable", "error", err)
		return true, ""
	}
	if strings.Contains(strings.ToUpper(verdict.Veredicto), "INV") {
		return false, verdict.Motivo
	}
	return true, verdict.Motivo
}

var citationPattern = regexp.MustCompile(`(?i)\.pdf|pág|documento\s+\d+`)

// citationCoverage measures how many sentences carrying hard data also carry
// a source citation.
func citationCoverage(answer string) float64 {
	sentences := splitSentences(answer)
	critical, cited := 0, 0
	for _, sentence := range sentences {
		if !hasHardData(sentence) {
			continue
		}
		critical++
		if citationPattern.MatchString(sentence) {
			cited++
		}
	}
	if critical == 0 {
		return 1
	}
	return float64(cited) / float64(critical)
}

func hasHardData(sentence string) bool {
	return len(extract.Amounts(sentence)) > 0 ||
		len(extract.Dates(sentence)) > 0 ||
		len(extract.Percentages(sentence)) > 0 ||
		len(extract.Normatives(sentence)) > 0
}

func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, sentence := range strings.Split(line, ". ") {
			sentence = strings.TrimSpace(sentence)
			if sentence != "" {
				out = append(out, sentence)
			}
		}
	}
	return out
}

// selfCorrect asks the heavy model to rewrite the answer using only data
// present in the evidence.
func (p *Pipeline) selfCorrect(ctx context.Context, ps *pipelineState) string {
	var b strings.Builder
	b.WriteString("Documentos:\n")
	for i, chunk := range ps.Chunks {
		fmt.Fprintf(&b, "Documento %d (%s):\n%s\n\n", i+1, chunk.Source(), chunk.Text)
	}
	fmt.Fprintf(&b, "Respuesta a corregir:\n%s", ps.Answer)

	resp, err := p.gateway.Generate(ctx, llm.RoleHeavy, &llm.GenerateRequest{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, selfCorrectPrompt),
			message.NewMessage(message.RoleUser, b.String()),
		},
		MaxTokens:   4096,
		Temperature: 0,
	})
	if err != nil {
		p.logger.Warn("self-correction failed", "error", err)
		return ""
	}
	ps.addUsage(resp.Usage)
	return strings.TrimSpace(resp.Message.Text())
}
