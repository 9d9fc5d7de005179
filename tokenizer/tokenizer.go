// Package tokenizer provides token counting for chunk budgets and context
// windows.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer counts and slices text in model tokens.
type Tokenizer interface {
	Encode(text string) []int
	CountTokens(text string) int
	DecodeIds(ids []int) string
}

var _ Tokenizer = (*HeuristicTokenizer)(nil)

// HeuristicTokenizer approximates token boundaries without a model
// vocabulary: words and numbers are one token each, punctuation stands
// alone. It backs deployments where the tiktoken encoding cannot be loaded.
type HeuristicTokenizer struct{}

// NewHeuristicTokenizer returns the fallback tokenizer.
func NewHeuristicTokenizer() *HeuristicTokenizer {
	return &HeuristicTokenizer{}
}

func (t *HeuristicTokenizer) split(s string) []string {
	var toks []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			toks = append(toks, buf.String())
			buf.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			buf.WriteRune(r)
		default:
			flush()
			toks = append(toks, string(r))
		}
	}
	flush()
	return toks
}

func (t *HeuristicTokenizer) Encode(text string) []int {
	toks := t.split(text)
	ids := make([]int, len(toks))
	for i := range toks {
		ids[i] = i
	}
	return ids
}

func (t *HeuristicTokenizer) CountTokens(text string) int {
	return len(t.split(text))
}

func (t *HeuristicTokenizer) DecodeIds(ids []int) string {
	return ""
}
