package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer counts tokens with a real BPE encoding.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the encoding for a model name, falling back to
// treating the name as an encoding name.
func NewTiktokenTokenizer(name string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

// NewDefault returns a tiktoken tokenizer when the cl100k_base encoding is
// available, else the heuristic fallback.
func NewDefault() Tokenizer {
	tk, err := NewTiktokenTokenizer("cl100k_base")
	if err != nil {
		return NewHeuristicTokenizer()
	}
	return tk
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

func (t *TiktokenTokenizer) DecodeIds(ids []int) string {
	return t.enc.Decode(ids)
}
