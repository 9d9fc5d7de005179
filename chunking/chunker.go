// Package chunking splits normalized contract Markdown into token-budgeted,
// metadata-enriched chunks ready for indexing.
package chunking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/tokenizer"
)

// Section is a delimiter-bounded block of the normalized Markdown.
type Section struct {
	Name string
	Text string
}

// Chunker windows sections into token budgets.
type Chunker struct {
	tok       tokenizer.Tokenizer
	delimiter string
	maxTokens int
	overlap   int
}

// Option customises the chunker.
type Option func(*Chunker)

// WithMaxTokens sets the token budget per chunk.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithOverlap sets how many tokens consecutive chunks share.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New creates a chunker using the configured section delimiter.
func New(tok tokenizer.Tokenizer, delimiter string, opts ...Option) *Chunker {
	c := &Chunker{
		tok:       tok,
		delimiter: delimiter,
		maxTokens: 500,
		overlap:   50,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// headerSection names the metadata block preceding the first delimiter.
const headerSection = "METADATOS"

// SplitSections divides the Markdown at delimiter lines of the form
// "⟪delim⟫ NOMBRE ⟪delim⟫". Content before the first delimiter becomes the
// metadata header section.
func (c *Chunker) SplitSections(markdown string) []Section {
	delim := regexp.QuoteMeta(c.delimiter)
	re := regexp.MustCompile(`(?m)^\s*` + delim + `\s*(.+?)\s*` + delim + `\s*$`)

	var sections []Section
	locs := re.FindAllStringSubmatchIndex(markdown, -1)

	head := markdown
	if len(locs) > 0 {
		head = markdown[:locs[0][0]]
	}
	if strings.TrimSpace(head) != "" {
		sections = append(sections, Section{Name: headerSection, Text: strings.TrimSpace(head)})
	}

	for i, loc := range locs {
		name := strings.TrimSpace(markdown[loc[2]:loc[3]])
		end := len(markdown)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(markdown[loc[1]:end])
		if body == "" {
			continue
		}
		sections = append(sections, Section{Name: name, Text: body})
	}
	return sections
}

// Chunk splits the document into enriched chunks with stable ids.
func (c *Chunker) Chunk(doc document.Document) ([]document.Chunk, error) {
	if strings.TrimSpace(doc.Markdown) == "" {
		return nil, fmt.Errorf("document %s has no content", doc.ContractID)
	}

	var chunks []document.Chunk
	for _, section := range c.SplitSections(doc.Markdown) {
		for ordinal, text := range c.window(section.Text) {
			chunk := document.Chunk{
				ID:          document.ChunkID(doc.ContractID, section.Name, ordinal),
				ContractID:  doc.ContractID,
				Section:     section.Name,
				SectionType: ClassifySection(section.Name),
				Ordinal:     ordinal,
				Text:        text,
			}
			chunk.Metadata = Enrich(chunk, doc)
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// window slices the section text into token budgets, preferring newline and
// sentence boundaries, with token overlap between consecutive chunks.
func (c *Chunker) window(text string) []string {
	if c.tok.CountTokens(text) <= c.maxTokens {
		return []string{text}
	}

	units := c.splitUnits(text)
	var out []string
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, strings.TrimSpace(strings.Join(cur, "\n")))
		cur, curTokens = c.tail(cur)
	}

	for _, u := range units {
		ut := c.tok.CountTokens(u)
		if curTokens+ut > c.maxTokens && len(cur) > 0 {
			flush()
		}
		cur = append(cur, u)
		curTokens += ut
	}
	if len(cur) > 0 {
		chunk := strings.TrimSpace(strings.Join(cur, "\n"))
		if chunk != "" && (len(out) == 0 || chunk != out[len(out)-1]) {
			out = append(out, chunk)
		}
	}
	return out
}

// tail keeps the trailing units that fit the overlap budget.
func (c *Chunker) tail(units []string) ([]string, int) {
	var kept []string
	total := 0
	for i := len(units) - 1; i >= 0; i-- {
		ut := c.tok.CountTokens(units[i])
		if total+ut > c.overlap {
			break
		}
		kept = append([]string{units[i]}, kept...)
		total += ut
	}
	return kept, total
}

var sentenceEnd = regexp.MustCompile(`([.;])\s+`)

// splitUnits breaks the text into lines, then splits lines that alone exceed
// the budget at sentence boundaries, then at word boundaries as a last
// resort.
func (c *Chunker) splitUnits(text string) []string {
	var units []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		if c.tok.CountTokens(line) <= c.maxTokens {
			units = append(units, line)
			continue
		}
		for _, sentence := range sentenceEnd.Split(line, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			if c.tok.CountTokens(sentence) <= c.maxTokens {
				units = append(units, sentence)
				continue
			}
			units = append(units, c.hardSplit(sentence)...)
		}
	}
	return units
}

func (c *Chunker) hardSplit(s string) []string {
	words := strings.Fields(s)
	var units []string
	var cur []string
	tokens := 0
	for _, w := range words {
		wt := c.tok.CountTokens(w)
		if tokens+wt > c.maxTokens && len(cur) > 0 {
			units = append(units, strings.Join(cur, " "))
			cur, tokens = nil, 0
		}
		cur = append(cur, w)
		tokens += wt
	}
	if len(cur) > 0 {
		units = append(units, strings.Join(cur, " "))
	}
	return units
}
