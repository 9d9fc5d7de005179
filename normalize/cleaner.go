package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// ligatures and OCR artifacts that show up in extracted PDF text.
var ocrFixes = map[string]string{
	"ﬁ": "fi", "ﬂ": "fl", "ﬀ": "ff",
	"–": "-", "·": ".", "•": "-",
	" ": " ",
}

// Clean removes control characters, fixes common OCR artifacts, and
// collapses whitespace. It never touches digits, so the numeric footprint
// of the text is preserved.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	// remove control chars except newline
	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	for k, v := range ocrFixes {
		b = strings.ReplaceAll(b, k, v)
	}

	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")

	return strings.TrimSpace(b)
}

// DedupeParagraphs drops exact duplicate paragraphs, which PDF extraction
// produces for repeated headers and footers.
func DedupeParagraphs(text string) string {
	parts := strings.Split(text, "\n\n")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, "\n\n")
}
