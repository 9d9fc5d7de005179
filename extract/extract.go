// Package extract provides deterministic, regex-based extractors for the
// entities that appear in defense procurement contracts. Every function is
// pure and returns order-preserving, deduplicated results; ingestion
// enrichment, query analysis, and the answer validator all build on them.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	contractIDRe = regexp.MustCompile(`\b(?:CON|SER|SUM|LIC)_\d{4}_\d{3}\b`)
	cifRe        = regexp.MustCompile(`\b([A-Z])-?(\d{8})\b`)
	dateRe       = regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`)
	// Spanish amount format: dot thousands, comma decimals.
	amountRe     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?\b|\b\d+,\d{2}\b`)
	percentRe    = regexp.MustCompile(`\b\d+(?:,\d+)?\s?%`)
	durationRe   = regexp.MustCompile(`\b\d+\s?(?:d[ií]as|meses|a[nñ]os)\b`)
	normativeRes = []*regexp.Regexp{
		regexp.MustCompile(`\bSTANAG\s?\d{3,4}\b`),
		regexp.MustCompile(`\bISO\s?\d{4,5}(?:-\d+)?(?::\d{4})?\b`),
		regexp.MustCompile(`\bMIL-STD-\d+[A-Z]?\b`),
		regexp.MustCompile(`\bPECAL\s?\d{3,4}\b`),
		regexp.MustCompile(`\bAQAP[-\s]?\d{3,4}\b`),
	}
	numericTokenRe = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
)

// ContractIDs returns contract identifiers of the form TYPE_YYYY_NNN.
func ContractIDs(text string) []string {
	return dedupe(contractIDRe.FindAllString(text, -1))
}

// CIFs returns company tax identifiers normalized to the X-NNNNNNNN form.
func CIFs(text string) []string {
	matches := cifRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1]+"-"+m[2])
	}
	return dedupe(out)
}

// Dates returns DD/MM/YYYY date tokens.
func Dates(text string) []string {
	return dedupe(dateRe.FindAllString(text, -1))
}

// Amounts returns monetary amounts in Spanish format (1.234.567,89).
func Amounts(text string) []string {
	return dedupe(amountRe.FindAllString(text, -1))
}

// Percentages returns percentage tokens such as "5 %" or "3,5%".
func Percentages(text string) []string {
	return dedupe(percentRe.FindAllString(text, -1))
}

// Durations returns duration tokens such as "30 días" or "24 meses".
func Durations(text string) []string {
	return dedupe(durationRe.FindAllString(text, -1))
}

// Normatives returns standard references (STANAG, ISO, MIL-STD, PECAL, AQAP).
func Normatives(text string) []string {
	var all []string
	for _, re := range normativeRes {
		all = append(all, re.FindAllString(text, -1)...)
	}
	return dedupe(all)
}

// ParseAmount converts a Spanish-formatted amount to a float64.
func ParseAmount(s string) (float64, error) {
	clean := strings.TrimSpace(s)
	clean = strings.ReplaceAll(clean, ".", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	return strconv.ParseFloat(clean, 64)
}

// NumericFootprint returns the ordered sequence of numeric tokens in the
// text. Two documents with equal footprints carry exactly the same figures
// in the same order; repair must preserve it.
func NumericFootprint(text string) []string {
	return numericTokenRe.FindAllString(text, -1)
}

// FootprintEqual reports whether two texts share the same numeric footprint.
func FootprintEqual(a, b string) bool {
	fa, fb := NumericFootprint(a), NumericFootprint(b)
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}

func dedupe(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
