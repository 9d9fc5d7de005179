package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/defensa-digital/contratos-rag/document"
)

// ExtractPDF returns the plain text of every page in order. Pages whose
// content cannot be decoded come back empty rather than failing the whole
// document.
func ExtractPDF(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// assignPages estimates each chunk's source page from its position in the
// normalized Markdown. The normalizer rewrites layout, so the mapping is
// proportional rather than exact. The page goes into the metadata map too so
// it survives the round trip through the vector store.
func assignPages(chunks []document.Chunk, markdown string, numPages int) {
	if numPages <= 0 || len(markdown) == 0 {
		return
	}
	for i := range chunks {
		offset := locateChunk(markdown, chunks[i].Text)
		page := 1 + offset*numPages/len(markdown)
		if page < 1 {
			page = 1
		}
		if page > numPages {
			page = numPages
		}
		chunks[i].Page = page
		if chunks[i].Metadata != nil {
			chunks[i].Metadata["pagina"] = page
		}
	}
}

func locateChunk(markdown, text string) int {
	probe := text
	if len(probe) > 60 {
		cut := 60
		for cut > 0 && !utf8.RuneStart(probe[cut]) {
			cut--
		}
		probe = probe[:cut]
	}
	if line := strings.IndexByte(probe, '\n'); line > 10 {
		probe = probe[:line]
	}
	if idx := strings.Index(markdown, probe); idx >= 0 {
		return idx
	}
	return 0
}
