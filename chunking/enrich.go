package chunking

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/defensa-digital/contratos-rag/document"
	"github.com/defensa-digital/contratos-rag/extract"
)

// sectionKeywords maps lowercase section-name fragments to section types.
// Order matters: the first matching group wins.
var sectionKeywords = []struct {
	typ      document.SectionType
	keywords []string
}{
	{document.SectionGarantias, []string{"garant", "aval", "fianza"}},
	{document.SectionEconomicas, []string{"econom", "importe", "precio", "pago", "factur", "presupuesto"}},
	{document.SectionTemporales, []string{"plazo", "entrega", "duracion", "vigencia", "calendario", "temporal"}},
	{document.SectionCodigos, []string{"codigo", "nsn", "catalogacion", "referencia"}},
	{document.SectionMetadata, []string{"metadato", "identificacion", "datos generales"}},
	{document.SectionDescripcion, []string{"objeto", "descripcion", "alcance"}},
	{document.SectionNormas, []string{"norma", "stanag", "pecal", "aqap", "calidad"}},
	{document.SectionClausulas, []string{"clausula", "condicion"}},
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// ClassifySection derives the section type from its name.
func ClassifySection(name string) document.SectionType {
	if name == headerSection {
		return document.SectionMetadata
	}
	lower := accentReplacer.Replace(strings.ToLower(name))
	for _, group := range sectionKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.typ
			}
		}
	}
	return document.SectionGeneral
}

// Content flag detectors run on the chunk text.
var flagPatterns = map[string]*regexp.Regexp{
	document.FlagAval:            regexp.MustCompile(`(?i)\b(aval(es)?|fianza|garant[ií]a\s+(bancaria|definitiva))\b`),
	document.FlagNSN:             regexp.MustCompile(`(?i)\bNSN\b|\b\d{4}-\d{2}-\d{3}-\d{4}\b`),
	document.FlagSTANAG:          regexp.MustCompile(`(?i)\b(STANAG|AQAP|PECAL)\b`),
	document.FlagClasificacion:   regexp.MustCompile(`(?i)clasificad|confidencial|reservado|secreto|difusi[oó]n\s+limitada`),
	document.FlagPenalizacion:    regexp.MustCompile(`(?i)penaliza|sancion|sanción|demora`),
	document.FlagSubcontratacion: regexp.MustCompile(`(?i)subcontrat`),
}

// maxAmountsPerChunk bounds the detected amounts stored in metadata.
const maxAmountsPerChunk = 5

// Enrich builds the chunk's metadata map: the contract's global metadata
// flattened to scalars, positional keys, content flags, and detected
// amounts. Amounts are serialized to a JSON string because index metadata
// holds scalars only.
func Enrich(chunk document.Chunk, doc document.Document) map[string]any {
	meta := doc.Meta.ToMap()
	meta["contract_id"] = doc.ContractID
	meta["archivo"] = doc.Filename
	meta["seccion"] = chunk.Section
	meta["tipo_seccion"] = string(chunk.SectionType)
	meta["ordinal"] = chunk.Ordinal

	amounts := extract.Amounts(chunk.Text)
	meta[document.FlagImporte] = len(amounts) > 0
	meta[document.FlagFecha] = len(extract.Dates(chunk.Text)) > 0
	for flag, re := range flagPatterns {
		meta[flag] = re.MatchString(chunk.Text)
	}

	if len(amounts) > 0 {
		values := make([]float64, 0, maxAmountsPerChunk)
		for _, raw := range amounts {
			if len(values) == maxAmountsPerChunk {
				break
			}
			v, err := extract.ParseAmount(raw)
			if err != nil {
				continue
			}
			values = append(values, v)
		}
		if len(values) > 0 {
			serialized, _ := json.Marshal(values)
			meta["importes_detectados"] = string(serialized)
		}
	}
	return meta
}
