package document

import (
	"strings"
	"testing"
)

func TestChunkIDStable(t *testing.T) {
	a := ChunkID("CON_2024_001", "GARANTIAS", 2)
	b := ChunkID("CON_2024_001", "GARANTIAS", 2)
	if a != b {
		t.Fatalf("ids differ across calls: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
	if a == ChunkID("CON_2024_001", "GARANTIAS", 3) {
		t.Fatal("different ordinals must not collide")
	}
	if a == ChunkID("CON_2024_002", "GARANTIAS", 2) {
		t.Fatal("different contracts must not collide")
	}
}

func validChunk() Chunk {
	return Chunk{
		ID:          ChunkID("CON_2024_001", "GARANTIAS", 1),
		ContractID:  "CON_2024_001",
		Section:     "GARANTIAS",
		SectionType: SectionGarantias,
		Ordinal:     1,
		Text:        "Aval bancario de 122.500,00 EUR emitido por Banco Santander.",
		Metadata: map[string]any{
			"contract_id":  "CON_2024_001",
			"archivo":      "CON_2024_001_mantenimiento.pdf",
			"seccion":      "GARANTIAS",
			"tipo_seccion": "garantias",
		},
	}
}

func TestChunkValidate(t *testing.T) {
	if err := validChunk().Validate(); err != nil {
		t.Fatalf("valid chunk rejected: %v", err)
	}

	short := validChunk()
	short.Text = "corto"
	if err := short.Validate(); err == nil {
		t.Fatal("short text must fail validation")
	}

	noisy := validChunk()
	noisy.Text = "texto suficientemente largo " + strings.Repeat("�", 6)
	if err := noisy.Validate(); err == nil {
		t.Fatal("mojibake beyond limit must fail validation")
	}

	missing := validChunk()
	delete(missing.Metadata, "tipo_seccion")
	if err := missing.Validate(); err == nil {
		t.Fatal("missing required key must fail validation")
	}
}

func TestMetadataToMapScalars(t *testing.T) {
	meta := ContractMetadata{
		ContractID:     "CON_2024_001",
		Importe:        2450000,
		NivelSeguridad: 3,
		Normas:         "STANAG 4107; PECAL 2110",
	}
	for key, val := range meta.ToMap() {
		switch val.(type) {
		case string, bool, int, float64:
		default:
			t.Fatalf("metadata key %q has non-scalar type %T", key, val)
		}
	}
}

func TestChunkSource(t *testing.T) {
	c := validChunk()
	c.Page = 4
	if got := c.Source(); got != "CON_2024_001_mantenimiento.pdf, Pág: 4" {
		t.Fatalf("Source() = %q", got)
	}
}
