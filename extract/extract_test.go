package extract

import (
	"testing"
)

const sampleClause = `El contrato CON_2024_001, adjudicado a Indra Sistemas S.A. con CIF A-28599033,
tiene un importe total de 2.450.000,00 EUR y un aval bancario de 122.500,00 EUR.
Vigencia: 15/01/2024 a 15/01/2026. Cumple STANAG 4107 y PECAL 2110.
Penalización del 0,5 % por cada 30 días de retraso. Referencia CON_2024_001.`

func TestContractIDs(t *testing.T) {
	ids := ContractIDs(sampleClause)
	if len(ids) != 1 {
		t.Fatalf("expected 1 deduplicated id, got %v", ids)
	}
	if ids[0] != "CON_2024_001" {
		t.Fatalf("unexpected id %q", ids[0])
	}

	multi := ContractIDs("SER_2024_015 y SUM_2023_099 y LIC_2022_003")
	if len(multi) != 3 {
		t.Fatalf("expected 3 ids, got %v", multi)
	}
}

func TestCIFsNormalized(t *testing.T) {
	for _, raw := range []string{"CIF A-28599033", "CIF A28599033"} {
		cifs := CIFs(raw)
		if len(cifs) != 1 || cifs[0] != "A-28599033" {
			t.Fatalf("CIFs(%q) = %v", raw, cifs)
		}
	}
}

func TestDates(t *testing.T) {
	dates := Dates(sampleClause)
	if len(dates) != 2 {
		t.Fatalf("expected 2 dates, got %v", dates)
	}
	if dates[0] != "15/01/2024" || dates[1] != "15/01/2026" {
		t.Fatalf("unexpected dates %v", dates)
	}
}

func TestAmounts(t *testing.T) {
	amounts := Amounts(sampleClause)
	want := map[string]bool{"2.450.000,00": true, "122.500,00": true}
	for _, a := range amounts {
		if !want[a] {
			t.Fatalf("unexpected amount %q in %v", a, amounts)
		}
		delete(want, a)
	}
	if len(want) > 0 {
		t.Fatalf("missing amounts %v", want)
	}
}

func TestNormatives(t *testing.T) {
	norms := Normatives(sampleClause + " ISO 9001 MIL-STD-810G")
	found := map[string]bool{}
	for _, n := range norms {
		found[n] = true
	}
	for _, expect := range []string{"STANAG 4107", "PECAL 2110", "ISO 9001", "MIL-STD-810G"} {
		if !found[expect] {
			t.Fatalf("expected %q in %v", expect, norms)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{
		"2.450.000,00": 2450000.0,
		"1.234,56":     1234.56,
		"500,25":       500.25,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseAmount(%q) = %f, want %f", in, got, want)
		}
	}
}

func TestNumericFootprint(t *testing.T) {
	a := "importe 500.000 con aval del 5% en 30 días"
	b := "el importe asciende a 500.000, aval 5 por ciento, plazo 30 días"
	if !FootprintEqual(a, b) {
		t.Fatalf("footprints should match: %v vs %v", NumericFootprint(a), NumericFootprint(b))
	}

	tampered := "importe 50.000 con aval del 5% en 30 días"
	if FootprintEqual(a, tampered) {
		t.Fatal("tampered amount must break footprint equality")
	}
}

func TestDurationsAndPercentages(t *testing.T) {
	if d := Durations(sampleClause); len(d) != 1 || d[0] != "30 días" {
		t.Fatalf("Durations = %v", d)
	}
	if p := Percentages(sampleClause); len(p) != 1 {
		t.Fatalf("Percentages = %v", p)
	}
}
