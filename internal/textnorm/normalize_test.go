package textnorm

import "testing"

func TestNormalizeStripsDiacriticsAndCollapses(t *testing.T) {
	t.Parallel()

	got := Normalize("  São   Paulo\tSAÚDE S.A. ")
	if got != "sao paulo saude s.a." {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"São Paulo Saúde",
		"BRADESCO   Seguros",
		"Ｆｕｌｌｗｉｄｔｈ Ｎａｍｅ",
		"ℌealth ﬁnance",
		"Çà et là\n\nnotícias",
		"",
		"   ",
		"İstanbul Sigorta",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestContainsWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		haystack string
		needle   string
		want     bool
	}{
		{name: "exact", haystack: "porto seguro anuncia resultados", needle: "porto seguro", want: true},
		{name: "inside longer token", haystack: "abcdef corp announced", needle: "abc", want: false},
		{name: "second occurrence bounded", haystack: "abcdef and abc corp", needle: "abc", want: true},
		{name: "punctuation boundary", haystack: "resultado da (amil), ontem", needle: "amil", want: true},
		{name: "suffix letter", haystack: "amilton saude", needle: "amil", want: false},
		{name: "digit neighbour", haystack: "sul2america", needle: "america", want: false},
		{name: "trailing punctuation in needle", haystack: "bradesco s.a.x", needle: "bradesco s.a.", want: true},
		{name: "accented neighbour", haystack: "préamil", needle: "amil", want: false},
		{name: "empty needle", haystack: "abc", needle: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ContainsWord(tt.haystack, tt.needle); got != tt.want {
				t.Fatalf("ContainsWord(%q, %q)=%v want %v", tt.haystack, tt.needle, got, tt.want)
			}
		})
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := Clip("seguradora", 4); got != "segu" {
		t.Fatalf("unexpected clip: %q", got)
	}
	if got := Clip("ação", 3); got != "açã" {
		t.Fatalf("clip must count runes, got %q", got)
	}
	if got := Clip(" curto ", 50); got != "curto" {
		t.Fatalf("unexpected short clip: %q", got)
	}
}
