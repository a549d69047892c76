package news

import (
	"errors"
	"testing"
)

func TestArticleTextFallsBackToSnippet(t *testing.T) {
	t.Parallel()

	a := Article{Title: "Amil amplia rede", Snippet: "Operadora anuncia"}
	if got := a.Text(); got != "Amil amplia rede\n\nOperadora anuncia" {
		t.Fatalf("unexpected text: %q", got)
	}

	a.Body = "Corpo completo"
	if got := a.Content(); got != "Corpo completo" {
		t.Fatalf("body should win over snippet, got %q", got)
	}
}

func TestValidateBatch(t *testing.T) {
	t.Parallel()

	if err := ValidateBatch(nil); !errors.Is(err, ErrNoArticles) {
		t.Fatalf("expected ErrNoArticles, got %v", err)
	}
	err := ValidateBatch([]Article{{Title: "ok"}, {Title: "  "}})
	if !errors.Is(err, ErrInvalidArticle) {
		t.Fatalf("expected ErrInvalidArticle, got %v", err)
	}
	if err := ValidateBatch([]Article{{Title: "ok"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCapIDs(t *testing.T) {
	t.Parallel()

	got := CapIDs([]int64{5, 5, 7, 9, 11}, 3)
	if len(got) != 3 || got[0] != 5 || got[1] != 7 || got[2] != 9 {
		t.Fatalf("unexpected capped ids: %v", got)
	}
	if got := CapIDs(nil, 3); len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}
