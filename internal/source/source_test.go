package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/insurewatch/internal/news"
)

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := CleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	got, truncated := TruncateText("abcdefghijklmnopqrstuvwxyz", 10)
	if !truncated || got != "abcdefghi…" {
		t.Fatalf("unexpected truncated text: %q (%v)", got, truncated)
	}
	full, wasTruncated := TruncateText("curto", 10)
	if wasTruncated || full != "curto" {
		t.Fatalf("unexpected short text: %q", full)
	}
}

func TestHTMLTextStripsMarkup(t *testing.T) {
	t.Parallel()

	got := HTMLText(`<p>A <b>Amil</b> anunciou</p><script>alert(1)</script><p>novos planos</p>`)
	if got != "A Amil anunciou\n\nnovos planos" {
		t.Fatalf("unexpected text: %q", got)
	}
	if plain := HTMLText("sem  marcação"); plain != "sem marcação" {
		t.Fatalf("plain text should pass through, got %q", plain)
	}
}

func TestDecodeJSONArray(t *testing.T) {
	t.Parallel()

	payload := `[
		{"title": "Porto Seguro anuncia resultados", "url": "https://valor.example/a", "published_at": "2026-05-01T10:00:00-03:00", "source": "Valor"},
		{"title": "Amil amplia rede", "description": "<p>Operadora <em>amplia</em> rede</p>"}
	]`
	articles, err := Decode(strings.NewReader(payload), Options{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}
	if articles[0].PublishedAt == nil || articles[0].PublishedAt.Hour() != 13 {
		t.Fatalf("expected published_at normalized to UTC, got %v", articles[0].PublishedAt)
	}
	if articles[1].Snippet != "Operadora amplia rede" {
		t.Fatalf("expected stripped snippet, got %q", articles[1].Snippet)
	}
}

func TestDecodeJSONLines(t *testing.T) {
	t.Parallel()

	payload := "{\"title\": \"um\"}\n\n{\"title\": \"dois\", \"body_text\": \"corpo\"}\n"
	articles, err := Decode(strings.NewReader(payload), Options{})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(articles) != 2 || articles[1].Body != "corpo" {
		t.Fatalf("unexpected articles: %+v", articles)
	}
}

func TestDecodeRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{name: "empty", payload: "  ", want: news.ErrNoArticles},
		{name: "missing title", payload: `[{"url": "https://x/1"}]`, want: news.ErrInvalidArticle},
		{name: "unknown field", payload: `{"title": "a", "author": "b"}`, want: news.ErrInvalidArticle},
		{name: "bad url", payload: `{"title": "a", "url": "ftp://x/1"}`, want: news.ErrInvalidArticle},
		{name: "bad date", payload: `{"title": "a", "published_at": "ontem"}`, want: news.ErrInvalidArticle},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(strings.NewReader(tc.payload), Options{}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBodyHTMLBecomesBody(t *testing.T) {
	t.Parallel()

	payload := `{"title": "SulAmérica", "body_html": "<html><body><article><p>A SulAmérica divulgou lucro recorde no trimestre, impulsionado pela carteira de saúde.</p></article></body></html>"}`
	article, err := DecodeOne([]byte(payload), Options{})
	if err != nil {
		t.Fatalf("DecodeOne failed: %v", err)
	}
	if !strings.Contains(article.Body, "lucro recorde") || strings.Contains(article.Body, "<p>") {
		t.Fatalf("expected text extracted from body_html, got %q", article.Body)
	}
}

func TestFetchTextAndBackfill(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("  Hapvida   conclui fusão  "))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	text, err := FetchText(context.Background(), server.URL+"/plain", FetchOptions{})
	if err != nil || text != "Hapvida conclui fusão" {
		t.Fatalf("unexpected fetch result %q err=%v", text, err)
	}

	articles := []news.Article{
		{Title: "a", URL: server.URL + "/plain"},
		{Title: "b", URL: server.URL + "/missing"},
		{Title: "c", URL: server.URL + "/plain", Snippet: "já tem"},
	}
	filled := FillMissingBodies(context.Background(), articles, FetchOptions{}, zerolog.Nop())
	if filled != 1 || articles[0].Body != "Hapvida conclui fusão" || articles[1].Body != "" || articles[2].Body != "" {
		t.Fatalf("unexpected backfill: filled=%d %+v", filled, articles)
	}
}

func TestTruncateTextSingleRune(t *testing.T) {
	t.Parallel()

	got, truncated := TruncateText("Bradesco Saúde", 1)
	if !truncated || got != "…" {
		t.Fatalf("unexpected single rune truncation: %q (%v)", got, truncated)
	}
}
