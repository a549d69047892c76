// Package source turns article payloads (JSON array or JSON lines) into the
// news.Article values a matching run consumes.
package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"horse.fit/insurewatch/internal/news"
	payloadschema "horse.fit/insurewatch/schema"
)

const (
	DefaultBodyLimit    = 20000
	DefaultSnippetLimit = 2000

	maxLineBytes = 8 * 1024 * 1024
)

type Options struct {
	BodyLimit    int
	SnippetLimit int
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.BodyLimit <= 0 {
		normalized.BodyLimit = DefaultBodyLimit
	}
	if normalized.SnippetLimit <= 0 {
		normalized.SnippetLimit = DefaultSnippetLimit
	}
	return normalized
}

// ReadFile loads every article of a JSON or JSONL file.
func ReadFile(path string, opts Options) ([]news.Article, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	articles, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return articles, nil
}

// Decode reads a JSON array of payloads or one payload per line. Every
// payload is schema-validated; the first invalid one fails the batch.
func Decode(r io.Reader, opts Options) ([]news.Article, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payloads: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, news.ErrNoArticles
	}

	var payloads []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, fmt.Errorf("%w: decode JSON array: %v", news.ErrInvalidArticle, err)
		}
	} else {
		payloads, err = splitLines(trimmed)
		if err != nil {
			return nil, err
		}
	}

	articles := make([]news.Article, 0, len(payloads))
	for i, payload := range payloads {
		item, err := payloadschema.ValidateArticlePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", news.ErrInvalidArticle, i+1, err)
		}
		articles = append(articles, ToArticle(item, opts))
	}
	if len(articles) == 0 {
		return nil, news.ErrNoArticles
	}
	return articles, nil
}

// DecodeOne validates and converts a single payload.
func DecodeOne(payload json.RawMessage, opts Options) (news.Article, error) {
	item, err := payloadschema.ValidateArticlePayload(payload)
	if err != nil {
		return news.Article{}, fmt.Errorf("%w: %v", news.ErrInvalidArticle, err)
	}
	return ToArticle(item, opts), nil
}

func splitLines(raw []byte) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []json.RawMessage
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan JSON lines: %w", err)
	}
	return out, nil
}

// ToArticle maps a validated payload. body_text wins over body_html; the
// description becomes the snippet with any markup stripped.
func ToArticle(item *payloadschema.ArticlePayload, options Options) news.Article {
	opts := normalizeOptions(options)

	article := news.Article{
		Title:       CleanText(item.Title),
		URL:         deref(item.URL),
		PublishedAt: item.PublishedTime(),
		Source:      strings.TrimSpace(deref(item.Source)),
	}

	body := CleanText(deref(item.BodyText))
	if body == "" && strings.TrimSpace(deref(item.BodyHTML)) != "" {
		body = bodyFromHTML(deref(item.BodyHTML), article.URL)
	}
	article.Body, _ = TruncateText(body, opts.BodyLimit)
	article.Snippet, _ = TruncateText(HTMLText(deref(item.Description)), opts.SnippetLimit)
	return article
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
