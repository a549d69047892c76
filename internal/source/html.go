package source

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

const blockSelector = "p, div, li, h1, h2, h3, h4, h5, h6, blockquote, tr, section, article"

// fallbackPageURL resolves relative links when a payload has no URL.
var fallbackPageURL = &url.URL{Scheme: "https", Host: "localhost", Path: "/"}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && strings.Contains(s, ">")
}

// HTMLText flattens an HTML fragment to plain text, one paragraph per block
// element. Plain text passes through CleanText unchanged.
func HTMLText(fragment string) string {
	if !looksLikeHTML(fragment) {
		return CleanText(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return CleanText(fragment)
	}
	doc.Find("script, style, noscript, iframe").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelector).AppendHtml("\n")

	return CleanText(doc.Text())
}

// ReadableText extracts the main article text from a full HTML page.
func ReadableText(page []byte, pageURL string) (string, error) {
	base := fallbackPageURL
	if parsed, err := url.Parse(strings.TrimSpace(pageURL)); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		base = parsed
	}

	article, err := readability.FromReader(bytes.NewReader(page), base)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return "", fmt.Errorf("render readability text: %w", err)
	}

	text := CleanText(rendered.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	return text, nil
}

// bodyFromHTML prefers readability and falls back to flattening the markup.
func bodyFromHTML(page, pageURL string) string {
	if text, err := ReadableText([]byte(page), pageURL); err == nil && text != "" {
		return text
	}
	return HTMLText(page)
}
