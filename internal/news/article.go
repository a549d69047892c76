// Package news holds the value types that flow through a matching run.
package news

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoArticles     = errors.New("no articles supplied")
	ErrInvalidArticle = errors.New("invalid article")
)

// Article is one raw article as handed over by an article source.
type Article struct {
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
	URL         string     `json:"url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Source      string     `json:"source,omitempty"`
}

// Content returns the body, falling back to the snippet.
func (a Article) Content() string {
	if body := strings.TrimSpace(a.Body); body != "" {
		return body
	}
	return strings.TrimSpace(a.Snippet)
}

// Text joins title and content the way both the matcher and the embedder
// read an article.
func (a Article) Text() string {
	title := strings.TrimSpace(a.Title)
	content := a.Content()
	switch {
	case content == "":
		return title
	case title == "":
		return content
	default:
		return title + "\n\n" + content
	}
}

// ValidateBatch rejects batches the run cannot proceed with.
func ValidateBatch(articles []Article) error {
	if len(articles) == 0 {
		return ErrNoArticles
	}
	for i, article := range articles {
		if strings.TrimSpace(article.Title) == "" {
			return fmt.Errorf("%w: articles[%d] has an empty title", ErrInvalidArticle, i)
		}
	}
	return nil
}
