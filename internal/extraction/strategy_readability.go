package extraction

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	readability "github.com/go-shiori/go-readability"
)

// ReadabilityStrategy extracts article content using a readability-style
// scoring pass. It is the primary strategy: best quality on article pages,
// useless on listings and heavily scripted captures.
type ReadabilityStrategy struct {
	converter *md.Converter
}

// NewReadabilityStrategy constructs the strategy with its own markdown
// converter.
func NewReadabilityStrategy() *ReadabilityStrategy {
	return &ReadabilityStrategy{converter: md.NewConverter("", true, nil)}
}

// Name implements Strategy.
func (s *ReadabilityStrategy) Name() string { return "readability" }

// Extract implements Strategy.
func (s *ReadabilityStrategy) Extract(ctx context.Context, page Page) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(page.Body), parsed)
	if err != nil {
		return nil, fmt.Errorf("readability parse: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("readability: no text content recovered")
	}

	markdown, err := s.converter.ConvertString(article.Content)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	return &Result{
		URL:   page.URL,
		Title: strings.TrimSpace(article.Title),
		Text:  text,
		Metadata: Metadata{
			Author:      strings.TrimSpace(article.Byline),
			Language:    strings.TrimSpace(article.Language),
			Description: strings.TrimSpace(article.Excerpt),
		},
		Markdown:         strings.TrimSpace(markdown),
		WordCount:        len(strings.Fields(text)),
		ExtractionMethod: s.Name(),
		ExtractionTime:   time.Since(start),
		FetchedAt:        page.FetchedAt,
	}, nil
}
