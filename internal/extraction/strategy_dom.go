package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// contentSelectors are tried in order when locating the main content block.
var contentSelectors = []string{"article", "main", "[role=main]", "#content", ".content"}

// DOMStrategy extracts content from structured markup using CSS selectors
// and document metadata. It handles pages readability rejects, at the cost
// of picking up more boilerplate.
type DOMStrategy struct {
	converter *md.Converter
}

// NewDOMStrategy constructs the strategy with its own markdown converter.
func NewDOMStrategy() *DOMStrategy {
	return &DOMStrategy{converter: md.NewConverter("", true, nil)}
}

// Name implements Strategy.
func (s *DOMStrategy) Name() string { return "dom" }

// Extract implements Strategy.
func (s *DOMStrategy) Extract(ctx context.Context, page Page) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, iframe").Remove()

	content := doc.Selection
	for _, sel := range contentSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			content = found.First()
			break
		}
	}

	text := collapseWhitespace(content.Text())
	if text == "" {
		return nil, fmt.Errorf("dom: no text content in document")
	}

	contentHTML, err := content.Html()
	if err != nil {
		return nil, fmt.Errorf("serialize content: %w", err)
	}
	markdown, err := s.converter.ConvertString(contentHTML)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	return &Result{
		URL:              page.URL,
		Title:            documentTitle(doc),
		Text:             text,
		Markdown:         strings.TrimSpace(markdown),
		Metadata:         documentMetadata(doc),
		WordCount:        len(strings.Fields(text)),
		ExtractionMethod: s.Name(),
		ExtractionTime:   time.Since(start),
		FetchedAt:        page.FetchedAt,
	}, nil
}

func documentTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func documentMetadata(doc *goquery.Document) Metadata {
	meta := Metadata{}
	if author, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok {
		meta.Author = strings.TrimSpace(author)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		meta.Description = strings.TrimSpace(desc)
	}
	if meta.Description == "" {
		if ogDesc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
			meta.Description = strings.TrimSpace(ogDesc)
		}
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		meta.Language = strings.TrimSpace(lang)
	}
	return meta
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
