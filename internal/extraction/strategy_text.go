package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// TextStrategy is the last-resort fallback: a tag-stripping tokenizer walk
// that recovers whatever visible text the capture contains. No structure, no
// metadata beyond the title.
type TextStrategy struct{}

// NewTextStrategy constructs the fallback strategy.
func NewTextStrategy() *TextStrategy {
	return &TextStrategy{}
}

// Name implements Strategy.
func (s *TextStrategy) Name() string { return "plaintext" }

// Extract implements Strategy.
func (s *TextStrategy) Extract(ctx context.Context, page Page) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(page.Body))
	var (
		sb      strings.Builder
		title   string
		inTitle bool
		skip    int
	)
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skip++
			case "title":
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			case "title":
				inTitle = false
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text == "" {
				continue
			}
			if inTitle {
				if title == "" {
					title = text
				}
				continue
			}
			sb.WriteString(text)
			sb.WriteByte(' ')
		}
	}

	text := collapseWhitespace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("plaintext: document contains no visible text")
	}

	return &Result{
		URL:              page.URL,
		Title:            title,
		Text:             text,
		Markdown:         text,
		WordCount:        len(strings.Fields(text)),
		ExtractionMethod: s.Name(),
		ExtractionTime:   time.Since(start),
		FetchedAt:        page.FetchedAt,
	}, nil
}
