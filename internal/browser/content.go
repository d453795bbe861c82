package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const maxContentChars = 50000

// extractContent pulls the rendered DOM and reduces it to the page's
// readable text, sanitized and truncated for LLM consumption.
func (b *Browser) extractContent(ctx context.Context) (string, error) {
	var html, location string
	err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", err
	}

	pageURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("failed to parse page URL: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	// Sanitize output (remove any remaining HTML tags or scripts)
	p := bluemonday.StrictPolicy()
	sanitized := p.Sanitize(article.TextContent)

	output := fmt.Sprintf("TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", article.Excerpt)
	}
	output += "\n-- CONTENT --\n"

	content := sanitized
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "\n... (content truncated) ..."
	}
	output += content

	return output, nil
}
