// Package browser implements the navigable environment the step loop
// drives: it executes navigator actions against a Chrome session and
// exposes the page location as the run's progress fingerprint.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/rohan/waypoint/internal/schema"
)

type Browser struct {
	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	headless      bool
	search        *searchClient
}

func New(headless bool) *Browser {
	return &Browser{headless: headless}
}

func (b *Browser) init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.release()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	return chromedp.Run(b.browserCtx)
}

func (b *Browser) release() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

// Release tears down the browser session. Safe to call on every run
// exit path, including before the session was ever started.
func (b *Browser) Release() {
	b.mu.Lock()
	b.release()
	b.mu.Unlock()
}

// Fingerprint returns the current page URL. The step loop compares it
// across a navigation step to detect forward progress.
func (b *Browser) Fingerprint(ctx context.Context) (string, error) {
	if err := b.init(ctx); err != nil {
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}

	stateCtx, cancel := context.WithTimeout(b.browserCtx, 10*time.Second)
	defer cancel()

	var url string
	if err := chromedp.Run(stateCtx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Execute performs one navigator action and returns a human-readable
// result for the step record.
func (b *Browser) Execute(ctx context.Context, action schema.ActionInvocation) (string, error) {
	name := action.Name()
	if name == "" {
		return "", fmt.Errorf("malformed action invocation")
	}
	params := action.Params()

	if name == "done" {
		text, _ := params["text"].(string)
		return text, nil
	}

	if err := b.init(ctx); err != nil {
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}

	actionCtx, cancel := context.WithTimeout(b.browserCtx, 60*time.Second)
	defer cancel()

	switch name {
	case "go_to_url":
		url, _ := params["url"].(string)
		if url == "" {
			url = schema.DefaultURL
		}
		if err := chromedp.Run(actionCtx, chromedp.Navigate(url)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Navigated to %s", url), nil

	case "click_element":
		index := paramIndex(params)
		err := chromedp.Run(actionCtx, chromedp.Evaluate(
			fmt.Sprintf(`(() => {
				const els = document.querySelectorAll('a, button, input[type=submit], input[type=button], select, [onclick], [role=button]');
				if (els.length < %d) throw new Error('element index out of range');
				els[%d].click();
				return true;
			})()`, index, index-1), nil))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Clicked element %d", index), nil

	case "input_text":
		index := paramIndex(params)
		text, _ := params["text"].(string)
		err := chromedp.Run(actionCtx, chromedp.Evaluate(
			fmt.Sprintf(`(() => {
				const els = document.querySelectorAll('input:not([type=hidden]), textarea, [contenteditable]');
				if (els.length < %d) throw new Error('element index out of range');
				const el = els[%d];
				el.focus();
				el.value = %q;
				el.dispatchEvent(new Event('input', {bubbles: true}));
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			})()`, index, index-1, text), nil))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Typed text into element %d", index), nil

	case "scroll":
		if err := chromedp.Run(actionCtx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil)); err != nil {
			return "", err
		}
		return "Scrolled to bottom", nil

	case "go_back":
		if err := chromedp.Run(actionCtx, chromedp.NavigateBack()); err != nil {
			return "", err
		}
		return "Navigated back", nil

	case "wait":
		seconds, _ := params["seconds"].(float64)
		if seconds <= 0 || seconds > 30 {
			seconds = 3
		}
		select {
		case <-actionCtx.Done():
			return "", actionCtx.Err()
		case <-time.After(time.Duration(seconds) * time.Second):
		}
		return fmt.Sprintf("Waited for %.0f seconds", seconds), nil

	case "extract_content":
		return b.extractContent(actionCtx)

	case "web_search":
		query, _ := params["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("web_search requires a query")
		}
		return b.webSearch(actionCtx, query)

	default:
		return "", fmt.Errorf("unsupported action type %q", name)
	}
}

func paramIndex(params map[string]any) int {
	switch n := params["index"].(type) {
	case float64:
		if n >= 1 {
			return int(n)
		}
	case int:
		if n >= 1 {
			return n
		}
	}
	return 1
}
