package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// searchClient lazily wraps the DuckDuckGo tool so runs that never
// search pay nothing for it.
type searchClient struct {
	once sync.Once
	tool *duckduckgo.Tool
	err  error
}

func (b *Browser) webSearch(ctx context.Context, query string) (string, error) {
	b.mu.Lock()
	if b.search == nil {
		b.search = &searchClient{}
	}
	client := b.search
	b.mu.Unlock()

	client.once.Do(func() {
		client.tool, client.err = duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	})
	if client.err != nil {
		return "", fmt.Errorf("search unavailable: %w", client.err)
	}

	result, err := client.tool.Call(ctx, query)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	return result, nil
}
