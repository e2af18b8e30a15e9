package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/research"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var _ research.URLAnalyzer = (*URLAnalyzer)(nil)

const maxAnalyzedURLs = 3

const urlSystemPrompt = `You are a research assistant in a business consultation. Answer the user's message using only the web pages provided.
Be concise: a short paragraph, then up to three bullet points of the most relevant facts.`

// URLAnalyzer answers a message against the pages it links to.
type URLAnalyzer struct {
	model     model.BaseChatModel
	fetcher   *Fetcher
	maxTokens int
}

// NewURLAnalyzer creates a URL analyzer over cm.
func NewURLAnalyzer(cm model.BaseChatModel, fetcher *Fetcher) *URLAnalyzer {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	return &URLAnalyzer{model: cm, fetcher: fetcher, maxTokens: 1024}
}

// AnalyzeURLs fetches up to three urls in parallel. Pages that fail to
// load are skipped; the call fails only when none loads.
func (a *URLAnalyzer) AnalyzeURLs(ctx context.Context, urls []string, query string) (*types.ResearchResult, error) {
	if len(urls) > maxAnalyzedURLs {
		urls = urls[:maxAnalyzedURLs]
	}

	pages := make([]*Page, len(urls))
	var mu sync.Mutex
	var errs []string
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			p, err := a.fetcher.Fetch(gctx, u)
			if err != nil {
				logging.Debug().Err(err).Str("url", u).Msg("page fetch failed")
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", u, err))
				mu.Unlock()
				return nil
			}
			pages[i] = p
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	var citations []types.Citation
	for _, p := range pages {
		if p == nil {
			continue
		}
		fmt.Fprintf(&b, "## %s\nSource: %s\n\n%s\n\n", p.Title, p.URL, p.Content)
		citations = append(citations, types.Citation{URI: p.URL, Title: p.Title})
	}
	if len(citations) == 0 {
		return nil, fmt.Errorf("no page could be loaded: %s", strings.Join(errs, "; "))
	}

	msgs := []*schema.Message{
		schema.SystemMessage(urlSystemPrompt),
		schema.UserMessage(fmt.Sprintf("Pages:\n\n%s\nMessage: %s", b.String(), query)),
	}
	text, err := generateText(ctx, a.model, msgs, a.maxTokens)
	if err != nil {
		return nil, err
	}
	return &types.ResearchResult{Text: text, Citations: citations}, nil
}
