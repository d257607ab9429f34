package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ErrMissingQuery is returned for an empty search query.
var ErrMissingQuery = errors.New("missing query")

const (
	DefaultMaxResults    = 5
	DefaultProviderLimit = 10
)

// SearchResult is a single hit from a provider or the ranker.
type SearchResult struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

// SearchService fans a query out to all providers and lets the ranker merge them.
type SearchService struct {
	providers     []SearchProvider
	ranker        ResultRanker
	providerLimit int
}

// NewSearchService creates a SearchService. providerLimit <= 0 uses DefaultProviderLimit.
func NewSearchService(ranker ResultRanker, providerLimit int, providers ...SearchProvider) *SearchService {
	if providerLimit <= 0 {
		providerLimit = DefaultProviderLimit
	}
	return &SearchService{
		providers:     providers,
		ranker:        ranker,
		providerLimit: providerLimit,
	}
}

// SelectBest returns at most maxResults ranked, deduplicated results.
// A failing provider contributes no results; unparsable ranker output yields
// an empty list.
func (s *SearchService) SelectBest(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrMissingQuery
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	results := make([][]SearchResult, len(s.providers))
	var wg sync.WaitGroup
	for i, p := range s.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Search(ctx, query, s.providerLimit)
			if err != nil {
				log.Printf("search: %s failed: %v", p.Name(), err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()

	prompt := s.buildPrompt(query, maxResults, results)
	reply, err := s.ranker.Rank(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: rank results: %v", ErrUpstream, err)
	}

	selected, err := parseRanked(reply)
	if err != nil {
		log.Printf("search: unparsable ranker reply: %v", err)
		return []SearchResult{}, nil
	}
	return normalizeRanked(selected, maxResults), nil
}

func (s *SearchService) buildPrompt(query string, maxResults int, results [][]SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %q.\n", query)
	fmt.Fprintf(&b, "Below are song search results from %d services.\n", len(s.providers))
	for i, p := range s.providers {
		fmt.Fprintf(&b, "\n%s results:\n", p.Name())
		for _, r := range results[i] {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", p.Name(), orDefault(r.Title, "unknown title"), orDefault(r.URL, "unknown url"))
		}
	}
	b.WriteString("\nSelect and order the best songs, considering:\n")
	b.WriteString("- Tracks appearing on several lists are more relevant.\n")
	b.WriteString("- Relevance of each result to the query.\n")
	fmt.Fprintf(&b, "- At most %d songs in the final list.\n", maxResults)
	b.WriteString("\nAnswer with a JSON array of objects with keys: title, url, source (the service name).\n")
	return b.String()
}

// parseRanked extracts a JSON array from a model reply, tolerating markdown fences.
func parseRanked(reply string) ([]SearchResult, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}

	var out []SearchResult
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeRanked(in []SearchResult, maxResults int) []SearchResult {
	out := make([]SearchResult, 0, min(len(in), maxResults))
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		r.URL = strings.TrimSpace(r.URL)
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
		if len(out) == maxResults {
			break
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
