package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/port/cache"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher queries a SearXNG-compatible endpoint, or returns canned
// results when no endpoint is configured. Results are cached by query.
type WebSearcher struct {
	client *http.Client
	cfg    config.Tools
	cache  cache.Cache
}

// NewWebSearcher creates a searcher. c may be nil to disable caching.
func NewWebSearcher(client *http.Client, cfg config.Tools, c cache.Cache) *WebSearcher {
	return &WebSearcher{client: client, cfg: cfg, cache: c}
}

// Mocked reports whether no real search endpoint is configured.
func (s *WebSearcher) Mocked() bool { return s.cfg.SearchURL == "" }

// Search returns at most n results for query.
func (s *WebSearcher) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	if n <= 0 {
		n = s.cfg.SearchMaxResult
	}
	key := "search:" + strconv.Itoa(n) + ":" + strings.ToLower(strings.TrimSpace(query))

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached []SearchResult
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}

	var (
		results []SearchResult
		err     error
	)
	if s.Mocked() {
		results = mockResults(query, n)
	} else {
		results, err = s.fetch(ctx, query, n)
		if err != nil {
			return nil, err
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(results); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cfg.SearchCacheTTL); err != nil {
				slog.WarnContext(ctx, "search cache set failed", "error", err)
			}
		}
	}
	return results, nil
}

func (s *WebSearcher) fetch(ctx context.Context, query string, n int) ([]SearchResult, error) {
	u := strings.TrimRight(s.cfg.SearchURL, "/") + "/search?" + url.Values{
		"q":      {query},
		"format": {"json"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.SearchAPIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.SearchAPIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody()))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search api error: %d %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	out := make([]SearchResult, 0, min(n, len(parsed.Results)))
	for _, r := range parsed.Results {
		if len(out) == n {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}

func (s *WebSearcher) maxBody() int64 {
	if s.cfg.MaxBodyBytes > 0 {
		return s.cfg.MaxBodyBytes
	}
	return 1 << 20
}

func mockResults(query string, n int) []SearchResult {
	out := make([]SearchResult, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, SearchResult{
			Title:   fmt.Sprintf("Result %d for %q", i, query),
			URL:     fmt.Sprintf("https://example.com/search/%d?q=%s", i, url.QueryEscape(query)),
			Snippet: "Mock search result; configure tools.search_url for real results.",
		})
	}
	return out
}

func formatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No results."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}
