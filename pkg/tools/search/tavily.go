// Package search runs web searches for the search intent. Tavily is the
// only provider.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 5
)

var (
	ErrNotConfigured = errors.New("search: tavily api key is not configured")
	ErrEmptyQuery    = errors.New("search: query is required")
)

type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

type Tavily struct {
	apiKey  string
	baseURL string
	client  *bridge.Client
}

func NewTavily(apiKey, baseURL string, client *bridge.Client) *Tavily {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Tavily{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (t *Tavily) Configured() bool {
	return t != nil && t.apiKey != "" && t.client != nil
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if !t.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	resp, err := t.client.Call(ctx, bridge.Request{
		Method: http.MethodPost,
		URL:    t.baseURL + "/search",
		Op:     "tavily_search",
		Headers: map[string]string{
			"Authorization": "Bearer " + t.apiKey,
		},
		Body: map[string]any{
			"query":        query,
			"search_depth": "basic",
			"max_results":  maxResults,
		},
	})
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Results []struct {
			Title      string `json:"title"`
			URL        string `json:"url"`
			Content    string `json:"content"`
			RawContent string `json:"raw_content"`
		} `json:"results"`
	}
	if err := resp.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		hits = append(hits, Hit{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Content: r.RawContent,
		})
	}
	return hits, nil
}

// Summarize renders the top hits as one spoken sentence.
func Summarize(query string, hits []Hit, n int) string {
	if len(hits) == 0 {
		return fmt.Sprintf("I couldn't find anything for %q.", query)
	}
	if n <= 0 || n > len(hits) {
		n = len(hits)
	}
	parts := make([]string, 0, n)
	for _, h := range hits[:n] {
		s := h.Title
		if h.Snippet != "" {
			s += ": " + truncate(h.Snippet, 160)
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("Here is what I found for %q. %s", query, strings.Join(parts, " | "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
