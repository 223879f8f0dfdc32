package planner

import (
	"context"
	"fmt"

	"github.com/dshills/tripgraph/graph/tool"
)

// DefaultSearchURL is the Tavily search endpoint.
const DefaultSearchURL = "https://api.tavily.com/search"

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// SearchClient queries a Tavily-compatible web search API.
type SearchClient struct {
	http       tool.Tool
	apiKey     string
	url        string
	maxResults int
}

// NewSearchClient creates a search client. An empty apiKey disables
// searching; an empty url uses DefaultSearchURL.
func NewSearchClient(h tool.Tool, apiKey, url string) *SearchClient {
	if url == "" {
		url = DefaultSearchURL
	}
	return &SearchClient{http: h, apiKey: apiKey, url: url, maxResults: 5}
}

// Enabled reports whether the client has an API key.
func (c *SearchClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Search runs a basic-depth search. A disabled client returns no results.
func (c *SearchClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if !c.Enabled() {
		return nil, nil
	}

	var resp struct {
		Results []SearchResult `json:"results"`
	}
	err := tool.GetJSON(ctx, c.http, c.url, map[string]interface{}{
		"api_key":      c.apiKey,
		"query":        query,
		"search_depth": "basic",
		"max_results":  fmt.Sprint(c.maxResults),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return resp.Results, nil
}
