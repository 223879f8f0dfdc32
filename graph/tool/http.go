package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// HTTPTool is a tool for making HTTP requests.
//
// Input parameters:
//   - url: target URL (required)
//   - method: "GET" or "POST", defaults to "GET"
//   - query: optional map of query parameters, added to those already in url
//   - headers: optional map of HTTP headers
//   - body: optional request body
//
// Output:
//   - status_code: HTTP status code
//   - headers: response headers
//   - body: response body as a string
//
// Non-2xx responses are not errors: callers inspect status_code. GetJSON
// turns them into *StatusError values.
//
// Example usage:
//
//	t := tool.NewHTTPTool(tool.WithUserAgent("tripgraph"))
//	result, err := t.Call(ctx, map[string]interface{}{
//	    "url":   "https://nominatim.openstreetmap.org/search",
//	    "query": map[string]interface{}{"q": "Lisbon", "format": "json"},
//	})
type HTTPTool struct {
	client    *http.Client
	userAgent string
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPTool) {
		if c != nil {
			h.client = c
		}
	}
}

// WithTimeout bounds every request. Context deadlines still apply.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPTool) {
		h.client.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent when the input does not
// provide one.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTPTool) {
		h.userAgent = ua
	}
}

// NewHTTPTool creates a new HTTP tool. Without options requests are bounded
// only by their context.
func NewHTTPTool(opts ...HTTPOption) *HTTPTool {
	h := &HTTPTool{client: &http.Client{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the tool identifier.
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Call executes the HTTP request described by input.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	target, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if params, ok := input["query"].(map[string]interface{}); ok {
		q := target.Query()
		for key, value := range params {
			q.Set(key, fmt.Sprint(value))
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]interface{})
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
