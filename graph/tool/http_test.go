package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// echoServer replies with a JSON description of the request it received.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Trace", "abc")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"query":  r.URL.RawQuery,
			"agent":  r.UserAgent(),
			"key":    r.Header.Get("X-Api-Key"),
			"body":   string(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTool_Name(t *testing.T) {
	if got := NewHTTPTool().Name(); got != "http_request" {
		t.Errorf("Name() = %q, want http_request", got)
	}
}

func TestHTTPTool_Call(t *testing.T) {
	srv := echoServer(t)

	tests := []struct {
		name  string
		opts  []HTTPOption
		input map[string]interface{}
		want  map[string]string
	}{
		{
			name:  "default method is GET",
			input: map[string]interface{}{"url": srv.URL},
			want:  map[string]string{"method": "GET"},
		},
		{
			name: "query map is merged into the url",
			input: map[string]interface{}{
				"url":   srv.URL + "?format=json",
				"query": map[string]interface{}{"q": "Lisbon", "limit": 1},
			},
			want: map[string]string{"query": "format=json&limit=1&q=Lisbon"},
		},
		{
			name:  "user agent option",
			opts:  []HTTPOption{WithUserAgent("tripgraph-test")},
			input: map[string]interface{}{"url": srv.URL},
			want:  map[string]string{"agent": "tripgraph-test"},
		},
		{
			name: "input headers",
			input: map[string]interface{}{
				"url":     srv.URL,
				"headers": map[string]interface{}{"X-Api-Key": "secret", "X-Ignored": 42},
			},
			want: map[string]string{"key": "secret"},
		},
		{
			name: "lowercase POST with body",
			input: map[string]interface{}{
				"url":    srv.URL,
				"method": "post",
				"body":   `{"query":"museums in Porto"}`,
			},
			want: map[string]string{"method": "POST", "body": `{"query":"museums in Porto"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewHTTPTool(tt.opts...).Call(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			if code, _ := result["status_code"].(int); code != http.StatusOK {
				t.Fatalf("status_code = %v, want 200", result["status_code"])
			}
			if headers, _ := result["headers"].(map[string]interface{}); headers["X-Trace"] != "abc" {
				t.Errorf("headers = %v, want X-Trace=abc", headers)
			}

			var echo map[string]string
			if err := json.Unmarshal([]byte(result["body"].(string)), &echo); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			for k, want := range tt.want {
				if echo[k] != want {
					t.Errorf("%s = %q, want %q", k, echo[k], want)
				}
			}
		})
	}
}

func TestHTTPTool_CallErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]interface{}
		wantErr string
	}{
		{"missing url", map[string]interface{}{}, "url parameter required"},
		{"url of wrong type", map[string]interface{}{"url": 12}, "url parameter required"},
		{"unsupported method", map[string]interface{}{"url": "http://example.com", "method": "DELETE"}, "unsupported HTTP method"},
		{"unreachable host", map[string]interface{}{"url": "http://127.0.0.1:1"}, "failed to execute request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPTool().Call(context.Background(), tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Call() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPTool_ServerErrorIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	result, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["status_code"] != http.StatusBadGateway {
		t.Errorf("status_code = %v, want 502", result["status_code"])
	}
	if !strings.Contains(result["body"].(string), "upstream down") {
		t.Errorf("body = %q", result["body"])
	}
}

func TestHTTPTool_Timeouts(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	t.Run("client timeout", func(t *testing.T) {
		h := NewHTTPTool(WithTimeout(20 * time.Millisecond))
		if _, err := h.Call(context.Background(), map[string]interface{}{"url": slow.URL}); err == nil {
			t.Fatal("expected a timeout error")
		}
	})

	t.Run("context deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := NewHTTPTool().Call(ctx, map[string]interface{}{"url": slow.URL}); err == nil {
			t.Fatal("expected a deadline error")
		}
	})
}
