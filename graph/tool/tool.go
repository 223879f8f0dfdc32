// Package tool provides the Tool abstraction used by planner nodes to reach
// external services, an HTTP implementation and a scriptable mock.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is an external capability a node can invoke.
//
// Inputs and outputs are JSON-shaped maps so that tools can be swapped for
// mocks in tests. Implementations must be safe for concurrent use and must
// honor ctx cancellation.
type Tool interface {
	// Name returns the tool identifier.
	Name() string

	// Call executes the tool.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, body)
}

// GetJSON issues a GET through t, which must speak the HTTPTool input and
// output format, and decodes the JSON body into out.
func GetJSON(ctx context.Context, t Tool, url string, query map[string]interface{}, out any) error {
	input := map[string]interface{}{"method": "GET", "url": url}
	if len(query) > 0 {
		input["query"] = query
	}

	result, err := t.Call(ctx, input)
	if err != nil {
		return err
	}

	status, _ := result["status_code"].(int)
	body, _ := result["body"].(string)
	if status < 200 || status > 299 {
		return &StatusError{URL: url, StatusCode: status, Body: body}
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
