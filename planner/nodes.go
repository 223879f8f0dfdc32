package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/tripgraph/graph"
	"github.com/dshills/tripgraph/graph/model"
)

// ErrEmptyRequest is returned when a thread starts without a request.
var ErrEmptyRequest = errors.New("travel request is empty")

func (p *Planner) extractLocations(ctx context.Context, st graph.State) graph.NodeResult {
	text := strings.TrimSpace(st.String(FieldFullText))
	if text == "" {
		text = strings.TrimSpace(st.String(FieldUserQuery))
	}
	if text == "" {
		return graph.NodeResult{Err: ErrEmptyRequest}
	}

	locations, err := p.askList(ctx, locationsPrompt(text))
	if err != nil {
		return graph.NodeResult{Err: fmt.Errorf("extract locations: %w", err)}
	}
	return graph.NodeResult{Delta: graph.State{FieldFullText: text, FieldLocations: locations}}
}

func (p *Planner) fetchWeather(ctx context.Context, st graph.State) graph.NodeResult {
	weather := make(map[string]any)
	for _, loc := range st.Strings(FieldLocations) {
		days, err := p.weather.Forecast(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return graph.NodeResult{Err: ctx.Err()}
			}
			p.logger.Warn("weather lookup failed", "location", loc, "error", err)
			weather[loc] = []map[string]any{{"error": err.Error()}}
			continue
		}
		weather[loc] = days
	}
	return graph.NodeResult{Delta: graph.State{FieldWeather: weather}}
}

func (p *Planner) generateSubtopics(ctx context.Context, st graph.State) graph.NodeResult {
	topics, err := p.askList(ctx, subtopicsPrompt(st.Strings(FieldLocations)))
	if err != nil {
		return graph.NodeResult{Err: fmt.Errorf("generate subtopics: %w", err)}
	}
	return graph.NodeResult{Delta: graph.State{FieldSubtopics: topics}}
}

func (p *Planner) reviseSubtopics(ctx context.Context, st graph.State) graph.NodeResult {
	prompt := reviseSubtopicsPrompt(st.Strings(FieldLocations), st.Strings(FieldSubtopics), st.String(FieldSubtopicsFeedback))
	topics, err := p.askList(ctx, prompt)
	if err != nil {
		return graph.NodeResult{Err: fmt.Errorf("revise subtopics: %w", err)}
	}
	return graph.NodeResult{Delta: graph.State{FieldSubtopics: topics, FieldSubtopicsFeedback: nil}}
}

func (p *Planner) searchSubtopic(ctx context.Context, st graph.State) graph.NodeResult {
	query := fmt.Sprintf("%s in %s", st.String(FieldSubtopic), st.String(FieldLocation))
	if !p.search.Enabled() {
		return graph.NodeResult{Delta: graph.State{FieldSearchResults: "No search results available."}}
	}

	results, err := p.search.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return graph.NodeResult{Err: ctx.Err()}
		}
		p.logger.Warn("search failed", "query", query, "error", err)
		return graph.NodeResult{Delta: graph.State{FieldSearchResults: "Search failed: " + err.Error()}}
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return graph.NodeResult{Err: err}
	}
	return graph.NodeResult{Delta: graph.State{FieldSearchResults: string(data)}}
}

func (p *Planner) summarizeSubtopic(ctx context.Context, st graph.State) graph.NodeResult {
	topic, loc := st.String(FieldSubtopic), st.String(FieldLocation)
	summary, err := model.Complete(ctx, p.model, systemPrompt, summaryPrompt(topic, loc, st.String(FieldSearchResults)))
	if err != nil {
		return graph.NodeResult{Err: fmt.Errorf("summarize %s in %s: %w", topic, loc, err)}
	}
	entry := fmt.Sprintf("%s / %s: %s", loc, topic, summary)
	return graph.NodeResult{Delta: graph.State{FieldResearch: []string{entry}}}
}

func (p *Planner) compilePlan(ctx context.Context, st graph.State) graph.NodeResult {
	locations := st.Strings(FieldLocations)

	research := strings.Join(st.Strings(FieldResearch), "\n\n")
	if research == "" {
		research = "No research notes; rely on general travel knowledge."
	}

	plan, err := model.Complete(ctx, p.model, systemPrompt, planPrompt(locations, weatherText(st), research))
	if err != nil {
		return graph.NodeResult{Err: fmt.Errorf("compile plan: %w", err)}
	}
	return graph.NodeResult{Delta: graph.State{FieldTravelPlan: plan}}
}

func (p *Planner) revisePlan(ctx context.Context, st graph.State) graph.NodeResult {
	plan, err := model.Complete(ctx, p.model, systemPrompt, revisePlanPrompt(st.String(FieldTravelPlan), st.String(FieldPlanFeedback)))
	if err != nil {
		return graph.NodeResult{Err: fmt.Errorf("revise plan: %w", err)}
	}
	return graph.NodeResult{Delta: graph.State{FieldTravelPlan: plan, FieldPlanFeedback: nil}}
}

// askList asks the model for a JSON array of strings.
func (p *Planner) askList(ctx context.Context, prompt string) ([]string, error) {
	reply, err := model.Complete(ctx, p.model, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseList(reply)
}

// parseList reads a JSON array of strings from a model reply, tolerating a
// surrounding code fence and a bare JSON string. Entries are trimmed and
// blanks and repeats are dropped.
func parseList(reply string) ([]string, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("reply is not a JSON list: %q", reply)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case string:
		items = []any{v}
	default:
		return nil, fmt.Errorf("reply is not a JSON list: %q", reply)
	}

	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s := strings.TrimSpace(fmt.Sprint(item))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
