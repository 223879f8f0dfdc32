package planner

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/dshills/tripgraph/graph"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		state graph.State
	}{
		{name: "render_empty", state: graph.State{}},
		{
			name: "render_full",
			state: graph.State{
				FieldUserQuery: "A week in Lisbon and Porto",
				FieldLocations: []any{"Lisbon", "Porto"},
				FieldWeather: map[string]any{
					"Lisbon": []any{map[string]any{
						"date": "2025-05-01", "summary": "clear sky",
						"temp_max": 21.3, "temp_min": 14.0, "pop_max": 0.35,
					}},
					"Porto": []any{map[string]any{"error": "geocode Porto: location not found"}},
				},
				FieldSubtopics: []any{"Food", "Museums"},
				FieldResearch: []any{
					"Lisbon / Food: Try the pastel de nata.",
					"Porto / Food: Try a francesinha.",
				},
				FieldTravelPlan: "Day 1: Lisbon.\nDay 2: Porto.\n",
			},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(Render(tt.state)))
		})
	}
}

func TestWeatherText_NoLocations(t *testing.T) {
	if got := weatherText(graph.State{}); got != "No forecast available.\n" {
		t.Errorf("weatherText() = %q", got)
	}
}
