package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/tripgraph/graph"
)

// forecastEntry is one element of a location's weather list: a day, or the
// reason the forecast is missing.
type forecastEntry struct {
	DailyForecast
	Error string `json:"error,omitempty"`
}

// forecasts decodes the weather of loc from st.
func forecasts(st graph.State, loc string) []forecastEntry {
	raw, ok := st.Map(FieldWeather)[loc]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []forecastEntry
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// weatherText formats the forecast of every location, in location order.
func weatherText(st graph.State) string {
	var b strings.Builder
	for _, loc := range st.Strings(FieldLocations) {
		fmt.Fprintf(&b, "%s:\n", loc)
		days := forecasts(st, loc)
		if len(days) == 0 {
			b.WriteString("  no forecast available\n")
		}
		for _, d := range days {
			if d.Error != "" {
				fmt.Fprintf(&b, "  unavailable (%s)\n", d.Error)
				continue
			}
			fmt.Fprintf(&b, "  %s: %s, %.1f to %.1f C, rain %.0f%%\n", d.Date, d.Summary, d.TempMin, d.TempMax, d.PopMax*100)
		}
	}
	if b.Len() == 0 {
		return "No forecast available.\n"
	}
	return b.String()
}

// Render formats a thread's state as a printable itinerary. Sections whose
// fields are not set yet are left out.
func Render(st graph.State) string {
	var b strings.Builder

	locations := st.Strings(FieldLocations)
	title := "Trip plan"
	if len(locations) > 0 {
		title += ": " + strings.Join(locations, ", ")
	}
	fmt.Fprintf(&b, "%s\n%s\n", title, strings.Repeat("=", len(title)))

	if q := st.String(FieldUserQuery); q != "" {
		fmt.Fprintf(&b, "\nRequest: %s\n", q)
	}

	if st.Has(FieldWeather) {
		b.WriteString("\nWeather\n-------\n")
		b.WriteString(weatherText(st))
	}

	if topics := st.Strings(FieldSubtopics); len(topics) > 0 {
		b.WriteString("\nSubtopics\n---------\n")
		for i, t := range topics {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t)
		}
	}

	if notes := st.Strings(FieldResearch); len(notes) > 0 {
		b.WriteString("\nResearch\n--------\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}

	if plan := st.String(FieldTravelPlan); plan != "" {
		b.WriteString("\nItinerary\n---------\n")
		b.WriteString(strings.TrimRight(plan, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

// RenderReview formats the artifact a thread paused at node asks the user
// to review.
func RenderReview(st graph.State, node string) string {
	var b strings.Builder
	switch node {
	case NodeReviewTopics:
		b.WriteString("Proposed subtopics:\n")
		for i, t := range st.Strings(FieldSubtopics) {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t)
		}
	case NodeReviewPlan:
		b.WriteString("Proposed travel plan:\n\n")
		b.WriteString(strings.TrimRight(st.String(FieldTravelPlan), "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
