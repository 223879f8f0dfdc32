// Package planner is the interactive itinerary planner built on the graph
// engine.
//
// A thread starts from a free-form travel request. The planner extracts the
// destinations, fetches their weather, proposes research subtopics and
// pauses for review. Once the subtopics are accepted it researches every
// subtopic for every destination in parallel, compiles a day-by-day plan
// and pauses again. Textual feedback at either pause regenerates the
// reviewed artifact and pauses once more; an accepting answer moves on.
package planner

import "github.com/dshills/tripgraph/graph"

// State fields.
const (
	FieldUserQuery         = "user_query"
	FieldFullText          = "full_text"
	FieldLocations         = "locations"
	FieldWeather           = "weather"
	FieldSubtopics         = "subtopics"
	FieldSubtopicsFeedback = "subtopics_feedback"
	FieldResearch          = "research"
	FieldTravelPlan        = "travel_plan"
	FieldPlanFeedback      = "plan_feedback"
)

// Research task fields. Subtopic and location only exist inside the
// research sub-graph.
const (
	FieldSubtopic      = "subtopic"
	FieldLocation      = "location"
	FieldSearchResults = "search_results"
)

// Node ids.
const (
	NodeExtractLocations = "extract_locations"
	NodeFetchWeather     = "fetch_weather"
	NodeGenerateTopics   = "generate_subtopics"
	NodeReviewTopics     = "review_subtopics"
	NodeReviseTopics     = "revise_subtopics"
	NodeResearch         = "research_subtopic"
	NodeCompilePlan      = "compile_plan"
	NodeReviewPlan       = "review_plan"
	NodeRevisePlan       = "revise_plan"

	nodeSearch    = "search"
	nodeSummarize = "summarize"
)

// Schema is the state schema of a planner thread.
//
// Weather maps each location to its list of daily forecasts. Research
// accumulates one entry per researched (location, subtopic) pair, in the
// order the research tasks were spawned.
var Schema = graph.MustSchema(
	graph.Field{Name: FieldUserQuery, Kind: graph.KindString},
	graph.Field{Name: FieldFullText, Kind: graph.KindString},
	graph.Field{Name: FieldLocations, Kind: graph.KindList},
	graph.Field{Name: FieldWeather, Kind: graph.KindMap},
	graph.Field{Name: FieldSubtopics, Kind: graph.KindList},
	graph.Field{Name: FieldSubtopicsFeedback, Kind: graph.KindString},
	graph.Field{Name: FieldResearch, Kind: graph.KindList, Policy: graph.Accumulate},
	graph.Field{Name: FieldTravelPlan, Kind: graph.KindString},
	graph.Field{Name: FieldPlanFeedback, Kind: graph.KindString},
)

// researchSchema is the schema of the research sub-graph. Its research
// field carries the entry back to the parent.
var researchSchema = graph.MustSchema(
	graph.Field{Name: FieldSubtopic, Kind: graph.KindString},
	graph.Field{Name: FieldLocation, Kind: graph.KindString},
	graph.Field{Name: FieldSearchResults, Kind: graph.KindString},
	graph.Field{Name: FieldResearch, Kind: graph.KindList, Policy: graph.Accumulate},
)

// NewInput returns the initial state for a travel request.
func NewInput(query string) graph.State {
	return graph.State{FieldUserQuery: query}
}
