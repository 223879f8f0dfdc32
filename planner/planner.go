package planner

import (
	"log/slog"

	"github.com/dshills/tripgraph/graph"
	"github.com/dshills/tripgraph/graph/model"
)

// Planner holds the dependencies of the planner nodes.
type Planner struct {
	model   model.ChatModel
	weather *WeatherClient
	search  *SearchClient
	logger  *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithWeather sets the forecast source. Without one every location gets an
// empty forecast.
func WithWeather(c *WeatherClient) Option {
	return func(p *Planner) { p.weather = c }
}

// WithSearch sets the web search source. Without one research summaries are
// written from the model's own knowledge.
func WithSearch(c *SearchClient) Option {
	return func(p *Planner) { p.search = c }
}

// WithLogger sets the logger used for degraded lookups.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Planner that writes with m.
func New(m model.ChatModel, opts ...Option) *Planner {
	p := &Planner{model: m, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Graph compiles the planner graph:
//
//	extract_locations -> fetch_weather -> generate_subtopics -> review_subtopics*
//	review_subtopics  -> revise_subtopics -> review_subtopics
//	review_subtopics  => research_subtopic (one task per subtopic and location)
//	research_subtopic -> compile_plan -> review_plan*
//	review_plan       -> revise_plan -> review_plan
//	review_plan       -> end
//
// Nodes marked * pause the thread for feedback.
func (p *Planner) Graph() (*graph.Graph, error) {
	research, err := graph.NewBuilder(researchSchema).
		AddNode(nodeSearch, graph.NodeFunc(p.searchSubtopic)).
		AddNode(nodeSummarize, graph.NodeFunc(p.summarizeSubtopic)).
		AddEdge(graph.Start, nodeSearch).
		AddEdge(nodeSearch, nodeSummarize).
		AddEdge(nodeSummarize, graph.End).
		Compile()
	if err != nil {
		return nil, err
	}

	return graph.NewBuilder(Schema).
		AddNode(NodeExtractLocations, graph.NodeFunc(p.extractLocations)).
		AddNode(NodeFetchWeather, graph.NodeFunc(p.fetchWeather)).
		AddNode(NodeGenerateTopics, graph.NodeFunc(p.generateSubtopics)).
		AddNode(NodeReviewTopics, graph.Passthrough(), graph.InterruptBefore()).
		AddNode(NodeReviseTopics, graph.NodeFunc(p.reviseSubtopics)).
		AddSubgraph(NodeResearch, research).
		AddNode(NodeCompilePlan, graph.NodeFunc(p.compilePlan)).
		AddNode(NodeReviewPlan, graph.Passthrough(), graph.InterruptBefore()).
		AddNode(NodeRevisePlan, graph.NodeFunc(p.revisePlan)).
		AddEdge(graph.Start, NodeExtractLocations).
		AddEdge(NodeExtractLocations, NodeFetchWeather).
		AddEdge(NodeFetchWeather, NodeGenerateTopics).
		AddEdge(NodeGenerateTopics, NodeReviewTopics).
		AddConditionalEdge(NodeReviewTopics, reviewSubtopics, NodeResearch, NodeReviseTopics, NodeCompilePlan).
		AddEdge(NodeReviseTopics, NodeReviewTopics).
		AddEdge(NodeResearch, NodeCompilePlan).
		AddEdge(NodeCompilePlan, NodeReviewPlan).
		AddConditionalEdge(NodeReviewPlan, reviewPlan, graph.End, NodeRevisePlan).
		AddEdge(NodeRevisePlan, NodeReviewPlan).
		Compile()
}
