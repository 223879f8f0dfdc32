package planner

import (
	"context"
	"slices"
	"strings"

	"github.com/dshills/tripgraph/graph"
)

// SubtopicApprovals are the answers that accept the proposed subtopics.
var SubtopicApprovals = []string{"satisfied", "ok", "good", "yes", "no changes", "proceed", "continue", "next"}

// PlanApprovals are the answers that accept the travel plan.
var PlanApprovals = append(slices.Clone(SubtopicApprovals), "end", "finish")

// Approves reports whether feedback accepts the reviewed artifact. Matching
// ignores case and surrounding space. Empty feedback approves.
func Approves(feedback string, approvals []string) bool {
	fb := strings.ToLower(strings.TrimSpace(feedback))
	return fb == "" || slices.Contains(approvals, fb)
}

// reviewSubtopics routes after the subtopic review: revise on textual
// feedback, otherwise research every subtopic for every location.
func reviewSubtopics(_ context.Context, st graph.State) (graph.Next, error) {
	if !Approves(st.String(FieldSubtopicsFeedback), SubtopicApprovals) {
		return graph.Goto(NodeReviseTopics), nil
	}

	sends := researchSends(st.Strings(FieldSubtopics), st.Strings(FieldLocations))
	if len(sends) == 0 {
		return graph.Goto(NodeCompilePlan), nil
	}
	return graph.FanOut(sends...), nil
}

// researchSends addresses one research task per (subtopic, location) pair,
// subtopic-major.
func researchSends(subtopics, locations []string) []graph.Send {
	var sends []graph.Send
	for _, topic := range subtopics {
		for _, loc := range locations {
			sends = append(sends, graph.Send{
				Target: NodeResearch,
				State:  graph.State{FieldSubtopic: topic, FieldLocation: loc},
			})
		}
	}
	return sends
}

// reviewPlan routes after the plan review: finish on approval, revise on
// textual feedback.
func reviewPlan(_ context.Context, st graph.State) (graph.Next, error) {
	if Approves(st.String(FieldPlanFeedback), PlanApprovals) {
		return graph.Stop(), nil
	}
	return graph.Goto(NodeRevisePlan), nil
}

// FeedbackField returns the state field that carries the answer to the
// review paused at node.
func FeedbackField(node string) (string, bool) {
	switch node {
	case NodeReviewTopics:
		return FieldSubtopicsFeedback, true
	case NodeReviewPlan:
		return FieldPlanFeedback, true
	default:
		return "", false
	}
}
