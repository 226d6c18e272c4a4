// Package reachability derives protocol liveness from recent feedback. An
// agent is reachable on a protocol when the most recent reachability-tagged
// feedback within the last 24 hours scores at least 70. No probes are issued
// here; the tagged feedback is the evidence.
package reachability

import (
	"context"
	"time"

	"github.com/agentgate/agentgate/internal/model"
)

const (
	// Window is the evidence lookback.
	Window = 24 * time.Hour
	// MinScore is the reachable threshold on the most recent tagged event.
	MinScore = 70
)

// Status is one agent's derived reachability.
type Status struct {
	ReachableMCP bool
	ReachableA2A bool
	LastMCPCheck time.Time
	LastA2ACheck time.Time
}

// TagFeedbackLister is the slice of the store the evaluator needs.
type TagFeedbackLister interface {
	ListRecentTagFeedback(ctx context.Context, agentIDs []string, tags []string, since time.Time) (map[string][]model.FeedbackEvent, error)
}

// Evaluator derives reachability statuses from stored feedback.
type Evaluator struct {
	store TagFeedbackLister
}

// NewEvaluator builds an evaluator over the given feedback source.
func NewEvaluator(store TagFeedbackLister) *Evaluator {
	return &Evaluator{store: store}
}

// EvaluateBatch derives statuses for many agents with a single query. Agents
// without tagged feedback in the window get the zero Status (unreachable,
// no last-check times).
func (e *Evaluator) EvaluateBatch(ctx context.Context, agentIDs []string, now time.Time) (map[string]Status, error) {
	out := make(map[string]Status, len(agentIDs))
	if len(agentIDs) == 0 {
		return out, nil
	}

	events, err := e.store.ListRecentTagFeedback(ctx, agentIDs,
		[]string{model.TagReachabilityMCP, model.TagReachabilityA2A}, now.Add(-Window))
	if err != nil {
		return nil, err
	}

	for _, agentID := range agentIDs {
		out[agentID] = derive(events[agentID])
	}
	return out, nil
}

// Evaluate derives one agent's status.
func (e *Evaluator) Evaluate(ctx context.Context, agentID string, now time.Time) (Status, error) {
	batch, err := e.EvaluateBatch(ctx, []string{agentID}, now)
	if err != nil {
		return Status{}, err
	}
	return batch[agentID], nil
}

// derive keeps the most recent event per tag; events arrive newest first.
func derive(events []model.FeedbackEvent) Status {
	var st Status
	seenMCP, seenA2A := false, false

	for _, ev := range events {
		for _, tag := range ev.Tags {
			switch tag {
			case model.TagReachabilityMCP:
				if !seenMCP {
					seenMCP = true
					st.LastMCPCheck = ev.CreatedAt
					st.ReachableMCP = ev.Score >= MinScore
				}
			case model.TagReachabilityA2A:
				if !seenA2A {
					seenA2A = true
					st.LastA2ACheck = ev.CreatedAt
					st.ReachableA2A = ev.Score >= MinScore
				}
			}
		}
	}
	return st
}
