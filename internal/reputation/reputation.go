// Package reputation maintains per-agent feedback aggregates and mirrors
// score changes into the vector-store payload so reputation filters work on
// live data.
package reputation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/payload"
	"github.com/agentgate/agentgate/internal/store"
)

// PayloadPatcher is the slice of the vector store this service needs.
type PayloadPatcher interface {
	SetPayloadByAgentID(ctx context.Context, agentID string, patch map[string]any) error
}

// Service coordinates the relational aggregate with the vector payload.
type Service struct {
	store   *store.Store
	vectors PayloadPatcher
	logger  *zap.Logger
}

// NewService builds the reputation service. vectors may be nil when payload
// mirroring is handled elsewhere (the relational sync worker also pushes
// reputation changes).
func NewService(st *store.Store, vectors PayloadPatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, vectors: vectors, logger: logger.Named("reputation")}
}

// Apply folds one feedback event into the aggregate and patches the agent's
// payload. Duplicates are skipped. A payload patch failure does not roll the
// aggregate back; the relational sync worker repairs the payload on its next
// pass.
func (s *Service) Apply(ctx context.Context, ev *model.FeedbackEvent) (bool, error) {
	applied, err := s.store.ApplyFeedback(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("apply feedback: %w", err)
	}
	if !applied {
		return false, nil
	}

	if s.vectors != nil {
		agg, err := s.store.GetReputation(ctx, ev.AgentID)
		if err != nil {
			return true, fmt.Errorf("load aggregate after apply: %w", err)
		}
		patch := payload.ReputationPatch(roundScore(agg.AverageScore), agg.FeedbackCount)
		if err := s.vectors.SetPayloadByAgentID(ctx, ev.AgentID, patch); err != nil {
			s.logger.Warn("reputation payload patch failed",
				zap.String("agent_id", ev.AgentID), zap.Error(err))
		}
	}
	return true, nil
}

// Recompute rebuilds one agent's aggregate from its full history and patches
// the payload.
func (s *Service) Recompute(ctx context.Context, agentID string) (*model.ReputationAggregate, error) {
	agg, err := s.store.RecomputeReputation(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", agentID, err)
	}
	if s.vectors != nil {
		patch := payload.ReputationPatch(roundScore(agg.AverageScore), agg.FeedbackCount)
		if err := s.vectors.SetPayloadByAgentID(ctx, agentID, patch); err != nil {
			s.logger.Warn("reputation payload patch failed",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return agg, nil
}

// RecomputeAll rebuilds every aggregate, returning how many agents were
// touched. Payload mirroring is left to the relational sync worker, which
// picks the recalculated rows up by watermark.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	return s.store.RecomputeAllReputation(ctx)
}

// roundScore converts the two-decimal average to the integer 0-100 score the
// payload carries.
func roundScore(avg float64) int64 {
	return int64(avg + 0.5)
}
