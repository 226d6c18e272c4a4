package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/payload"
	"github.com/agentgate/agentgate/internal/store"
)

// RelationalSyncer pushes relational changes (classifications, reputation,
// trust) into the vector payloads by watermark.
type RelationalSyncer struct {
	store   *store.Store
	vectors VectorWriter
	logger  *zap.Logger
}

// NewRelationalSyncer wires the relational sync worker.
func NewRelationalSyncer(st *store.Store, vectors VectorWriter, logger *zap.Logger) *RelationalSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationalSyncer{store: st, vectors: vectors, logger: logger.Named("relationalsync")}
}

// RelationalReport summarizes one run.
type RelationalReport struct {
	Classifications int
	Reputations     int
	TrustScores     int
	Errors          []string
}

// Run patches every row updated since the watermark into the vector store.
// The watermark advances to the newest processed timestamp, and only when at
// least one row was processed.
func (r *RelationalSyncer) Run(ctx context.Context) (*RelationalReport, error) {
	report := &RelationalReport{}

	state, err := r.store.GetSyncState(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("relational", "failed").Inc()
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	watermark := state.LastD1Sync
	var maxProcessed time.Time

	// Classifications: patch the taxonomy fields and flag the agent for
	// re-embedding, since skills feed the embed text.
	classifications, err := r.store.ListClassificationsSince(ctx, watermark)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("relational", "failed").Inc()
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	for _, c := range classifications {
		if err := r.vectors.SetPayloadByAgentID(ctx, c.AgentID, payload.ClassificationPatch(&c)); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("classification %s: %v", c.AgentID, err))
			continue
		}
		if err := r.store.SetNeedsReembed(ctx, c.AgentID, true); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("flag reembed %s: %v", c.AgentID, err))
			continue
		}
		report.Classifications++
		if c.UpdatedAt.After(maxProcessed) {
			maxProcessed = c.UpdatedAt
		}
	}

	// Reputation aggregates.
	reputations, err := r.store.ListReputationSince(ctx, watermark)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("relational", "failed").Inc()
		return nil, fmt.Errorf("list reputation: %w", err)
	}
	for _, agg := range reputations {
		patch := payload.ReputationPatch(normalizeReputation(agg.AverageScore), agg.FeedbackCount)
		if err := r.vectors.SetPayloadByAgentID(ctx, agg.AgentID, patch); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("reputation %s: %v", agg.AgentID, err))
			continue
		}
		report.Reputations++
		if agg.LastCalculatedAt.After(maxProcessed) {
			maxProcessed = agg.LastCalculatedAt
		}
	}

	// Trust scores.
	trustScores, trustUpdates, err := r.store.ListTrustScoresSince(ctx, watermark)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("relational", "failed").Inc()
		return nil, fmt.Errorf("list trust scores: %w", err)
	}
	for i, t := range trustScores {
		if err := r.vectors.SetPayloadByAgentID(ctx, t.AgentID, payload.TrustPatch(t.Score)); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("trust %s: %v", t.AgentID, err))
			continue
		}
		report.TrustScores++
		if trustUpdates[i].After(maxProcessed) {
			maxProcessed = trustUpdates[i]
		}
	}

	processed := report.Classifications + report.Reputations + report.TrustScores
	if processed > 0 && maxProcessed.After(watermark) {
		err = r.store.MutateSyncState(ctx, func(st *model.SyncState) {
			st.LastD1Sync = maxProcessed
		})
		if err != nil {
			return report, fmt.Errorf("advance watermark: %w", err)
		}
	}

	metrics.SyncRuns.WithLabelValues("relational", "ok").Inc()
	r.logger.Info("relational sync finished",
		zap.Int("classifications", report.Classifications),
		zap.Int("reputations", report.Reputations),
		zap.Int("trust_scores", report.TrustScores),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}
