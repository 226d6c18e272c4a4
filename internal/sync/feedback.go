package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/reputation"
	"github.com/agentgate/agentgate/internal/store"
)

// FeedbackSyncer pulls new feedback events from the upstream indexer and
// folds them into the reputation aggregates.
type FeedbackSyncer struct {
	graph  GraphSource
	store  *store.Store
	rep    *reputation.Service
	logger *zap.Logger
}

// NewFeedbackSyncer wires the feedback sync worker.
func NewFeedbackSyncer(graph GraphSource, st *store.Store, rep *reputation.Service, logger *zap.Logger) *FeedbackSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackSyncer{graph: graph, store: st, rep: rep, logger: logger.Named("feedbacksync")}
}

// FeedbackReport summarizes one run.
type FeedbackReport struct {
	Fetched int
	Applied int
	Skipped int
	Errors  []string
}

// Run pulls events newer than the stored cursor and applies each one.
// Duplicates count as skipped. The cursor advances to the newest event's
// creation time only when events were fetched.
func (f *FeedbackSyncer) Run(ctx context.Context) (*FeedbackReport, error) {
	report := &FeedbackReport{}
	started := time.Now().UTC()

	state, err := f.store.GetSyncState(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("feedback", "failed").Inc()
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	events, err := f.graph.FetchFeedbackSince(ctx, state.LastFeedbackCreatedAt)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("feedback", "failed").Inc()
		return nil, fmt.Errorf("fetch feedback: %w", err)
	}
	report.Fetched = len(events)

	var newest time.Time
	for i := range events {
		ev := &events[i]
		applied, err := f.rep.Apply(ctx, ev)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ev.ExternalID, err))
			continue
		}
		if applied {
			report.Applied++
			metrics.FeedbackSynced.Inc()
		} else {
			report.Skipped++
		}
		if ev.CreatedAt.After(newest) {
			newest = ev.CreatedAt
		}
	}

	err = f.store.MutateSyncState(ctx, func(st *model.SyncState) {
		st.LastGraphFeedbackSync = started
		st.FeedbackSynced += int64(report.Applied)
		if len(events) > 0 && newest.After(st.LastFeedbackCreatedAt) {
			st.LastFeedbackCreatedAt = newest
		}
	})
	if err != nil {
		return report, fmt.Errorf("update sync state: %w", err)
	}

	metrics.SyncRuns.WithLabelValues("feedback", "ok").Inc()
	f.logger.Info("feedback sync finished",
		zap.Int("fetched", report.Fetched),
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}
