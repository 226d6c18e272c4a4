package store

import (
	"context"
	"fmt"

	"github.com/agentgate/agentgate/internal/model"
)

// GetSyncState loads the singleton bookkeeping row.
func (s *Store) GetSyncState(ctx context.Context) (*model.SyncState, error) {
	var (
		st                                                      model.SyncState
		graphSync, d1Sync, reconcile, feedbackSync, feedbackCur string
	)
	err := s.queryRow(ctx, `SELECT last_graph_sync, last_d1_sync, last_reconciliation,
			last_graph_feedback_sync, last_feedback_created_at,
			agents_synced, embeddings_generated, feedback_synced, agents_deleted, last_error
		FROM sync_state WHERE id = ?`, 1).Scan(
		&graphSync, &d1Sync, &reconcile, &feedbackSync, &feedbackCur,
		&st.AgentsSynced, &st.EmbeddingsGenerated, &st.FeedbackSynced, &st.AgentsDeleted, &st.LastError)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	st.LastGraphSync = parseTime(graphSync)
	st.LastD1Sync = parseTime(d1Sync)
	st.LastReconciliation = parseTime(reconcile)
	st.LastGraphFeedbackSync = parseTime(feedbackSync)
	st.LastFeedbackCreatedAt = parseTime(feedbackCur)
	return &st, nil
}

// MutateSyncState applies fn to the current state and writes the result back
// in one transaction. Workers use it to advance watermarks and counters.
func (s *Store) MutateSyncState(ctx context.Context, fn func(*model.SyncState)) error {
	st, err := s.GetSyncState(ctx)
	if err != nil {
		return err
	}
	fn(st)

	_, err = s.exec(ctx, `UPDATE sync_state SET
			last_graph_sync = ?, last_d1_sync = ?, last_reconciliation = ?,
			last_graph_feedback_sync = ?, last_feedback_created_at = ?,
			agents_synced = ?, embeddings_generated = ?, feedback_synced = ?, agents_deleted = ?,
			last_error = ?
		WHERE id = ?`,
		formatTime(st.LastGraphSync), formatTime(st.LastD1Sync), formatTime(st.LastReconciliation),
		formatTime(st.LastGraphFeedbackSync), formatTime(st.LastFeedbackCreatedAt),
		st.AgentsSynced, st.EmbeddingsGenerated, st.FeedbackSynced, st.AgentsDeleted,
		st.LastError, 1)
	if err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}
