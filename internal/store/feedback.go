package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/internal/model"
)

// ApplyFeedback inserts a feedback event and folds it into the agent's
// reputation aggregate in one transaction. Duplicate external IDs are
// silently skipped (applied=false); the event is then already counted.
func (s *Store) ApplyFeedback(ctx context.Context, ev *model.FeedbackEvent) (applied bool, err error) {
	if ev.ExternalID == "" {
		return false, fmt.Errorf("feedback external id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM feedback WHERE external_id = ?`), ev.ExternalID).Scan(&n); err != nil {
		return false, fmt.Errorf("check feedback dedupe: %w", err)
	}
	if n > 0 {
		return false, tx.Commit()
	}

	tag1, tag2 := "", ""
	if len(ev.Tags) > 0 {
		tag1 = ev.Tags[0]
	}
	if len(ev.Tags) > 1 {
		tag2 = ev.Tags[1]
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO feedback
			(id, external_id, agent_id, chain_id, score, tag1, tag2, context, uri, submitter, tx_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), ev.ExternalID, ev.AgentID, ev.ChainID, ev.Score,
		tag1, tag2, ev.Context, ev.URI, ev.Submitter, ev.TxHash, formatTime(ev.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert feedback: %w", err)
	}

	if err := s.applyIncrementalReputation(ctx, tx, ev.AgentID, ev.Score); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// ListRecentTagFeedback returns, per agent, the feedback events carrying the
// given tags since the cutoff, newest first. The reachability evaluator keeps
// the most recent event per tag.
func (s *Store) ListRecentTagFeedback(ctx context.Context, agentIDs []string, tags []string, since time.Time) (map[string][]model.FeedbackEvent, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make(map[string][]model.FeedbackEvent)
	cutoff := formatTime(since)

	tagIn := placeholders(len(tags))
	for _, chunk := range chunkStrings(agentIDs, bindChunkSize) {
		args := make([]any, 0, len(chunk)+2*len(tags)+1)
		args = append(args, toAnySlice(chunk)...)
		args = append(args, cutoff)
		for _, t := range tags {
			args = append(args, t)
		}
		for _, t := range tags {
			args = append(args, t)
		}

		rows, err := s.query(ctx, `SELECT external_id, agent_id, chain_id, score, tag1, tag2, context, uri, submitter, tx_hash, created_at
			FROM feedback
			WHERE agent_id IN (`+placeholders(len(chunk))+`)
			  AND created_at >= ?
			  AND (tag1 IN (`+tagIn+`) OR tag2 IN (`+tagIn+`))
			ORDER BY created_at DESC`, args...)
		if err != nil {
			return nil, fmt.Errorf("list tag feedback: %w", err)
		}
		for rows.Next() {
			ev, err := scanFeedback(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[ev.AgentID] = append(out[ev.AgentID], *ev)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// ListFeedbackByAgent returns the newest feedback events for one agent.
func (s *Store) ListFeedbackByAgent(ctx context.Context, agentID string, limit int) ([]model.FeedbackEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT external_id, agent_id, chain_id, score, tag1, tag2, context, uri, submitter, tx_hash, created_at
		FROM feedback WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	out := make([]model.FeedbackEvent, 0, limit)
	for rows.Next() {
		ev, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanFeedback(sc scanner) (*model.FeedbackEvent, error) {
	var (
		ev         model.FeedbackEvent
		tag1, tag2 string
		createdAt  string
	)
	if err := sc.Scan(&ev.ExternalID, &ev.AgentID, &ev.ChainID, &ev.Score,
		&tag1, &tag2, &ev.Context, &ev.URI, &ev.Submitter, &ev.TxHash, &createdAt); err != nil {
		return nil, err
	}
	if tag1 != "" {
		ev.Tags = append(ev.Tags, tag1)
	}
	if tag2 != "" {
		ev.Tags = append(ev.Tags, tag2)
	}
	ev.CreatedAt = parseTime(createdAt)
	return &ev, nil
}

// round2 rounds to two decimal places, the precision stored for averages.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
