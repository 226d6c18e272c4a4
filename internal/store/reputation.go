package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/internal/model"
)

// GetReputation returns the aggregate for one agent. sql.ErrNoRows when the
// agent has no feedback yet.
func (s *Store) GetReputation(ctx context.Context, agentID string) (*model.ReputationAggregate, error) {
	row := s.queryRow(ctx, `SELECT agent_id, feedback_count, average_score, low_count, medium_count, high_count, last_calculated_at
		FROM agent_reputation WHERE agent_id = ?`, agentID)
	return scanReputation(row)
}

// applyIncrementalReputation folds one new score into the aggregate without
// rescanning history: new average = (old*count + score) / (count+1), rounded
// to two decimals, and the matching distribution bucket is bumped.
func (s *Store) applyIncrementalReputation(ctx context.Context, tx *sql.Tx, agentID string, score int) error {
	var (
		count             int64
		avg               float64
		low, medium, high int64
	)
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT feedback_count, average_score, low_count, medium_count, high_count
		FROM agent_reputation WHERE agent_id = ?`), agentID).Scan(&count, &avg, &low, &medium, &high)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("load reputation: %w", err)
	}
	fresh := IsNotFound(err)

	newCount := count + 1
	newAvg := round2((avg*float64(count) + float64(score)) / float64(newCount))
	switch model.Bucket(score) {
	case "low":
		low++
	case "medium":
		medium++
	default:
		high++
	}
	now := formatTime(time.Now().UTC())

	if fresh {
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO agent_reputation
				(agent_id, feedback_count, average_score, low_count, medium_count, high_count, last_calculated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			agentID, newCount, newAvg, low, medium, high, now)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE agent_reputation
			SET feedback_count = ?, average_score = ?, low_count = ?, medium_count = ?, high_count = ?, last_calculated_at = ?
			WHERE agent_id = ?`),
			newCount, newAvg, low, medium, high, now, agentID)
	}
	if err != nil {
		return fmt.Errorf("write reputation: %w", err)
	}
	return nil
}

// RecomputeReputation rebuilds one agent's aggregate from its full feedback
// history. Used when incremental state is suspect.
func (s *Store) RecomputeReputation(ctx context.Context, agentID string) (*model.ReputationAggregate, error) {
	rows, err := s.query(ctx, `SELECT score FROM feedback WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("scan feedback scores: %w", err)
	}
	defer rows.Close()

	agg := model.ReputationAggregate{AgentID: agentID}
	var sum int64
	for rows.Next() {
		var score int
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		agg.FeedbackCount++
		sum += int64(score)
		switch model.Bucket(score) {
		case "low":
			agg.Low++
		case "medium":
			agg.Medium++
		default:
			agg.High++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if agg.FeedbackCount > 0 {
		agg.AverageScore = round2(float64(sum) / float64(agg.FeedbackCount))
	}
	agg.LastCalculatedAt = time.Now().UTC()

	if err := s.writeReputation(ctx, &agg); err != nil {
		return nil, err
	}
	return &agg, nil
}

// RecomputeAllReputation rebuilds every aggregate and returns how many agents
// were touched.
func (s *Store) RecomputeAllReputation(ctx context.Context) (int, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT agent_id FROM feedback`)
	if err != nil {
		return 0, fmt.Errorf("list feedback agents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, id := range ids {
		if _, err := s.RecomputeReputation(ctx, id); err != nil {
			return 0, fmt.Errorf("recompute %s: %w", id, err)
		}
	}
	return len(ids), nil
}

func (s *Store) writeReputation(ctx context.Context, agg *model.ReputationAggregate) error {
	res, err := s.exec(ctx, `UPDATE agent_reputation
		SET feedback_count = ?, average_score = ?, low_count = ?, medium_count = ?, high_count = ?, last_calculated_at = ?
		WHERE agent_id = ?`,
		agg.FeedbackCount, agg.AverageScore, agg.Low, agg.Medium, agg.High,
		formatTime(agg.LastCalculatedAt), agg.AgentID)
	if err != nil {
		return fmt.Errorf("update reputation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.exec(ctx, `INSERT INTO agent_reputation
			(agent_id, feedback_count, average_score, low_count, medium_count, high_count, last_calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agg.AgentID, agg.FeedbackCount, agg.AverageScore, agg.Low, agg.Medium, agg.High,
		formatTime(agg.LastCalculatedAt))
	if err != nil {
		return fmt.Errorf("insert reputation: %w", err)
	}
	return nil
}

// ListReputationSince returns aggregates recalculated after the watermark,
// oldest first, so the relational sync can push them to the vector store.
func (s *Store) ListReputationSince(ctx context.Context, since time.Time) ([]model.ReputationAggregate, error) {
	rows, err := s.query(ctx, `SELECT agent_id, feedback_count, average_score, low_count, medium_count, high_count, last_calculated_at
		FROM agent_reputation WHERE last_calculated_at > ? ORDER BY last_calculated_at ASC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list reputation since: %w", err)
	}
	defer rows.Close()

	var out []model.ReputationAggregate
	for rows.Next() {
		agg, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *agg)
	}
	return out, rows.Err()
}

// GetReputationsBatch loads aggregates for many agents, chunking the IN
// binds. Agents without feedback are absent from the result.
func (s *Store) GetReputationsBatch(ctx context.Context, agentIDs []string) (map[string]*model.ReputationAggregate, error) {
	out := make(map[string]*model.ReputationAggregate, len(agentIDs))
	for _, chunk := range chunkStrings(agentIDs, bindChunkSize) {
		rows, err := s.query(ctx, `SELECT agent_id, feedback_count, average_score, low_count, medium_count, high_count, last_calculated_at
			FROM agent_reputation WHERE agent_id IN (`+placeholders(len(chunk))+`)`, toAnySlice(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("batch get reputation: %w", err)
		}
		for rows.Next() {
			agg, err := scanReputation(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[agg.AgentID] = agg
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// SnapshotReputation records today's aggregates for trend queries. Re-running
// for the same date is a no-op per agent.
func (s *Store) SnapshotReputation(ctx context.Context, date string) (int, error) {
	rows, err := s.query(ctx, `SELECT agent_id, average_score, feedback_count FROM agent_reputation`)
	if err != nil {
		return 0, fmt.Errorf("scan aggregates: %w", err)
	}
	type snap struct {
		agentID string
		avg     float64
		count   int64
	}
	var snaps []snap
	for rows.Next() {
		var sn snap
		if err := rows.Scan(&sn.agentID, &sn.avg, &sn.count); err != nil {
			_ = rows.Close()
			return 0, err
		}
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	written := 0
	for _, sn := range snaps {
		var n int
		if err := s.queryRow(ctx,
			`SELECT COUNT(*) FROM reputation_snapshots WHERE agent_id = ? AND snapshot_date = ?`,
			sn.agentID, date).Scan(&n); err != nil {
			return written, err
		}
		if n > 0 {
			continue
		}
		_, err := s.exec(ctx, `INSERT INTO reputation_snapshots (id, agent_id, snapshot_date, average_score, feedback_count)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), sn.agentID, date, sn.avg, sn.count)
		if err != nil {
			return written, fmt.Errorf("insert snapshot: %w", err)
		}
		written++
	}
	return written, nil
}

func scanReputation(sc scanner) (*model.ReputationAggregate, error) {
	var (
		agg          model.ReputationAggregate
		calculatedAt string
	)
	if err := sc.Scan(&agg.AgentID, &agg.FeedbackCount, &agg.AverageScore,
		&agg.Low, &agg.Medium, &agg.High, &calculatedAt); err != nil {
		return nil, err
	}
	agg.LastCalculatedAt = parseTime(calculatedAt)
	return &agg, nil
}
