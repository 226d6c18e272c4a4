package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentgate/agentgate/internal/model"
)

// UpsertClassification persists a resolved taxonomy assignment. Slug lists
// are stored as JSON arrays of {slug, confidence, reasoning}.
func (s *Store) UpsertClassification(ctx context.Context, c *model.Classification) error {
	skills, err := json.Marshal(c.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	domains, err := json.Marshal(c.Domains)
	if err != nil {
		return fmt.Errorf("marshal domains: %w", err)
	}

	now := time.Now().UTC()
	if c.ClassifiedAt.IsZero() {
		c.ClassifiedAt = now
	}
	c.UpdatedAt = now

	res, err := s.exec(ctx, `UPDATE agent_classifications
		SET skills = ?, domains = ?, confidence = ?, source = ?, model_version = ?, classified_at = ?, updated_at = ?
		WHERE agent_id = ?`,
		string(skills), string(domains), c.Confidence, c.Source, c.ModelVersion,
		formatTime(c.ClassifiedAt), formatTime(c.UpdatedAt), c.AgentID)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.exec(ctx, `INSERT INTO agent_classifications
			(agent_id, skills, domains, confidence, source, model_version, classified_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AgentID, string(skills), string(domains), c.Confidence, c.Source, c.ModelVersion,
		formatTime(c.ClassifiedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}
	return nil
}

// GetClassification returns the stored assignment for one agent.
// sql.ErrNoRows when the agent has never been classified.
func (s *Store) GetClassification(ctx context.Context, agentID string) (*model.Classification, error) {
	row := s.queryRow(ctx, `SELECT agent_id, skills, domains, confidence, source, model_version, classified_at, updated_at
		FROM agent_classifications WHERE agent_id = ?`, agentID)
	return scanClassification(row)
}

// ListClassificationsSince returns assignments updated after the watermark,
// oldest first.
func (s *Store) ListClassificationsSince(ctx context.Context, since time.Time) ([]model.Classification, error) {
	rows, err := s.query(ctx, `SELECT agent_id, skills, domains, confidence, source, model_version, classified_at, updated_at
		FROM agent_classifications WHERE updated_at > ? ORDER BY updated_at ASC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list classifications since: %w", err)
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetClassificationsBatch loads assignments for many agents, chunking the
// IN binds. Unclassified agents are simply absent from the result.
func (s *Store) GetClassificationsBatch(ctx context.Context, agentIDs []string) (map[string]*model.Classification, error) {
	out := make(map[string]*model.Classification, len(agentIDs))
	for _, chunk := range chunkStrings(agentIDs, bindChunkSize) {
		rows, err := s.query(ctx, `SELECT agent_id, skills, domains, confidence, source, model_version, classified_at, updated_at
			FROM agent_classifications WHERE agent_id IN (`+placeholders(len(chunk))+`)`, toAnySlice(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("batch get classifications: %w", err)
		}
		for rows.Next() {
			c, err := scanClassification(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[c.AgentID] = c
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

func scanClassification(sc scanner) (*model.Classification, error) {
	var (
		c                        model.Classification
		skills, domains          string
		classifiedAt, updatedAt  string
	)
	if err := sc.Scan(&c.AgentID, &skills, &domains, &c.Confidence, &c.Source,
		&c.ModelVersion, &classifiedAt, &updatedAt); err != nil {
		return nil, err
	}
	// Stored JSON may predate the current shape; tolerate parse failures by
	// leaving the list empty rather than failing the whole scan.
	_ = json.Unmarshal([]byte(skills), &c.Skills)
	_ = json.Unmarshal([]byte(domains), &c.Domains)
	c.ClassifiedAt = parseTime(classifiedAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// UpsertTrustScore persists an externally computed trust score.
func (s *Store) UpsertTrustScore(ctx context.Context, t *model.TrustScore) error {
	now := time.Now().UTC()
	if t.ComputedAt.IsZero() {
		t.ComputedAt = now
	}

	res, err := s.exec(ctx, `UPDATE agent_trust_scores SET score = ?, computed_at = ?, updated_at = ? WHERE agent_id = ?`,
		t.Score, formatTime(t.ComputedAt), formatTime(now), t.AgentID)
	if err != nil {
		return fmt.Errorf("update trust score: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.exec(ctx, `INSERT INTO agent_trust_scores (agent_id, score, computed_at, updated_at) VALUES (?, ?, ?, ?)`,
		t.AgentID, t.Score, formatTime(t.ComputedAt), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert trust score: %w", err)
	}
	return nil
}

// GetTrustScoresBatch loads trust scores for many agents, chunking the IN
// binds. Agents without a score are absent from the result.
func (s *Store) GetTrustScoresBatch(ctx context.Context, agentIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(agentIDs))
	for _, chunk := range chunkStrings(agentIDs, bindChunkSize) {
		rows, err := s.query(ctx, `SELECT agent_id, score FROM agent_trust_scores
			WHERE agent_id IN (`+placeholders(len(chunk))+`)`, toAnySlice(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("batch get trust scores: %w", err)
		}
		for rows.Next() {
			var (
				agentID string
				score   int64
			)
			if err := rows.Scan(&agentID, &score); err != nil {
				rows.Close()
				return nil, err
			}
			out[agentID] = score
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// ListTrustScoresSince returns scores updated after the watermark, oldest
// first, paired with their update time for watermark advancement.
func (s *Store) ListTrustScoresSince(ctx context.Context, since time.Time) ([]model.TrustScore, []time.Time, error) {
	rows, err := s.query(ctx, `SELECT agent_id, score, computed_at, updated_at
		FROM agent_trust_scores WHERE updated_at > ? ORDER BY updated_at ASC`, formatTime(since))
	if err != nil {
		return nil, nil, fmt.Errorf("list trust scores since: %w", err)
	}
	defer rows.Close()

	var (
		out     []model.TrustScore
		updates []time.Time
	)
	for rows.Next() {
		var (
			t                     model.TrustScore
			computedAt, updatedAt string
		)
		if err := rows.Scan(&t.AgentID, &t.Score, &computedAt, &updatedAt); err != nil {
			return nil, nil, err
		}
		t.ComputedAt = parseTime(computedAt)
		out = append(out, t)
		updates = append(updates, parseTime(updatedAt))
	}
	return out, updates, rows.Err()
}
