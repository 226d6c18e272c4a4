package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentgate/agentgate/internal/model"
)

const metadataColumns = `agent_id, embed_hash, content_hash, qdrant_synced_at,
	sync_status, needs_reembed, last_error, d1_classified_at, d1_reputation_at, updated_at`

// GetSyncMetadata returns the coordination row for one agent.
// sql.ErrNoRows when absent; test with IsNotFound.
func (s *Store) GetSyncMetadata(ctx context.Context, agentID string) (*model.SyncMetadata, error) {
	row := s.queryRow(ctx, `SELECT `+metadataColumns+` FROM sync_metadata WHERE agent_id = ?`, agentID)
	return scanMetadata(row)
}

// GetSyncMetadataBatch loads coordination rows for many agents in one pass,
// chunking the IN list to stay under bind limits. Absent agents are simply
// missing from the map.
func (s *Store) GetSyncMetadataBatch(ctx context.Context, agentIDs []string) (map[string]*model.SyncMetadata, error) {
	out := make(map[string]*model.SyncMetadata, len(agentIDs))
	for _, chunk := range chunkStrings(agentIDs, bindChunkSize) {
		rows, err := s.query(ctx,
			`SELECT `+metadataColumns+` FROM sync_metadata WHERE agent_id IN (`+placeholders(len(chunk))+`)`,
			toAnySlice(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("load sync metadata: %w", err)
		}
		for rows.Next() {
			m, err := scanMetadata(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[m.AgentID] = m
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// UpsertSyncMetadata writes the coordination row after a successful
// vector-store write. Update-then-insert keeps the statement portable.
func (s *Store) UpsertSyncMetadata(ctx context.Context, m *model.SyncMetadata) error {
	now := time.Now().UTC()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.SyncStatus == "" {
		m.SyncStatus = model.SyncStatusSynced
	}

	res, err := s.exec(ctx, `UPDATE sync_metadata SET
			embed_hash = ?, content_hash = ?, qdrant_synced_at = ?, sync_status = ?,
			needs_reembed = ?, last_error = ?, d1_classified_at = ?, d1_reputation_at = ?, updated_at = ?
		WHERE agent_id = ?`,
		m.EmbedHash, m.ContentHash, nullableTime(m.QdrantSyncedAt), m.SyncStatus,
		boolToInt(m.NeedsReembed), m.LastError, nullableTime(m.D1ClassifiedAt),
		nullableTime(m.D1ReputationAt), formatTime(m.UpdatedAt), m.AgentID)
	if err != nil {
		return fmt.Errorf("update sync metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.exec(ctx, `INSERT INTO sync_metadata (`+metadataColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AgentID, m.EmbedHash, m.ContentHash, nullableTime(m.QdrantSyncedAt), m.SyncStatus,
		boolToInt(m.NeedsReembed), m.LastError, nullableTime(m.D1ClassifiedAt),
		nullableTime(m.D1ReputationAt), formatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert sync metadata: %w", err)
	}
	return nil
}

// MarkSyncError records a per-agent sync failure without touching the hashes,
// so the next run retries the same diff.
func (s *Store) MarkSyncError(ctx context.Context, agentID, message string) error {
	now := formatTime(time.Now().UTC())
	res, err := s.exec(ctx,
		`UPDATE sync_metadata SET sync_status = ?, last_error = ?, updated_at = ? WHERE agent_id = ?`,
		model.SyncStatusError, message, now, agentID)
	if err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.exec(ctx,
		`INSERT INTO sync_metadata (agent_id, sync_status, last_error, updated_at) VALUES (?, ?, ?, ?)`,
		agentID, model.SyncStatusError, message, now)
	if err != nil {
		return fmt.Errorf("insert sync error row: %w", err)
	}
	return nil
}

// SetNeedsReembed flags an agent for vector regeneration on the next graph
// sync run.
func (s *Store) SetNeedsReembed(ctx context.Context, agentID string, needs bool) error {
	_, err := s.exec(ctx,
		`UPDATE sync_metadata SET needs_reembed = ?, updated_at = ? WHERE agent_id = ?`,
		boolToInt(needs), formatTime(time.Now().UTC()), agentID)
	if err != nil {
		return fmt.Errorf("set needs_reembed: %w", err)
	}
	return nil
}

// DeleteSyncMetadata removes coordination rows for agents that disappeared
// upstream.
func (s *Store) DeleteSyncMetadata(ctx context.Context, agentIDs []string) error {
	for _, chunk := range chunkStrings(agentIDs, bindChunkSize) {
		_, err := s.exec(ctx,
			`DELETE FROM sync_metadata WHERE agent_id IN (`+placeholders(len(chunk))+`)`,
			toAnySlice(chunk)...)
		if err != nil {
			return fmt.Errorf("delete sync metadata: %w", err)
		}
	}
	return nil
}

func scanMetadata(sc scanner) (*model.SyncMetadata, error) {
	var (
		m                          model.SyncMetadata
		needsReembed               int
		syncedAt, classAt, reputAt sql.NullString
		updatedAt                  string
	)
	if err := sc.Scan(
		&m.AgentID, &m.EmbedHash, &m.ContentHash, &syncedAt,
		&m.SyncStatus, &needsReembed, &m.LastError, &classAt, &reputAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	m.NeedsReembed = needsReembed == 1
	m.QdrantSyncedAt = timeFromNull(syncedAt)
	m.D1ClassifiedAt = timeFromNull(classAt)
	m.D1ReputationAt = timeFromNull(reputAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}
