package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/internal/model"
)

// MaxClassificationAttempts is how many times a job may be claimed before it
// lands in the failed (dead-letter) state.
const MaxClassificationAttempts = 3

// EnqueueClassification adds a classification job unless one is already
// pending or in flight for the agent. Returns the job, and whether it was
// newly created.
func (s *Store) EnqueueClassification(ctx context.Context, agentID string, force bool) (*model.ClassificationJob, bool, error) {
	existing, err := s.LatestJobForAgent(ctx, agentID)
	if err != nil && !IsNotFound(err) {
		return nil, false, err
	}
	if existing != nil && (existing.Status == model.JobStatusPending || existing.Status == model.JobStatusProcessing) {
		return existing, false, nil
	}

	now := time.Now().UTC()
	job := &model.ClassificationJob{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Force:     force,
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.exec(ctx, `INSERT INTO classification_queue (id, agent_id, force, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, '', ?, ?)`,
		job.ID, job.AgentID, boolToInt(job.Force), job.Status, formatTime(now), formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("enqueue classification: %w", err)
	}
	return job, true, nil
}

// ClaimNextJob moves the oldest pending job to processing and bumps its
// attempt counter. The status guard in the UPDATE keeps concurrent claimers
// from double-processing. sql.ErrNoRows when the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*model.ClassificationJob, error) {
	for {
		row := s.queryRow(ctx, `SELECT id, agent_id, force, status, attempts, last_error, created_at, updated_at
			FROM classification_queue WHERE status = ? ORDER BY created_at ASC LIMIT 1`, model.JobStatusPending)
		job, err := scanJob(row)
		if err != nil {
			return nil, err
		}

		res, err := s.exec(ctx, `UPDATE classification_queue
			SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = ?`,
			model.JobStatusProcessing, formatTime(time.Now().UTC()), job.ID, model.JobStatusPending)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // lost the race, try the next one
		}

		job.Status = model.JobStatusProcessing
		job.Attempts++
		return job, nil
	}
}

// CompleteJob marks a job finished.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE classification_queue SET status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		model.JobStatusCompleted, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob records a failed attempt. Jobs return to pending until the attempt
// cap is reached, then stay failed for a later ResetFailedJobs.
func (s *Store) FailJob(ctx context.Context, id string, message string) error {
	var attempts int
	if err := s.queryRow(ctx, `SELECT attempts FROM classification_queue WHERE id = ?`, id).Scan(&attempts); err != nil {
		return fmt.Errorf("load job attempts: %w", err)
	}

	status := model.JobStatusPending
	if attempts >= MaxClassificationAttempts {
		status = model.JobStatusFailed
	}
	_, err := s.exec(ctx, `UPDATE classification_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, message, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// ResetFailedJobs requeues every dead-lettered job with a fresh attempt
// budget. Returns how many were reset.
func (s *Store) ResetFailedJobs(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `UPDATE classification_queue SET status = ?, attempts = 0, updated_at = ? WHERE status = ?`,
		model.JobStatusPending, formatTime(time.Now().UTC()), model.JobStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("reset failed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountJobs returns how many jobs sit in the given status.
func (s *Store) CountJobs(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM classification_queue WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// LatestJobForAgent returns the most recent queue entry for an agent.
func (s *Store) LatestJobForAgent(ctx context.Context, agentID string) (*model.ClassificationJob, error) {
	row := s.queryRow(ctx, `SELECT id, agent_id, force, status, attempts, last_error, created_at, updated_at
		FROM classification_queue WHERE agent_id = ? ORDER BY created_at DESC LIMIT 1`, agentID)
	return scanJob(row)
}

func scanJob(sc scanner) (*model.ClassificationJob, error) {
	var (
		job                  model.ClassificationJob
		force                int
		createdAt, updatedAt string
	)
	if err := sc.Scan(&job.ID, &job.AgentID, &force, &job.Status, &job.Attempts,
		&job.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Force = force == 1
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}
