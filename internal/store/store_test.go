package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := Open(dsn, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSyncMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &model.SyncMetadata{
		AgentID:        "11155111:7",
		EmbedHash:      "aaa",
		ContentHash:    "bbb",
		QdrantSyncedAt: time.Now().UTC(),
	}
	if err := s.UpsertSyncMetadata(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetSyncMetadata(ctx, "11155111:7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EmbedHash != "aaa" || got.ContentHash != "bbb" {
		t.Fatalf("hashes lost: %+v", got)
	}
	if got.SyncStatus != model.SyncStatusSynced {
		t.Fatalf("default status = %s", got.SyncStatus)
	}

	m.EmbedHash = "ccc"
	m.NeedsReembed = true
	if err := s.UpsertSyncMetadata(ctx, m); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = s.GetSyncMetadata(ctx, "11155111:7")
	if got.EmbedHash != "ccc" || !got.NeedsReembed {
		t.Fatalf("update lost: %+v", got)
	}

	if _, err := s.GetSyncMetadata(ctx, "1:999"); !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestSyncMetadataBatchChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// More agents than one bind chunk holds.
	var ids []string
	for i := 0; i < 120; i++ {
		id := fmt.Sprintf("1:%d", i)
		ids = append(ids, id)
		if err := s.UpsertSyncMetadata(ctx, &model.SyncMetadata{AgentID: id, EmbedHash: "h"}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	got, err := s.GetSyncMetadataBatch(ctx, append(ids, "1:absent"))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(got) != 120 {
		t.Fatalf("batch size = %d, want 120", len(got))
	}
	if _, ok := got["1:absent"]; ok {
		t.Fatal("absent agent must be missing from the map")
	}
}

func TestMarkSyncErrorKeepsHashes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.UpsertSyncMetadata(ctx, &model.SyncMetadata{AgentID: "1:1", EmbedHash: "keep"})
	if err := s.MarkSyncError(ctx, "1:1", "embed provider down"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, _ := s.GetSyncMetadata(ctx, "1:1")
	if got.SyncStatus != model.SyncStatusError || got.LastError != "embed provider down" {
		t.Fatalf("error not recorded: %+v", got)
	}
	if got.EmbedHash != "keep" {
		t.Fatal("hashes must survive an error mark so the next run retries the diff")
	}
}

func TestApplyFeedbackIncrementalAverage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Four scores of 80, then one of 50: count 5, average 74.00.
	for i := 0; i < 4; i++ {
		applied, err := s.ApplyFeedback(ctx, &model.FeedbackEvent{
			ExternalID: fmt.Sprintf("graph:%d", i),
			AgentID:    "1:1",
			Score:      80,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil || !applied {
			t.Fatalf("apply %d: applied=%v err=%v", i, applied, err)
		}
	}
	applied, err := s.ApplyFeedback(ctx, &model.FeedbackEvent{
		ExternalID: "graph:final", AgentID: "1:1", Score: 50, CreatedAt: time.Now().UTC(),
	})
	if err != nil || !applied {
		t.Fatalf("apply final: %v", err)
	}

	agg, err := s.GetReputation(ctx, "1:1")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if agg.FeedbackCount != 5 {
		t.Fatalf("count = %d, want 5", agg.FeedbackCount)
	}
	if agg.AverageScore != 74 {
		t.Fatalf("average = %v, want 74", agg.AverageScore)
	}
	if agg.Medium != 1 || agg.High != 4 {
		t.Fatalf("buckets = low %d medium %d high %d", agg.Low, agg.Medium, agg.High)
	}
}

func TestApplyFeedbackDeduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := &model.FeedbackEvent{ExternalID: "graph:dup", AgentID: "1:1", Score: 90, CreatedAt: time.Now().UTC()}
	if applied, _ := s.ApplyFeedback(ctx, ev); !applied {
		t.Fatal("first apply must succeed")
	}
	if applied, err := s.ApplyFeedback(ctx, ev); err != nil || applied {
		t.Fatalf("duplicate must be skipped: applied=%v err=%v", applied, err)
	}

	agg, _ := s.GetReputation(ctx, "1:1")
	if agg.FeedbackCount != 1 {
		t.Fatalf("duplicate must not double-count: %d", agg.FeedbackCount)
	}
}

func TestRecomputeMatchesIncremental(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	scores := []int{10, 33, 34, 66, 67, 100}
	for i, sc := range scores {
		_, _ = s.ApplyFeedback(ctx, &model.FeedbackEvent{
			ExternalID: fmt.Sprintf("graph:%d", i), AgentID: "1:1", Score: sc, CreatedAt: time.Now().UTC(),
		})
	}
	incremental, _ := s.GetReputation(ctx, "1:1")

	recomputed, err := s.RecomputeReputation(ctx, "1:1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if recomputed.AverageScore != incremental.AverageScore ||
		recomputed.FeedbackCount != incremental.FeedbackCount ||
		recomputed.Low != incremental.Low || recomputed.Medium != incremental.Medium || recomputed.High != incremental.High {
		t.Fatalf("recompute diverged: %+v vs %+v", recomputed, incremental)
	}
	if recomputed.Low != 2 || recomputed.Medium != 2 || recomputed.High != 2 {
		t.Fatalf("bucket boundaries wrong: %+v", recomputed)
	}
}

func TestListRecentTagFeedback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []struct {
		id    string
		tags  []string
		score int
		age   time.Duration
	}{
		{"graph:old", []string{model.TagReachabilityMCP}, 95, 48 * time.Hour},
		{"graph:recent", []string{model.TagReachabilityMCP}, 80, 2 * time.Hour},
		{"graph:newest", []string{"other", model.TagReachabilityA2A}, 60, time.Hour},
		{"graph:untagged", nil, 90, time.Hour},
	}
	for _, f := range seed {
		_, err := s.ApplyFeedback(ctx, &model.FeedbackEvent{
			ExternalID: f.id, AgentID: "1:1", Score: f.score, Tags: f.tags, CreatedAt: now.Add(-f.age),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", f.id, err)
		}
	}

	got, err := s.ListRecentTagFeedback(ctx, []string{"1:1"},
		[]string{model.TagReachabilityMCP, model.TagReachabilityA2A}, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	events := got["1:1"]
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (old and untagged excluded)", len(events))
	}
	// Newest first.
	if events[0].ExternalID != "graph:newest" {
		t.Fatalf("order wrong: %v", events[0].ExternalID)
	}
}

func TestClassificationQueueLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, created, err := s.EnqueueClassification(ctx, "1:1", false)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}

	// A second enqueue while pending is a no-op.
	dup, created, err := s.EnqueueClassification(ctx, "1:1", false)
	if err != nil || created || dup.ID != job.ID {
		t.Fatalf("pending dedupe broken: created=%v err=%v", created, err)
	}

	claimed, err := s.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != model.JobStatusProcessing || claimed.Attempts != 1 {
		t.Fatalf("claimed = %+v", claimed)
	}

	// Empty queue reports not-found.
	if _, err := s.ClaimNextJob(ctx); !IsNotFound(err) {
		t.Fatalf("empty queue must report not-found, got %v", err)
	}

	if err := s.CompleteJob(ctx, claimed.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	latest, _ := s.LatestJobForAgent(ctx, "1:1")
	if latest.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s", latest.Status)
	}
}

func TestFailJobDeadLettersAfterMaxAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, _ = s.EnqueueClassification(ctx, "1:1", false)
	for attempt := 1; attempt <= MaxClassificationAttempts; attempt++ {
		job, err := s.ClaimNextJob(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", attempt, err)
		}
		if job.Attempts != attempt {
			t.Fatalf("attempts = %d, want %d", job.Attempts, attempt)
		}
		if err := s.FailJob(ctx, job.ID, "llm timeout"); err != nil {
			t.Fatalf("fail %d: %v", attempt, err)
		}
	}

	latest, _ := s.LatestJobForAgent(ctx, "1:1")
	if latest.Status != model.JobStatusFailed {
		t.Fatalf("after %d attempts status = %s, want failed", MaxClassificationAttempts, latest.Status)
	}

	n, err := s.ResetFailedJobs(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reset: n=%d err=%v", n, err)
	}
	latest, _ = s.LatestJobForAgent(ctx, "1:1")
	if latest.Status != model.JobStatusPending || latest.Attempts != 0 {
		t.Fatalf("reset job = %+v", latest)
	}
}

func TestClassificationWatermark(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Minute)
	c := &model.Classification{
		AgentID: "1:1",
		Skills:  []model.SlugConfidence{{Slug: "natural-language-processing", Confidence: 0.92}},
		Source:  model.ClassificationSourceLLM,
	}
	if err := s.UpsertClassification(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := s.ListClassificationsSince(ctx, before)
	if err != nil || len(rows) != 1 {
		t.Fatalf("since before: rows=%d err=%v", len(rows), err)
	}
	if rows[0].Skills[0].Slug != "natural-language-processing" {
		t.Fatalf("skills lost: %+v", rows[0].Skills)
	}

	rows, err = s.ListClassificationsSince(ctx, rows[0].UpdatedAt)
	if err != nil || len(rows) != 0 {
		t.Fatalf("strict > watermark must exclude the row: rows=%d err=%v", len(rows), err)
	}
}

func TestSyncStateMutate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	err := s.MutateSyncState(ctx, func(st *model.SyncState) {
		st.LastGraphSync = now
		st.AgentsSynced += 42
		st.LastError = ""
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	st, err := s.GetSyncState(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !st.LastGraphSync.Equal(now) || st.AgentsSynced != 42 {
		t.Fatalf("state = %+v", st)
	}
}

func TestSnapshotReputationIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _ = s.ApplyFeedback(ctx, &model.FeedbackEvent{ExternalID: "graph:1", AgentID: "1:1", Score: 80, CreatedAt: time.Now().UTC()})

	n, err := s.SnapshotReputation(ctx, "2026-08-24")
	if err != nil || n != 1 {
		t.Fatalf("first snapshot: n=%d err=%v", n, err)
	}
	n, err = s.SnapshotReputation(ctx, "2026-08-24")
	if err != nil || n != 0 {
		t.Fatalf("second snapshot must be a no-op: n=%d err=%v", n, err)
	}
}
