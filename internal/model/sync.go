package model

import "time"

// Sync status values for per-agent sync metadata.
const (
	SyncStatusSynced = "synced"
	SyncStatusError  = "error"
)

// SyncMetadata is the per-agent coordination row. It is written only after
// the corresponding vector-store write succeeded, never before.
type SyncMetadata struct {
	AgentID          string
	EmbedHash        string
	ContentHash      string
	QdrantSyncedAt   time.Time
	SyncStatus       string
	NeedsReembed     bool
	LastError        string
	D1ClassifiedAt   time.Time
	D1ReputationAt   time.Time
	UpdatedAt        time.Time
}

// SyncState is the singleton bookkeeping row for all sync workers.
type SyncState struct {
	LastGraphSync         time.Time
	LastD1Sync            time.Time
	LastReconciliation    time.Time
	LastGraphFeedbackSync time.Time
	LastFeedbackCreatedAt time.Time

	AgentsSynced        int64
	EmbeddingsGenerated int64
	FeedbackSynced      int64
	AgentsDeleted       int64

	LastError string
}

// Classification source tags, in descending resolution priority.
const (
	ClassificationSourceCreator = "creator-defined"
	ClassificationSourceLLM     = "llm-classification"
	ClassificationSourceNone    = "none"
)

// Classification is the resolved OASF taxonomy assignment for one agent.
type Classification struct {
	AgentID      string
	Skills       []SlugConfidence
	Domains      []SlugConfidence
	Confidence   float64
	Source       string
	ModelVersion string
	ClassifiedAt time.Time
	UpdatedAt    time.Time
}

// Classification job states.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ClassificationJob is one row in the classification work queue.
type ClassificationJob struct {
	ID        string
	AgentID   string
	Force     bool
	Attempts  int
	Status    string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FeedbackEvent is an immutable feedback record. ExternalID is the dedupe
// key ("graph:<id>" for upstream-sourced events).
type FeedbackEvent struct {
	ExternalID string
	AgentID    string
	ChainID    int64
	Score      int
	Tags       []string
	Context    string
	URI        string
	Submitter  string
	CreatedAt  time.Time
	TxHash     string
}

// Reachability feedback tags.
const (
	TagReachabilityA2A = "reachability_a2a"
	TagReachabilityMCP = "reachability_mcp"
)

// ReputationAggregate is the per-agent rollup of feedback scores.
type ReputationAggregate struct {
	AgentID          string
	FeedbackCount    int64
	AverageScore     float64 // rounded to two decimals
	Low              int64   // score <= 33
	Medium           int64   // 34..66
	High             int64   // >= 67
	LastCalculatedAt time.Time
}

// Bucket returns the distribution bucket name for a score.
func Bucket(score int) string {
	switch {
	case score <= 33:
		return "low"
	case score <= 66:
		return "medium"
	default:
		return "high"
	}
}

// TrustScore is the externally computed (PageRank-like) 0-100 score.
type TrustScore struct {
	AgentID    string
	Score      int64
	ComputedAt time.Time
}
