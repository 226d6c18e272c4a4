// Package sync holds the background workers that keep the vector collection
// aligned with the upstream chain indexer and the relational store: the
// graph sync (hash-diffed agent ingestion), the relational sync (watermarked
// payload patches), the feedback sync (cursor pull + reputation), and the
// reconciler (full-set diff).
package sync

import (
	"context"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/agentgate/agentgate/internal/capability"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/reachability"
)

// MaxAgentsPerRun caps how many agents one graph-sync run processes.
const MaxAgentsPerRun = 100

// ReconcileBatchSize is how many missing agents the reconciler backfills per
// upstream fetch.
const ReconcileBatchSize = 50

// GraphSource is the upstream indexer surface the workers consume.
type GraphSource interface {
	FetchAllAgents(ctx context.Context) ([]model.AgentRecord, error)
	FetchAgentsByIDs(ctx context.Context, ids []string) ([]model.AgentRecord, error)
	FetchAllAgentIDs(ctx context.Context) ([]string, error)
	FetchFeedbackSince(ctx context.Context, after time.Time) ([]model.FeedbackEvent, error)
}

// VectorWriter is the slice of the vector store the workers need.
type VectorWriter interface {
	Upsert(ctx context.Context, points []*qdrant.PointStruct) error
	SetPayloadByAgentID(ctx context.Context, agentID string, patch map[string]any) error
	Delete(ctx context.Context, agentIDs []string) error
	ScrollAllIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context, filter *qdrant.Filter) (uint64, error)
}

// Embedder turns embed text into a vector.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// CardFetcher resolves A2A agent cards with bounded fan-out.
type CardFetcher interface {
	FetchCardsBatch(ctx context.Context, endpoints map[string]string) map[string]*capability.CardResult
}

// ReachabilityEvaluator derives protocol liveness for a batch of agents.
type ReachabilityEvaluator interface {
	EvaluateBatch(ctx context.Context, agentIDs []string, now time.Time) (map[string]reachability.Status, error)
}
