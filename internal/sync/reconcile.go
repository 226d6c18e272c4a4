package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/store"
)

// Reconciler diffs the authoritative upstream agent set against the indexed
// set: orphans are deleted, missing agents are backfilled. Running it twice
// over a stable upstream is a no-op the second time.
type Reconciler struct {
	graph   GraphSource
	store   *store.Store
	vectors VectorWriter
	indexer *GraphSyncer
	logger  *zap.Logger
}

// NewReconciler wires the reconciliation worker. indexer provides the full
// embed path for backfills.
func NewReconciler(graph GraphSource, st *store.Store, vectors VectorWriter, indexer *GraphSyncer, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{graph: graph, store: st, vectors: vectors, indexer: indexer, logger: logger.Named("reconcile")}
}

// ReconcileReport summarizes one run.
type ReconcileReport struct {
	Upstream   int
	Indexed    int
	Deleted    int
	Backfilled int
	Errors     []string
}

// Run computes both set differences and repairs them.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	started := time.Now().UTC()

	upstreamIDs, err := r.graph.FetchAllAgentIDs(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("reconcile", "failed").Inc()
		return nil, fmt.Errorf("fetch upstream ids: %w", err)
	}
	indexedIDs, err := r.vectors.ScrollAllIDs(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("reconcile", "failed").Inc()
		return nil, fmt.Errorf("scroll indexed ids: %w", err)
	}
	report.Upstream = len(upstreamIDs)
	report.Indexed = len(indexedIDs)

	upstream := toSet(upstreamIDs)
	indexed := toSet(indexedIDs)

	// Orphans: indexed but gone upstream.
	var orphans []string
	for id := range indexed {
		if _, ok := upstream[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := r.vectors.Delete(ctx, orphans); err != nil {
			metrics.SyncRuns.WithLabelValues("reconcile", "failed").Inc()
			return report, fmt.Errorf("delete orphans: %w", err)
		}
		if err := r.store.DeleteSyncMetadata(ctx, orphans); err != nil {
			metrics.SyncRuns.WithLabelValues("reconcile", "failed").Inc()
			return report, fmt.Errorf("delete orphan metadata: %w", err)
		}
		report.Deleted = len(orphans)
		metrics.ReconcileDeleted.Add(float64(len(orphans)))
	}

	// Missing: upstream but not indexed. Backfilled in batches through the
	// full embed path.
	var missing []string
	for _, id := range upstreamIDs {
		if _, ok := indexed[id]; !ok {
			missing = append(missing, id)
		}
	}
	for start := 0; start < len(missing); start += ReconcileBatchSize {
		end := start + ReconcileBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		records, err := r.graph.FetchAgentsByIDs(ctx, missing[start:end])
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("fetch batch: %v", err))
			continue
		}
		n, errs := r.indexer.IndexAgents(ctx, records)
		report.Backfilled += n
		report.Errors = append(report.Errors, errs...)
	}

	if total, err := r.vectors.Count(ctx, nil); err == nil {
		metrics.VectorPoints.Set(float64(total))
	}

	err = r.store.MutateSyncState(ctx, func(st *model.SyncState) {
		st.LastReconciliation = started
		st.AgentsDeleted += int64(report.Deleted)
	})
	if err != nil {
		return report, fmt.Errorf("update sync state: %w", err)
	}

	metrics.SyncRuns.WithLabelValues("reconcile", "ok").Inc()
	r.logger.Info("reconciliation finished",
		zap.Int("upstream", report.Upstream),
		zap.Int("indexed", report.Indexed),
		zap.Int("deleted", report.Deleted),
		zap.Int("backfilled", report.Backfilled),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
