package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/embedding"
	"github.com/agentgate/agentgate/internal/hash"
	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/payload"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/telemetry"
	"github.com/agentgate/agentgate/internal/vectorstore"
)

// GraphSyncer pulls the agent catalog from the upstream indexer and applies
// hash-diffed updates to the vector collection.
type GraphSyncer struct {
	graph    GraphSource
	store    *store.Store
	vectors  VectorWriter
	embedder Embedder
	cards    CardFetcher
	reach    ReachabilityEvaluator
	logger   *zap.Logger
}

// NewGraphSyncer wires the graph sync worker. cards and reach may be nil in
// reduced deployments; enrichment then degrades to record-only data.
func NewGraphSyncer(graph GraphSource, st *store.Store, vectors VectorWriter, embedder Embedder, cards CardFetcher, reach ReachabilityEvaluator, logger *zap.Logger) *GraphSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphSyncer{
		graph:    graph,
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		cards:    cards,
		reach:    reach,
		logger:   logger.Named("graphsync"),
	}
}

// GraphReport summarizes one run.
type GraphReport struct {
	Seen     int
	Embedded int
	Patched  int
	Skipped  int
	Errors   []string
	HasMore  bool
}

// plan is one selected agent with the hashes computed at bucket time. The
// same hashes are persisted after the write so the next run's comparison
// sees identical inputs.
type plan struct {
	rec          model.AgentRecord
	embedHash    string
	contentHash  string
	needsEmbed   bool
	existingMeta *model.SyncMetadata
}

// Run executes one sync pass: pull, diff, enrich, write. Per-agent failures
// are recorded and skipped; only infrastructure failures abort the run.
func (g *GraphSyncer) Run(ctx context.Context) (*GraphReport, error) {
	report := &GraphReport{}
	started := time.Now().UTC()

	ctx, span := telemetry.StartSyncSpan(ctx, "graph")
	defer func() {
		telemetry.EndSyncSpan(span, report.Embedded, report.Patched, report.Skipped, len(report.Errors))
	}()

	records, err := g.graph.FetchAllAgents(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("graph", "failed").Inc()
		g.recordRunError(ctx, err)
		return nil, fmt.Errorf("fetch agents: %w", err)
	}
	report.Seen = len(records)

	plans, skipped, hasMore, err := g.selectChanged(ctx, records)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("graph", "failed").Inc()
		g.recordRunError(ctx, err)
		return nil, err
	}
	report.Skipped = skipped
	report.HasMore = hasMore
	metrics.AgentsSynced.WithLabelValues("skipped").Add(float64(skipped))

	if len(plans) > 0 {
		g.applyPlans(ctx, plans, started, report)
	}

	stateErr := g.store.MutateSyncState(ctx, func(st *model.SyncState) {
		st.LastGraphSync = started
		st.AgentsSynced += int64(report.Embedded + report.Patched)
		st.EmbeddingsGenerated += int64(report.Embedded)
		if len(report.Errors) > 0 {
			st.LastError = report.Errors[0]
		} else {
			st.LastError = ""
		}
	})
	if stateErr != nil {
		return report, fmt.Errorf("update sync state: %w", stateErr)
	}

	metrics.SyncRuns.WithLabelValues("graph", "ok").Inc()
	g.logger.Info("graph sync finished",
		zap.Int("seen", report.Seen),
		zap.Int("embedded", report.Embedded),
		zap.Int("patched", report.Patched),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
		zap.Bool("has_more", report.HasMore))
	return report, nil
}

// selectChanged buckets records by hash diff and returns the selected plans,
// capped at MaxAgentsPerRun. The hashes are computed over the upstream
// record plus relational enrichment; card data joins the payload later but
// never the hash input, so comparisons stay reproducible between runs.
func (g *GraphSyncer) selectChanged(ctx context.Context, records []model.AgentRecord) ([]plan, int, bool, error) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.AgentID)
	}

	metaByID, err := g.store.GetSyncMetadataBatch(ctx, ids)
	if err != nil {
		return nil, 0, false, fmt.Errorf("load sync metadata: %w", err)
	}
	classByID, err := g.store.GetClassificationsBatch(ctx, ids)
	if err != nil {
		return nil, 0, false, fmt.Errorf("load classifications: %w", err)
	}
	repByID, err := g.store.GetReputationsBatch(ctx, ids)
	if err != nil {
		return nil, 0, false, fmt.Errorf("load reputation: %w", err)
	}

	var (
		plans   []plan
		skipped int
		hasMore bool
	)
	for _, rec := range records {
		enr := relationalEnrichment(classByID[rec.AgentID], repByID[rec.AgentID], 0)

		embedHash, err := hash.EmbedHash(hash.EmbedInputFor(&rec, nil))
		if err != nil {
			return nil, 0, false, fmt.Errorf("embed hash %s: %w", rec.AgentID, err)
		}
		contentHash, err := hash.ContentHash(hash.ContentInputFor(&rec, enr))
		if err != nil {
			return nil, 0, false, fmt.Errorf("content hash %s: %w", rec.AgentID, err)
		}

		meta := metaByID[rec.AgentID]
		var needsEmbed bool
		switch {
		case meta == nil:
			needsEmbed = true
		case meta.NeedsReembed:
			needsEmbed = true
		case meta.EmbedHash != embedHash:
			needsEmbed = true
		case meta.ContentHash != contentHash:
			needsEmbed = false
		default:
			skipped++
			continue
		}

		if len(plans) >= MaxAgentsPerRun {
			hasMore = true
			break
		}
		plans = append(plans, plan{
			rec:          rec,
			embedHash:    embedHash,
			contentHash:  contentHash,
			needsEmbed:   needsEmbed,
			existingMeta: meta,
		})
	}
	return plans, skipped, hasMore, nil
}

// applyPlans enriches and writes the selected agents, one at a time so a
// consumer never observes a half-written record.
func (g *GraphSyncer) applyPlans(ctx context.Context, plans []plan, started time.Time, report *GraphReport) {
	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		ids = append(ids, p.rec.AgentID)
	}

	cards := g.fetchCards(ctx, plans)
	reach := g.evaluateReachability(ctx, ids, started)

	classByID, err := g.store.GetClassificationsBatch(ctx, ids)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("load classifications: %v", err))
		return
	}
	repByID, err := g.store.GetReputationsBatch(ctx, ids)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("load reputation: %v", err))
		return
	}
	trustByID, err := g.store.GetTrustScoresBatch(ctx, ids)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("load trust scores: %v", err))
		return
	}

	for _, p := range plans {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ctx.Err().Error())
			return
		}

		agentID := p.rec.AgentID
		enr := relationalEnrichment(classByID[agentID], repByID[agentID], trustByID[agentID])
		applyCard(enr, cards[agentID])
		applyReachability(enr, reach[agentID])

		var err error
		if p.needsEmbed {
			err = g.writeEmbedded(ctx, p, enr)
		} else {
			err = g.writePatched(ctx, p, enr)
		}
		if err != nil {
			g.logger.Warn("agent sync failed", zap.String("agent_id", agentID), zap.Error(err))
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", agentID, err))
			metrics.AgentsSynced.WithLabelValues("error").Inc()
			if markErr := g.store.MarkSyncError(ctx, agentID, err.Error()); markErr != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: mark error: %v", agentID, markErr))
			}
			continue
		}

		if p.needsEmbed {
			report.Embedded++
			metrics.AgentsSynced.WithLabelValues("embed").Inc()
			metrics.EmbeddingsGenerated.Inc()
		} else {
			report.Patched++
			metrics.AgentsSynced.WithLabelValues("payload").Inc()
		}
	}
}

// writeEmbedded regenerates the vector and replaces the whole point, then
// persists the metadata. The metadata write always follows the store write.
func (g *GraphSyncer) writeEmbedded(ctx context.Context, p plan, enr *model.Enrichment) error {
	text := embedding.BuildEmbedText(p.rec.Name, p.rec.Description, capabilityList(&p.rec, enr))
	vectors, err := g.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed: got %d vectors", len(vectors))
	}

	point := vectorstore.BuildPoint(p.rec.AgentID, vectors[0], payload.Build(&p.rec, enr))
	if err := g.vectors.Upsert(ctx, []*qdrant.PointStruct{point}); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	return g.store.UpsertSyncMetadata(ctx, &model.SyncMetadata{
		AgentID:      p.rec.AgentID,
		EmbedHash:    p.embedHash,
		ContentHash:  p.contentHash,
		SyncStatus:   model.SyncStatusSynced,
		NeedsReembed: false,
	})
}

// writePatched rewrites the payload without touching the vector.
func (g *GraphSyncer) writePatched(ctx context.Context, p plan, enr *model.Enrichment) error {
	if err := g.vectors.SetPayloadByAgentID(ctx, p.rec.AgentID, payload.Build(&p.rec, enr)); err != nil {
		return fmt.Errorf("set payload: %w", err)
	}

	meta := &model.SyncMetadata{
		AgentID:     p.rec.AgentID,
		EmbedHash:   p.embedHash,
		ContentHash: p.contentHash,
		SyncStatus:  model.SyncStatusSynced,
	}
	if p.existingMeta != nil {
		meta.NeedsReembed = p.existingMeta.NeedsReembed
	}
	return g.store.UpsertSyncMetadata(ctx, meta)
}

// IndexAgents runs the full embed path for the given records, bypassing the
// hash diff. The reconciler uses this to backfill missing agents.
func (g *GraphSyncer) IndexAgents(ctx context.Context, records []model.AgentRecord) (int, []string) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.AgentID)
	}
	classByID, err := g.store.GetClassificationsBatch(ctx, ids)
	if err != nil {
		return 0, []string{fmt.Sprintf("load classifications: %v", err)}
	}
	repByID, err := g.store.GetReputationsBatch(ctx, ids)
	if err != nil {
		return 0, []string{fmt.Sprintf("load reputation: %v", err)}
	}

	plans := make([]plan, 0, len(records))
	for _, rec := range records {
		embedHash, err := hash.EmbedHash(hash.EmbedInputFor(&rec, nil))
		if err != nil {
			return 0, []string{fmt.Sprintf("%s: embed hash: %v", rec.AgentID, err)}
		}
		enr := relationalEnrichment(classByID[rec.AgentID], repByID[rec.AgentID], 0)
		contentHash, err := hash.ContentHash(hash.ContentInputFor(&rec, enr))
		if err != nil {
			return 0, []string{fmt.Sprintf("%s: content hash: %v", rec.AgentID, err)}
		}
		plans = append(plans, plan{rec: rec, embedHash: embedHash, contentHash: contentHash, needsEmbed: true})
	}

	report := &GraphReport{}
	g.applyPlans(ctx, plans, time.Now().UTC(), report)
	return report.Embedded, report.Errors
}

func (g *GraphSyncer) fetchCards(ctx context.Context, plans []plan) map[string]*capabilityCard {
	out := make(map[string]*capabilityCard)
	if g.cards == nil {
		return out
	}

	endpoints := make(map[string]string)
	for _, p := range plans {
		if p.rec.HasA2A && p.rec.A2AEndpoint != "" {
			endpoints[p.rec.AgentID] = p.rec.A2AEndpoint
		}
	}
	if len(endpoints) == 0 {
		return out
	}

	for agentID, res := range g.cards.FetchCardsBatch(ctx, endpoints) {
		if res == nil {
			continue
		}
		if res.Success {
			metrics.CapabilityFetches.WithLabelValues("a2a", "ok").Inc()
		} else {
			metrics.CapabilityFetches.WithLabelValues("a2a", "failed").Inc()
			g.logger.Debug("agent card fetch failed",
				zap.String("agent_id", agentID), zap.String("error", res.Err))
		}
		out[agentID] = &capabilityCard{
			inputModes:  res.InputModes,
			outputModes: res.OutputModes,
		}
	}
	return out
}

type capabilityCard struct {
	inputModes  []string
	outputModes []string
}

func (g *GraphSyncer) evaluateReachability(ctx context.Context, ids []string, now time.Time) map[string]reachabilityStatus {
	out := make(map[string]reachabilityStatus)
	if g.reach == nil {
		return out
	}
	statuses, err := g.reach.EvaluateBatch(ctx, ids, now)
	if err != nil {
		g.logger.Warn("reachability evaluation failed", zap.Error(err))
		return out
	}
	for id, st := range statuses {
		out[id] = reachabilityStatus{
			mcp: st.ReachableMCP, a2a: st.ReachableA2A,
			lastMCP: st.LastMCPCheck, lastA2A: st.LastA2ACheck,
		}
	}
	return out
}

type reachabilityStatus struct {
	mcp, a2a         bool
	lastMCP, lastA2A time.Time
}

// relationalEnrichment folds stored classification, reputation, and trust
// into an enrichment. Card and reachability data are applied separately.
func relationalEnrichment(c *model.Classification, rep *model.ReputationAggregate, trust int64) *model.Enrichment {
	enr := &model.Enrichment{TrustScore: trust}
	if c != nil {
		enr.Skills = model.ConfidentSlugs(c.Skills)
		enr.Domains = model.ConfidentSlugs(c.Domains)
		enr.SkillsWithConfidence = c.Skills
		enr.DomainsWithConfidence = c.Domains
		enr.ClassificationSource = c.Source
	}
	if rep != nil {
		enr.ReputationScore = normalizeReputation(rep.AverageScore)
		enr.FeedbackCount = rep.FeedbackCount
	}
	return enr
}

func applyCard(enr *model.Enrichment, card *capabilityCard) {
	if card == nil {
		return
	}
	enr.InputModes = card.inputModes
	enr.OutputModes = card.outputModes
}

func applyReachability(enr *model.Enrichment, st reachabilityStatus) {
	enr.ReachableMCP = st.mcp
	enr.ReachableA2A = st.a2a
	enr.LastReachabilityMCP = st.lastMCP
	enr.LastReachabilityA2A = st.lastA2A
}

// capabilityList flattens the texts that describe what the agent can do,
// for the embed text.
func capabilityList(rec *model.AgentRecord, enr *model.Enrichment) []string {
	var out []string
	out = append(out, rec.MCPTools...)
	out = append(out, rec.MCPPrompts...)
	out = append(out, rec.A2ASkills...)
	out = append(out, enr.Skills...)
	out = append(out, enr.Domains...)
	return out
}

// normalizeReputation converts the stored two-decimal average to the 0-100
// integer payload score. Legacy aggregates on the old 0-5 scale are
// multiplied up.
func normalizeReputation(avg float64) int64 {
	if avg <= 5 {
		avg *= 20
	}
	return int64(avg + 0.5)
}

func (g *GraphSyncer) recordRunError(ctx context.Context, runErr error) {
	err := g.store.MutateSyncState(ctx, func(st *model.SyncState) {
		st.LastError = strings.TrimSpace(runErr.Error())
	})
	if err != nil {
		g.logger.Warn("failed to record sync error", zap.Error(err))
	}
}
