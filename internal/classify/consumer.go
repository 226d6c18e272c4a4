package classify

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/vectorstore"
)

// EnqueueCap bounds how many unclassified agents one hourly tick enqueues.
const EnqueueCap = 50

// AgentFetcher provides agent records for queued jobs.
type AgentFetcher interface {
	FetchAgentsByIDs(ctx context.Context, ids []string) ([]model.AgentRecord, error)
}

// PointScroller is the slice of the vector store the enqueuer needs.
type PointScroller interface {
	Scroll(ctx context.Context, filter *qdrant.Filter, limit int, orderBy *qdrant.OrderBy) ([]*qdrant.RetrievedPoint, error)
}

// Consumer drains the classification queue: claim, classify, persist,
// complete. Failures requeue until the attempt cap dead-letters the job.
type Consumer struct {
	store      *store.Store
	classifier *Classifier
	agents     AgentFetcher
	points     PointScroller
	logger     *zap.Logger
}

// NewConsumer builds the queue consumer.
func NewConsumer(st *store.Store, classifier *Classifier, agents AgentFetcher, points PointScroller, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{store: st, classifier: classifier, agents: agents, points: points, logger: logger.Named("classify")}
}

// Run drains the queue until empty or ctx is done. Returns how many jobs
// completed.
func (c *Consumer) Run(ctx context.Context) (int, error) {
	completed := 0
	for {
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		job, err := c.store.ClaimNextJob(ctx)
		if store.IsNotFound(err) {
			return completed, nil
		}
		if err != nil {
			return completed, fmt.Errorf("claim job: %w", err)
		}

		if err := c.process(ctx, job); err != nil {
			c.logger.Warn("classification job failed",
				zap.String("agent_id", job.AgentID),
				zap.Int("attempt", job.Attempts),
				zap.Error(err))
			metrics.ClassificationJobs.WithLabelValues("failed").Inc()
			if ferr := c.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
				return completed, fmt.Errorf("record job failure: %w", ferr)
			}
			continue
		}

		if err := c.store.CompleteJob(ctx, job.ID); err != nil {
			return completed, fmt.Errorf("complete job: %w", err)
		}
		metrics.ClassificationJobs.WithLabelValues("completed").Inc()
		completed++
	}
}

func (c *Consumer) process(ctx context.Context, job *model.ClassificationJob) error {
	records, err := c.agents.FetchAgentsByIDs(ctx, []string{job.AgentID})
	if err != nil {
		return fmt.Errorf("fetch agent: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("agent %s not found upstream", job.AgentID)
	}

	classification, err := c.classifier.Classify(ctx, &records[0], job.Force)
	if err != nil {
		return err
	}
	if err := c.store.UpsertClassification(ctx, classification); err != nil {
		return fmt.Errorf("persist classification: %w", err)
	}

	c.logger.Info("agent classified",
		zap.String("agent_id", job.AgentID),
		zap.String("source", classification.Source),
		zap.Int("skills", len(classification.Skills)),
		zap.Int("domains", len(classification.Domains)))
	return nil
}

// EnqueueUnclassified finds indexed agents still carrying
// classification_source="none" and queues up to EnqueueCap of them. Returns
// how many new jobs were created.
func (c *Consumer) EnqueueUnclassified(ctx context.Context) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("classification_source", model.ClassificationSourceNone),
		},
	}
	points, err := c.points.Scroll(ctx, filter, EnqueueCap, nil)
	if err != nil {
		return 0, fmt.Errorf("scroll unclassified agents: %w", err)
	}

	created := 0
	for _, p := range points {
		agentID := vectorstore.PayloadString(p.GetPayload(), "agent_id")
		if agentID == "" {
			continue
		}
		_, isNew, err := c.store.EnqueueClassification(ctx, agentID, false)
		if err != nil {
			return created, fmt.Errorf("enqueue %s: %w", agentID, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

// MaybeResetFailed requeues dead-lettered jobs, but only when the queue is
// otherwise idle so fresh work is never starved by retries.
func (c *Consumer) MaybeResetFailed(ctx context.Context) (int64, error) {
	pending, err := c.store.CountJobs(ctx, model.JobStatusPending)
	if err != nil {
		return 0, err
	}
	if pending > 0 {
		return 0, nil
	}
	return c.store.ResetFailedJobs(ctx)
}

// Resolve returns the classification the read path should expose for an
// agent, honoring source priority: creator-defined beats llm-classification;
// absent rows mean "none".
func Resolve(ctx context.Context, st *store.Store, agentID string) (*model.Classification, error) {
	c, err := st.GetClassification(ctx, agentID)
	if store.IsNotFound(err) {
		return &model.Classification{AgentID: agentID, Source: model.ClassificationSourceNone}, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
