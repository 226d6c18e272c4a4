// Package vectorstore wraps the Qdrant gRPC client behind the small set of
// operations the sync workers and the query planner need. Point IDs are the
// deterministic UUIDs from internal/identity; the human-readable agent_id and
// point_key ride in the payload.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/identity"
)

// VectorDim is the embedding dimensionality of the collection.
const VectorDim = 1024

// opTimeout bounds every store round trip.
const opTimeout = 30 * time.Second

// upsertChunkSize caps points per upsert request.
const upsertChunkSize = 100

// scrollPageSize is the page size for full-collection scrolls.
const scrollPageSize = 1000

// Config carries the Qdrant connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Client is the Qdrant adapter. Construct with New.
type Client struct {
	qc         *qdrant.Client
	collection string
	logger     *zap.Logger
}

// New dials Qdrant. The connection is lazy; failures surface on first use.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("vectorstore: collection name required")
	}

	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect: %w", err)
	}

	return &Client{qc: qc, collection: cfg.Collection, logger: logger.Named("vectorstore")}, nil
}

// indexedFields lists the payload fields that get a field index at collection
// creation, keyed by field type.
var indexedFields = map[string]qdrant.FieldType{
	"agent_id":              qdrant.FieldType_FieldTypeKeyword,
	"point_key":             qdrant.FieldType_FieldTypeKeyword,
	"owner":                 qdrant.FieldType_FieldTypeKeyword,
	"ens":                   qdrant.FieldType_FieldTypeKeyword,
	"skills":                qdrant.FieldType_FieldTypeKeyword,
	"domains":               qdrant.FieldType_FieldTypeKeyword,
	"operators":             qdrant.FieldType_FieldTypeKeyword,
	"curated_by":            qdrant.FieldType_FieldTypeKeyword,
	"classification_source": qdrant.FieldType_FieldTypeKeyword,
	"chain_id":              qdrant.FieldType_FieldTypeInteger,
	"reputation":            qdrant.FieldType_FieldTypeInteger,
	"trust_score":           qdrant.FieldType_FieldTypeInteger,
	"feedback_count":        qdrant.FieldType_FieldTypeInteger,
	"has_mcp":               qdrant.FieldType_FieldTypeBool,
	"has_a2a":               qdrant.FieldType_FieldTypeBool,
	"has_x402":              qdrant.FieldType_FieldTypeBool,
	"active":                qdrant.FieldType_FieldTypeBool,
	"created_at":            qdrant.FieldType_FieldTypeDatetime,
	"updated_at":            qdrant.FieldType_FieldTypeDatetime,
	"last_reachability_mcp": qdrant.FieldType_FieldTypeDatetime,
	"last_reachability_a2a": qdrant.FieldType_FieldTypeDatetime,
}

// EnsureCollection creates the collection and its field indexes if absent.
func (c *Client) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	exists, err := c.qc.CollectionExists(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     VectorDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection: %w", err)
	}

	for field, ftype := range indexedFields {
		_, err := c.qc.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: c.collection,
			FieldName:      field,
			FieldType:      ftype.Enum(),
		})
		if err != nil {
			return fmt.Errorf("vectorstore: index %s: %w", field, err)
		}
	}

	c.logger.Info("created collection", zap.String("collection", c.collection))
	return nil
}

// BuildPoint assembles an upsert-ready point for an agent.
func BuildPoint(agentID string, vector []float32, payload map[string]any) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(identity.PointID(agentID)),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(payload),
	}
}

// Upsert writes points in chunks of at most 100.
func (c *Client) Upsert(ctx context.Context, points []*qdrant.PointStruct) error {
	for _, chunk := range chunkPoints(points, upsertChunkSize) {
		if err := c.upsertChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) upsertChunk(ctx context.Context, points []*qdrant.PointStruct) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d points: %w", len(points), err)
	}
	return nil
}

// SetPayloadByAgentID patches payload fields on a single agent's point
// without touching its vector.
func (c *Client) SetPayloadByAgentID(ctx context.Context, agentID string, patch map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.qc.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: c.collection,
		Payload:        qdrant.NewValueMap(patch),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewID(identity.PointID(agentID))),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: set payload for %s: %w", agentID, err)
	}
	return nil
}

// Search runs a vector query. It requests limit+1 results so the caller can
// tell whether another page exists; the returned slice is already trimmed.
func (c *Client) Search(ctx context.Context, vector []float32, filter *qdrant.Filter, limit, offset int, scoreThreshold float32) ([]*qdrant.ScoredPoint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	req := &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit + 1)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if offset > 0 {
		req.Offset = qdrant.PtrOf(uint64(offset))
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
	}

	points, err := c.qc.Query(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("vectorstore: search: %w", err)
	}

	hasMore := len(points) > limit
	if hasMore {
		points = points[:limit]
	}
	return points, hasMore, nil
}

// Scroll fetches up to limit points matching the filter in a single call,
// optionally server-side ordered. Used by the filtered listing path, which
// never pages past 1000 records.
func (c *Client) Scroll(ctx context.Context, filter *qdrant.Filter, limit int, orderBy *qdrant.OrderBy) ([]*qdrant.RetrievedPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	resp, err := c.qc.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: c.collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		OrderBy:        orderBy,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scroll: %w", err)
	}
	return resp.GetResult(), nil
}

// ScrollAllIDs walks the whole collection and returns every stored agent_id.
// Reconciliation uses this as the V set.
func (c *Client) ScrollAllIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var offset *qdrant.PointId

	for {
		page, next, err := c.scrollIDPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		ids = append(ids, page...)
		if next == nil {
			return ids, nil
		}
		offset = next
	}
}

func (c *Client) scrollIDPage(ctx context.Context, offset *qdrant.PointId) ([]string, *qdrant.PointId, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	resp, err := c.qc.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: c.collection,
		Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
		Offset:         offset,
		WithPayload:    qdrant.NewWithPayloadInclude("agent_id"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore: scroll ids: %w", err)
	}

	ids := make([]string, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		if id := PayloadString(p.GetPayload(), "agent_id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, resp.GetNextPageOffset(), nil
}

// Count returns the exact number of points matching the filter.
func (c *Client) Count(ctx context.Context, filter *qdrant.Filter) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := c.qc.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

// GetByIDs fetches points for the given agent identifiers. Absent agents are
// simply missing from the result.
func (c *Client) GetByIDs(ctx context.Context, agentIDs []string) ([]*qdrant.RetrievedPoint, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ids := make([]*qdrant.PointId, 0, len(agentIDs))
	for _, a := range agentIDs {
		ids = append(ids, qdrant.NewID(identity.PointID(a)))
	}

	points, err := c.qc.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get %d points: %w", len(ids), err)
	}
	return points, nil
}

// Delete removes the points for the given agent identifiers.
func (c *Client) Delete(ctx context.Context, agentIDs []string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ids := make([]*qdrant.PointId, 0, len(agentIDs))
	for _, a := range agentIDs {
		ids = append(ids, qdrant.NewID(identity.PointID(a)))
	}

	_, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collection,
		Points:         qdrant.NewPointsSelector(ids...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete %d points: %w", len(ids), err)
	}
	return nil
}

// DeleteByFilter removes every point matching the filter. A nil filter is
// rejected so a compile bug cannot clear the collection.
func (c *Client) DeleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	if filter == nil {
		return fmt.Errorf("vectorstore: delete by filter: nil filter")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete by filter: %w", err)
	}
	return nil
}

// Healthy pings the server. Used by the /health dependency matrix.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.qc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vectorstore: health check: %w", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.qc.Close()
}

func chunkPoints(points []*qdrant.PointStruct, size int) [][]*qdrant.PointStruct {
	if len(points) == 0 {
		return nil
	}
	var out [][]*qdrant.PointStruct
	for start := 0; start < len(points); start += size {
		end := start + size
		if end > len(points) {
			end = len(points)
		}
		out = append(out, points[start:end])
	}
	return out
}
