package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/filter"
	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/telemetry"
)

// Pagination bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100

	// inMemorySortCap bounds how many records the in-memory sort paths pull.
	inMemorySortCap = 1000
)

// Sort fields.
const (
	SortRelevance  = "relevance"
	SortName       = "name"
	SortCreatedAt  = "createdAt"
	SortReputation = "reputation"
)

// ErrInvalidRequest marks client errors: bad cursor, unknown sort field.
var ErrInvalidRequest = errors.New("invalid search request")

// Sort selects the result ordering.
type Sort struct {
	Field string `json:"field,omitempty"`
	Order string `json:"order,omitempty"` // asc | desc (default desc)
}

// Request is the planner input, shared by GET /agents and POST /search.
type Request struct {
	Query       string                `json:"query,omitempty"`
	Filters     *filter.SearchFilters `json:"filters,omitempty"`
	Limit       int                   `json:"limit,omitempty"`
	Offset      int                   `json:"offset,omitempty"`
	Cursor      string                `json:"cursor,omitempty"`
	MinScore    float32               `json:"minScore,omitempty"`
	Sort        *Sort                 `json:"sort,omitempty"`
	UseHyDE     *bool                 `json:"useHyDE,omitempty"`
	UseReranker *bool                 `json:"useReranker,omitempty"`
}

// QueryMetadata describes how the planner handled the request.
type QueryMetadata struct {
	Mode         string `json:"mode"` // filtered | semantic
	HyDEUsed     bool   `json:"hydeUsed"`
	HyDECached   bool   `json:"hydeCached,omitempty"`
	RerankerUsed bool   `json:"rerankerUsed"`
}

// Response is the planner output.
type Response struct {
	Results        []Result         `json:"results"`
	Total          uint64           `json:"total"`
	HasMore        bool             `json:"hasMore"`
	NextCursor     string           `json:"nextCursor,omitempty"`
	ChainBreakdown map[string]int64 `json:"chainBreakdown"`
	Metadata       QueryMetadata    `json:"metadata"`
}

// VectorIndex is the slice of the vector store the planner needs.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, filter *qdrant.Filter, limit, offset int, scoreThreshold float32) ([]*qdrant.ScoredPoint, bool, error)
	Scroll(ctx context.Context, filter *qdrant.Filter, limit int, orderBy *qdrant.OrderBy) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, filter *qdrant.Filter) (uint64, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Options are the planner defaults; per-request flags override them.
type Options struct {
	HyDEEnabled     bool
	RerankerEnabled bool
	RerankTopK      int
}

// Planner routes a request to the filtered-listing or semantic path.
type Planner struct {
	vectors  VectorIndex
	embedder Embedder
	hyde     *HyDE
	reranker Reranker
	opts     Options
	logger   *zap.Logger
}

// NewPlanner builds the planner. hyde and reranker may be nil; the matching
// features then stay off regardless of request flags.
func NewPlanner(vectors VectorIndex, embedder Embedder, hyde *HyDE, reranker Reranker, opts Options, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = DefaultRerankTopK
	}
	return &Planner{
		vectors:  vectors,
		embedder: embedder,
		hyde:     hyde,
		reranker: reranker,
		opts:     opts,
		logger:   logger.Named("search"),
	}
}

// Search executes one request end to end.
func (p *Planner) Search(ctx context.Context, req *Request) (*Response, error) {
	started := time.Now()

	limit, offset, err := normalizePage(req)
	if err != nil {
		return nil, err
	}

	mode := "semantic"
	if strings.TrimSpace(req.Query) == "" {
		mode = "filtered"
	}
	ctx, span := telemetry.StartSearchSpan(ctx, mode)
	defer span.End()

	var resp *Response
	if mode == "filtered" {
		metrics.SearchRequests.WithLabelValues("filtered").Inc()
		resp, err = p.listFiltered(ctx, req, limit, offset)
	} else {
		metrics.SearchRequests.WithLabelValues("semantic").Inc()
		resp, err = p.searchSemantic(ctx, req, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	metrics.SearchDuration.Observe(time.Since(started).Seconds())
	return resp, nil
}

func normalizePage(req *Request) (limit, offset int, err error) {
	limit = req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset = req.Offset
	if req.Cursor != "" {
		offset, err = DecodeCursor(req.Cursor)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: negative offset", ErrInvalidRequest)
	}
	return limit, offset, nil
}

// listFiltered is the no-query path: payload-index listing with server-side
// ordering where the store supports it.
func (p *Planner) listFiltered(ctx context.Context, req *Request, limit, offset int) (*Response, error) {
	field, order := effectiveSort(req.Sort, SortCreatedAt)
	if field == SortRelevance {
		// Relevance is meaningless without a query.
		field, order = SortCreatedAt, "desc"
	}

	compiled := filter.Compile(req.Filters, time.Now().UTC())
	totalCh := p.countAsync(ctx, compiled)

	var (
		results []Result
		hasMore bool
	)
	switch field {
	case SortName:
		// The store cannot order by string keyword; scroll and sort here.
		points, err := p.vectors.Scroll(ctx, compiled, inMemorySortCap, nil)
		if err != nil {
			return nil, err
		}
		results = retrievedToResults(points)
		sortResults(results, field, order)
		results, hasMore = slicePage(results, offset, limit)

	case SortCreatedAt, SortReputation:
		orderBy := &qdrant.OrderBy{
			Key:       payloadSortKey(field),
			Direction: sortDirection(order),
		}
		points, err := p.vectors.Scroll(ctx, compiled, offset+limit+1, orderBy)
		if err != nil {
			return nil, err
		}
		results = retrievedToResults(points)
		results, hasMore = slicePage(results, offset, limit)

	default:
		return nil, fmt.Errorf("%w: unknown sort field %q", ErrInvalidRequest, field)
	}

	total, err := totalCh.wait(ctx)
	if err != nil {
		return nil, err
	}

	return p.respond(results, total, hasMore, offset, limit, QueryMetadata{Mode: "filtered"}), nil
}

// searchSemantic is the query path: optional HyDE expansion, embed, vector
// search, optional rerank.
func (p *Planner) searchSemantic(ctx context.Context, req *Request, limit, offset int) (*Response, error) {
	meta := QueryMetadata{Mode: "semantic"}

	effectiveText := SanitizeQuery(req.Query)
	filters := req.Filters

	useHyDE := p.opts.HyDEEnabled && p.hyde != nil
	if req.UseHyDE != nil {
		useHyDE = *req.UseHyDE && p.hyde != nil
	}
	if useHyDE && Eligible(effectiveText) {
		exp := p.hyde.Expand(ctx, effectiveText)
		effectiveText = exp.Description
		filters = MergeFilters(filters, exp.Filters)
		meta.HyDEUsed = true
		meta.HyDECached = exp.Cached
	}

	vectors, err := p.embedder.Embed(ctx, []string{effectiveText})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	compiled := filter.Compile(filters, time.Now().UTC())
	totalCh := p.countAsync(ctx, compiled)

	field, order := effectiveSort(req.Sort, SortRelevance)

	var (
		results []Result
		hasMore bool
	)
	switch field {
	case SortRelevance:
		results, hasMore, meta.RerankerUsed, err = p.searchByRelevance(ctx, req, vectors[0], compiled, limit, offset)
		if err != nil {
			return nil, err
		}
		if order == "asc" {
			reverseResults(results)
		}

	case SortName, SortCreatedAt, SortReputation:
		hits, _, err := p.vectors.Search(ctx, vectors[0], compiled, inMemorySortCap, 0, req.MinScore)
		if err != nil {
			return nil, err
		}
		results = scoredToResults(hits)
		sortResults(results, field, order)
		results, hasMore = slicePage(results, offset, limit)

	default:
		return nil, fmt.Errorf("%w: unknown sort field %q", ErrInvalidRequest, field)
	}

	total, err := totalCh.wait(ctx)
	if err != nil {
		return nil, err
	}

	return p.respond(results, total, hasMore, offset, limit, meta), nil
}

func (p *Planner) searchByRelevance(ctx context.Context, req *Request, vector []float32, compiled *qdrant.Filter, limit, offset int) ([]Result, bool, bool, error) {
	useReranker := p.opts.RerankerEnabled && p.reranker != nil
	if req.UseReranker != nil {
		useReranker = *req.UseReranker && p.reranker != nil
	}

	fetchLimit := limit
	if useReranker && p.opts.RerankTopK > fetchLimit {
		fetchLimit = p.opts.RerankTopK
	}

	hits, hasMore, err := p.vectors.Search(ctx, vector, compiled, fetchLimit, offset, req.MinScore)
	if err != nil {
		return nil, false, false, err
	}
	results := scoredToResults(hits)

	reranked := false
	if useReranker && len(results) > 0 {
		ordered, err := p.rerank(ctx, req.Query, results, limit)
		if err != nil {
			p.logger.Warn("rerank failed, keeping vector order", zap.Error(err))
		} else {
			results = ordered
			reranked = true
		}
	}

	if len(results) > limit {
		results = results[:limit]
		hasMore = true
	}
	return results, hasMore, reranked, nil
}

func (p *Planner) rerank(ctx context.Context, query string, results []Result, limit int) ([]Result, error) {
	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = strings.TrimSpace(r.Agent.Name + "\n" + r.Agent.Description)
	}

	ranked, err := p.reranker.Rerank(ctx, query, docs, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(ranked))
	for _, rd := range ranked {
		r := results[rd.Index]
		r.RerankScore = rd.RelevanceScore
		out = append(out, r)
	}
	return out, nil
}

// countAsync runs the total count alongside the main fetch.
type countResult struct {
	ch chan struct {
		n   uint64
		err error
	}
}

func (p *Planner) countAsync(ctx context.Context, compiled *qdrant.Filter) countResult {
	c := countResult{ch: make(chan struct {
		n   uint64
		err error
	}, 1)}
	go func() {
		n, err := p.vectors.Count(ctx, compiled)
		c.ch <- struct {
			n   uint64
			err error
		}{n, err}
	}()
	return c
}

func (c countResult) wait(ctx context.Context) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-c.ch:
		if r.err != nil {
			return 0, fmt.Errorf("count: %w", r.err)
		}
		return r.n, nil
	}
}

func (p *Planner) respond(results []Result, total uint64, hasMore bool, offset, limit int, meta QueryMetadata) *Response {
	breakdown := make(map[string]int64)
	for _, r := range results {
		breakdown[strconv.FormatInt(r.Agent.ChainID, 10)]++
	}

	resp := &Response{
		Results:        results,
		Total:          total,
		HasMore:        hasMore,
		ChainBreakdown: breakdown,
		Metadata:       meta,
	}
	if hasMore {
		resp.NextCursor = EncodeCursor(offset + limit)
	}
	return resp
}

func retrievedToResults(points []*qdrant.RetrievedPoint) []Result {
	out := make([]Result, 0, len(points))
	for _, pt := range points {
		agent := summaryFromPayload(pt.GetPayload())
		out = append(out, Result{Agent: agent, MatchReasons: matchReasons(0, agent)})
	}
	return out
}

func scoredToResults(points []*qdrant.ScoredPoint) []Result {
	out := make([]Result, 0, len(points))
	for _, pt := range points {
		agent := summaryFromPayload(pt.GetPayload())
		out = append(out, Result{
			Agent:        agent,
			Score:        pt.GetScore(),
			MatchReasons: matchReasons(pt.GetScore(), agent),
		})
	}
	return out
}

func effectiveSort(s *Sort, defaultField string) (field, order string) {
	field, order = defaultField, "desc"
	if s == nil {
		return field, order
	}
	if s.Field != "" {
		field = s.Field
	}
	if s.Order == "asc" {
		order = "asc"
	}
	return field, order
}

func payloadSortKey(field string) string {
	switch field {
	case SortCreatedAt:
		return "created_at"
	case SortReputation:
		return "reputation"
	default:
		return field
	}
}

func sortDirection(order string) *qdrant.Direction {
	if order == "asc" {
		return qdrant.Direction_Asc.Enum()
	}
	return qdrant.Direction_Desc.Enum()
}

// sortResults orders in memory, stable, tie-breaking by agent_id.
func sortResults(results []Result, field, order string) {
	asc := order == "asc"
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Agent, results[j].Agent
		var less, eq bool
		switch field {
		case SortName:
			less, eq = a.Name < b.Name, a.Name == b.Name
		case SortCreatedAt:
			// RFC 3339 strings order lexicographically.
			less, eq = a.CreatedAt < b.CreatedAt, a.CreatedAt == b.CreatedAt
		case SortReputation:
			less, eq = a.Reputation < b.Reputation, a.Reputation == b.Reputation
		default:
			eq = true
		}
		if eq {
			return a.AgentID < b.AgentID
		}
		if asc {
			return less
		}
		return !less
	})
}

func reverseResults(results []Result) {
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
}

func slicePage(results []Result, offset, limit int) ([]Result, bool) {
	if offset >= len(results) {
		return []Result{}, false
	}
	end := offset + limit
	hasMore := len(results) > end
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end], hasMore
}

type cursorPayload struct {
	Offset int `json:"offset"`
}

// EncodeCursor packs an offset into the opaque page token.
func EncodeCursor(offset int) string {
	data, _ := json.Marshal(cursorPayload{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor is the inverse of EncodeCursor.
func DecodeCursor(cursor string) (int, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	var c cursorPayload
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, fmt.Errorf("parse cursor: %w", err)
	}
	return c.Offset, nil
}
