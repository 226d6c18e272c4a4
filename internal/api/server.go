// Package api is the HTTP surface of the gateway: agent listing and detail,
// search, classification, chain counts, taxonomy, and the health matrix.
// Every response carries a request ID; errors use a single envelope shape.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/classify"
	"github.com/agentgate/agentgate/internal/filter"
	"github.com/agentgate/agentgate/internal/identity"
	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/search"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/vectorstore"
)

// Error envelope codes.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

// Searcher runs list and search requests.
type Searcher interface {
	Search(ctx context.Context, req *search.Request) (*search.Response, error)
}

// AgentIndex is the slice of the vector store the API reads directly.
type AgentIndex interface {
	GetByIDs(ctx context.Context, agentIDs []string) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, filter *qdrant.Filter) (uint64, error)
	Healthy(ctx context.Context) error
}

// HealthChecker probes one upstream dependency.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// ServerConfig configures the gateway API server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// RateLimit configures per-key request throttling middleware.
	RateLimit RateLimitConfig

	// LLMConfigured reports whether a generative provider key is present.
	// Health only; the API never calls the LLM synchronously.
	LLMConfigured bool

	// Version is reported by /health.
	Version string
}

// Server is the gateway API server.
type Server struct {
	cfg      ServerConfig
	searcher Searcher
	index    AgentIndex
	store    *store.Store
	graph    HealthChecker
	logger   *zap.Logger
	mux      *http.ServeMux
	limiter  *keyRateLimiter
}

// NewServer creates the API server. graph may be nil when no upstream is
// configured.
func NewServer(cfg ServerConfig, searcher Searcher, index AgentIndex, st *store.Store, graph HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		searcher: searcher,
		index:    index,
		store:    st,
		graph:    graph,
		logger:   logger.Named("api"),
		mux:      http.NewServeMux(),
		limiter:  newKeyRateLimiter(cfg.RateLimit),
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	// Chain: request ID -> rate limit -> access log -> handlers.
	h := http.Handler(s.mux)
	h = s.logMiddleware(h)
	h = s.limiter.middleware(h)
	return requestIDMiddleware(h)
}

// Start runs the server and blocks until context cancellation or a listen
// error.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting api server", zap.String("addr", s.cfg.ListenAddr))

	httpSrv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api shutdown failed: %w", err)
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server error after shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.handle("GET /agents", s.handleListAgents)
	s.handle("GET /agents/{id}", s.handleGetAgent)
	s.handle("POST /agents/{id}/classify", s.handleEnqueueClassify)
	s.handle("GET /agents/{id}/classify", s.handleGetClassify)
	s.handle("POST /search", s.handleSearch)
	s.handle("GET /chains", s.handleChains)
	s.handle("GET /taxonomy", s.handleTaxonomy)
	s.handle("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// handle registers a route with per-route request metrics.
func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(rw, r)
		metrics.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(rw.statusCode)).Inc()
	})
}

// --- Handlers ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	s.runSearch(w, r, req)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return
	}
	s.runSearch(w, r, &req)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, req *search.Request) {
	resp, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		if errors.Is(err, search.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "search failed")
		return
	}
	writeData(w, r, http.StatusOK, resp)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := identity.Parse(id); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	points, err := s.index.GetByIDs(r.Context(), []string{id})
	if err != nil {
		s.logger.Error("agent lookup failed", zap.String("agent_id", id), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "vector store unavailable")
		return
	}
	if len(points) == 0 {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "agent not found: "+id)
		return
	}

	detail := agentDetail(points[0].GetPayload())

	// Relational classification wins over whatever the payload carries.
	if c, err := classify.Resolve(r.Context(), s.store, id); err == nil && c.Source != model.ClassificationSourceNone {
		detail["classification"] = classificationBody(c)
	}

	writeData(w, r, http.StatusOK, detail)
}

// agentDetail extends the list summary with the capability fields only the
// detail view exposes.
func agentDetail(p map[string]*qdrant.Value) map[string]any {
	summary := search.SummaryFromPayload(p)
	return map[string]any{
		"agent":          summary,
		"mcpTools":       vectorstore.PayloadStrings(p, "mcp_tools"),
		"mcpPrompts":     vectorstore.PayloadStrings(p, "mcp_prompts"),
		"mcpResources":   vectorstore.PayloadStrings(p, "mcp_resources"),
		"mcpVersion":     vectorstore.PayloadString(p, "mcp_version"),
		"inputModes":     vectorstore.PayloadStrings(p, "input_modes"),
		"outputModes":    vectorstore.PayloadStrings(p, "output_modes"),
		"supportedTrust": vectorstore.PayloadStrings(p, "supported_trust"),
		"operators":      vectorstore.PayloadStrings(p, "operators"),
		"email":          vectorstore.PayloadString(p, "email"),
		"did":            vectorstore.PayloadString(p, "did"),
		"walletAddress":  vectorstore.PayloadString(p, "wallet_address"),
		"agentUri":       vectorstore.PayloadString(p, "agent_uri"),
		"curatedBy":      vectorstore.PayloadStrings(p, "curated_by"),
		"validations": map[string]int64{
			"total":   vectorstore.PayloadInt(p, "total_validations"),
			"pending": vectorstore.PayloadInt(p, "pending_validations"),
			"expired": vectorstore.PayloadInt(p, "expired_validations"),
		},
	}
}

func classificationBody(c *model.Classification) map[string]any {
	return map[string]any{
		"skills":       c.Skills,
		"domains":      c.Domains,
		"confidence":   c.Confidence,
		"source":       c.Source,
		"modelVersion": c.ModelVersion,
		"classifiedAt": c.ClassifiedAt,
	}
}

func (s *Server) handleEnqueueClassify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := identity.Parse(id); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	// Body is optional; {"force": true} bypasses the creator-declaration
	// shortcut.
	var body struct {
		Force bool `json:"force"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	job, created, err := s.store.EnqueueClassification(r.Context(), id, body.Force)
	if err != nil {
		s.logger.Error("enqueue classification failed", zap.String("agent_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "enqueue failed")
		return
	}

	writeData(w, r, http.StatusAccepted, map[string]any{
		"jobId":  job.ID,
		"status": job.Status,
		"queued": created,
	})
}

func (s *Server) handleGetClassify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := identity.Parse(id); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	c, err := classify.Resolve(r.Context(), s.store, id)
	if err != nil {
		s.logger.Error("classification lookup failed", zap.String("agent_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "classification lookup failed")
		return
	}
	if c.Source != model.ClassificationSourceNone {
		writeData(w, r, http.StatusOK, classificationBody(c))
		return
	}

	job, err := s.store.LatestJobForAgent(r.Context(), id)
	if err != nil && !store.IsNotFound(err) {
		s.logger.Error("job lookup failed", zap.String("agent_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "classification lookup failed")
		return
	}
	if job != nil && (job.Status == model.JobStatusPending || job.Status == model.JobStatusProcessing) {
		writeData(w, r, http.StatusAccepted, map[string]any{
			"status":   job.Status,
			"attempts": job.Attempts,
		})
		return
	}

	writeError(w, r, http.StatusNotFound, CodeNotFound, "no classification for agent: "+id)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	type chainEntry struct {
		ChainID int64  `json:"chainId"`
		Name    string `json:"name"`
		Agents  uint64 `json:"agents"`
	}

	ids := make([]int64, 0, len(identity.KnownChains))
	for id := range identity.KnownChains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := time.Now().UTC()
	chains := make([]chainEntry, 0, len(ids))
	var total uint64
	for _, id := range ids {
		chainID := id
		count, err := s.index.Count(r.Context(), filter.Compile(&filter.SearchFilters{ChainID: &chainID}, now))
		if err != nil {
			s.logger.Error("chain count failed", zap.Int64("chain_id", id), zap.Error(err))
			writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "vector store unavailable")
			return
		}
		chains = append(chains, chainEntry{ChainID: id, Name: identity.KnownChains[id], Agents: count})
		total += count
	}

	writeData(w, r, http.StatusOK, map[string]any{
		"chains":      chains,
		"totalAgents": total,
	})
}

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "all"
	}

	body := map[string]any{}
	switch kind {
	case "skill":
		body["skills"] = classify.SkillSlugs()
	case "domain":
		body["domains"] = classify.DomainSlugs()
	case "all":
		body["skills"] = classify.SkillSlugs()
		body["domains"] = classify.DomainSlugs()
	default:
		writeError(w, r, http.StatusBadRequest, CodeValidation, "type must be skill, domain, or all")
		return
	}
	writeData(w, r, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	type depStatus struct {
		Status string `json:"status"` // ok | error | unconfigured
		Error  string `json:"error,omitempty"`
	}

	deps := map[string]depStatus{}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		deps["database"] = depStatus{Status: "error", Error: err.Error()}
		healthy = false
	} else {
		deps["database"] = depStatus{Status: "ok"}
	}

	if err := s.index.Healthy(ctx); err != nil {
		deps["vectorStore"] = depStatus{Status: "error", Error: err.Error()}
		healthy = false
	} else {
		deps["vectorStore"] = depStatus{Status: "ok"}
	}

	if s.graph == nil {
		deps["graph"] = depStatus{Status: "unconfigured"}
	} else if err := s.graph.Healthy(ctx); err != nil {
		deps["graph"] = depStatus{Status: "error", Error: err.Error()}
		healthy = false
	} else {
		deps["graph"] = depStatus{Status: "ok"}
	}

	if s.cfg.LLMConfigured {
		deps["llm"] = depStatus{Status: "ok"}
	} else {
		deps["llm"] = depStatus{Status: "unconfigured"}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeData(w, r, status, map[string]any{
		"status":       overall,
		"version":      s.cfg.Version,
		"dependencies": deps,
	})
}

// --- Middleware ---

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDMiddleware assigns every request a UUID (or honors the caller's
// X-Request-Id) and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request's assigned ID, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.String("request_id", RequestID(r.Context())),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, map[string]any{
		"success":   true,
		"data":      data,
		"requestId": RequestID(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success":   false,
		"error":     message,
		"code":      code,
		"requestId": RequestID(r.Context()),
	})
}
