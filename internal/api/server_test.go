package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/search"
	"github.com/agentgate/agentgate/internal/store"
)

type fakeSearcher struct {
	lastReq *search.Request
	resp    *search.Response
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, req *search.Request) (*search.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &search.Response{Results: []search.Result{}, ChainBreakdown: map[string]int64{}}, nil
}

type fakeIndex struct {
	points      []*qdrant.RetrievedPoint
	getErr      error
	countByID   map[int64]uint64
	healthErr   error
	lastGetIDs  []string
	countCalled int
}

func (f *fakeIndex) GetByIDs(_ context.Context, agentIDs []string) ([]*qdrant.RetrievedPoint, error) {
	f.lastGetIDs = agentIDs
	return f.points, f.getErr
}

func (f *fakeIndex) Count(_ context.Context, flt *qdrant.Filter) (uint64, error) {
	f.countCalled++
	if flt == nil || len(flt.GetMust()) == 0 {
		return 0, nil
	}
	chain := flt.GetMust()[0].GetField().GetMatch().GetInteger()
	return f.countByID[chain], nil
}

func (f *fakeIndex) Healthy(_ context.Context) error { return f.healthErr }

type fakeHealth struct{ err error }

func (f *fakeHealth) Healthy(_ context.Context) error { return f.err }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type testServer struct {
	srv      *Server
	searcher *fakeSearcher
	index    *fakeIndex
	store    *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	searcher := &fakeSearcher{}
	index := &fakeIndex{countByID: map[int64]uint64{}}
	st := openTestStore(t)
	srv := NewServer(ServerConfig{LLMConfigured: true, Version: "test"}, searcher, index, st, nil, nil)
	return &testServer{srv: srv, searcher: searcher, index: index, store: st}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestListAgentsParsesFilters(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/agents?mcp=true&chainIds=1,8453&skills[]=translation&skills[]=search&limit=5&sort=reputation&order=asc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	req := ts.searcher.lastReq
	if req == nil {
		t.Fatal("searcher not called")
	}
	if req.Filters == nil {
		t.Fatal("filters not parsed")
	}
	if req.Filters.MCP == nil || !*req.Filters.MCP {
		t.Error("mcp filter not set")
	}
	if len(req.Filters.ChainIDs) != 2 || req.Filters.ChainIDs[0] != 1 || req.Filters.ChainIDs[1] != 8453 {
		t.Errorf("chainIds = %v", req.Filters.ChainIDs)
	}
	if len(req.Filters.Skills) != 2 || req.Filters.Skills[0] != "translation" {
		t.Errorf("skills = %v", req.Filters.Skills)
	}
	if req.Limit != 5 {
		t.Errorf("limit = %d, want 5", req.Limit)
	}
	if req.Sort == nil || req.Sort.Field != "reputation" || req.Sort.Order != "asc" {
		t.Errorf("sort = %+v", req.Sort)
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Error("expected success envelope")
	}
	if body["requestId"] == "" {
		t.Error("missing requestId")
	}
}

func TestListAgentsRejectsBadParam(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/agents?limit=plenty", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["code"] != CodeValidation {
		t.Errorf("code = %v, want %s", body["code"], CodeValidation)
	}
	if body["success"] != false {
		t.Error("error envelope must set success=false")
	}
}

func TestSearchPostBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/search", `{"query":"translation agents","filters":{"mcp":true},"limit":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	req := ts.searcher.lastReq
	if req == nil || req.Query != "translation agents" {
		t.Fatalf("query not passed: %+v", req)
	}
	if req.Filters == nil || req.Filters.MCP == nil || !*req.Filters.MCP {
		t.Error("body filters not decoded")
	}
}

func TestSearchInvalidCursorMapsToValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.searcher.err = fmt.Errorf("decode cursor: %w", search.ErrInvalidRequest)

	rec := ts.do(t, http.MethodPost, "/search", `{"cursor":"garbage"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != CodeValidation {
		t.Errorf("code = %v", body["code"])
	}
}

func TestGetAgentDetail(t *testing.T) {
	ts := newTestServer(t)
	ts.index.points = []*qdrant.RetrievedPoint{{
		Payload: map[string]*qdrant.Value{
			"agent_id":  {Kind: &qdrant.Value_StringValue{StringValue: "11155111:42"}},
			"name":      {Kind: &qdrant.Value_StringValue{StringValue: "Translator"}},
			"chain_id":  {Kind: &qdrant.Value_IntegerValue{IntegerValue: 11155111}},
			"mcp_tools": {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: []*qdrant.Value{{Kind: &qdrant.Value_StringValue{StringValue: "translate"}}}}}},
			"curated_by": {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: []*qdrant.Value{
				{Kind: &qdrant.Value_StringValue{StringValue: "0xc1"}},
				{Kind: &qdrant.Value_StringValue{StringValue: "0xc2"}},
			}}}},
		},
	}}

	// Relational classification takes priority on the detail view.
	err := ts.store.UpsertClassification(context.Background(), &model.Classification{
		AgentID:      "11155111:42",
		Skills:       []model.SlugConfidence{{Slug: "translation", Confidence: 1.0}},
		Confidence:   1.0,
		Source:       model.ClassificationSourceCreator,
		ClassifiedAt: time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed classification: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/agents/11155111:42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	data := body["data"].(map[string]any)
	agent := data["agent"].(map[string]any)
	if agent["name"] != "Translator" {
		t.Errorf("agent name = %v", agent["name"])
	}
	tools := data["mcpTools"].([]any)
	if len(tools) != 1 || tools[0] != "translate" {
		t.Errorf("mcpTools = %v", tools)
	}
	curators := data["curatedBy"].([]any)
	if len(curators) != 2 || curators[0] != "0xc1" || curators[1] != "0xc2" {
		t.Errorf("curatedBy = %v, want both curators", curators)
	}
	class := data["classification"].(map[string]any)
	if class["source"] != model.ClassificationSourceCreator {
		t.Errorf("classification source = %v", class["source"])
	}
}

func TestGetAgentRejectsBadID(t *testing.T) {
	ts := newTestServer(t)

	for _, id := range []string{"99:abc", "1:ab-c", "noseparator"} {
		rec := ts.do(t, http.MethodGet, "/agents/"+id, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("id %q: status = %d, want 400", id, rec.Code)
		}
	}
	if ts.index.lastGetIDs != nil {
		t.Error("vector store must not be queried for invalid IDs")
	}
}

func TestGetAgentNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/agents/1:404", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != CodeNotFound {
		t.Errorf("code = %v", body["code"])
	}
}

func TestClassifyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Enqueue.
	rec := ts.do(t, http.MethodPost, "/agents/1:42/classify", `{"force":false}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d", rec.Code)
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	if data["queued"] != true {
		t.Error("first enqueue should create a job")
	}

	// Duplicate enqueue dedupes.
	rec = ts.do(t, http.MethodPost, "/agents/1:42/classify", "")
	data = decodeBody(t, rec)["data"].(map[string]any)
	if data["queued"] != false {
		t.Error("second enqueue should dedupe")
	}

	// Pending job reads as 202.
	rec = ts.do(t, http.MethodGet, "/agents/1:42/classify", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pending read status = %d, want 202", rec.Code)
	}

	// Once classified, reads return the result.
	err := ts.store.UpsertClassification(context.Background(), &model.Classification{
		AgentID:      "1:42",
		Domains:      []model.SlugConfidence{{Slug: "finance", Confidence: 0.9}},
		Confidence:   0.9,
		Source:       model.ClassificationSourceLLM,
		ClassifiedAt: time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed classification: %v", err)
	}
	rec = ts.do(t, http.MethodGet, "/agents/1:42/classify", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("classified read status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)["data"].(map[string]any)
	if body["source"] != model.ClassificationSourceLLM {
		t.Errorf("source = %v", body["source"])
	}
}

func TestGetClassifyUnknownAgent(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/agents/1:777/classify", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChains(t *testing.T) {
	ts := newTestServer(t)
	ts.index.countByID = map[int64]uint64{1: 10, 11155111: 4, 8453: 7}

	rec := ts.do(t, http.MethodGet, "/chains", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	data := decodeBody(t, rec)["data"].(map[string]any)
	chains := data["chains"].([]any)
	if len(chains) != 6 {
		t.Fatalf("got %d chains, want 6", len(chains))
	}
	first := chains[0].(map[string]any)
	if first["chainId"].(float64) != 1 || first["name"] != "ethereum" {
		t.Errorf("chains must be sorted by id, got %v", first)
	}
	if data["totalAgents"].(float64) != 21 {
		t.Errorf("totalAgents = %v, want 21", data["totalAgents"])
	}
}

func TestTaxonomy(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/taxonomy?type=skill", "")
	data := decodeBody(t, rec)["data"].(map[string]any)
	if _, ok := data["skills"]; !ok {
		t.Error("missing skills")
	}
	if _, ok := data["domains"]; ok {
		t.Error("type=skill must not include domains")
	}

	rec = ts.do(t, http.MethodGet, "/taxonomy", "")
	data = decodeBody(t, rec)["data"].(map[string]any)
	if _, ok := data["skills"]; !ok {
		t.Error("default type=all missing skills")
	}
	if _, ok := data["domains"]; !ok {
		t.Error("default type=all missing domains")
	}

	rec = ts.do(t, http.MethodGet, "/taxonomy?type=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus type status = %d, want 400", rec.Code)
	}
}

func TestHealthMatrix(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	deps := data["dependencies"].(map[string]any)
	if deps["database"].(map[string]any)["status"] != "ok" {
		t.Error("database should be ok")
	}
	if deps["graph"].(map[string]any)["status"] != "unconfigured" {
		t.Error("nil graph should report unconfigured")
	}
	if deps["llm"].(map[string]any)["status"] != "ok" {
		t.Error("llm configured should report ok")
	}
}

func TestHealthDegradedOnVectorStoreFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.index.healthErr = fmt.Errorf("connection refused")

	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	data := decodeBody(t, rec)["data"].(map[string]any)
	if data["status"] != "degraded" {
		t.Errorf("overall status = %v", data["status"])
	}
	vs := data["dependencies"].(map[string]any)["vectorStore"].(map[string]any)
	if vs["status"] != "error" {
		t.Errorf("vectorStore status = %v", vs["status"])
	}
}

func TestRateLimitExceeded(t *testing.T) {
	searcher := &fakeSearcher{}
	index := &fakeIndex{countByID: map[int64]uint64{}}
	st := openTestStore(t)
	srv := NewServer(ServerConfig{
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1},
	}, searcher, index, st, nil, nil)
	ts := &testServer{srv: srv, searcher: searcher, index: index, store: st}

	rec := ts.do(t, http.MethodGet, "/taxonomy", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/taxonomy", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if body := decodeBody(t, rec); body["code"] != CodeRateLimited {
		t.Errorf("code = %v, want %s", body["code"], CodeRateLimited)
	}

	// A distinct API key gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/taxonomy", nil)
	req.Header.Set("X-Api-Key", "partner-key")
	keyRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(keyRec, req)
	if keyRec.Code != http.StatusOK {
		t.Errorf("keyed request status = %d, want 200", keyRec.Code)
	}

	// Health bypasses throttling even when the IP bucket is empty.
	rec = ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want bypass", rec.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/taxonomy", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Errorf("X-Request-Id = %q", got)
	}
	if body := decodeBody(t, rec); body["requestId"] != "caller-supplied" {
		t.Errorf("requestId = %v", body["requestId"])
	}
}
