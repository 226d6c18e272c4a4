package classify

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/qdrant/go-client/qdrant"

	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/provider"
	"github.com/agentgate/agentgate/internal/store"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
	lastUser string
}

func (f *fakeLLM) Complete(_ context.Context, req *provider.CompletionRequest) (string, error) {
	f.calls++
	f.lastUser = req.UserPrompt
	return f.response, f.err
}

func (f *fakeLLM) Name() string { return "fake" }

func TestClassifyPrefersCreatorDeclarations(t *testing.T) {
	llm := &fakeLLM{response: `{"skills": [], "domains": []}`}
	c := NewClassifier(llm, "test-model", nil)

	rec := &model.AgentRecord{
		AgentID:         "1:7",
		Name:            "translator",
		DeclaredSkills:  []string{"translation", "not-a-real-slug"},
		DeclaredDomains: []string{"education"},
	}

	got, err := c.Classify(context.Background(), rec, false)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Source != model.ClassificationSourceCreator {
		t.Fatalf("source = %q, want creator-defined", got.Source)
	}
	if llm.calls != 0 {
		t.Fatalf("LLM called %d times for a declared agent", llm.calls)
	}
	if len(got.Skills) != 1 || got.Skills[0].Slug != "translation" {
		t.Fatalf("skills = %+v, want only the valid declared slug", got.Skills)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("declared confidence = %v, want 1.0", got.Confidence)
	}
}

func TestClassifyForceBypassesDeclarations(t *testing.T) {
	llm := &fakeLLM{response: "```json\n" + `{
		"skills": [{"slug": "code-generation", "confidence": 0.9}],
		"domains": [{"slug": "developer-tools", "confidence": 0.7}]
	}` + "\n```"}
	c := NewClassifier(llm, "test-model", nil)

	rec := &model.AgentRecord{
		AgentID:        "1:7",
		Name:           "coder",
		DeclaredSkills: []string{"translation"},
	}

	got, err := c.Classify(context.Background(), rec, true)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Source != model.ClassificationSourceLLM {
		t.Fatalf("source = %q, want llm-classification", got.Source)
	}
	if llm.calls != 1 {
		t.Fatalf("LLM calls = %d, want 1", llm.calls)
	}
	if got.Skills[0].Slug != "code-generation" {
		t.Fatalf("skills = %+v", got.Skills)
	}
	if got.Confidence != 0.8 {
		t.Fatalf("mean confidence = %v, want 0.8", got.Confidence)
	}
	if got.ModelVersion != "test-model" {
		t.Fatalf("model version = %q", got.ModelVersion)
	}
}

func TestClassifyDropsInvalidLLMSlugs(t *testing.T) {
	llm := &fakeLLM{response: `{
		"skills": [{"slug": "summarization", "confidence": 0.85},
		           {"slug": "made-up-skill", "confidence": 0.99}],
		"domains": [{"slug": "bogus-domain", "confidence": 0.9}]
	}`}
	c := NewClassifier(llm, "", nil)

	got, err := c.Classify(context.Background(), &model.AgentRecord{AgentID: "1:8", Name: "x"}, false)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(got.Skills) != 1 || got.Skills[0].Slug != "summarization" {
		t.Fatalf("skills = %+v", got.Skills)
	}
	if len(got.Domains) != 0 {
		t.Fatalf("domains = %+v, want invalid slug dropped", got.Domains)
	}
}

func TestClassifyErrorsWhenNothingValid(t *testing.T) {
	llm := &fakeLLM{response: `{"skills": [{"slug": "nope", "confidence": 0.9}], "domains": []}`}
	c := NewClassifier(llm, "", nil)

	if _, err := c.Classify(context.Background(), &model.AgentRecord{AgentID: "1:9", Name: "x"}, false); err == nil {
		t.Fatal("expected error when the LLM yields no valid slugs")
	}
}

func TestClassifyPromptCarriesTaxonomy(t *testing.T) {
	llm := &fakeLLM{response: `{"skills": [{"slug": "search", "confidence": 0.8}], "domains": []}`}
	c := NewClassifier(llm, "", nil)

	rec := &model.AgentRecord{
		AgentID:     "1:10",
		Name:        "finder",
		Description: "finds things",
		MCPTools:    []string{"lookup"},
	}
	if _, err := c.Classify(context.Background(), rec, false); err != nil {
		t.Fatalf("classify: %v", err)
	}
	for _, want := range []string{"finder", "finds things", "lookup", "translation", "finance"} {
		if !strings.Contains(llm.lastUser, want) {
			t.Fatalf("prompt missing %q:\n%s", want, llm.lastUser)
		}
	}
}

type fakeAgents struct {
	records map[string]model.AgentRecord
	err     error
}

func (f *fakeAgents) FetchAgentsByIDs(_ context.Context, ids []string) ([]model.AgentRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.AgentRecord
	for _, id := range ids {
		if rec, ok := f.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakePoints struct {
	points []*qdrant.RetrievedPoint
	filter *qdrant.Filter
	limit  int
}

func (f *fakePoints) Scroll(_ context.Context, filter *qdrant.Filter, limit int, _ *qdrant.OrderBy) ([]*qdrant.RetrievedPoint, error) {
	f.filter = filter
	f.limit = limit
	if len(f.points) > limit {
		return f.points[:limit], nil
	}
	return f.points, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestConsumerRunCompletesJobs(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	agents := &fakeAgents{records: map[string]model.AgentRecord{
		"1:1": {AgentID: "1:1", Name: "a", DeclaredSkills: []string{"search"}},
		"1:2": {AgentID: "1:2", Name: "b", DeclaredDomains: []string{"finance"}},
	}}
	consumer := NewConsumer(st, NewClassifier(&fakeLLM{}, "", nil), agents, &fakePoints{}, nil)

	for _, id := range []string{"1:1", "1:2"} {
		if _, _, err := st.EnqueueClassification(ctx, id, false); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	completed, err := consumer.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if completed != 2 {
		t.Fatalf("completed = %d, want 2", completed)
	}

	c, err := st.GetClassification(ctx, "1:1")
	if err != nil {
		t.Fatalf("get classification: %v", err)
	}
	if c.Source != model.ClassificationSourceCreator {
		t.Fatalf("source = %q", c.Source)
	}

	pending, _ := st.CountJobs(ctx, model.JobStatusPending)
	if pending != 0 {
		t.Fatalf("pending after drain = %d", pending)
	}
}

func TestConsumerRunRequeuesFailures(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	// Agent missing upstream: every attempt fails.
	consumer := NewConsumer(st, NewClassifier(&fakeLLM{}, "", nil), &fakeAgents{}, &fakePoints{}, nil)
	if _, _, err := st.EnqueueClassification(ctx, "1:404", false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	completed, err := consumer.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if completed != 0 {
		t.Fatalf("completed = %d, want 0", completed)
	}

	job, err := st.LatestJobForAgent(ctx, "1:404")
	if err != nil {
		t.Fatalf("latest job: %v", err)
	}
	if job.Status != model.JobStatusPending || job.Attempts != 1 {
		t.Fatalf("job after one failure = %+v, want pending attempts=1", job)
	}
	if job.LastError == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestEnqueueUnclassifiedCapsAndDedupes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	points := &fakePoints{}
	for i := 0; i < 60; i++ {
		points.points = append(points.points, &qdrant.RetrievedPoint{
			Payload: map[string]*qdrant.Value{
				"agent_id": {Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("1:%d", i)}},
			},
		})
	}
	consumer := NewConsumer(st, NewClassifier(&fakeLLM{}, "", nil), &fakeAgents{}, points, nil)

	created, err := consumer.EnqueueUnclassified(ctx)
	if err != nil {
		t.Fatalf("enqueue unclassified: %v", err)
	}
	if created != EnqueueCap {
		t.Fatalf("created = %d, want %d", created, EnqueueCap)
	}
	if points.limit != EnqueueCap {
		t.Fatalf("scroll limit = %d, want %d", points.limit, EnqueueCap)
	}
	if points.filter == nil || len(points.filter.Must) != 1 {
		t.Fatalf("scroll filter = %+v, want classification_source match", points.filter)
	}

	// Second pass sees the same points: everything already queued.
	created, err = consumer.EnqueueUnclassified(ctx)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created != 0 {
		t.Fatalf("created on rerun = %d, want 0", created)
	}
}

func TestMaybeResetFailedOnlyWhenIdle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	consumer := NewConsumer(st, NewClassifier(&fakeLLM{}, "", nil), &fakeAgents{}, &fakePoints{}, nil)

	// Drive one job to dead-letter.
	if _, _, err := st.EnqueueClassification(ctx, "1:dead", false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for i := 0; i < store.MaxClassificationAttempts; i++ {
		job, err := st.ClaimNextJob(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := st.FailJob(ctx, job.ID, "unreachable"); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}
	if n, _ := st.CountJobs(ctx, model.JobStatusFailed); n != 1 {
		t.Fatalf("failed jobs = %d, want 1", n)
	}

	// A pending job blocks the reset.
	if _, _, err := st.EnqueueClassification(ctx, "1:fresh", false); err != nil {
		t.Fatalf("enqueue fresh: %v", err)
	}
	reset, err := consumer.MaybeResetFailed(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 0 {
		t.Fatalf("reset with pending work = %d, want 0", reset)
	}

	// Drain the pending job, then the reset fires.
	job, err := st.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim fresh: %v", err)
	}
	if err := st.CompleteJob(ctx, job.ID); err != nil {
		t.Fatalf("complete fresh: %v", err)
	}
	reset, err = consumer.MaybeResetFailed(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d, want 1", reset)
	}
}

func TestResolveDefaultsToNone(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	c, err := Resolve(ctx, st, "1:unknown")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Source != model.ClassificationSourceNone || c.AgentID != "1:unknown" {
		t.Fatalf("resolve = %+v", c)
	}
}
