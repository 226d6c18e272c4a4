package payload

import (
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/model"
)

func TestBuildDefaults(t *testing.T) {
	rec := &model.AgentRecord{AgentID: "11155111:1", ChainID: 11155111, TokenID: "1"}
	p := Build(rec, nil)

	if p["name"] != "" {
		t.Fatalf("missing name must default to empty string, got %v", p["name"])
	}
	if p["reputation"] != int64(0) {
		t.Fatalf("reputation default must be 0, got %v", p["reputation"])
	}
	if p["active"] != false {
		t.Fatalf("active default must be false, got %v", p["active"])
	}
	if got := p["skills"].([]any); len(got) != 0 {
		t.Fatalf("skills default must be empty list, got %v", got)
	}
	if p["classification_source"] != model.ClassificationSourceNone {
		t.Fatalf("classification source default wrong: %v", p["classification_source"])
	}
	if p["point_key"] != "11155111_1" {
		t.Fatalf("point key wrong: %v", p["point_key"])
	}
	for k, v := range p {
		if v == nil {
			t.Fatalf("payload field %q is nil; nulls must never reach the store", k)
		}
	}
}

func TestBuildLowercasesIdentifiers(t *testing.T) {
	rec := &model.AgentRecord{
		AgentID:   "1:1",
		Owner:     "0xAB",
		ENS:       "Agent.ETH",
		Operators: []string{"0xCC", "0xDD"},
	}
	p := Build(rec, nil)
	if p["owner"] != "0xab" {
		t.Fatalf("owner not lowercased: %v", p["owner"])
	}
	if p["ens"] != "agent.eth" {
		t.Fatalf("ens not lowercased: %v", p["ens"])
	}
	ops := p["operators"].([]any)
	if ops[0] != "0xcc" || ops[1] != "0xdd" {
		t.Fatalf("operators not lowercased: %v", ops)
	}
}

func TestBuildEnrichment(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	rec := &model.AgentRecord{AgentID: "1:1", CreatedAt: now}
	enr := &model.Enrichment{
		Skills:               []string{"nlp"},
		SkillsWithConfidence: []model.SlugConfidence{{Slug: "nlp", Confidence: 0.9}, {Slug: "vision", Confidence: 0.4}},
		ClassificationSource: model.ClassificationSourceLLM,
		ReputationScore:      77,
		ReachableMCP:         true,
		InputModes:           []string{"text"},
	}
	p := Build(rec, enr)

	if got := p["skills"].([]any); len(got) != 1 || got[0] != "nlp" {
		t.Fatalf("indexed skills wrong: %v", got)
	}
	if got := p["skills_with_confidence"].([]any); len(got) != 2 {
		t.Fatalf("full confidence list must keep low-confidence entries: %v", got)
	}
	if p["reputation"] != int64(77) {
		t.Fatalf("reputation wrong: %v", p["reputation"])
	}
	if p["reachable_mcp"] != true {
		t.Fatalf("reachable_mcp wrong: %v", p["reachable_mcp"])
	}
	if p["created_at"] != "2026-08-24T12:00:00Z" {
		t.Fatalf("created_at wrong: %v", p["created_at"])
	}
}

func TestClassificationPatchThreshold(t *testing.T) {
	c := &model.Classification{
		Skills:  []model.SlugConfidence{{Slug: "a", Confidence: 0.8}, {Slug: "b", Confidence: 0.6}},
		Domains: []model.SlugConfidence{{Slug: "d", Confidence: 0.71}},
		Source:  model.ClassificationSourceCreator,
	}
	p := ClassificationPatch(c)
	if got := p["skills"].([]any); len(got) != 1 || got[0] != "a" {
		t.Fatalf("indexed skills must respect threshold: %v", got)
	}
	if got := p["skills_with_confidence"].([]any); len(got) != 2 {
		t.Fatalf("display list must keep everything: %v", got)
	}
	if got := p["domains"].([]any); len(got) != 1 || got[0] != "d" {
		t.Fatalf("domains wrong: %v", got)
	}
}
