package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/provider"
	"github.com/agentgate/agentgate/internal/telemetry"
)

const classifySystemPrompt = `You classify AI agents into a fixed taxonomy.
Respond with a single JSON object:
{"skills": [{"slug": "...", "confidence": 0.0-1.0, "reasoning": "..."}],
 "domains": [{"slug": "...", "confidence": 0.0-1.0, "reasoning": "..."}]}
Use only slugs from the provided lists. Return at most 5 skills and 3 domains.
Confidence reflects how certain you are the agent actually has the skill.`

// Classifier resolves taxonomy assignments, preferring creator declarations
// over LLM inference.
type Classifier struct {
	llm    provider.Provider
	model  string
	logger *zap.Logger
}

// NewClassifier builds a classifier. model may be empty to use the provider
// default.
func NewClassifier(llm provider.Provider, model string, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{llm: llm, model: model, logger: logger.Named("classify")}
}

// Classify resolves one agent's assignment. Creator-declared slugs (validated
// against the taxonomy) short-circuit the LLM unless force is set.
func (c *Classifier) Classify(ctx context.Context, rec *model.AgentRecord, force bool) (*model.Classification, error) {
	if !force {
		if declared := c.fromDeclarations(rec); declared != nil {
			return declared, nil
		}
	}
	return c.fromLLM(ctx, rec)
}

// fromDeclarations builds a creator-defined classification, nil when the
// agent declared nothing usable.
func (c *Classifier) fromDeclarations(rec *model.AgentRecord) *model.Classification {
	skills, badSkills := filterValid(asDeclared(rec.DeclaredSkills), ValidSkill)
	domains, badDomains := filterValid(asDeclared(rec.DeclaredDomains), ValidDomain)
	for _, slug := range append(badSkills, badDomains...) {
		c.logger.Warn("declared slug outside taxonomy",
			zap.String("agent_id", rec.AgentID), zap.String("slug", slug))
	}
	if len(skills) == 0 && len(domains) == 0 {
		return nil
	}
	return &model.Classification{
		AgentID:    rec.AgentID,
		Skills:     skills,
		Domains:    domains,
		Confidence: 1.0,
		Source:     model.ClassificationSourceCreator,
	}
}

func asDeclared(slugs []string) []model.SlugConfidence {
	out := make([]model.SlugConfidence, 0, len(slugs))
	for _, s := range slugs {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, model.SlugConfidence{Slug: s, Confidence: 1.0})
		}
	}
	return out
}

func (c *Classifier) fromLLM(ctx context.Context, rec *model.AgentRecord) (*model.Classification, error) {
	if c.llm == nil {
		return nil, fmt.Errorf("no LLM provider configured")
	}

	ctx, span := telemetry.StartLLMCallSpan(ctx, c.model, c.llm.Name(), "classification")
	defer span.End()

	resp, err := c.llm.Complete(ctx, &provider.CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   buildClassifyPrompt(rec),
		Model:        c.model,
		MaxTokens:    1024,
	})
	if err != nil {
		return nil, fmt.Errorf("classification completion: %w", err)
	}

	raw := provider.ExtractJSON(resp)
	if raw == "" {
		return nil, fmt.Errorf("no JSON in classification response")
	}

	var parsed struct {
		Skills  json.RawMessage `json:"skills"`
		Domains json.RawMessage `json:"domains"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse classification response: %w", err)
	}

	skills, warnings := model.ParseSlugConfidences(parsed.Skills)
	domains, domainWarnings := model.ParseSlugConfidences(parsed.Domains)
	for _, w := range append(warnings, domainWarnings...) {
		c.logger.Warn("classification entry dropped",
			zap.String("agent_id", rec.AgentID), zap.String("warning", w))
	}

	skills, badSkills := filterValid(skills, ValidSkill)
	domains, badDomains := filterValid(domains, ValidDomain)
	for _, slug := range append(badSkills, badDomains...) {
		c.logger.Warn("classifier produced slug outside taxonomy",
			zap.String("agent_id", rec.AgentID), zap.String("slug", slug))
	}

	if len(skills) == 0 && len(domains) == 0 {
		return nil, fmt.Errorf("classification yielded no valid slugs")
	}

	return &model.Classification{
		AgentID:      rec.AgentID,
		Skills:       skills,
		Domains:      domains,
		Confidence:   meanConfidence(skills, domains),
		Source:       model.ClassificationSourceLLM,
		ModelVersion: c.model,
	}, nil
}

func buildClassifyPrompt(rec *model.AgentRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", rec.Name)
	if rec.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", rec.Description)
	}
	if len(rec.MCPTools) > 0 {
		fmt.Fprintf(&b, "MCP tools: %s\n", strings.Join(rec.MCPTools, ", "))
	}
	if len(rec.A2ASkills) > 0 {
		fmt.Fprintf(&b, "A2A skills: %s\n", strings.Join(rec.A2ASkills, ", "))
	}
	fmt.Fprintf(&b, "\nSkill slugs: %s\n", strings.Join(SkillSlugs(), ", "))
	fmt.Fprintf(&b, "Domain slugs: %s\n", strings.Join(DomainSlugs(), ", "))
	return b.String()
}

func meanConfidence(skills, domains []model.SlugConfidence) float64 {
	var sum float64
	var n int
	for _, e := range skills {
		sum += e.Confidence
		n++
	}
	for _, e := range domains {
		sum += e.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
