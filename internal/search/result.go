package search

import (
	"github.com/qdrant/go-client/qdrant"

	"github.com/agentgate/agentgate/internal/vectorstore"
)

// AgentSummary is the agent view returned by listing and search, decoded
// from the point payload.
type AgentSummary struct {
	AgentID     string `json:"agentId"`
	ChainID     int64  `json:"chainId"`
	TokenID     string `json:"tokenId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Active      bool   `json:"active"`

	HasMCP  bool `json:"hasMcp"`
	HasA2A  bool `json:"hasA2a"`
	HasX402 bool `json:"hasX402"`

	MCPEndpoint string `json:"mcpEndpoint,omitempty"`
	A2AEndpoint string `json:"a2aEndpoint,omitempty"`

	Skills               []string `json:"skills"`
	Domains              []string `json:"domains"`
	ClassificationSource string   `json:"classificationSource"`

	Owner string `json:"owner,omitempty"`
	ENS   string `json:"ens,omitempty"`

	Reputation    int64 `json:"reputation"`
	FeedbackCount int64 `json:"feedbackCount"`
	TrustScore    int64 `json:"trustScore"`

	ReachableMCP bool `json:"reachableMcp"`
	ReachableA2A bool `json:"reachableA2a"`

	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Result is one search or listing hit.
type Result struct {
	Agent        AgentSummary `json:"agent"`
	Score        float32      `json:"score,omitempty"`
	RerankScore  float64      `json:"rerankScore,omitempty"`
	MatchReasons []string     `json:"matchReasons"`
}

// SummaryFromPayload converts a stored point payload into the API summary
// shape. Missing keys yield zero values.
func SummaryFromPayload(p map[string]*qdrant.Value) AgentSummary {
	return summaryFromPayload(p)
}

func summaryFromPayload(p map[string]*qdrant.Value) AgentSummary {
	return AgentSummary{
		AgentID:     vectorstore.PayloadString(p, "agent_id"),
		ChainID:     vectorstore.PayloadInt(p, "chain_id"),
		TokenID:     vectorstore.PayloadString(p, "token_id"),
		Name:        vectorstore.PayloadString(p, "name"),
		Description: vectorstore.PayloadString(p, "description"),
		ImageURL:    vectorstore.PayloadString(p, "image_url"),
		Active:      vectorstore.PayloadBool(p, "active"),

		HasMCP:  vectorstore.PayloadBool(p, "has_mcp"),
		HasA2A:  vectorstore.PayloadBool(p, "has_a2a"),
		HasX402: vectorstore.PayloadBool(p, "has_x402"),

		MCPEndpoint: vectorstore.PayloadString(p, "mcp_endpoint"),
		A2AEndpoint: vectorstore.PayloadString(p, "a2a_endpoint"),

		Skills:               vectorstore.PayloadStrings(p, "skills"),
		Domains:              vectorstore.PayloadStrings(p, "domains"),
		ClassificationSource: vectorstore.PayloadString(p, "classification_source"),

		Owner: vectorstore.PayloadString(p, "owner"),
		ENS:   vectorstore.PayloadString(p, "ens"),

		Reputation:    vectorstore.PayloadInt(p, "reputation"),
		FeedbackCount: vectorstore.PayloadInt(p, "feedback_count"),
		TrustScore:    vectorstore.PayloadInt(p, "trust_score"),

		ReachableMCP: vectorstore.PayloadBool(p, "reachable_mcp"),
		ReachableA2A: vectorstore.PayloadBool(p, "reachable_a2a"),

		CreatedAt: vectorstore.PayloadString(p, "created_at"),
		UpdatedAt: vectorstore.PayloadString(p, "updated_at"),
	}
}

// matchReasons derives the per-hit explanation flags. score 0 means the hit
// came from the filtered path (no vector similarity involved).
func matchReasons(score float32, agent AgentSummary) []string {
	var reasons []string
	if score > 0.8 {
		reasons = append(reasons, "high_relevance")
	} else if score >= 0.5 {
		reasons = append(reasons, "moderate_relevance")
	}
	if agent.HasMCP {
		reasons = append(reasons, "has_mcp")
	}
	if agent.HasA2A {
		reasons = append(reasons, "has_a2a")
	}
	if agent.HasX402 {
		reasons = append(reasons, "has_x402")
	}
	if len(agent.Skills) > 0 {
		reasons = append(reasons, "has_skills")
	}
	if len(agent.Domains) > 0 {
		reasons = append(reasons, "has_domains")
	}
	if len(reasons) == 0 {
		reasons = []string{"filter_match"}
	}
	return reasons
}
