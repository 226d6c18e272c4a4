// Package model defines the canonical data types shared by the sync workers,
// the search planner, and the stores: agent records pulled from the upstream
// indexer, feedback events, classifications, reputation aggregates, and the
// sync bookkeeping rows.
package model

import "time"

// AgentRecord is the canonical entry for one on-chain agent, keyed by
// "chain:token". String fields are never null downstream — absent values
// serialize as empty strings because the vector-store filter semantics
// depend on default-as-empty.
type AgentRecord struct {
	AgentID     string `json:"agent_id"`
	ChainID     int64  `json:"chain_id"`
	TokenID     string `json:"token_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Active      bool   `json:"active"`

	HasMCP              bool `json:"has_mcp"`
	HasA2A              bool `json:"has_a2a"`
	HasX402             bool `json:"has_x402"`
	HasRegistrationFile bool `json:"has_registration_file"`

	MCPEndpoint  string `json:"mcp_endpoint"`
	A2AEndpoint  string `json:"a2a_endpoint"`
	OASFEndpoint string `json:"oasf_endpoint"`
	Email        string `json:"email"`

	MCPVersion  string `json:"mcp_version"`
	A2AVersion  string `json:"a2a_version"`
	X402Version string `json:"x402_version"`

	MCPTools     []string `json:"mcp_tools"`
	MCPPrompts   []string `json:"mcp_prompts"`
	MCPResources []string `json:"mcp_resources"`
	A2ASkills    []string `json:"a2a_skills"`

	// Declared OASF slugs, straight from the agent's registration file.
	DeclaredSkills  []string `json:"declared_skills"`
	DeclaredDomains []string `json:"declared_domains"`

	ENS              string   `json:"ens"`
	DID              string   `json:"did"`
	Owner            string   `json:"owner"`
	WalletAddress    string   `json:"wallet_address"`
	Operators        []string `json:"operators"`
	SupportedTrust   []string `json:"supported_trust"`
	AgentURI         string   `json:"agent_uri"`
	CuratedBy        []string `json:"curated_by"`

	TotalValidations   int64 `json:"total_validations"`
	PendingValidations int64 `json:"pending_validations"`
	ExpiredValidations int64 `json:"expired_validations"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrichment carries the out-of-band data merged into an agent's payload:
// capability I/O modes, resolved classification, reputation, trust and
// reachability. All fields optional; zero values mean "not enriched".
type Enrichment struct {
	InputModes  []string
	OutputModes []string

	Skills                []string
	Domains               []string
	SkillsWithConfidence  []SlugConfidence
	DomainsWithConfidence []SlugConfidence
	ClassificationSource  string

	ReputationScore int64
	FeedbackCount   int64
	TrustScore      int64

	ReachableMCP         bool
	ReachableA2A         bool
	LastReachabilityMCP  time.Time
	LastReachabilityA2A  time.Time
}

// SlugConfidence pairs a taxonomy slug with the classifier's confidence.
type SlugConfidence struct {
	Slug       string  `json:"slug"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// ConfidentSlugs returns the slugs whose confidence clears the indexing
// threshold (0.7). Lower-confidence entries stay visible in the parallel
// *_with_confidence payload fields but never participate in filtering.
func ConfidentSlugs(entries []SlugConfidence) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Confidence >= IndexConfidenceThreshold {
			out = append(out, e.Slug)
		}
	}
	return out
}

// IndexConfidenceThreshold gates which classified slugs become filterable.
const IndexConfidenceThreshold = 0.7
