// Package payload builds the flat record stored alongside each vector. The
// field names are snake_case and part of the external contract — the filter
// compiler emits them verbatim. Every field is always present with a typed
// default (empty string, empty list, 0, false); null never reaches the
// vector store because the filter-matching semantics depend on
// default-as-empty.
package payload

import (
	"strings"
	"time"

	"github.com/agentgate/agentgate/internal/identity"
	"github.com/agentgate/agentgate/internal/model"
)

// Build merges the upstream record with optional enrichment into the flat
// payload map.
func Build(rec *model.AgentRecord, enr *model.Enrichment) map[string]any {
	if enr == nil {
		enr = &model.Enrichment{}
	}

	source := enr.ClassificationSource
	if source == "" {
		source = model.ClassificationSourceNone
	}

	return map[string]any{
		"agent_id":    rec.AgentID,
		"point_key":   identity.PointKey(rec.AgentID),
		"chain_id":    rec.ChainID,
		"token_id":    rec.TokenID,
		"name":        rec.Name,
		"description": rec.Description,
		"image_url":   rec.ImageURL,
		"active":      rec.Active,

		"has_mcp":               rec.HasMCP,
		"has_a2a":               rec.HasA2A,
		"has_x402":              rec.HasX402,
		"has_registration_file": rec.HasRegistrationFile,

		"mcp_endpoint":  rec.MCPEndpoint,
		"a2a_endpoint":  rec.A2AEndpoint,
		"oasf_endpoint": rec.OASFEndpoint,
		"email":         rec.Email,

		"mcp_version":  rec.MCPVersion,
		"a2a_version":  rec.A2AVersion,
		"x402_version": rec.X402Version,

		"mcp_tools":     strList(rec.MCPTools),
		"mcp_prompts":   strList(rec.MCPPrompts),
		"mcp_resources": strList(rec.MCPResources),
		"a2a_skills":    strList(rec.A2ASkills),

		"input_modes":  strList(enr.InputModes),
		"output_modes": strList(enr.OutputModes),

		"skills":                  strList(enr.Skills),
		"domains":                 strList(enr.Domains),
		"skills_with_confidence":  confidenceList(enr.SkillsWithConfidence),
		"domains_with_confidence": confidenceList(enr.DomainsWithConfidence),
		"classification_source":   source,

		"ens":             strings.ToLower(rec.ENS),
		"did":             rec.DID,
		"owner":           strings.ToLower(rec.Owner),
		"wallet_address":  strings.ToLower(rec.WalletAddress),
		"operators":       strList(identity.NormalizeAddresses(rec.Operators)),
		"supported_trust": strList(rec.SupportedTrust),
		"agent_uri":       rec.AgentURI,
		"curated_by":      strList(identity.NormalizeAddresses(rec.CuratedBy)),

		"total_validations":   rec.TotalValidations,
		"pending_validations": rec.PendingValidations,
		"expired_validations": rec.ExpiredValidations,

		"reputation":     enr.ReputationScore,
		"feedback_count": enr.FeedbackCount,
		"trust_score":    enr.TrustScore,

		"reachable_mcp":           enr.ReachableMCP,
		"reachable_a2a":           enr.ReachableA2A,
		"last_reachability_mcp":   timeString(enr.LastReachabilityMCP),
		"last_reachability_a2a":   timeString(enr.LastReachabilityA2A),

		"created_at": timeString(rec.CreatedAt),
		"updated_at": timeString(rec.UpdatedAt),
	}
}

// ClassificationPatch builds the partial payload the relational sync worker
// pushes when a classification row changes.
func ClassificationPatch(c *model.Classification) map[string]any {
	return map[string]any{
		"skills":                  strList(model.ConfidentSlugs(c.Skills)),
		"domains":                 strList(model.ConfidentSlugs(c.Domains)),
		"skills_with_confidence":  confidenceList(c.Skills),
		"domains_with_confidence": confidenceList(c.Domains),
		"classification_source":   c.Source,
	}
}

// ReputationPatch builds the partial payload for a reputation change.
func ReputationPatch(score int64, count int64) map[string]any {
	return map[string]any{
		"reputation":     score,
		"feedback_count": count,
	}
}

// TrustPatch builds the partial payload for a trust-score change.
func TrustPatch(score int64) map[string]any {
	return map[string]any{"trust_score": score}
}

func strList(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

func confidenceList(in []model.SlugConfidence) []any {
	out := make([]any, 0, len(in))
	for _, e := range in {
		m := map[string]any{
			"slug":       e.Slug,
			"confidence": e.Confidence,
		}
		if e.Reasoning != "" {
			m["reasoning"] = e.Reasoning
		}
		out = append(out, m)
	}
	return out
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
