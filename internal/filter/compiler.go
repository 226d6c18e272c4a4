// Package filter translates the structured search filter surface into
// Qdrant's native boolean filter tree. Three top-level clauses: must (AND),
// should (OR), must_not (NAND). The payload field names emitted here are
// part of the external contract and must match internal/payload verbatim.
package filter

import (
	"encoding/json"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/agentgate/agentgate/internal/identity"
)

// Filter modes for composing the protocol booleans.
const (
	ModeAND = "AND"
	ModeOR  = "OR"
)

// recentReachabilityWindow is the lookback for hasRecentReachability.
const recentReachabilityWindow = 14 * 24 * time.Hour

// SearchFilters is the flat structured filter accepted by /agents and
// /search. Pointer fields distinguish "absent" from the zero value.
type SearchFilters struct {
	// Protocol booleans, composed per FilterMode.
	MCP  *bool `json:"mcp,omitempty"`
	A2A  *bool `json:"a2a,omitempty"`
	X402 *bool `json:"x402,omitempty"`
	// FilterMode is AND (default) or OR for the protocol booleans.
	FilterMode string `json:"filterMode,omitempty"`

	Active              *bool `json:"active,omitempty"`
	HasRegistrationFile *bool `json:"hasRegistrationFile,omitempty"`

	ChainID  *int64  `json:"chainId,omitempty"`
	ChainIDs []int64 `json:"chainIds,omitempty"`

	// Identifier-like keys; lowercased before comparison.
	Owner     string `json:"owner,omitempty"`
	ENS       string `json:"ens,omitempty"`
	CuratedBy string `json:"curatedBy,omitempty"`
	Operator  string `json:"operator,omitempty"`

	Skills         []string `json:"skills,omitempty"`
	Domains        []string `json:"domains,omitempty"`
	SupportedTrust []string `json:"supportedTrust,omitempty"`
	InputModes     []string `json:"inputModes,omitempty"`
	OutputModes    []string `json:"outputModes,omitempty"`

	ClassificationSource string `json:"classificationSource,omitempty"`

	MinRep      *int `json:"minRep,omitempty"`
	MaxRep      *int `json:"maxRep,omitempty"`
	MinTrust    *int `json:"minTrust,omitempty"`
	MaxTrust    *int `json:"maxTrust,omitempty"`
	MinFeedback *int `json:"minFeedback,omitempty"`

	CreatedAfter  string `json:"createdAfter,omitempty"`
	CreatedBefore string `json:"createdBefore,omitempty"`
	UpdatedAfter  string `json:"updatedAfter,omitempty"`
	UpdatedBefore string `json:"updatedBefore,omitempty"`

	// "Has field" toggles: non-empty string checks.
	HasName        *bool `json:"hasName,omitempty"`
	HasDescription *bool `json:"hasDescription,omitempty"`
	HasImage       *bool `json:"hasImage,omitempty"`
	HasEmail       *bool `json:"hasEmail,omitempty"`
	HasENS         *bool `json:"hasEns,omitempty"`
	HasDID         *bool `json:"hasDid,omitempty"`
	HasWallet      *bool `json:"hasWallet,omitempty"`
	HasAgentURI    *bool `json:"hasAgentUri,omitempty"`

	// "Has items" toggles: array length checks.
	HasMCPTools     *bool `json:"hasMcpTools,omitempty"`
	HasMCPPrompts   *bool `json:"hasMcpPrompts,omitempty"`
	HasMCPResources *bool `json:"hasMcpResources,omitempty"`
	HasA2ASkills    *bool `json:"hasA2aSkills,omitempty"`
	HasSkills       *bool `json:"hasSkills,omitempty"`
	HasDomains      *bool `json:"hasDomains,omitempty"`
	HasOperators    *bool `json:"hasOperators,omitempty"`

	// Numeric count fields: range, not values_count.
	HasTotalValidations   *bool `json:"hasTotalValidations,omitempty"`
	HasPendingValidations *bool `json:"hasPendingValidations,omitempty"`
	HasExpiredValidations *bool `json:"hasExpiredValidations,omitempty"`
	MinValidations        *int  `json:"minValidations,omitempty"`
	MaxValidations        *int  `json:"maxValidations,omitempty"`

	ReachableMCP          *bool `json:"reachableMcp,omitempty"`
	ReachableA2A          *bool `json:"reachableA2a,omitempty"`
	HasRecentReachability *bool `json:"hasRecentReachability,omitempty"`
}

// IsZero reports whether no filter key is set. FilterMode alone does not
// count: it only modifies the protocol booleans.
func (f *SearchFilters) IsZero() bool {
	if f == nil {
		return true
	}
	probe := *f
	probe.FilterMode = ""
	data, err := json.Marshal(&probe)
	return err == nil && string(data) == "{}"
}

// Compile translates the structured filter into a Qdrant filter tree.
// Returns nil (the "no filter" sentinel) when nothing is set — never an
// empty filter object. now anchors the within-N-days computations.
func Compile(f *SearchFilters, now time.Time) *qdrant.Filter {
	if f == nil {
		return nil
	}

	var must, should, mustNot []*qdrant.Condition

	// Protocol booleans compose per filterMode. OR only applies with at
	// least two booleans present; otherwise it demotes to must.
	protocol := protocolConditions(f)
	if f.FilterMode == ModeOR && len(protocol) >= 2 {
		should = append(should, protocol...)
	} else {
		must = append(must, protocol...)
	}

	if f.Active != nil {
		must = append(must, qdrant.NewMatchBool("active", *f.Active))
	}
	if f.HasRegistrationFile != nil {
		must = append(must, qdrant.NewMatchBool("has_registration_file", *f.HasRegistrationFile))
	}

	if f.ChainID != nil {
		must = append(must, qdrant.NewMatchInt("chain_id", *f.ChainID))
	}
	if len(f.ChainIDs) > 0 {
		must = append(must, qdrant.NewMatchInts("chain_id", f.ChainIDs...))
	}

	// Identifier-like keys are lowercased before comparison.
	if f.Owner != "" {
		must = append(must, qdrant.NewMatch("owner", identity.NormalizeAddress(f.Owner)))
	}
	if f.ENS != "" {
		must = append(must, qdrant.NewMatch("ens", identity.NormalizeAddress(f.ENS)))
	}
	if f.CuratedBy != "" {
		must = append(must, qdrant.NewMatchKeywords("curated_by", identity.NormalizeAddress(f.CuratedBy)))
	}
	if f.Operator != "" {
		must = append(must, qdrant.NewMatchKeywords("operators", identity.NormalizeAddress(f.Operator)))
	}

	if len(f.Skills) > 0 {
		must = append(must, qdrant.NewMatchKeywords("skills", f.Skills...))
	}
	if len(f.Domains) > 0 {
		must = append(must, qdrant.NewMatchKeywords("domains", f.Domains...))
	}
	if len(f.SupportedTrust) > 0 {
		must = append(must, qdrant.NewMatchKeywords("supported_trust", f.SupportedTrust...))
	}
	if len(f.InputModes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("input_modes", f.InputModes...))
	}
	if len(f.OutputModes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("output_modes", f.OutputModes...))
	}
	if f.ClassificationSource != "" {
		must = append(must, qdrant.NewMatch("classification_source", f.ClassificationSource))
	}

	if cond := intRange("reputation", f.MinRep, f.MaxRep); cond != nil {
		must = append(must, cond)
	}
	if cond := intRange("trust_score", f.MinTrust, f.MaxTrust); cond != nil {
		must = append(must, cond)
	}
	if cond := intRange("feedback_count", f.MinFeedback, nil); cond != nil {
		must = append(must, cond)
	}
	if cond := intRange("total_validations", f.MinValidations, f.MaxValidations); cond != nil {
		must = append(must, cond)
	}

	if cond := datetimeRange("created_at", f.CreatedAfter, f.CreatedBefore); cond != nil {
		must = append(must, cond)
	}
	if cond := datetimeRange("updated_at", f.UpdatedAfter, f.UpdatedBefore); cond != nil {
		must = append(must, cond)
	}

	// hasField toggles: true means "non-empty string", expressed as a
	// must_not match against the empty string; false means the field is
	// the empty string.
	for _, hf := range []struct {
		key string
		val *bool
	}{
		{"name", f.HasName},
		{"description", f.HasDescription},
		{"image_url", f.HasImage},
		{"email", f.HasEmail},
		{"ens", f.HasENS},
		{"did", f.HasDID},
		{"wallet_address", f.HasWallet},
		{"agent_uri", f.HasAgentURI},
	} {
		if hf.val == nil {
			continue
		}
		if *hf.val {
			mustNot = append(mustNot, qdrant.NewMatch(hf.key, ""))
		} else {
			must = append(must, qdrant.NewMatch(hf.key, ""))
		}
	}

	// hasItems toggles on genuine arrays use values_count.
	for _, hi := range []struct {
		key string
		val *bool
	}{
		{"mcp_tools", f.HasMCPTools},
		{"mcp_prompts", f.HasMCPPrompts},
		{"mcp_resources", f.HasMCPResources},
		{"a2a_skills", f.HasA2ASkills},
		{"skills", f.HasSkills},
		{"domains", f.HasDomains},
		{"operators", f.HasOperators},
	} {
		if hi.val == nil {
			continue
		}
		if *hi.val {
			must = append(must, qdrant.NewValuesCount(hi.key, &qdrant.ValuesCount{Gte: qdrant.PtrOf(uint64(1))}))
		} else {
			must = append(must, qdrant.NewValuesCount(hi.key, &qdrant.ValuesCount{Lte: qdrant.PtrOf(uint64(0))}))
		}
	}

	// Validation counters are plain integers in the payload, so "has any"
	// is a range, not a values_count.
	for _, hc := range []struct {
		key string
		val *bool
	}{
		{"total_validations", f.HasTotalValidations},
		{"pending_validations", f.HasPendingValidations},
		{"expired_validations", f.HasExpiredValidations},
	} {
		if hc.val == nil {
			continue
		}
		if *hc.val {
			must = append(must, qdrant.NewRange(hc.key, &qdrant.Range{Gte: qdrant.PtrOf(1.0)}))
		} else {
			must = append(must, qdrant.NewRange(hc.key, &qdrant.Range{Lte: qdrant.PtrOf(0.0)}))
		}
	}

	if f.ReachableMCP != nil {
		must = append(must, qdrant.NewMatchBool("reachable_mcp", *f.ReachableMCP))
	}
	if f.ReachableA2A != nil {
		must = append(must, qdrant.NewMatchBool("reachable_a2a", *f.ReachableA2A))
	}

	// hasRecentReachability computes the cutoff at compile time: either
	// protocol checked within the window.
	if f.HasRecentReachability != nil && *f.HasRecentReachability {
		cutoff := timestamppb.New(now.Add(-recentReachabilityWindow))
		recent := &qdrant.Filter{
			Should: []*qdrant.Condition{
				qdrant.NewDatetimeRange("last_reachability_mcp", &qdrant.DatetimeRange{Gte: cutoff}),
				qdrant.NewDatetimeRange("last_reachability_a2a", &qdrant.DatetimeRange{Gte: cutoff}),
			},
		}
		must = append(must, qdrant.NewFilterAsCondition(recent))
	}

	if len(must) == 0 && len(should) == 0 && len(mustNot) == 0 {
		return nil
	}

	// A should-only tree is wrapped in an outer must so at least one
	// should-leaf is required to match. With a non-empty must, should
	// stays optional alongside it.
	if len(must) == 0 && len(mustNot) == 0 && len(should) > 0 {
		return &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewFilterAsCondition(&qdrant.Filter{Should: should}),
			},
		}
	}

	return &qdrant.Filter{Must: must, Should: should, MustNot: mustNot}
}

func protocolConditions(f *SearchFilters) []*qdrant.Condition {
	var out []*qdrant.Condition
	if f.MCP != nil {
		out = append(out, qdrant.NewMatchBool("has_mcp", *f.MCP))
	}
	if f.A2A != nil {
		out = append(out, qdrant.NewMatchBool("has_a2a", *f.A2A))
	}
	if f.X402 != nil {
		out = append(out, qdrant.NewMatchBool("has_x402", *f.X402))
	}
	return out
}

func intRange(key string, min, max *int) *qdrant.Condition {
	if min == nil && max == nil {
		return nil
	}
	r := &qdrant.Range{}
	if min != nil {
		r.Gte = qdrant.PtrOf(float64(*min))
	}
	if max != nil {
		r.Lte = qdrant.PtrOf(float64(*max))
	}
	return qdrant.NewRange(key, r)
}

func datetimeRange(key, after, before string) *qdrant.Condition {
	if after == "" && before == "" {
		return nil
	}
	r := &qdrant.DatetimeRange{}
	if after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			r.Gte = timestamppb.New(t)
		}
	}
	if before != "" {
		if t, err := time.Parse(time.RFC3339, before); err == nil {
			r.Lte = timestamppb.New(t)
		}
	}
	if r.Gte == nil && r.Lte == nil {
		return nil
	}
	return qdrant.NewDatetimeRange(key, r)
}
