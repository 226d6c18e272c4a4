// Package hash computes the two deterministic content hashes used by the
// graph sync worker to detect change. EmbedHash covers the fields that feed
// the embedding text (a change forces vector regeneration); ContentHash
// covers the payload-only fields (a change forces a payload update without
// re-embedding).
//
// Canonical form: JSON with sorted keys (encoding/json sorts map keys),
// addresses lowercased, set-like arrays sorted and deduplicated. Two
// implementations that follow these rules produce byte-identical hash input
// for equivalent records.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentgate/agentgate/internal/model"
)

// EmbedInput is the field set whose change requires regenerating the vector.
type EmbedInput struct {
	Name         string
	Description  string
	MCPTools     []string
	MCPPrompts   []string
	MCPResources []string
	A2ASkills    []string
	InputModes   []string
	OutputModes  []string
}

// ContentInput is the payload-only field set.
type ContentInput struct {
	AgentID             string
	Name                string
	Description         string
	Active              bool
	HasMCP              bool
	HasA2A              bool
	Skills              []string
	Domains             []string
	Reputation          int64
	Owner               string
	HasRegistrationFile bool
}

// EmbedInputFor extracts the embed field set from a record plus its
// capability enrichment.
func EmbedInputFor(rec *model.AgentRecord, enr *model.Enrichment) EmbedInput {
	in := EmbedInput{
		Name:         rec.Name,
		Description:  rec.Description,
		MCPTools:     rec.MCPTools,
		MCPPrompts:   rec.MCPPrompts,
		MCPResources: rec.MCPResources,
		A2ASkills:    rec.A2ASkills,
	}
	if enr != nil {
		in.InputModes = enr.InputModes
		in.OutputModes = enr.OutputModes
	}
	return in
}

// ContentInputFor extracts the payload field set.
func ContentInputFor(rec *model.AgentRecord, enr *model.Enrichment) ContentInput {
	in := ContentInput{
		AgentID:             rec.AgentID,
		Name:                rec.Name,
		Description:         rec.Description,
		Active:              rec.Active,
		HasMCP:              rec.HasMCP,
		HasA2A:              rec.HasA2A,
		Owner:               strings.ToLower(rec.Owner),
		HasRegistrationFile: rec.HasRegistrationFile,
	}
	if enr != nil {
		in.Skills = enr.Skills
		in.Domains = enr.Domains
		in.Reputation = enr.ReputationScore
	}
	return in
}

// EmbedHash returns the hex SHA-256 of the canonicalized embed field set.
func EmbedHash(in EmbedInput) (string, error) {
	return canonicalHash(map[string]any{
		"name":          in.Name,
		"description":   in.Description,
		"mcp_tools":     canonicalSet(in.MCPTools),
		"mcp_prompts":   canonicalSet(in.MCPPrompts),
		"mcp_resources": canonicalSet(in.MCPResources),
		"a2a_skills":    canonicalSet(in.A2ASkills),
		"input_modes":   canonicalSet(in.InputModes),
		"output_modes":  canonicalSet(in.OutputModes),
	})
}

// ContentHash returns the hex SHA-256 of the canonicalized payload field set.
func ContentHash(in ContentInput) (string, error) {
	return canonicalHash(map[string]any{
		"agent_id":              in.AgentID,
		"name":                  in.Name,
		"description":           in.Description,
		"active":                in.Active,
		"has_mcp":               in.HasMCP,
		"has_a2a":               in.HasA2A,
		"skills":                canonicalSet(in.Skills),
		"domains":               canonicalSet(in.Domains),
		"reputation":            in.Reputation,
		"owner":                 strings.ToLower(in.Owner),
		"has_registration_file": in.HasRegistrationFile,
	})
}

func canonicalHash(fields map[string]any) (string, error) {
	// encoding/json marshals map keys in sorted order, which is exactly the
	// canonical-key contract.
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalSet sorts and deduplicates a set-like list. Nil and empty both
// canonicalize to the empty list so absence and emptiness hash identically.
func canonicalSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
