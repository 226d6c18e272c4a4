// Package identity handles canonical agent identifiers. Every agent is keyed
// by the composite "chainID:tokenID" string; the vector store additionally
// needs a UUID-shaped point ID, which is derived deterministically from the
// underscore form of the same identifier.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// KnownChains maps supported chain IDs to their short names.
// Used for identifier validation and the /chains endpoint.
var KnownChains = map[int64]string{
	1:        "ethereum",
	137:      "polygon",
	8453:     "base",
	42161:    "arbitrum",
	84532:    "base-sepolia",
	11155111: "sepolia",
}

// pointNamespace seeds UUIDv5 derivation for vector-store point IDs.
// Changing it orphans every stored point; never rotate.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// AgentID is a parsed "chain:token" identifier.
type AgentID struct {
	ChainID int64
	TokenID string
}

// Parse validates and splits a composite agent identifier.
// The chain must be in the known set; the token must be non-empty
// alphanumeric.
func Parse(s string) (AgentID, error) {
	chain, token, ok := strings.Cut(s, ":")
	if !ok {
		return AgentID{}, fmt.Errorf("invalid agent id %q: expected chain:token", s)
	}

	chainID, err := strconv.ParseInt(chain, 10, 64)
	if err != nil {
		return AgentID{}, fmt.Errorf("invalid chain id %q: %w", chain, err)
	}
	if _, ok := KnownChains[chainID]; !ok {
		return AgentID{}, fmt.Errorf("unknown chain id %d", chainID)
	}

	if token == "" {
		return AgentID{}, fmt.Errorf("invalid agent id %q: empty token", s)
	}
	for _, r := range token {
		if !isAlnum(r) {
			return AgentID{}, fmt.Errorf("invalid token id %q: must be alphanumeric", token)
		}
	}

	return AgentID{ChainID: chainID, TokenID: token}, nil
}

// String returns the canonical "chain:token" form.
func (id AgentID) String() string {
	return fmt.Sprintf("%d:%s", id.ChainID, id.TokenID)
}

// PointKey returns the identifier with ':' replaced by '_' — the form the
// vector-store payload carries alongside the derived point UUID.
func PointKey(agentID string) string {
	return strings.ReplaceAll(agentID, ":", "_")
}

// PointID derives the deterministic vector-store point UUID for an agent.
// Qdrant only accepts UUID or integer point IDs, so the underscore key is
// run through UUIDv5 under a fixed namespace.
func PointID(agentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(PointKey(agentID))).String()
}

// NormalizeAddress lowercases an EVM address (or any identifier-like string).
// Empty input stays empty.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeAddresses lowercases every entry, dropping empties.
func NormalizeAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if n := NormalizeAddress(a); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
