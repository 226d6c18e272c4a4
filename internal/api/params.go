package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentgate/agentgate/internal/filter"
	"github.com/agentgate/agentgate/internal/search"
)

// parseSearchRequest maps the /agents query string onto a planner request.
// Every filter key accepts both comma-separated values and the k[]= array
// syntax.
func parseSearchRequest(q url.Values) (*search.Request, error) {
	req := &search.Request{
		Query:  strings.TrimSpace(firstOf(q, "q", "query")),
		Cursor: q.Get("cursor"),
	}

	var err error
	if req.Limit, err = intParam(q, "limit", 0); err != nil {
		return nil, err
	}
	if req.Offset, err = intParam(q, "offset", 0); err != nil {
		return nil, err
	}
	if v := q.Get("minScore"); v != "" {
		score, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid minScore %q", v)
		}
		req.MinScore = float32(score)
	}

	if sortField, sortOrder := q.Get("sort"), q.Get("order"); sortField != "" || sortOrder != "" {
		req.Sort = &search.Sort{Field: sortField, Order: sortOrder}
	}
	req.UseHyDE = boolParam(q, "useHyde")
	req.UseReranker = boolParam(q, "useReranker")

	filters, err := parseFilters(q)
	if err != nil {
		return nil, err
	}
	req.Filters = filters
	return req, nil
}

func parseFilters(q url.Values) (*filter.SearchFilters, error) {
	f := &filter.SearchFilters{
		FilterMode:           strings.ToUpper(q.Get("filterMode")),
		Owner:                q.Get("owner"),
		ENS:                  q.Get("ens"),
		CuratedBy:            q.Get("curatedBy"),
		Operator:             q.Get("operator"),
		ClassificationSource: q.Get("classificationSource"),
		CreatedAfter:         q.Get("createdAfter"),
		CreatedBefore:        q.Get("createdBefore"),
		UpdatedAfter:         q.Get("updatedAfter"),
		UpdatedBefore:        q.Get("updatedBefore"),

		Skills:         listParam(q, "skills"),
		Domains:        listParam(q, "domains"),
		SupportedTrust: listParam(q, "supportedTrust"),
		InputModes:     listParam(q, "inputModes"),
		OutputModes:    listParam(q, "outputModes"),

		MCP:  boolParam(q, "mcp"),
		A2A:  boolParam(q, "a2a"),
		X402: boolParam(q, "x402"),

		Active:              boolParam(q, "active"),
		HasRegistrationFile: boolParam(q, "hasRegistrationFile"),

		HasName:        boolParam(q, "hasName"),
		HasDescription: boolParam(q, "hasDescription"),
		HasImage:       boolParam(q, "hasImage"),
		HasEmail:       boolParam(q, "hasEmail"),
		HasENS:         boolParam(q, "hasEns"),
		HasDID:         boolParam(q, "hasDid"),
		HasWallet:      boolParam(q, "hasWallet"),
		HasAgentURI:    boolParam(q, "hasAgentUri"),

		HasMCPTools:     boolParam(q, "hasMcpTools"),
		HasMCPPrompts:   boolParam(q, "hasMcpPrompts"),
		HasMCPResources: boolParam(q, "hasMcpResources"),
		HasA2ASkills:    boolParam(q, "hasA2aSkills"),
		HasSkills:       boolParam(q, "hasSkills"),
		HasDomains:      boolParam(q, "hasDomains"),
		HasOperators:    boolParam(q, "hasOperators"),

		HasTotalValidations:   boolParam(q, "hasTotalValidations"),
		HasPendingValidations: boolParam(q, "hasPendingValidations"),
		HasExpiredValidations: boolParam(q, "hasExpiredValidations"),

		ReachableMCP:          boolParam(q, "reachableMcp"),
		ReachableA2A:          boolParam(q, "reachableA2a"),
		HasRecentReachability: boolParam(q, "hasRecentReachability"),
	}

	var err error
	if f.ChainID, err = int64Param(q, "chainId"); err != nil {
		return nil, err
	}
	if f.ChainIDs, err = int64ListParam(q, "chainIds"); err != nil {
		return nil, err
	}
	if f.MinRep, err = intPtrParam(q, "minRep"); err != nil {
		return nil, err
	}
	if f.MaxRep, err = intPtrParam(q, "maxRep"); err != nil {
		return nil, err
	}
	if f.MinTrust, err = intPtrParam(q, "minTrust"); err != nil {
		return nil, err
	}
	if f.MaxTrust, err = intPtrParam(q, "maxTrust"); err != nil {
		return nil, err
	}
	if f.MinFeedback, err = intPtrParam(q, "minFeedback"); err != nil {
		return nil, err
	}
	if f.MinValidations, err = intPtrParam(q, "minValidations"); err != nil {
		return nil, err
	}
	if f.MaxValidations, err = intPtrParam(q, "maxValidations"); err != nil {
		return nil, err
	}

	if f.IsZero() {
		return nil, nil
	}
	return f, nil
}

// listParam collects values for key from "key=a,b", repeated "key=", and
// "key[]=" forms, trimmed and deduplicated in order.
func listParam(q url.Values, key string) []string {
	raw := append(append([]string(nil), q[key]...), q[key+"[]"]...)
	if len(raw) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	var out []string
	for _, chunk := range raw {
		for _, v := range strings.Split(chunk, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func boolParam(q url.Values, key string) *bool {
	v := strings.ToLower(strings.TrimSpace(q.Get(key)))
	switch v {
	case "true", "1", "yes":
		b := true
		return &b
	case "false", "0", "no":
		b := false
		return &b
	default:
		return nil
	}
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func intPtrParam(q url.Values, key string) (*int, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, v)
	}
	return &n, nil
}

func int64Param(q url.Values, key string) (*int64, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, v)
	}
	return &n, nil
}

func int64ListParam(q url.Values, key string) ([]int64, error) {
	values := listParam(q, key)
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(values))
	for _, v := range values {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", key, v)
		}
		out = append(out, n)
	}
	return out, nil
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}
