// Package search is the request-time query planner: filtered listing over
// the vector store's payload index, and semantic search with optional HyDE
// query expansion and reranking.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/filter"
	"github.com/agentgate/agentgate/internal/provider"
	"github.com/agentgate/agentgate/internal/telemetry"
)

const (
	hydeCacheCap    = 1000
	hydeMaxQueryLen = 500
	hydeMinQueryLen = 5
	hydeMaxTokens   = 512
)

const hydeSystemPrompt = `You expand search queries for an AI agent directory.
Given a user query, write a short hypothetical description of the ideal
matching agent, and extract any structured constraints the query implies.
Respond with a single JSON object:
{"description": "...",
 "filters": {"hasMcp"?: bool, "hasA2a"?: bool, "hasX402"?: bool,
             "chainId"?: int, "minRep"?: int, "maxRep"?: int,
             "active"?: bool, "skills"?: [string], "domains"?: [string]}}
Omit filters the query does not imply.`

// HyDEFilters is the validated structured-hint shape the expander extracts
// from a query, by LLM or by the heuristic fallback.
type HyDEFilters struct {
	HasMCP  *bool    `json:"hasMcp,omitempty"`
	HasA2A  *bool    `json:"hasA2a,omitempty"`
	HasX402 *bool    `json:"hasX402,omitempty"`
	ChainID *int64   `json:"chainId,omitempty"`
	MinRep  *int     `json:"minRep,omitempty"`
	MaxRep  *int     `json:"maxRep,omitempty"`
	Active  *bool    `json:"active,omitempty"`
	Skills  []string `json:"skills,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

// Expansion is the outcome of one query expansion.
type Expansion struct {
	Description string
	Filters     HyDEFilters
	UsedLLM     bool
	Cached      bool
}

// HyDE expands queries into hypothetical agent descriptions. Results are
// cached by lowercased query with FIFO eviction.
type HyDE struct {
	llm    provider.Provider
	model  string
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]Expansion
	order []string
}

// NewHyDE builds the expander. llm may be nil; every expansion then takes
// the heuristic path.
func NewHyDE(llm provider.Provider, model string, logger *zap.Logger) *HyDE {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HyDE{
		llm:    llm,
		model:  model,
		logger: logger.Named("hyde"),
		cache:  make(map[string]Expansion),
	}
}

// bareFilterWords are single tokens that are really filter values, not
// semantic queries. They fail the HyDE gate.
var bareFilterWords = map[string]struct{}{
	"mcp": {}, "a2a": {}, "x402": {},
	"active": {}, "agent": {}, "agents": {},
}

// Eligible reports whether the query passes the expansion gate.
func Eligible(query string) bool {
	q := strings.TrimSpace(query)
	if len(q) < hydeMinQueryLen {
		return false
	}
	_, bare := bareFilterWords[strings.ToLower(q)]
	return !bare
}

// Expand returns the expansion for a query, from cache when possible. LLM
// failure falls back to the heuristic extractor; Expand never errors.
func (h *HyDE) Expand(ctx context.Context, query string) Expansion {
	sanitized := SanitizeQuery(query)
	key := strings.ToLower(sanitized)

	h.mu.Lock()
	if exp, ok := h.cache[key]; ok {
		h.mu.Unlock()
		exp.Cached = true
		return exp
	}
	h.mu.Unlock()

	exp, err := h.expandLLM(ctx, sanitized)
	if err != nil {
		h.logger.Warn("hyde expansion failed, using heuristics",
			zap.String("query", sanitized), zap.Error(err))
		exp = heuristicExpansion(sanitized)
	}

	h.put(key, exp)
	return exp
}

func (h *HyDE) expandLLM(ctx context.Context, query string) (Expansion, error) {
	if h.llm == nil {
		return Expansion{}, fmt.Errorf("no LLM provider configured")
	}

	ctx, span := telemetry.StartLLMCallSpan(ctx, h.model, h.llm.Name(), "hyde")
	defer span.End()

	resp, err := h.llm.Complete(ctx, &provider.CompletionRequest{
		SystemPrompt: hydeSystemPrompt,
		UserPrompt:   query,
		Model:        h.model,
		MaxTokens:    hydeMaxTokens,
	})
	if err != nil {
		return Expansion{}, fmt.Errorf("hyde completion: %w", err)
	}

	raw := provider.ExtractJSON(resp)
	if raw == "" {
		return Expansion{}, fmt.Errorf("no JSON in hyde response")
	}

	var parsed struct {
		Description string      `json:"description"`
		Filters     HyDEFilters `json:"filters"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Expansion{}, fmt.Errorf("parse hyde response: %w", err)
	}

	desc := cleanDescription(parsed.Description)
	if desc == "" {
		return Expansion{}, fmt.Errorf("empty hyde description")
	}
	return Expansion{Description: desc, Filters: parsed.Filters, UsedLLM: true}, nil
}

func (h *HyDE) put(key string, exp Expansion) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.cache[key]; exists {
		return
	}
	if len(h.order) >= hydeCacheCap {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.cache, oldest)
	}
	h.cache[key] = exp
	h.order = append(h.order, key)
}

// SanitizeQuery strips control characters, curly system markers, and code
// fences, and caps the query at 500 characters.
func SanitizeQuery(query string) string {
	q := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, query)

	q = curlyMarkerRe.ReplaceAllString(q, "")
	q = strings.ReplaceAll(q, "```", "")
	q = strings.TrimSpace(q)

	if len(q) > hydeMaxQueryLen {
		q = q[:hydeMaxQueryLen]
	}
	return q
}

var curlyMarkerRe = regexp.MustCompile(`\{\{[^}]*\}\}|\{%[^}]*%\}`)

// cleanDescription normalizes whitespace in the LLM's hypothetical document.
func cleanDescription(desc string) string {
	return strings.Join(strings.Fields(desc), " ")
}

// Heuristic extraction patterns. These carry the semantic load when the LLM
// is unavailable.
var (
	mcpRe    = regexp.MustCompile(`(?i)\bmcp\b`)
	a2aRe    = regexp.MustCompile(`(?i)\ba2a\b`)
	x402Re   = regexp.MustCompile(`(?i)\bx402\b`)
	minRepRe = regexp.MustCompile(`(?i)reputation\s*(?:>=?|above|over|greater than)\s*(\d+)`)
	maxRepRe = regexp.MustCompile(`(?i)reputation\s*(?:<=?|below|under|less than)\s*(\d+)`)
)

// chainPatterns map chain-name mentions to chain IDs. Order matters: the
// compound names must win over their substrings.
var chainPatterns = []struct {
	re      *regexp.Regexp
	chainID int64
}{
	{regexp.MustCompile(`(?i)\bbase[ -]sepolia\b`), 84532},
	{regexp.MustCompile(`(?i)\bsepolia\b`), 11155111},
	{regexp.MustCompile(`(?i)\bbase\b`), 8453},
	{regexp.MustCompile(`(?i)\b(mainnet|ethereum)\b`), 1},
	{regexp.MustCompile(`(?i)\bpolygon\b`), 137},
	{regexp.MustCompile(`(?i)\barbitrum\b`), 42161},
}

// heuristicExpansion is the no-LLM path: regex filter extraction plus a
// static template expansion of the query.
func heuristicExpansion(query string) Expansion {
	var f HyDEFilters
	if mcpRe.MatchString(query) {
		f.HasMCP = ptr(true)
	}
	if a2aRe.MatchString(query) {
		f.HasA2A = ptr(true)
	}
	if x402Re.MatchString(query) {
		f.HasX402 = ptr(true)
	}
	for _, cp := range chainPatterns {
		if cp.re.MatchString(query) {
			f.ChainID = ptr(cp.chainID)
			break
		}
	}
	if m := minRepRe.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			f.MinRep = ptr(n)
		}
	}
	if m := maxRepRe.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			f.MaxRep = ptr(n)
		}
	}

	return Expansion{
		Description: "AI agent that matches this request: " + query,
		Filters:     f,
	}
}

// MergeFilters folds HyDE-extracted hints into the caller's filters. The
// caller wins every conflict; hints only fill gaps.
func MergeFilters(caller *filter.SearchFilters, hints HyDEFilters) *filter.SearchFilters {
	out := filter.SearchFilters{}
	if caller != nil {
		out = *caller
	}

	if out.MCP == nil && hints.HasMCP != nil {
		out.MCP = hints.HasMCP
	}
	if out.A2A == nil && hints.HasA2A != nil {
		out.A2A = hints.HasA2A
	}
	if out.X402 == nil && hints.HasX402 != nil {
		out.X402 = hints.HasX402
	}
	if out.ChainID == nil && len(out.ChainIDs) == 0 && hints.ChainID != nil {
		out.ChainID = hints.ChainID
	}
	if out.MinRep == nil && hints.MinRep != nil {
		out.MinRep = hints.MinRep
	}
	if out.MaxRep == nil && hints.MaxRep != nil {
		out.MaxRep = hints.MaxRep
	}
	if out.Active == nil && hints.Active != nil {
		out.Active = hints.Active
	}
	if len(out.Skills) == 0 && len(hints.Skills) > 0 {
		out.Skills = hints.Skills
	}
	if len(out.Domains) == 0 && len(hints.Domains) > 0 {
		out.Domains = hints.Domains
	}
	return &out
}

func ptr[T any](v T) *T { return &v }
