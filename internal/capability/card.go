package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/telemetry"
)

const (
	fetchTimeout     = 5 * time.Second
	batchConcurrency = 10
	maxCardBytes     = 1 << 20
)

// wellKnownPaths are probed in order when the registered endpoint is a plain
// base URL rather than a direct card link.
var wellKnownPaths = []string{
	"/.well-known/agent.json",
	"/.well-known/agent-card.json",
}

// CardResult is the outcome of one agent-card fetch. Success=false carries
// the reason in Err; callers index the agent anyway with empty capability
// fields.
type CardResult struct {
	InputModes  []string
	OutputModes []string
	SkillNames  []string
	Success     bool
	Err         string
}

// Fetcher retrieves agent cards and MCP listings.
type Fetcher struct {
	guard  *Guard
	client *http.Client
	logger *zap.Logger
}

// NewFetcher builds a capability fetcher with the given URL guard.
func NewFetcher(guard *Guard, logger *zap.Logger) *Fetcher {
	if guard == nil {
		guard = &Guard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		guard:  guard,
		client: &http.Client{Timeout: fetchTimeout},
		logger: logger.Named("capability"),
	}
}

// wireCard parses the relevant slice of an A2A agent card permissively:
// unknown fields are ignored, list fields accept drifted shapes.
type wireCard struct {
	DefaultInputModes  model.FlexStrings `json:"defaultInputModes"`
	DefaultOutputModes model.FlexStrings `json:"defaultOutputModes"`
	Skills             []wireCardSkill   `json:"skills"`
}

type wireCardSkill struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	InputModes  model.FlexStrings `json:"inputModes"`
	OutputModes model.FlexStrings `json:"outputModes"`
}

// FetchAgentCard retrieves and parses an agent card. URLs already pointing
// at a .well-known/agent path are fetched as-is; base URLs get the
// well-known paths probed in order. Modes are the union of card defaults
// and per-skill modes, deduplicated.
func (f *Fetcher) FetchAgentCard(ctx context.Context, endpoint string) *CardResult {
	ctx, span := telemetry.StartCapabilitySpan(ctx, "a2a", endpoint)
	candidates := cardCandidates(endpoint)

	var lastErr string
	for _, candidate := range candidates {
		card, err := f.fetchCard(ctx, candidate)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		telemetry.EndCapabilitySpan(span, "ok", false, "")
		return cardResult(card)
	}
	telemetry.EndCapabilitySpan(span, "failed", strings.Contains(lastErr, ErrBlockedURL.Error()), lastErr)
	return &CardResult{Err: lastErr}
}

func cardCandidates(endpoint string) []string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.Contains(trimmed, ".well-known/agent") {
		return []string{trimmed}
	}
	out := make([]string, 0, len(wellKnownPaths))
	for _, p := range wellKnownPaths {
		out = append(out, trimmed+p)
	}
	return out
}

func (f *Fetcher) fetchCard(ctx context.Context, url string) (*wireCard, error) {
	if err := f.guard.Check(url); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCardBytes))
	if err != nil {
		return nil, fmt.Errorf("read card: %w", err)
	}

	var card wireCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("parse card: %w", err)
	}
	return &card, nil
}

func cardResult(card *wireCard) *CardResult {
	res := &CardResult{Success: true}

	inputs := append([]string(nil), card.DefaultInputModes.Values...)
	outputs := append([]string(nil), card.DefaultOutputModes.Values...)
	for _, skill := range card.Skills {
		name := skill.Name
		if name == "" {
			name = skill.ID
		}
		if name != "" {
			res.SkillNames = append(res.SkillNames, name)
		}
		inputs = append(inputs, skill.InputModes.Values...)
		outputs = append(outputs, skill.OutputModes.Values...)
	}
	res.InputModes = dedupe(inputs)
	res.OutputModes = dedupe(outputs)
	res.SkillNames = dedupe(res.SkillNames)
	return res
}

// FetchCardsBatch fans card fetches out with bounded concurrency. The result
// map has an entry for every input agent; failures carry Success=false.
func (f *Fetcher) FetchCardsBatch(ctx context.Context, endpoints map[string]string) map[string]*CardResult {
	results := make(map[string]*CardResult, len(endpoints))
	type keyed struct {
		agentID string
		result  *CardResult
	}
	out := make(chan keyed, len(endpoints))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for agentID, endpoint := range endpoints {
		g.Go(func() error {
			out <- keyed{agentID, f.FetchAgentCard(ctx, endpoint)}
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	for k := range out {
		results[k.agentID] = k.result
	}
	return results
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
