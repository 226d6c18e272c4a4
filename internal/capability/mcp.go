package capability

import (
	"context"
	"net/http"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/telemetry"
)

// MCPResult is the outcome of one MCP server introspection. Partial listings
// count as success with the failures concatenated in Err.
type MCPResult struct {
	Tools     []string
	Prompts   []string
	Resources []string
	Version   string
	Success   bool
	Err       string
}

// normalizeMCPEndpoint upgrades bare-host endpoints to https and strips the
// trailing slash the streamable transport rejects.
func normalizeMCPEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimRight(endpoint, "/")
}

// FetchMCP connects to an MCP server and lists its tools, prompts and
// resources in parallel. A server that only implements tools still yields a
// successful result; listing errors are joined into Err.
func (f *Fetcher) FetchMCP(ctx context.Context, endpoint string) *MCPResult {
	endpoint = normalizeMCPEndpoint(endpoint)
	if endpoint == "" {
		return &MCPResult{Err: "empty endpoint"}
	}
	ctx, span := telemetry.StartCapabilitySpan(ctx, "mcp", endpoint)
	if err := f.guard.Check(endpoint); err != nil {
		telemetry.EndCapabilitySpan(span, "blocked", true, err.Error())
		return &MCPResult{Err: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agentgate", Version: "1.0.0"}, nil)
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint:             endpoint,
		HTTPClient:           &http.Client{Timeout: fetchTimeout},
		DisableStandaloneSSE: true,
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		telemetry.EndCapabilitySpan(span, "failed", false, "")
		return &MCPResult{Err: "connect: " + err.Error()}
	}
	defer session.Close()

	res := &MCPResult{}
	var (
		mu   sync.Mutex
		errs []string
		wg   sync.WaitGroup
	)
	fail := func(what string, err error) {
		mu.Lock()
		errs = append(errs, what+": "+err.Error())
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		listing, err := session.ListTools(ctx, &mcpsdk.ListToolsParams{})
		if err != nil {
			fail("tools", err)
			return
		}
		mu.Lock()
		for _, t := range listing.Tools {
			if t != nil && t.Name != "" {
				res.Tools = append(res.Tools, t.Name)
			}
		}
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		listing, err := session.ListPrompts(ctx, &mcpsdk.ListPromptsParams{})
		if err != nil {
			fail("prompts", err)
			return
		}
		mu.Lock()
		for _, p := range listing.Prompts {
			if p != nil && p.Name != "" {
				res.Prompts = append(res.Prompts, p.Name)
			}
		}
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		listing, err := session.ListResources(ctx, &mcpsdk.ListResourcesParams{})
		if err != nil {
			fail("resources", err)
			return
		}
		mu.Lock()
		for _, r := range listing.Resources {
			if validResource(r) {
				res.Resources = append(res.Resources, r.Name)
			}
		}
		mu.Unlock()
	}()
	wg.Wait()

	res.Err = strings.Join(errs, "; ")
	// Connected counts for something even when every listing failed, but
	// success requires at least one listing to have answered.
	res.Success = len(errs) < 3
	if res.Success {
		telemetry.EndCapabilitySpan(span, "ok", false, "")
		f.logger.Debug("mcp introspection complete",
			zap.String("endpoint", endpoint),
			zap.Int("tools", len(res.Tools)),
			zap.Int("prompts", len(res.Prompts)),
			zap.Int("resources", len(res.Resources)))
	} else {
		telemetry.EndCapabilitySpan(span, "failed", false, "")
	}
	return res
}

// validResource filters defective listing entries: an indexable resource
// carries both a uri and a name.
func validResource(r *mcpsdk.Resource) bool {
	return r != nil && r.Name != "" && r.URI != ""
}
