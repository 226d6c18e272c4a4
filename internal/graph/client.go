// Package graph is the client for the upstream chain-indexer GraphQL API,
// the source of truth for agent registrations and feedback events. It speaks
// plain GraphQL-over-HTTP; responses are converted into model types with
// tolerant field parsing so upstream shape drift degrades instead of failing
// a whole sync run.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/model"
)

const (
	// PageSize is how many agents one query pulls.
	PageSize = 1000
	// MaxAgents caps a full-catalog pull.
	MaxAgents = 10000
	// MaxFeedbackEvents caps one feedback sync run.
	MaxFeedbackEvents = 50000

	requestTimeout = 10 * time.Second
	maxRetries     = 3
)

// Client talks to the indexer's GraphQL endpoint.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// New builds a graph client for the given GraphQL endpoint URL.
func New(endpoint string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger.Named("graph"),
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// do posts one GraphQL query with retry on 429/5xx and decodes data into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			if attempt < maxRetries {
				continue
			}
			return fmt.Errorf("graph request failed: %w", err)
		}

		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return fmt.Errorf("read graph response: %w", err)
		}

		if httpResp.StatusCode == 429 || httpResp.StatusCode >= 500 {
			if attempt < maxRetries {
				continue
			}
			return fmt.Errorf("graph returned %d after %d retries: %s",
				httpResp.StatusCode, maxRetries, string(respBody))
		}
		if httpResp.StatusCode != 200 {
			return fmt.Errorf("graph returned %d: %s", httpResp.StatusCode, string(respBody))
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphQLError  `json:"errors"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("unmarshal graph response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("graph error: %s", envelope.Errors[0].Message)
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("unmarshal graph data: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted retries")
}

const agentFields = `
	id
	chainId
	tokenId
	name
	description
	image
	active
	owner
	operators
	ens
	did
	walletAddress
	supportedTrust
	agentUri
	curatedBy
	email
	hasMcp
	hasA2a
	hasX402
	hasRegistrationFile
	mcpEndpoint
	a2aEndpoint
	oasfEndpoint
	mcpVersion
	a2aVersion
	x402Version
	mcpTools
	mcpPrompts
	mcpResources
	a2aSkills
	declaredSkills
	declaredDomains
	totalValidations
	pendingValidations
	expiredValidations
	createdAt
	updatedAt`

const agentsQuery = `query Agents($first: Int!, $skip: Int!) {
	agents(first: $first, skip: $skip, orderBy: createdAt, orderDirection: asc) {` + agentFields + `
	}
}`

const agentsByIDsQuery = `query AgentsByIDs($ids: [ID!]!) {
	agents(where: { id_in: $ids }, first: 1000) {` + agentFields + `
	}
}`

const agentIDsQuery = `query AgentIDs($first: Int!, $skip: Int!) {
	agents(first: $first, skip: $skip, orderBy: createdAt, orderDirection: asc) {
		id
		chainId
		tokenId
	}
}`

const feedbacksQuery = `query Feedbacks($after: BigInt!, $first: Int!) {
	feedbacks(
		where: { createdAt_gt: $after, isRevoked: false }
		first: $first
		orderBy: createdAt
		orderDirection: asc
	) {
		id
		agent { id chainId tokenId }
		score
		tag1
		tag2
		uri
		context
		reviewer
		isRevoked
		txHash
		createdAt
	}
}`

// FetchAgentsPage pulls one page of agents, oldest first.
func (c *Client) FetchAgentsPage(ctx context.Context, first, skip int) ([]model.AgentRecord, error) {
	var data struct {
		Agents []wireAgent `json:"agents"`
	}
	err := c.do(ctx, agentsQuery, map[string]any{"first": first, "skip": skip}, &data)
	if err != nil {
		return nil, err
	}
	return convertAgents(data.Agents, c.logger), nil
}

// FetchAllAgents pulls the full catalog page by page, capped at MaxAgents.
func (c *Client) FetchAllAgents(ctx context.Context) ([]model.AgentRecord, error) {
	var all []model.AgentRecord
	for skip := 0; skip < MaxAgents; skip += PageSize {
		page, err := c.FetchAgentsPage(ctx, PageSize, skip)
		if err != nil {
			return nil, fmt.Errorf("fetch agents page at %d: %w", skip, err)
		}
		all = append(all, page...)
		if len(page) < PageSize {
			break
		}
	}
	return all, nil
}

// FetchAgentsByIDs pulls specific agents by their upstream identifiers.
// Reconciliation backfill uses this in batches.
func (c *Client) FetchAgentsByIDs(ctx context.Context, ids []string) ([]model.AgentRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var data struct {
		Agents []wireAgent `json:"agents"`
	}
	if err := c.do(ctx, agentsByIDsQuery, map[string]any{"ids": ids}, &data); err != nil {
		return nil, err
	}
	return convertAgents(data.Agents, c.logger), nil
}

// FetchAllAgentIDs pulls every agent identifier (no registration-file
// filtering) for the reconciliation diff.
func (c *Client) FetchAllAgentIDs(ctx context.Context) ([]string, error) {
	var all []string
	for skip := 0; skip < MaxAgents; skip += PageSize {
		var data struct {
			Agents []wireAgent `json:"agents"`
		}
		err := c.do(ctx, agentIDsQuery, map[string]any{"first": PageSize, "skip": skip}, &data)
		if err != nil {
			return nil, fmt.Errorf("fetch agent ids at %d: %w", skip, err)
		}
		for _, a := range data.Agents {
			if id := a.canonicalID(); id != "" {
				all = append(all, id)
			}
		}
		if len(data.Agents) < PageSize {
			break
		}
	}
	return all, nil
}

// FetchFeedbackSince pulls feedback events strictly newer than the cursor,
// oldest first, capped at MaxFeedbackEvents. Revoked events are excluded by
// the query predicate and re-checked after decode.
func (c *Client) FetchFeedbackSince(ctx context.Context, after time.Time) ([]model.FeedbackEvent, error) {
	var all []model.FeedbackEvent
	cursor := after

	for len(all) < MaxFeedbackEvents {
		var data struct {
			Feedbacks []wireFeedback `json:"feedbacks"`
		}
		err := c.do(ctx, feedbacksQuery, map[string]any{
			"after": fmt.Sprintf("%d", cursor.Unix()),
			"first": PageSize,
		}, &data)
		if err != nil {
			return nil, err
		}
		if len(data.Feedbacks) == 0 {
			break
		}
		for _, f := range data.Feedbacks {
			if f.IsRevoked {
				continue
			}
			ev := f.toEvent()
			if ev != nil {
				all = append(all, *ev)
			}
		}
		last := data.Feedbacks[len(data.Feedbacks)-1]
		cursor = unixTime(last.CreatedAt)
		if len(data.Feedbacks) < PageSize {
			break
		}
	}
	if len(all) > MaxFeedbackEvents {
		all = all[:MaxFeedbackEvents]
	}
	return all, nil
}

// Healthy probes the endpoint with a trivial query.
func (c *Client) Healthy(ctx context.Context) error {
	var data struct {
		Agents []wireAgent `json:"agents"`
	}
	return c.do(ctx, `query { agents(first: 1) { id chainId tokenId } }`, nil, &data)
}
