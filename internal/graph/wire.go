package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/identity"
	"github.com/agentgate/agentgate/internal/model"
)

// flexInt64 accepts the number-or-string encodings the indexer uses for
// BigInt fields.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("neither number nor string: %s", string(data))
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %q: %w", s, err)
	}
	*f = flexInt64(n)
	return nil
}

// unixTime converts the indexer's unix-seconds timestamps.
func unixTime(v flexInt64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

// wireAgent mirrors one agent node in a GraphQL response.
type wireAgent struct {
	ID      string    `json:"id"`
	ChainID flexInt64 `json:"chainId"`
	TokenID string    `json:"tokenId"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Active      bool   `json:"active"`

	Owner          string            `json:"owner"`
	Operators      model.FlexStrings `json:"operators"`
	ENS            string            `json:"ens"`
	DID            string            `json:"did"`
	WalletAddress  string            `json:"walletAddress"`
	SupportedTrust model.FlexStrings `json:"supportedTrust"`
	AgentURI       string            `json:"agentUri"`
	CuratedBy      model.FlexStrings `json:"curatedBy"`
	Email          string            `json:"email"`

	HasMCP              bool `json:"hasMcp"`
	HasA2A              bool `json:"hasA2a"`
	HasX402             bool `json:"hasX402"`
	HasRegistrationFile bool `json:"hasRegistrationFile"`

	MCPEndpoint  string `json:"mcpEndpoint"`
	A2AEndpoint  string `json:"a2aEndpoint"`
	OASFEndpoint string `json:"oasfEndpoint"`
	MCPVersion   string `json:"mcpVersion"`
	A2AVersion   string `json:"a2aVersion"`
	X402Version  string `json:"x402Version"`

	MCPTools     model.FlexStrings `json:"mcpTools"`
	MCPPrompts   model.FlexStrings `json:"mcpPrompts"`
	MCPResources model.FlexStrings `json:"mcpResources"`
	A2ASkills    model.FlexStrings `json:"a2aSkills"`

	DeclaredSkills  model.FlexStrings `json:"declaredSkills"`
	DeclaredDomains model.FlexStrings `json:"declaredDomains"`

	TotalValidations   flexInt64 `json:"totalValidations"`
	PendingValidations flexInt64 `json:"pendingValidations"`
	ExpiredValidations flexInt64 `json:"expiredValidations"`

	CreatedAt flexInt64 `json:"createdAt"`
	UpdatedAt flexInt64 `json:"updatedAt"`
}

// canonicalID builds the "chain:token" identifier. Empty when the node is
// missing either part.
func (a *wireAgent) canonicalID() string {
	if a.ChainID == 0 || a.TokenID == "" {
		return ""
	}
	return fmt.Sprintf("%d:%s", int64(a.ChainID), a.TokenID)
}

func (a *wireAgent) toRecord() *model.AgentRecord {
	id := a.canonicalID()
	if id == "" {
		return nil
	}
	return &model.AgentRecord{
		AgentID:     id,
		ChainID:     int64(a.ChainID),
		TokenID:     a.TokenID,
		Name:        a.Name,
		Description: a.Description,
		ImageURL:    a.Image,
		Active:      a.Active,

		HasMCP:              a.HasMCP,
		HasA2A:              a.HasA2A,
		HasX402:             a.HasX402,
		HasRegistrationFile: a.HasRegistrationFile,

		MCPEndpoint:  a.MCPEndpoint,
		A2AEndpoint:  a.A2AEndpoint,
		OASFEndpoint: a.OASFEndpoint,
		Email:        a.Email,
		MCPVersion:   a.MCPVersion,
		A2AVersion:   a.A2AVersion,
		X402Version:  a.X402Version,

		MCPTools:     a.MCPTools.Values,
		MCPPrompts:   a.MCPPrompts.Values,
		MCPResources: a.MCPResources.Values,
		A2ASkills:    a.A2ASkills.Values,

		DeclaredSkills:  a.DeclaredSkills.Values,
		DeclaredDomains: a.DeclaredDomains.Values,

		ENS:            identity.NormalizeAddress(a.ENS),
		DID:            a.DID,
		Owner:          identity.NormalizeAddress(a.Owner),
		WalletAddress:  identity.NormalizeAddress(a.WalletAddress),
		Operators:      identity.NormalizeAddresses(a.Operators.Values),
		SupportedTrust: a.SupportedTrust.Values,
		AgentURI:       a.AgentURI,
		CuratedBy:      identity.NormalizeAddresses(a.CuratedBy.Values),

		TotalValidations:   int64(a.TotalValidations),
		PendingValidations: int64(a.PendingValidations),
		ExpiredValidations: int64(a.ExpiredValidations),

		CreatedAt: unixTime(a.CreatedAt),
		UpdatedAt: unixTime(a.UpdatedAt),
	}
}

func convertAgents(in []wireAgent, logger *zap.Logger) []model.AgentRecord {
	out := make([]model.AgentRecord, 0, len(in))
	for i := range in {
		rec := in[i].toRecord()
		if rec == nil {
			logger.Warn("skipping agent with unusable identifier", zap.String("upstream_id", in[i].ID))
			continue
		}
		for _, w := range in[i].MCPTools.Warnings {
			logger.Warn("mcpTools entry dropped", zap.String("agent_id", rec.AgentID), zap.String("warning", w))
		}
		out = append(out, *rec)
	}
	return out
}

// wireFeedback mirrors one feedback node.
type wireFeedback struct {
	ID    string `json:"id"`
	Agent struct {
		ID      string    `json:"id"`
		ChainID flexInt64 `json:"chainId"`
		TokenID string    `json:"tokenId"`
	} `json:"agent"`
	Score     flexInt64 `json:"score"`
	Tag1      string    `json:"tag1"`
	Tag2      string    `json:"tag2"`
	URI       string    `json:"uri"`
	Context   string    `json:"context"`
	Reviewer  string    `json:"reviewer"`
	IsRevoked bool      `json:"isRevoked"`
	TxHash    string    `json:"txHash"`
	CreatedAt flexInt64 `json:"createdAt"`
}

// toEvent converts a feedback node; nil when the agent reference is unusable.
// The dedupe key is "graph:<id>".
func (f *wireFeedback) toEvent() *model.FeedbackEvent {
	if f.Agent.ChainID == 0 || f.Agent.TokenID == "" {
		return nil
	}
	ev := &model.FeedbackEvent{
		ExternalID: "graph:" + f.ID,
		AgentID:    fmt.Sprintf("%d:%s", int64(f.Agent.ChainID), f.Agent.TokenID),
		ChainID:    int64(f.Agent.ChainID),
		Score:      int(f.Score),
		Context:    f.Context,
		URI:        f.URI,
		Submitter:  identity.NormalizeAddress(f.Reviewer),
		CreatedAt:  unixTime(f.CreatedAt),
		TxHash:     f.TxHash,
	}
	if f.Tag1 != "" {
		ev.Tags = append(ev.Tags, f.Tag1)
	}
	if f.Tag2 != "" {
		ev.Tags = append(ev.Tags, f.Tag2)
	}
	return ev
}
