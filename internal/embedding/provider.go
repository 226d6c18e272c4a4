// Package embedding generates the text embeddings stored in the vector
// collection. Two wire-compatible provider families are supported: OpenAI
// style (/v1/embeddings, also served by Ollama, vLLM and Azure) and Voyage
// style. A configured fallback provider takes over when the primary errors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"
)

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 3

	// BatchSize caps inputs per provider request.
	BatchSize = 100
)

// Provider turns a batch of texts into vectors, index-aligned with the input.
type Provider interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Name() string
}

// httpProvider is the shared POST-JSON-with-retry base for both wire formats.
type httpProvider struct {
	name     string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func (p *httpProvider) Name() string { return p.name }

// doWithRetry posts body and decodes into result, retrying 429/5xx with
// exponential backoff.
func (p *httpProvider) doWithRetry(ctx context.Context, body []byte, result any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		httpResp, err := p.client.Do(httpReq)
		if err != nil {
			if attempt < maxRetries {
				continue
			}
			return fmt.Errorf("HTTP request failed: %w", err)
		}

		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if httpResp.StatusCode == 429 || httpResp.StatusCode >= 500 {
			if attempt < maxRetries {
				continue
			}
			return fmt.Errorf("%s returned %d after %d retries: %s",
				p.name, httpResp.StatusCode, maxRetries, string(respBody))
		}
		if httpResp.StatusCode != 200 {
			return fmt.Errorf("%s returned %d: %s", p.name, httpResp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted retries")
}

// OpenAIProvider speaks the /v1/embeddings wire format.
type OpenAIProvider struct {
	httpProvider
}

// NewOpenAIProvider builds an OpenAI-compatible embedding provider. endpoint
// is the full embeddings URL.
func NewOpenAIProvider(endpoint, apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{httpProvider{
		name:     "openai-embeddings",
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: requestTimeout},
	}}
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed returns one vector per input, restored to input order via the
// provider's index field.
func (p *OpenAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{"model": p.model, "input": inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp openaiEmbedResponse
	if err := p.doWithRetry(ctx, body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embeddings API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings count mismatch: got %d for %d inputs", len(resp.Data), len(inputs))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(inputs))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// VoyageProvider speaks the Voyage embeddings wire format.
type VoyageProvider struct {
	httpProvider
}

// NewVoyageProvider builds a Voyage-compatible embedding provider.
func NewVoyageProvider(endpoint, apiKey, model string) *VoyageProvider {
	return &VoyageProvider{httpProvider{
		name:     "voyage-embeddings",
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: requestTimeout},
	}}
}

type voyageEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Detail string `json:"detail"`
}

// Embed returns one vector per input in input order.
func (p *VoyageProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"model":      p.model,
		"input":      inputs,
		"input_type": "document",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp voyageEmbedResponse
	if err := p.doWithRetry(ctx, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		if resp.Detail != "" {
			return nil, fmt.Errorf("voyage API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embeddings count mismatch: got %d for %d inputs", len(resp.Data), len(inputs))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(inputs))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
