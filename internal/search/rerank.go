package search

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
	rerankTimeout    = 30 * time.Second
	rerankMaxRetries = 3

	// DefaultRerankTopK is how many candidates feed the reranker before the
	// top `limit` survive.
	DefaultRerankTopK = 50
)

// RankedDoc is one reranker verdict: the index into the candidate slice and
// the relevance score the reranker assigned.
type RankedDoc struct {
	Index          int
	RelevanceScore float64
}

// Reranker reorders candidate documents by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedDoc, error)
	Name() string
}

// VoyageReranker speaks the Voyage /v1/rerank wire format.
type VoyageReranker struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewVoyageReranker builds the reranker. endpoint is the full rerank URL.
func NewVoyageReranker(endpoint, apiKey, model string) *VoyageReranker {
	return &VoyageReranker{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: rerankTimeout},
	}
}

func (r *VoyageReranker) Name() string { return "voyage-rerank" }

type voyageRerankResponse struct {
	Data []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"data"`
	Detail string `json:"detail"`
}

// Rerank scores every document against the query and returns the top topK,
// best first.
func (r *VoyageReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedDoc, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	body, err := json.Marshal(map[string]any{
		"model":     r.model,
		"query":     query,
		"documents": documents,
		"top_k":     topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var resp voyageRerankResponse
	if err := r.doWithRetry(ctx, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 && resp.Detail != "" {
		return nil, fmt.Errorf("rerank API error: %s", resp.Detail)
	}

	out := make([]RankedDoc, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(documents) {
			return nil, fmt.Errorf("rerank returned index %d for %d documents", d.Index, len(documents))
		}
		out = append(out, RankedDoc{Index: d.Index, RelevanceScore: d.RelevanceScore})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	return out, nil
}

func (r *VoyageReranker) doWithRetry(ctx context.Context, body []byte, result any) error {
	for attempt := 0; attempt <= rerankMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		httpResp, err := r.client.Do(httpReq)
		if err != nil {
			if attempt < rerankMaxRetries {
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
			if attempt < rerankMaxRetries {
				continue
			}
			return fmt.Errorf("rerank returned %d after %d retries: %s",
				httpResp.StatusCode, rerankMaxRetries, string(respBody))
		}
		if httpResp.StatusCode != 200 {
			return fmt.Errorf("rerank returned %d: %s", httpResp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted retries")
}
