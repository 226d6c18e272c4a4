package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/telemetry"
)

// maxEmbedTextLen truncates pathological descriptions before embedding.
const maxEmbedTextLen = 30000

// Client wraps a primary provider with an optional fallback.
type Client struct {
	primary  Provider
	fallback Provider
	logger   *zap.Logger
}

// NewClient builds the embedding client. fallback may be nil.
func NewClient(primary, fallback Provider, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{primary: primary, fallback: fallback, logger: logger.Named("embedding")}
}

// Embed generates vectors for one batch, falling back to the secondary
// provider when the primary errors.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	ctx, span := telemetry.StartEmbedSpan(ctx, c.primary.Name(), len(inputs))
	defer span.End()

	vectors, err := c.primary.Embed(ctx, inputs)
	if err == nil {
		return vectors, nil
	}
	if c.fallback == nil {
		return nil, err
	}

	c.logger.Warn("primary embedding provider failed, using fallback",
		zap.String("primary", c.primary.Name()),
		zap.String("fallback", c.fallback.Name()),
		zap.Error(err))

	vectors, ferr := c.fallback.Embed(ctx, inputs)
	if ferr != nil {
		return nil, fmt.Errorf("primary: %v; fallback: %w", err, ferr)
	}
	return vectors, nil
}

// EmbedBatch chunks inputs at BatchSize and reports progress after each
// chunk. progress may be nil.
func (c *Client) EmbedBatch(ctx context.Context, inputs []string, progress func(done, total int)) ([][]float32, error) {
	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += BatchSize {
		end := start + BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		vectors, err := c.Embed(ctx, inputs[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		out = append(out, vectors...)
		if progress != nil {
			progress(end, len(inputs))
		}
	}
	return out, nil
}

// BuildEmbedText assembles the text that gets embedded for an agent: name,
// a blank line, the description, then one capability name per line,
// truncated to a sane maximum.
func BuildEmbedText(name, description string, capabilities []string) string {
	var b strings.Builder
	b.WriteString(name)
	if description != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(description)
	}
	for _, c := range capabilities {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c)
	}

	text := b.String()
	if len(text) > maxEmbedTextLen {
		text = text[:maxEmbedTextLen]
	}
	return text
}

// Cosine computes cosine similarity. Dimension mismatch is an error; zero
// magnitude yields 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
