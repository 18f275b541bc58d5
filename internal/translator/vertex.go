package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/ratelimit"
	"google.golang.org/api/option"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

// VertexConfig configures a VertexTranslator.
type VertexConfig struct {
	Project  string
	Location string
	Model    string
	RPS      int
	Retry    RetryPolicy

	// CredentialsFile overrides application default credentials.
	CredentialsFile string
	// Endpoint overrides the regional API endpoint, e.g. for a proxy.
	Endpoint string
}

func (c VertexConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return opts
}

// VertexTranslator asks a Gemini model on Vertex AI for code.
type VertexTranslator struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	limiter ratelimit.Limiter
	retry   RetryPolicy
}

// NewVertex creates a Vertex AI client. Call Close when done.
func NewVertex(ctx context.Context, cfg VertexConfig) (*VertexTranslator, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, errors.New("vertex translator needs a project and location")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-1.5-pro-002"
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &VertexTranslator{
		client:  client,
		model:   model,
		limiter: newLimiter(cfg.RPS),
		retry:   cfg.Retry,
	}, nil
}

// Close releases the underlying client.
func (t *VertexTranslator) Close() error {
	return t.client.Close()
}

// Translate implements Translator.
func (t *VertexTranslator) Translate(ctx context.Context, instruction string, schema sheet.Schema) (CodeFragment, error) {
	prompt := genai.Text(BuildPrompt(instruction, schema))

	raw, err := call(ctx, "vertex", t.retry, t.limiter, func() (string, error) {
		resp, err := t.model.GenerateContent(ctx, prompt)
		if err != nil {
			return "", classifyVertexError(ctx, err)
		}
		return responseText(resp), nil
	})
	if err != nil {
		return CodeFragment{}, err
	}
	return fragment(raw)
}

// classifyVertexError retries quota and availability errors and gives up on
// everything else.
func classifyVertexError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ResourceExhausted") || strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "Unavailable") || strings.Contains(msg, "DeadlineExceeded"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrRejected, err))
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
