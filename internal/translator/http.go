package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/ratelimit"

	"github.com/JonMunkholm/sheetd/internal/sheet"
)

const maxErrorBodyBytes = 2048

// HTTPConfig configures an HTTPTranslator.
type HTTPConfig struct {
	URL     string
	APIKey  string // sent as a bearer token when set
	Timeout time.Duration
	RPS     int
	Retry   RetryPolicy
}

// HTTPTranslator calls a code-generation endpoint that accepts
// {"instruction", "schema", "prompt", "language"} and answers with
// {"response": "..."} or {"code": "..."}.
type HTTPTranslator struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter ratelimit.Limiter
	retry   RetryPolicy
}

// NewHTTP returns a translator for the endpoint in cfg.
func NewHTTP(cfg HTTPConfig) (*HTTPTranslator, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("translator url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &HTTPTranslator{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: newLimiter(cfg.RPS),
		retry:   cfg.Retry,
	}, nil
}

type generateRequest struct {
	Instruction string       `json:"instruction"`
	Schema      sheet.Schema `json:"schema"`
	Prompt      string       `json:"prompt"`
	Language    string       `json:"language"`
}

type generateResponse struct {
	Response string `json:"response"`
	Code     string `json:"code"`
}

// Translate implements Translator.
func (t *HTTPTranslator) Translate(ctx context.Context, instruction string, schema sheet.Schema) (CodeFragment, error) {
	body, err := json.Marshal(generateRequest{
		Instruction: instruction,
		Schema:      schema,
		Prompt:      BuildPrompt(instruction, schema),
		Language:    "javascript",
	})
	if err != nil {
		return CodeFragment{}, fmt.Errorf("encode request: %w", err)
	}

	raw, err := call(ctx, "http", t.retry, t.limiter, func() (string, error) {
		return t.post(ctx, body)
	})
	if err != nil {
		return CodeFragment{}, err
	}
	return fragment(raw)
}

func (t *HTTPTranslator) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := strings.TrimSpace(string(snippet))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return "", fmt.Errorf("%w: %s", ErrRateLimited, msg)
		case resp.StatusCode >= 500:
			return "", fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, msg)
		default:
			return "", backoff.Permanent(fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, msg))
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: decode response: %v", ErrNoCode, err))
	}
	if out.Response != "" {
		return out.Response, nil
	}
	return out.Code, nil
}
