// Package llmclient is H1, the LLM chat client (§4.12): a generic
// `{baseUrl}/chat/completions` HTTP client. The engine never implements
// or assumes a specific vendor's endpoint (non-goal: external LLM
// endpoint implementation is out of scope) — this client only speaks the
// common chat-completions shape and is pointed at whatever local/offline
// endpoint the operator configures (this air-gapped constraint).
//
// Grounded on gasoline-mcp's internal/bridge request/response plumbing
// style (explicit context deadlines, structured errors over panics) and
// on github.com/sethvargo/go-retry for the bounded-retry policy required
// for transient failures, instead of gasoline-mcp's hand-rolled backoff
// loops.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/logging"
)

// Message is one chat-completions message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Options configures a Client per §6 ai.llm.* keys.
type Options struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RetryCount  uint64
	RetryDelay  time.Duration
	APIKey      string // optional Bearer token; empty when the endpoint needs none
	HTTPClient  *http.Client
}

// Client issues chat-completions requests against a generic endpoint.
type Client struct {
	opts Options
	http *http.Client
}

// New constructs a Client from Options, defaulting HTTPClient if unset.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, http: opts.HTTPClient}
}

// Complete sends a single-turn (or caller-assembled multi-turn) chat
// request and returns the trimmed content of choices[0].message.content.
// Attempts total RetryCount+1; 4xx responses and malformed bodies are
// not retried, 5xx and transport errors are (§4.12).
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindConfig, "encoding chat completion request", err)
	}

	backoff := retry.WithMaxRetries(c.opts.RetryCount, retry.NewConstant(c.opts.RetryDelay))

	var content string
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, retryErr := c.doOnce(ctx, payload)
		if retryErr != nil {
			return retryErr
		}
		content = resp
		return nil
	})
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindLLMUnavailable, "chat completion request failed", err)
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) doOnce(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.opts.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindConfig, "building chat completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logging.Warn(ctx, "llm request transport error, retrying", "error", err)
		return "", retry.RetryableError(apierrors.Wrap(apierrors.KindTransport, "sending chat completion request", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindTransport, "reading chat completion response", err)
	}

	if resp.StatusCode >= 500 {
		logging.Warn(ctx, "llm endpoint returned server error, retrying", "status", resp.StatusCode)
		return "", retry.RetryableError(apierrors.Newf(apierrors.KindLLMUnavailable, "endpoint returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return "", apierrors.Newf(apierrors.KindLLMUnavailable, "endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apierrors.Wrap(apierrors.KindLLMUnavailable, "decoding chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", apierrors.New(apierrors.KindLLMUnavailable, "chat completion response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
