// Package llm is the advisory transport backed by an OpenAI-compatible chat
// completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/advisory"
)

// Client implements advisory.Transport.
type Client struct {
	config       *Config
	openaiClient *openai.Client
	backoff      Backoff
	meter        *advisory.Meter
}

var _ advisory.Transport = (*Client)(nil)

// ClientOption configures optional client behaviour.
type ClientOption func(*clientOptions)

type clientOptions struct {
	backoff    *Backoff
	httpClient *http.Client
	clock      func() time.Time
}

// WithBackoff replaces the retry schedule derived from Config.MaxRetries.
func WithBackoff(b Backoff) ClientOption {
	return func(opts *clientOptions) { opts.backoff = &b }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(opts *clientOptions) { opts.httpClient = client }
}

// WithClock overrides the usage meter clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(opts *clientOptions) { opts.clock = clock }
}

// NewClient constructs a client from a validated configuration.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm: config cannot be nil")
	}
	clientCfg := cfg.Clone()
	if err := clientCfg.Validate(); err != nil {
		return nil, err
	}

	state := clientOptions{}
	for _, opt := range opts {
		opt(&state)
	}
	backoff := Backoff{Retries: clientCfg.MaxRetries}
	if state.backoff != nil {
		backoff = *state.backoff
	}

	oaOpts := []option.RequestOption{
		option.WithAPIKey(clientCfg.APIKey),
		option.WithBaseURL(clientCfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if state.httpClient != nil {
		oaOpts = append(oaOpts, option.WithHTTPClient(state.httpClient))
	}
	oa := openai.NewClient(oaOpts...)

	return &Client{
		config:       clientCfg,
		openaiClient: &oa,
		backoff:      backoff,
		meter: advisory.NewMeter(advisory.Pricing{
			PromptPer1K:     clientCfg.PromptCostPer1K,
			CompletionPer1K: clientCfg.CompletionCostPer1K,
		}, state.clock),
	}, nil
}

// IsAvailable reports whether the client has credentials.
func (c *Client) IsAvailable() bool {
	return c != nil && strings.TrimSpace(c.config.APIKey) != ""
}

// Usage returns today's accounting.
func (c *Client) Usage() advisory.Usage { return c.meter.Snapshot() }

// Call sends one system+user exchange and returns the assistant text.
func (c *Client) Call(ctx context.Context, system, user string) (string, error) {
	if !c.IsAvailable() {
		return "", advisory.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if c.config.Temperature != nil {
		params.Temperature = openai.Float(*c.config.Temperature)
	}
	if c.config.MaxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.config.MaxCompletionTokens))
	}
	if c.config.JSONMode {
		val := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &val}
	}

	start := time.Now()
	var completion *openai.ChatCompletion
	attempts, err := c.backoff.Retry(ctx, func() error {
		resp, callErr := c.openaiClient.Chat.Completions.New(ctx, params)
		if callErr != nil {
			return callErr
		}
		completion = resp
		return nil
	}, func(callErr error, wait time.Duration) {
		c.meter.RecordRetry()
		logx.WithContext(ctx).Infof("llm: chat completion model=%s failed, retrying in %s: %v", c.config.Model, wait, callErr)
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("llm: chat completion model=%s after %d attempt(s): %v", c.config.Model, attempts, err)
		c.meter.Record(0, 0, true)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("llm: http %d", apiErr.StatusCode)
		}
		return "", fmt.Errorf("llm: call: %w", err)
	}

	prompt, done := int(completion.Usage.PromptTokens), int(completion.Usage.CompletionTokens)
	if len(completion.Choices) == 0 {
		c.meter.Record(prompt, done, true)
		return "", errors.New("llm: empty completion")
	}
	c.meter.Record(prompt, done, false)
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	logx.WithContext(ctx).Infof("llm: chat ok model=%s attempts=%d duration=%s prompt_tokens=%d completion_tokens=%d",
		c.config.Model, attempts, time.Since(start).Round(time.Millisecond), prompt, done)
	return text, nil
}
