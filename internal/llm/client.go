package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/metrics"
	"github.com/shopsight/backend/pkg/circuitbreaker"
	"github.com/shopsight/backend/pkg/config"
	"github.com/shopsight/backend/pkg/retry"
)

// Failures collapse into these kinds so callers can branch with errors.Is
// without knowing which backing service produced them.
var (
	ErrRateLimited = errors.New("llm: rate limited")
	ErrTimedOut    = errors.New("llm: request timed out")
)

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Gateway is the reasoning dependency every pipeline stage talks to.
// Complete returns free text; CompleteObject forces a JSON object reply and
// decodes it into out. Tests substitute a scripted implementation.
type Gateway interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	CompleteObject(ctx context.Context, req CompletionRequest, out any) error
}

// Client is the OpenAI-backed Gateway. Every call goes through the circuit
// breaker and the retry loop, in that order, so a flapping upstream is shed
// before it burns the retry budget.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	logger      *zap.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient builds the production gateway from injected config. baseURL
// overrides the API host when non-empty (OpenAI-compatible proxies, tests).
func NewClient(cfg config.LLMConfig, baseURL string, log *zap.Logger) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		apiConfig.BaseURL = baseURL
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           log,
	})

	retryConfig := retry.Config{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		JitterFraction:  0.1,
		RetryableErrors: []error{ErrRateLimited, ErrTimedOut},
		Logger:          log,
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	log.Info("LLM client initialized", zap.String("model", cfg.Model))

	return &Client{
		api:         openai.NewClientWithConfig(apiConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
		logger:      log,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return c.complete(ctx, req, "complete", nil)
}

// CompleteObject asks the model for a strict JSON object and decodes it into
// out. A reply that is not valid JSON is an error; callers decide whether to
// degrade.
func (c *Client) CompleteObject(ctx context.Context, req CompletionRequest, out any) error {
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	content, err := c.complete(ctx, req, "complete_object", format)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to decode structured reply: %w", err)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, req CompletionRequest, operation string, format *openai.ChatCompletionResponseFormat) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: format,
	}

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.api.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return classifyError(err)
			}
			if len(resp.Choices) == 0 {
				return errors.New("completion returned no choices")
			}

			c.logger.Debug("LLM completion generated",
				zap.String("operation", operation),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			content = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		metrics.LLMRequests.WithLabelValues(operation, "error").Inc()
		return "", err
	}

	metrics.LLMRequests.WithLabelValues(operation, "success").Inc()
	return content, nil
}

// classifyError folds transport-specific failures into the package's uniform
// error kinds while preserving the original error in the chain.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", ErrTimedOut, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	return fmt.Errorf("completion failed: %w", err)
}
