package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"prospector/internal/logging"
)

// GeminiClient implements Client against the Gemini API. Calls are
// serialized through a small semaphore and retried on transient errors.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	retry   RetryConfig

	semaphore chan struct{}

	mu        sync.Mutex
	totalCost float64
}

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) GeminiOption {
	return func(c *GeminiClient) { c.timeout = d }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(rc RetryConfig) GeminiOption {
	return func(c *GeminiClient) { c.retry = rc }
}

// WithMaxConcurrent bounds simultaneous in-flight calls.
func WithMaxConcurrent(n int) GeminiOption {
	return func(c *GeminiClient) {
		if n > 0 {
			c.semaphore = make(chan struct{}, n)
		}
	}
}

// NewGeminiClient creates a Gemini-backed model client.
func NewGeminiClient(apiKey, model string, opts ...GeminiOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash-exp"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &GeminiClient{
		client:    client,
		model:     model,
		timeout:   30 * time.Second,
		retry:     DefaultRetryConfig(),
		semaphore: make(chan struct{}, 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends a single-prompt request.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "", prompt)
}

// CompleteWithSystem sends a request with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.generate(ctx, systemPrompt, userPrompt)
}

// TotalCostUSD returns the cumulative spend across all calls.
func (c *GeminiClient) TotalCostUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// Close releases the client. The genai SDK manages its own transport,
// so there is nothing to tear down; the method exists so callers can
// treat all clients uniformly.
func (c *GeminiClient) Close() error {
	return nil
}

func (c *GeminiClient) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var config *genai.GenerateContentConfig
	if systemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}

	return WithRetry(ctx, c.retry, "generate:"+c.model, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		result, err := c.client.Models.GenerateContent(callCtx, c.model, genai.Text(userPrompt), config)
		elapsed := time.Since(start)

		if err != nil {
			logging.API("Gemini call failed after %v: %v", elapsed, err)
			return "", err
		}

		text := result.Text()
		inTokens, outTokens := c.usage(result, userPrompt, text)
		cost := LLMCost(c.model, inTokens, outTokens)
		c.mu.Lock()
		c.totalCost += cost
		c.mu.Unlock()

		logging.APIDebug("Gemini %s: %d in / %d out tokens in %v ($%.6f)",
			c.model, inTokens, outTokens, elapsed, cost)
		return text, nil
	})
}

// usage reads token counts from the response metadata, estimating from
// text length when the API omits them.
func (c *GeminiClient) usage(result *genai.GenerateContentResponse, prompt, response string) (int, int) {
	if result.UsageMetadata != nil {
		return int(result.UsageMetadata.PromptTokenCount), int(result.UsageMetadata.CandidatesTokenCount)
	}
	return EstimateTokens(prompt), EstimateTokens(response)
}
