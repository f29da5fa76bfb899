package solution

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/sfbench/sfbench/internal/audit"
	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/retry"
)

// Producer generates a diff for a task description.
type Producer interface {
	Generate(ctx context.Context, taskID, prompt string) (string, error)
}

// APIKeyFor resolves the API key for a provider from the environment:
// {PROVIDER}_API_KEY first, then the provider-specific fallbacks.
func APIKeyFor(provider string) (string, error) {
	upper := strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	candidates := []string{upper + "_API_KEY"}
	switch strings.ToLower(provider) {
	case "openrouter":
		candidates = append(candidates, "OPENROUTER_API_KEY")
	case "routellm":
		candidates = append(candidates, "ROUTELLM_API_KEY")
	case "google", "gemini":
		candidates = append(candidates, "GOOGLE_API_KEY", "GEMINI_API_KEY")
	}
	for _, name := range candidates {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	// The missing key's NAME is safe to report; its value never is.
	return "", fmt.Errorf("no API key for provider %s (set %s)", provider, candidates[0])
}

// anthropicProducer generates patches through the Anthropic Messages API.
// Calls are serialized through a per-producer rate limiter and retried with
// backoff on transient errors.
type anthropicProducer struct {
	client  anthropic.Client
	model   string
	limiter *rate.Limiter
	audit   *audit.Logger
}

// NewAnthropicProducer builds a producer for the given model. The audit
// logger may be nil.
func NewAnthropicProducer(model string, auditLog *audit.Logger) (Producer, error) {
	apiKey, err := APIKeyFor("anthropic")
	if err != nil {
		return nil, err
	}

	perMinute := config.Get().RateLimitPerMinute()
	// Enforced as a minimum inter-call interval rather than a burst window.
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)

	return &anthropicProducer{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(newHTTPClient()),
		),
		model:   model,
		limiter: limiter,
		audit:   auditLog,
	}, nil
}

// newHTTPClient sizes the connection pool from the pool_connections and
// pool_maxsize knobs so parallel workers share keep-alive connections.
func newHTTPClient() *http.Client {
	cfg := config.Get()
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.PoolMaxSize(),
			MaxIdleConnsPerHost: cfg.PoolConnections(),
			MaxConnsPerHost:     cfg.PoolMaxSize(),
		},
	}
}

func (p *anthropicProducer) Generate(ctx context.Context, taskID, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if config.Get().Deterministic() {
		params.Temperature = anthropic.Float(0)
	}

	if p.audit != nil {
		p.audit.LogAPICall(taskID, "anthropic", p.model,
			map[string]string{"x-api-key": "present"}, []byte(prompt))
	}

	timeout := time.Duration(config.Get().TimeoutAPI()) * time.Second
	policy := retry.Policy{
		MaxAttempts:  config.Get().MaxRetries(),
		InitialDelay: 1 * time.Second,
		Factor:       2,
	}

	var response *anthropic.Message
	err := retry.Do(ctx, policy, nil, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resp, apiErr := p.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
