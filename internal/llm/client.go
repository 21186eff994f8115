// Package llm is the chat-completions client behind the evolution
// pipeline. One endpoint serves two logical models: the dreamer
// (architect) and the coder (codegen), each with its own model id and
// temperature. A circuit breaker fast-fails when the provider is down
// so the scheduler can stretch its interval instead of hammering.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"ain/internal/config"
	"ain/internal/logging"
	"ain/internal/types"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultMaxTokens = 4096
	rateGate         = 100 * time.Millisecond
	maxRetries       = 3
)

// ErrRateLimited marks exhaustion caused by 429 responses. The
// scheduler switches to its extended fallback interval on this.
var ErrRateLimited = errors.New("llm: rate limited")

// Role selects which configured model serves a request.
type Role string

const (
	RoleDreamer Role = "dreamer"
	RoleCoder   Role = "coder"
)

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting for one completed call.
type Usage struct {
	Role         Role
	Model        string
	PromptTokens int
	OutputTokens int
}

// Reply is a parsed completion. FinishReason carries the provider
// value verbatim; "length" means the reply hit max_tokens.
type Reply struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		OutputTokens     int `json:"output_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Client talks to one OpenAI-compatible endpoint for both roles.
type Client struct {
	baseURL       string
	apiKey        string
	dreamerModel  string
	coderModel    string
	fallbackModel string
	maxTokens     int
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker
	onUsage       func(Usage)

	mu          sync.Mutex
	lastRequest time.Time
	tempByRole  map[Role]float64
}

// New builds a client from config. timeout bounds each call when the
// caller's context has no deadline of its own.
func New(cfg config.LLMConfig, timeout time.Duration) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	c := &Client{
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		dreamerModel:  cfg.DreamerModel,
		coderModel:    cfg.CoderModel,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     maxTokens,
		httpClient:    &http.Client{Timeout: timeout},
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Get(logging.CategoryEngine).Warn("%s breaker %s -> %s", name, from, to)
		},
	})
	return c
}

// OnUsage registers the per-call accounting hook.
func (c *Client) OnUsage(fn func(Usage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUsage = fn
}

// ModelFor maps a role to its configured model id.
func (c *Client) ModelFor(role Role) string {
	if role == RoleCoder {
		return c.coderModel
	}
	return c.dreamerModel
}

// FallbackModel returns the configured economy model id, empty when
// none is set.
func (c *Client) FallbackModel() string { return c.fallbackModel }

// SetTemperature overrides a role's sampling temperature. The meta
// tuner drives this as strategy modes shift.
func (c *Client) SetTemperature(role Role, temp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tempByRole == nil {
		c.tempByRole = make(map[Role]float64)
	}
	c.tempByRole[role] = temp
}

func (c *Client) temperatureFor(role Role) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tempByRole[role]; ok {
		return t
	}
	if role == RoleCoder {
		return 0.2
	}
	return 0.9
}

func categoryFor(role Role) logging.Category {
	switch role {
	case RoleDreamer:
		return logging.CategoryDream
	case RoleCoder:
		return logging.CategoryCoder
	}
	return logging.CategoryEngine
}

// Complete returns just the completion text for a role.
func (c *Client) Complete(ctx context.Context, role Role, systemPrompt, userPrompt string) (string, error) {
	reply, err := c.Chat(ctx, role, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// Chat sends one system+user exchange to the role's model. Transport
// failures and 429s are retried with exponential backoff; on
// exhaustion, a configured fallback model gets one extra attempt.
// An empty completion is a failure regardless of finish_reason.
func (c *Client) Chat(ctx context.Context, role Role, systemPrompt, userPrompt string) (*Reply, error) {
	return c.chat(ctx, role, c.ModelFor(role), systemPrompt, userPrompt)
}

// ChatModel is Chat with an explicit model id. The decision gate's
// cheap-tier bias routes coder-role calls through the fallback model
// with this; role still selects temperature and log category.
func (c *Client) ChatModel(ctx context.Context, role Role, model, systemPrompt, userPrompt string) (*Reply, error) {
	return c.chat(ctx, role, model, systemPrompt, userPrompt)
}

func (c *Client) chat(ctx context.Context, role Role, model, systemPrompt, userPrompt string) (*Reply, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	log := logging.Get(categoryFor(role))
	start := time.Now()

	if c.apiKey == "" {
		return nil, fmt.Errorf("llm api key: %w", types.ErrConfigMissing)
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for role %s: %w", role, types.ErrConfigMissing)
	}

	var messages []Message
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	log.Debug("chat: model=%s system_len=%d user_len=%d", model, len(systemPrompt), len(userPrompt))

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, fmt.Errorf("chat: %w: %v", types.ErrTimeout, ctx.Err())
			}
		}

		reply, err := c.once(ctx, role, model, messages)
		if err == nil {
			log.Info("chat: model=%s completed in %v response_len=%d", model, time.Since(start), len(reply.Content))
			return reply, nil
		}
		if errors.Is(err, types.ErrExternalUnavailable) || isHard(err) {
			return nil, err
		}
		lastErr = err
	}

	if c.fallbackModel != "" && c.fallbackModel != model {
		log.Warn("model %s exhausted retries (%v), trying fallback %s", model, lastErr, c.fallbackModel)
		reply, err := c.once(ctx, role, c.fallbackModel, messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}

	log.Error("chat: max retries exceeded after %v: %v", time.Since(start), lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// hardError marks failures that retrying cannot fix (bad request,
// provider-reported errors, empty completions).
type hardError struct{ err error }

func (e *hardError) Error() string { return e.err.Error() }
func (e *hardError) Unwrap() error { return e.err }

func isHard(err error) bool {
	var he *hardError
	return errors.As(err, &he)
}

// once performs a single HTTP attempt through the circuit breaker.
func (c *Client) once(ctx context.Context, role Role, model string, messages []Message) (*Reply, error) {
	c.gate()

	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperatureFor(role),
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &hardError{fmt.Errorf("marshal request: %w", err)}
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, role, model, jsonData)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("llm circuit open: %w", types.ErrExternalUnavailable)
	}
	if err != nil {
		return nil, err
	}
	return out.(*Reply), nil
}

func (c *Client) roundTrip(ctx context.Context, role Role, model string, jsonData []byte) (*Reply, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, &hardError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w (429): %s", ErrRateLimited, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &hardError{fmt.Errorf("chat request failed with status %d: %s", resp.StatusCode, string(body))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &hardError{fmt.Errorf("parse response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &hardError{fmt.Errorf("provider error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &hardError{errors.New("no completion returned")}
	}

	choice := parsed.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, &hardError{fmt.Errorf("empty completion (finish_reason=%s)", choice.FinishReason)}
	}
	if choice.FinishReason == "length" {
		logging.Get(categoryFor(role)).Warn("completion hit max_tokens (finish_reason=length), model=%s", model)
	}

	outputTokens := parsed.Usage.OutputTokens
	if outputTokens == 0 {
		outputTokens = parsed.Usage.CompletionTokens
	}
	usage := Usage{
		Role:         role,
		Model:        model,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: outputTokens,
	}
	c.account(usage)
	logging.Audit(logging.AuditLLMCall, model, string(role), map[string]interface{}{
		"prompt_tokens": usage.PromptTokens,
		"output_tokens": usage.OutputTokens,
	})

	return &Reply{
		Content:      content,
		FinishReason: choice.FinishReason,
		Model:        model,
		Usage:        usage,
	}, nil
}

// gate spaces requests at least 100 ms apart. The wait is computed
// under the lock but slept outside it: reserving the slot up front
// keeps concurrent callers spaced without holding the mutex away from
// the usage and temperature accessors.
func (c *Client) gate() {
	c.mu.Lock()
	wait := rateGate - time.Since(c.lastRequest)
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

func (c *Client) account(u Usage) {
	c.mu.Lock()
	fn := c.onUsage
	c.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}
