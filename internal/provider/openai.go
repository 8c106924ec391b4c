package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"quorum/internal/logger"
	"quorum/internal/pkg/circuit"
)

// OpenAIChatClient speaks the OpenAI-compatible chat completions API
// (/v1/chat/completions), which also covers DeepSeek, Qwen and most
// self-hosted gateways.
type OpenAIChatClient struct {
	id          string
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	httpc       *http.Client
	limiter     *rate.Limiter
	breaker     *circuit.Breaker
}

type OpenAIOptions struct {
	ID          string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	// Shared across clients so the whole process observes one ceiling.
	Limiter *rate.Limiter
}

func NewOpenAIChatClient(opts OpenAIOptions) *OpenAIChatClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.5
	}
	return &OpenAIChatClient{
		id:          opts.ID,
		baseURL:     normalizeBaseURL(opts.BaseURL),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		maxRetries:  opts.MaxRetries,
		httpc:       &http.Client{Timeout: opts.Timeout},
		limiter:     opts.Limiter,
		breaker:     circuit.NewBreaker(opts.ID, 5, 30*time.Second),
	}
}

func (c *OpenAIChatClient) ID() string { return c.id }

// normalizeBaseURL tolerates configs that already include the full
// /chat/completions path so the suffix is appended exactly once.
func normalizeBaseURL(url string) string {
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) Call(ctx context.Context, systemPrompt, userPrompt string) (Result, error) {
	if !c.breaker.Allow() {
		return Result{}, providerErr("%s: circuit open", c.id)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, timeoutErr(c.id, err)
		}
	}
	messages := make([]map[string]string, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	body := map[string]any{"model": c.model, "messages": messages, "temperature": c.temperature}
	if c.maxTokens > 0 {
		body["max_tokens"] = c.maxTokens
	}
	payload, _ := json.Marshal(body)

	logger.TraceLLMRequest(c.id, c.model, systemPrompt, userPrompt)

	// Cancellation is observed between attempts, never mid-flight: a
	// dispatched request runs to completion (bounded by the client
	// timeout) and the caller discards its result.
	callCtx := context.WithoutCancel(ctx)

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, timeoutErr(c.id, err)
		}
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return Result{}, providerErr("building request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			if ctx.Err() != nil || isTimeout(err) {
				c.breaker.RecordFailure()
				return Result{}, timeoutErr(c.id, err)
			}
			lastErr = err
			break
		}
		if resp.StatusCode/100 == 2 {
			res, derr := decodeCompletion(resp)
			if derr != nil {
				return Result{}, derr
			}
			c.breaker.RecordSuccess()
			res.Latency = time.Since(start)
			res.Model = c.model
			logger.TraceLLMResponse(c.id, c.model, res.Text)
			return res, nil
		}
		msg := decodeAPIError(resp)
		if retryableStatus(resp.StatusCode) && attempt < c.maxRetries {
			wait := retryAfter(resp)
			if wait == 0 {
				// Exponential backoff: 0.8s, 1.6s, 3.2s... capped at 8s.
				wait = 800 * time.Millisecond << attempt
				if wait > 8*time.Second {
					wait = 8 * time.Second
				}
			}
			logger.Warnf("provider %s status=%d, retrying in %s (attempt %d/%d)",
				c.id, resp.StatusCode, wait, attempt+1, c.maxRetries)
			select {
			case <-ctx.Done():
				return Result{}, timeoutErr(c.id, ctx.Err())
			case <-time.After(wait):
			}
			lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
			continue
		}
		c.breaker.RecordFailure()
		return Result{}, providerErr("%s status=%d: %s", c.id, resp.StatusCode, msg)
	}
	if lastErr == nil {
		lastErr = errors.New("exhausted retries")
	}
	c.breaker.RecordFailure()
	return Result{}, providerErr("%s: %v", c.id, lastErr)
}

func decodeCompletion(resp *http.Response) (Result, error) {
	defer resp.Body.Close()
	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Result{}, providerErr("decoding response: %v", err)
	}
	if len(r.Choices) == 0 {
		return Result{}, providerErr("empty choices")
	}
	return Result{Text: r.Choices[0].Message.Content, TokensUsed: r.Usage.TotalTokens}, nil
}

func decodeAPIError(resp *http.Response) string {
	defer resp.Body.Close()
	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&eresp)
	if msg := strings.TrimSpace(eresp.Error.Message); msg != "" {
		return msg
	}
	return resp.Status
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	secs, err := strconv.Atoi(ra)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
