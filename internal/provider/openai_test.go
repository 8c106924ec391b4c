package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionJSON(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": text}},
		},
		"usage": map[string]int{"total_tokens": 42},
	})
	return string(b)
}

func TestCallReturnsCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		w.Write([]byte(completionJSON("the answer")))
	}))
	defer srv.Close()

	c := NewOpenAIChatClient(OpenAIOptions{
		ID: "main", BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini",
	})
	res, err := c.Call(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Text)
	assert.Equal(t, 42, res.TokensUsed)
}

func TestCallRetriesOn429ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionJSON("recovered")))
	}))
	defer srv.Close()

	c := NewOpenAIChatClient(OpenAIOptions{ID: "main", BaseURL: srv.URL, Model: "m", MaxRetries: 2})
	res, err := c.Call(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestCallNonRetryableStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIChatClient(OpenAIOptions{ID: "main", BaseURL: srv.URL, Model: "m", MaxRetries: 3})
	_, err := c.Call(context.Background(), "", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallTimeoutYieldsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(completionJSON("too late")))
	}))
	defer srv.Close()

	c := NewOpenAIChatClient(OpenAIOptions{ID: "main", BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond})
	_, err := c.Call(context.Background(), "", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderTimeout)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIChatClient(OpenAIOptions{ID: "main", BaseURL: srv.URL, Model: "m", MaxRetries: 1})
	for i := 0; i < 5; i++ {
		_, err := c.Call(context.Background(), "", "hi")
		require.Error(t, err)
	}
	hits := calls.Load()

	// Breaker is open now: refused without reaching the server.
	_, err := c.Call(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, hits, calls.Load())
}

func TestCancellationDoesNotAbortInFlightCall(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(completionJSON("finished anyway")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	c := NewOpenAIChatClient(OpenAIOptions{ID: "main", BaseURL: srv.URL, Model: "m"})
	res, err := c.Call(ctx, "", "hi")
	require.NoError(t, err, "a dispatched request runs to completion")
	assert.Equal(t, "finished anyway", res.Text)
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                                      "https://api.openai.com/v1/chat/completions",
		"https://x.test/v1":                     "https://x.test/v1/chat/completions",
		"https://x.test/v1/":                    "https://x.test/v1/chat/completions",
		"https://x.test/v1/chat/completions":    "https://x.test/v1/chat/completions",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeBaseURL(in), "input %q", in)
	}
}
