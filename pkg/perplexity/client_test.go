package perplexity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionBody builds a minimal successful completion payload.
func completionBody(id, content string, promptTokens, completionTokens int) string {
	return fmt.Sprintf(`{
		"id": %q,
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}}],
		"usage": {"prompt_tokens": %d, "completion_tokens": %d}
	}`, id, content, promptTokens, completionTokens)
}

// inspectServer decodes each incoming request and hands it to check before
// replying with a canned success body.
func inspectServer(t *testing.T, check func(req ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		check(req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("ok", "done", 0, 0)))
	}))
}

func TestChatCompletion(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantID     string
		wantTokens int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"id": "cmpl-recall-7",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "Two recalls were issued in 2025."}}],
				"citations": ["https://www.fda.gov/recalls/acme", "https://news.example.com/acme-recall"],
				"search_results": [{"title": "Acme recall notice", "url": "https://www.fda.gov/recalls/acme", "date": "2025-03-02"}],
				"usage": {"prompt_tokens": 42, "completion_tokens": 17}
			}`,
			wantID:     "cmpl-recall-7",
			wantTokens: 17,
		},
		{
			name:    "rate_limit",
			status:  http.StatusTooManyRequests,
			body:    `{"error": "rate limit exceeded"}`,
			wantErr: "unexpected status 429",
		},
		{
			name:    "server_error",
			status:  http.StatusInternalServerError,
			body:    `{"error": "internal server error"}`,
			wantErr: "unexpected status 500",
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))

			resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
				Messages: []Message{{Role: "user", Content: "Recent product recalls for Acme Corp"}},
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantID, resp.ID)
			require.Len(t, resp.Choices, 1)
			assert.Equal(t, "Two recalls were issued in 2025.", resp.Choices[0].Message.Content)
			assert.Equal(t, tt.wantTokens, resp.Usage.CompletionTokens)
			assert.Len(t, resp.Citations, 2)
			require.Len(t, resp.SearchResults, 1)
			assert.Equal(t, "https://www.fda.gov/recalls/acme", resp.SearchResults[0].URL)
		})
	}
}

func TestModelSelection(t *testing.T) {
	tests := []struct {
		name         string
		opts         []Option
		requestModel string
		wantModel    string
	}{
		{name: "default model", wantModel: "sonar-pro"},
		{name: "client option", opts: []Option{WithModel("sonar")}, wantModel: "sonar"},
		{name: "request overrides default", requestModel: "sonar-reasoning", wantModel: "sonar-reasoning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := inspectServer(t, func(req ChatCompletionRequest) {
				assert.Equal(t, tt.wantModel, req.Model)
			})
			defer srv.Close()

			opts := append([]Option{WithBaseURL(srv.URL)}, tt.opts...)
			client := NewClient("test-key", opts...)
			_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
				Model:    tt.requestModel,
				Messages: []Message{{Role: "user", Content: "Acme Corp leadership changes"}},
			})
			require.NoError(t, err)
		})
	}
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ChatCompletion(ctx, ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	customClient := &http.Client{}
	c := NewClient("test-key", WithHTTPClient(customClient))
	hc := c.(*httpClient)
	assert.Equal(t, customClient, hc.http)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, defaultModel, hc.model)
	assert.NotNil(t, hc.http)
	assert.NotNil(t, hc.http.Transport)
}

func TestErrorResponseIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid api key","message":"check your credentials"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestChatCompletion_Temperature(t *testing.T) {
	srv := inspectServer(t, func(req ChatCompletionRequest) {
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.2, *req.Temperature, 0.001)
	})
	defer srv.Close()

	temp := 0.2
	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages:    []Message{{Role: "user", Content: "query"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
}

func TestChatCompletion_NoTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(body, &raw))

		// An unset temperature must stay out of the wire payload so the API
		// applies its own default.
		_, hasTemp := raw["temperature"]
		assert.False(t, hasTemp)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("ok", "done", 0, 0)))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.NoError(t, err)
}

func TestChatCompletion_MaxTokens(t *testing.T) {
	srv := inspectServer(t, func(req ChatCompletionRequest) {
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 500, *req.MaxTokens)
	})
	defer srv.Close()

	maxTokens := 500
	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages:  []Message{{Role: "user", Content: "query"}},
		MaxTokens: &maxTokens,
	})
	require.NoError(t, err)
}

// flakyServer fails the first failures requests with status, then succeeds.
func flakyServer(failures int32, status int, okID string) (*httptest.Server, *atomic.Int32) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= failures {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"upstream failure"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(okID, "recovered", 8, 4)))
	}))
	return srv, &attempts
}

func TestChatCompletion_Retries5xx(t *testing.T) {
	srv, attempts := flakyServer(2, http.StatusInternalServerError, "retry-ok")
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "retry-ok", resp.ID)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestChatCompletion_Retries429(t *testing.T) {
	srv, attempts := flakyServer(1, http.StatusTooManyRequests, "rate-ok")
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "rate-ok", resp.ID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestChatCompletion_NoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestChatCompletion_ExhaustsRetries(t *testing.T) {
	srv, attempts := flakyServer(int32(maxRetryAttempts), http.StatusInternalServerError, "never")
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(maxRetryAttempts), attempts.Load())
}

func TestChatCompletion_RetryRespectsContextCancel(t *testing.T) {
	srv, attempts := flakyServer(int32(maxRetryAttempts), http.StatusInternalServerError, "never")
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel shortly after the first attempt so the backoff sleep observes it.
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ChatCompletion(ctx, ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts.Load(), int32(maxRetryAttempts))
}

func TestChatCompletion_RetrySucceedsOnSecondAttempt(t *testing.T) {
	srv, attempts := flakyServer(1, http.StatusInternalServerError, "second-try")
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "query"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "second-try", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "recovered", resp.Choices[0].Message.Content)
	assert.Equal(t, 8, resp.Usage.PromptTokens)
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
	assert.Equal(t, int32(2), attempts.Load())
}
