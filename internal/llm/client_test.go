package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEndpoint(t *testing.T, handler func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, int)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, status := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

func TestChat(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := fakeEndpoint(t, func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, int) {
		got = req
		return reply("```json\n{\"ok\": true}\n```"), http.StatusOK
	})

	c, err := New(Config{APIKey: "test", BaseURL: srv.URL, Model: "test-model", SystemPrompt: "Return JSON only."})
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), "fix this")
	require.NoError(t, err)
	assert.Equal(t, "```json\n{\"ok\": true}\n```", out)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "Return JSON only.", got.Messages[0].Content)
	assert.Equal(t, "fix this", got.Messages[1].Content)
}

func TestChat_NoSystemPrompt(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := fakeEndpoint(t, func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, int) {
		got = req
		return reply("hi"), http.StatusOK
	})

	c, err := New(Config{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[0].Role)
}

func TestChat_NoChoices(t *testing.T) {
	srv := fakeEndpoint(t, func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, int) {
		return openai.ChatCompletionResponse{}, http.StatusOK
	})

	c, err := New(Config{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestChat_ServerError(t *testing.T) {
	srv := fakeEndpoint(t, func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, int) {
		return openai.ChatCompletionResponse{}, http.StatusInternalServerError
	})

	c, err := New(Config{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "hello")
	assert.Error(t, err)
}

func TestChat_RateLimitHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEndpoint(t, func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, int) {
		calls.Add(1)
		return reply("ok"), http.StatusOK
	})

	c, err := New(Config{BaseURL: srv.URL, Model: "m", RequestsPerMinute: 1})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "first")
	require.NoError(t, err)

	// The second call would wait a minute for a token.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Chat(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Model: "m", RequestsPerMinute: -1})
	assert.Error(t, err)
}
