package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/internal/llm"
)

func completion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestExtractText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])
		assert.Equal(t, "json_object", req["response_format"].(map[string]any)["type"])
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"documents":[{"source_id":"s1","amount":10}]}`))
	})

	got, err := c.ExtractText(context.Background(), llm.Prompt{System: "sys", User: "user"})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0]["source_id"])
}

func TestExtractMultimodal_SendsImageParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role         string `json:"role"`
				MultiContent []struct {
					Type     string `json:"type"`
					ImageURL *struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		// the system message content is a plain string, so decode just the user message
		var raw struct {
			Messages []json.RawMessage `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &raw))
		require.Len(t, raw.Messages, 2)
		require.NoError(t, json.Unmarshal([]byte(`{"messages":[`+string(raw.Messages[1])+`]}`), &req))
		parts := req.Messages[0].MultiContent
		require.Len(t, parts, 2)
		assert.Equal(t, "text", parts[0].Type)
		assert.Equal(t, "image_url", parts[1].Type)
		assert.Equal(t, "data:image/png;base64,aGk=", parts[1].ImageURL.URL)

		_ = json.NewEncoder(w).Encode(completion(`[{"amount": 5}]`))
	})

	got, err := c.ExtractMultimodal(context.Background(), llm.Prompt{System: "s", User: "u"},
		[]llm.Image{{MIMEType: "image/png", Data: []byte("hi")}})

	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestExtractText_MalformedContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion("sorry, I can't help"))
	})

	_, err := c.ExtractText(context.Background(), llm.Prompt{User: "u"})
	assert.ErrorIs(t, err, llm.ErrMalformedResponse)
}

func TestExtractText_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	})

	_, err := c.ExtractText(context.Background(), llm.Prompt{User: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}
