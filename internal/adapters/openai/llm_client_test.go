package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/mikey/phish-filter/internal/utils"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClassifier(t *testing.T, reply string, status int) (*OpenAIClassifier, *openai.ChatCompletionRequest) {
	t.Helper()
	var got openai.ChatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID: "chatcmpl-1",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	logger := zap.NewNop()
	c := NewOpenAIClassifier(openai.NewClientWithConfig(cfg), "gpt-4o-mini", 200, 0, 1, 64, 0.5, logger, utils.NewTextProcessor(logger))
	return c, &got
}

func TestClassify_Verdicts(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{"flagged", `{"is_phishing":true,"score":0.2,"explanation":"lure"}`, true},
		{"score above threshold", `{"is_phishing":false,"score":0.8,"explanation":"suspicious"}`, true},
		{"benign", `{"is_phishing":false,"score":0.1,"explanation":"newsletter"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, req := newTestClassifier(t, tt.reply, http.StatusOK)
			got, err := c.Classify(context.Background(), "Verify now", "click http://evil.test")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, req.Messages, 2)
			assert.Equal(t, "gpt-4o-mini", req.Model)
			assert.Contains(t, req.Messages[1].Content, "Subject: Verify now")
		})
	}
}

func TestClassify_Failures(t *testing.T) {
	c, _ := newTestClassifier(t, "not json at all", http.StatusOK)
	_, err := c.Classify(context.Background(), "s", "b")
	assert.Error(t, err)

	c, _ = newTestClassifier(t, "", http.StatusInternalServerError)
	_, err = c.Classify(context.Background(), "s", "b")
	assert.Error(t, err)
}
