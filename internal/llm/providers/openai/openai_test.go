package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/QuestWeaver/internal/llm"
)

func TestCompleteTextAgainstCompatibleServer(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"title\":\"The Lost Relic\"}"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`))
	}))
	defer srv.Close()

	provider, err := llm.GetProvider(ProviderName, map[string]string{
		"api_key":  "test-key",
		"base_url": srv.URL + "/",
	})
	require.NoError(t, err)

	resp, err := provider.CompleteText(context.Background(), llm.CompletionRequest{
		Prompt:       "Generate a title",
		SystemPrompt: "You write quests",
		JSONMode:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"The Lost Relic"}`, resp.Text)
	assert.Equal(t, 20, resp.TokensUsed)
	assert.Equal(t, "OpenAI", resp.ProviderName)

	assert.Equal(t, "gpt-4o-mini", got["model"], "default model is used")
	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	format := got["response_format"].(map[string]interface{})
	assert.Equal(t, "json_object", format["type"])
}

func TestAPIErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	provider, err := llm.GetProvider(ProviderName, map[string]string{"api_key": "x", "base_url": srv.URL})
	require.NoError(t, err)

	_, err = provider.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestPresetsUseTheirBaseURL(t *testing.T) {
	provider, err := llm.GetProvider("qwen", map[string]string{"api_key": "k"})
	require.NoError(t, err)
	p := provider.(*Provider)
	assert.Equal(t, "https://dashscope.aliyuncs.com/compatible-mode/v1", p.BaseURL())
	assert.Equal(t, "Qwen", p.GetName())
	assert.Equal(t, "qwen2.5-plus", p.defaultModel)

	provider, err = llm.GetProvider("grok", map[string]string{"api_key": "k", "base_url": "http://proxy.local/v1"})
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local/v1", provider.(*Provider).BaseURL())

	assert.Contains(t, llm.ListProviders(), "openrouter")
	assert.NotEmpty(t, llm.GetSupportedModelsForProvider("glm"))
}

func TestMissingAPIKey(t *testing.T) {
	_, err := llm.GetProvider("glm", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GLM")
}
