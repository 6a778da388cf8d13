package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/pkg/models"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(config.ProviderConfig{
		ID:      "test",
		Label:   "Test",
		BaseURL: srv.URL,
		APIKey:  "sk-or-test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(config.ProviderConfig{ID: "openrouter", Label: "OpenRouter"})
	var keyErr *KeyMissingError
	if !errors.As(err, &keyErr) {
		t.Fatalf("New() error = %v, want KeyMissingError", err)
	}
	if keyErr.Label != "OpenRouter" {
		t.Errorf("Label = %q, want %q", keyErr.Label, "OpenRouter")
	}
}

func TestChatCompletion(t *testing.T) {
	var gotReq map[string]any
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-or-test" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "Hallo!"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))

	result, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model: "openai/gpt-4o-mini",
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: models.TextContent("Du bist Guenther.")},
			{Role: models.RoleUser, Content: models.TextContent("Hallo")},
		},
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if result.Content != "Hallo!" {
		t.Errorf("Content = %q, want %q", result.Content, "Hallo!")
	}
	if result.TotalTokens != 15 || result.PromptTokens != 12 {
		t.Errorf("usage = %+v", result)
	}
	if gotReq["model"] != "openai/gpt-4o-mini" {
		t.Errorf("request model = %v", gotReq["model"])
	}
	msgs := gotReq["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("request messages = %d, want 2", len(msgs))
	}
	if role := msgs[0].(map[string]any)["role"]; role != "system" {
		t.Errorf("first role = %v, want system", role)
	}
}

func TestChatCompletionToolCalls(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_abc",
						"type": "function",
						"function": map[string]any{
							"name":      "roll_dice",
							"arguments": `{"sides":20}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))

	result, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:    "openai/gpt-4o-mini",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: models.TextContent("Würfle")}},
		Tools: []models.ToolDefinition{{
			Type: "function",
			Function: models.FunctionDefinition{
				Name:        "roll_dice",
				Description: "Würfelt",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
		}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Function.Name != "roll_dice" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments != `{"sides":20}` {
		t.Errorf("arguments = %q", tc.Function.Arguments)
	}
	if result.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q", result.FinishReason)
	}
}

func TestChatCompletionAPIError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"message":"Insufficient credits","code":402}}`))
	}))

	_, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:    "openai/gpt-4o-mini",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: models.TextContent("hi")}},
	})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if reqErr.StatusCode != 402 {
		t.Errorf("StatusCode = %d, want 402", reqErr.StatusCode)
	}
	if reqErr.Message != "Insufficient credits" {
		t.Errorf("Message = %q", reqErr.Message)
	}
}

func TestConvertMessagesVisionParts(t *testing.T) {
	msgs := convertMessages([]models.ChatMessage{{
		Role: models.RoleUser,
		Content: models.PartsContent(
			models.ContentPart{Type: "text", Text: "Was ist das?"},
			models.ContentPart{Type: "image_url", ImageURL: &models.ImageURL{URL: "data:image/png;base64,eA=="}},
		),
	}})
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if len(msgs[0].MultiContent) != 2 {
		t.Fatalf("len(MultiContent) = %d, want 2", len(msgs[0].MultiContent))
	}
	if msgs[0].MultiContent[1].ImageURL.URL != "data:image/png;base64,eA==" {
		t.Errorf("image url = %q", msgs[0].MultiContent[1].ImageURL.URL)
	}
	if msgs[0].Content != "" {
		t.Errorf("Content = %q, want empty when MultiContent is used", msgs[0].Content)
	}
}

func TestConvertMessagesToolResult(t *testing.T) {
	msgs := convertMessages([]models.ChatMessage{{
		Role:       models.RoleTool,
		Content:    models.TextContent(`{"rolls":[4]}`),
		Name:       "roll_dice",
		ToolCallID: "call_1",
	}})
	if msgs[0].ToolCallID != "call_1" || msgs[0].Name != "roll_dice" {
		t.Errorf("tool message = %+v", msgs[0])
	}
	if msgs[0].Content != `{"rolls":[4]}` {
		t.Errorf("Content = %q", msgs[0].Content)
	}
}

func TestEmbeddingsOrderedByIndex(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		// Deliberately out of order.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))

	vecs, err := client.Embeddings(context.Background(), "text-embedding-3-small", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embeddings() error = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len(vecs) = %d, want 2", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not reordered by index: %v", vecs)
	}
}

func TestFactoryFallsBackToDefault(t *testing.T) {
	store, err := config.NewSettingsStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSettingsStore() error = %v", err)
	}
	if _, err := store.Update(func(s *config.Settings) error {
		s.Providers[0].APIKey = "sk-or-xyz"
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	factory := NewFactory(store)

	client, err := factory.Client("does-not-exist")
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if client.ProviderID() != "openrouter" {
		t.Errorf("ProviderID = %q, want default openrouter", client.ProviderID())
	}
}
