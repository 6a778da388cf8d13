package models

import (
	"encoding/json"
	"testing"
)

func TestMessageContent_StringRoundTrip(t *testing.T) {
	msg := ChatMessage{Role: RoleUser, Content: TextContent("hallo")}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Content.IsParts() {
		t.Error("IsParts() = true, want false")
	}
	if decoded.Content.Text != "hallo" {
		t.Errorf("Text = %q, want %q", decoded.Content.Text, "hallo")
	}
}

func TestMessageContent_PartsRoundTrip(t *testing.T) {
	msg := ChatMessage{
		Role: RoleUser,
		Content: PartsContent(
			ContentPart{Type: "text", Text: "was ist das?"},
			ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,AAAA"}},
		),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !decoded.Content.IsParts() {
		t.Fatal("IsParts() = false, want true")
	}
	if len(decoded.Content.Parts) != 2 {
		t.Fatalf("len(Parts) = %d, want 2", len(decoded.Content.Parts))
	}
	if decoded.Content.Parts[1].ImageURL == nil || decoded.Content.Parts[1].ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Errorf("image part not preserved: %+v", decoded.Content.Parts[1])
	}
}

func TestMessageContent_UnmarshalNull(t *testing.T) {
	var c MessageContent
	if err := json.Unmarshal([]byte("null"), &c); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if c.Text != "" || c.Parts != nil {
		t.Errorf("null content = %+v, want empty", c)
	}
}

func TestMessageContent_JoinText(t *testing.T) {
	tests := []struct {
		name    string
		content MessageContent
		want    string
	}{
		{"plain string", TextContent("hi"), "hi"},
		{
			"text parts joined",
			PartsContent(
				ContentPart{Type: "text", Text: "erste"},
				ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: "data:x"}},
				ContentPart{Type: "text", Text: "zweite"},
			),
			"erste\nzweite",
		},
		{"only image parts", PartsContent(ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: "data:x"}}), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.content.JoinText(); got != tt.want {
				t.Errorf("JoinText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToolCall_WireShape(t *testing.T) {
	tc := ToolCall{ID: "a", Type: "function", Function: FunctionCall{Name: "get_current_time", Arguments: `{"timezone":"UTC"}`}}

	data, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fn, ok := raw["function"].(map[string]any)
	if !ok {
		t.Fatalf("function field missing: %v", raw)
	}
	if fn["name"] != "get_current_time" {
		t.Errorf("function.name = %v, want get_current_time", fn["name"])
	}
}
