package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openguenther/guenther/pkg/models"
)

func testDB(t *testing.T) *ChatStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChatStore(db)
}

func TestChatLifecycle(t *testing.T) {
	ctx := context.Background()
	store := testDB(t)

	chat, err := store.CreateChat(ctx, "Planung", "")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if chat.ID == "" {
		t.Fatal("CreateChat() returned empty id")
	}
	if chat.Title != "Planung" {
		t.Errorf("Title = %q, want %q", chat.Title, "Planung")
	}

	got, err := store.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if got.Title != "Planung" {
		t.Errorf("GetChat().Title = %q, want %q", got.Title, "Planung")
	}

	if err := store.RenameChat(ctx, chat.ID, "Wochenplanung"); err != nil {
		t.Fatalf("RenameChat() error = %v", err)
	}
	got, _ = store.GetChat(ctx, chat.ID)
	if got.Title != "Wochenplanung" {
		t.Errorf("after rename Title = %q, want %q", got.Title, "Wochenplanung")
	}

	if err := store.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	if _, err := store.GetChat(ctx, chat.ID); err != ErrNotFound {
		t.Errorf("GetChat() after delete error = %v, want ErrNotFound", err)
	}
}

func TestCreateChatDefaultTitle(t *testing.T) {
	store := testDB(t)
	chat, err := store.CreateChat(context.Background(), "", "")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if chat.Title != "Neuer Chat" {
		t.Errorf("Title = %q, want %q", chat.Title, "Neuer Chat")
	}
}

func TestChatAgentAssignment(t *testing.T) {
	ctx := context.Background()
	store := testDB(t)

	chat, _ := store.CreateChat(ctx, "Test", "agent-1")
	got, _ := store.GetChat(ctx, chat.ID)
	if got.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want %q", got.AgentID, "agent-1")
	}

	if err := store.SetChatAgent(ctx, chat.ID, "agent-2"); err != nil {
		t.Fatalf("SetChatAgent() error = %v", err)
	}
	got, _ = store.GetChat(ctx, chat.ID)
	if got.AgentID != "agent-2" {
		t.Errorf("AgentID = %q, want %q", got.AgentID, "agent-2")
	}

	if err := store.SetChatAgent(ctx, chat.ID, ""); err != nil {
		t.Fatalf("SetChatAgent(clear) error = %v", err)
	}
	got, _ = store.GetChat(ctx, chat.ID)
	if got.AgentID != "" {
		t.Errorf("AgentID = %q, want empty", got.AgentID)
	}

	if err := store.SetChatAgent(ctx, "missing", "agent-1"); err != ErrNotFound {
		t.Errorf("SetChatAgent(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := testDB(t)
	chat, _ := store.CreateChat(ctx, "Test", "")

	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Content: models.TextContent("Wie ist das Wetter?")},
		{
			Role:    models.RoleAssistant,
			Content: models.TextContent(""),
			ToolCalls: []models.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: models.FunctionCall{
					Name:      "fetch_website_info",
					Arguments: `{"url":"wetter.de"}`,
				},
			}},
		},
		{
			Role:       models.RoleTool,
			Content:    models.TextContent(`{"title":"Wetter"}`),
			Name:       "fetch_website_info",
			ToolCallID: "call_1",
		},
		{Role: models.RoleAssistant, Content: models.TextContent("Sonnig, 24 Grad.")},
	}
	for _, msg := range msgs {
		if err := store.AppendMessage(ctx, chat.ID, msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := store.Messages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len(Messages()) = %d, want 4", len(got))
	}
	if got[1].ToolCalls[0].Function.Name != "fetch_website_info" {
		t.Errorf("tool call name = %q, want %q", got[1].ToolCalls[0].Function.Name, "fetch_website_info")
	}
	if got[2].ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want %q", got[2].ToolCallID, "call_1")
	}
	if got[3].Content.JoinText() != "Sonnig, 24 Grad." {
		t.Errorf("final content = %q", got[3].Content.JoinText())
	}
}

func TestMessagePartsSurviveStorage(t *testing.T) {
	ctx := context.Background()
	store := testDB(t)
	chat, _ := store.CreateChat(ctx, "Test", "")

	msg := models.ChatMessage{
		Role: models.RoleUser,
		Content: models.PartsContent(
			models.ContentPart{Type: "text", Text: "Was ist auf dem Bild?"},
			models.ContentPart{Type: "image_url", ImageURL: &models.ImageURL{URL: "data:image/png;base64,aWJodQ=="}},
		),
	}
	if err := store.AppendMessage(ctx, chat.ID, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	got, err := store.Messages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	parts := got[0].Content.Parts
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL == "" {
		t.Error("image part lost its URL")
	}
}

func TestResetChatKeepsChat(t *testing.T) {
	ctx := context.Background()
	store := testDB(t)
	chat, _ := store.CreateChat(ctx, "Test", "")
	store.AppendMessage(ctx, chat.ID, models.ChatMessage{
		Role: models.RoleUser, Content: models.TextContent("hallo"),
	})

	if err := store.ResetChat(ctx, chat.ID); err != nil {
		t.Fatalf("ResetChat() error = %v", err)
	}
	msgs, _ := store.Messages(ctx, chat.ID)
	if len(msgs) != 0 {
		t.Errorf("len(Messages()) = %d after reset, want 0", len(msgs))
	}
	if _, err := store.GetChat(ctx, chat.ID); err != nil {
		t.Errorf("GetChat() after reset error = %v", err)
	}

	if err := store.ResetChat(ctx, "missing"); err != ErrNotFound {
		t.Errorf("ResetChat(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListChatsOrderedByUpdate(t *testing.T) {
	ctx := context.Background()
	store := testDB(t)

	first, _ := store.CreateChat(ctx, "Erster", "")
	second, _ := store.CreateChat(ctx, "Zweiter", "")

	// Appending to the older chat moves it to the front.
	if err := store.AppendMessage(ctx, first.ID, models.ChatMessage{
		Role: models.RoleUser, Content: models.TextContent("ping"),
	}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	chats, err := store.ListChats(ctx)
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("len(ListChats()) = %d, want 2", len(chats))
	}
	if chats[0].ID != first.ID {
		t.Errorf("chats[0].ID = %q, want %q (most recently touched)", chats[0].ID, first.ID)
	}
	if chats[1].ID != second.ID {
		t.Errorf("chats[1].ID = %q, want %q", chats[1].ID, second.ID)
	}
}

func TestReopenPreservesData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	store := NewChatStore(db)
	chat, _ := store.CreateChat(ctx, "Bleibt", "")
	store.AppendMessage(ctx, chat.ID, models.ChatMessage{
		Role: models.RoleUser, Content: models.TextContent("hallo"),
	})
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()
	store = NewChatStore(db)

	got, err := store.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat() after reopen error = %v", err)
	}
	if got.Title != "Bleibt" {
		t.Errorf("Title = %q, want %q", got.Title, "Bleibt")
	}
	msgs, _ := store.Messages(ctx, chat.ID)
	if len(msgs) != 1 {
		t.Errorf("len(Messages()) = %d after reopen, want 1", len(msgs))
	}
}
