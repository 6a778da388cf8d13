package config

import (
	"strings"
	"testing"

	"github.com/openguenther/guenther/pkg/models"
)

func TestNewWebhookToken_Shape(t *testing.T) {
	token, err := NewWebhookToken()
	if err != nil {
		t.Fatalf("NewWebhookToken: %v", err)
	}
	if !strings.HasPrefix(token, "wh_") {
		t.Errorf("token = %q, want wh_ prefix", token)
	}
	if len(token) != 3+32 {
		t.Errorf("len(token) = %d, want 35", len(token))
	}

	other, _ := NewWebhookToken()
	if token == other {
		t.Error("two tokens are identical")
	}
}

func TestWebhookStore_CreateGeneratesToken(t *testing.T) {
	store, err := NewWebhookStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	h, err := store.Create(models.Webhook{Name: "Alarmanlage", ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(h.Token, "wh_") {
		t.Errorf("Token = %q", h.Token)
	}
	if h.ID == "" {
		t.Error("id not assigned")
	}
}

func TestWebhookStore_UpdateKeepsToken(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWebhookStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	h, err := store.Create(models.Webhook{Name: "Alt"})
	if err != nil {
		t.Fatal(err)
	}

	h.Name = "Neu"
	h.Token = "wh_fälschung"
	updated, err := store.Update(h)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Neu" {
		t.Errorf("Name = %q", updated.Name)
	}
	if updated.Token == "wh_fälschung" {
		t.Error("Update must not accept a replacement token")
	}

	reloaded, err := NewWebhookStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reloaded.Get(h.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Neu" {
		t.Errorf("Name after reload = %q", got.Name)
	}
}
