package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openguenther/guenther/pkg/models"
)

// WebhookStore persists webhook definitions as webhooks.json.
type WebhookStore struct {
	path string

	mu    sync.Mutex
	hooks []models.Webhook
}

// NewWebhookStore loads webhooks.json from dir, starting empty when missing.
func NewWebhookStore(dir string) (*WebhookStore, error) {
	s := &WebhookStore{path: filepath.Join(dir, "webhooks.json")}
	if err := readJSONFile(s.path, &s.hooks); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// List returns all webhooks sorted by name.
func (s *WebhookStore) List() []models.Webhook {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Webhook, len(s.hooks))
	copy(out, s.hooks)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the webhook with the given id.
func (s *WebhookStore) Get(id string) (models.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.hooks {
		if h.ID == id {
			return h, nil
		}
	}
	return models.Webhook{}, ErrNotFound
}

// Create stores a new webhook. A missing token is generated.
func (s *WebhookStore) Create(h models.Webhook) (models.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.Token == "" {
		token, err := NewWebhookToken()
		if err != nil {
			return models.Webhook{}, err
		}
		h.Token = token
	}
	h.CreatedAt = time.Now().UTC()

	next := append(append([]models.Webhook{}, s.hooks...), h)
	if err := writeJSONFile(s.path, next); err != nil {
		return models.Webhook{}, err
	}
	s.hooks = next
	return h, nil
}

// Update replaces the webhook with the same id, keeping token and creation
// time.
func (s *WebhookStore) Update(h models.Webhook) (models.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, old := range s.hooks {
		if old.ID == h.ID {
			h.Token = old.Token
			h.CreatedAt = old.CreatedAt

			next := make([]models.Webhook, len(s.hooks))
			copy(next, s.hooks)
			next[i] = h

			if err := writeJSONFile(s.path, next); err != nil {
				return models.Webhook{}, err
			}
			s.hooks = next
			return h, nil
		}
	}
	return models.Webhook{}, ErrNotFound
}

// Delete removes the webhook with the given id.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.hooks {
		if h.ID == id {
			next := append(append([]models.Webhook{}, s.hooks[:i]...), s.hooks[i+1:]...)
			if err := writeJSONFile(s.path, next); err != nil {
				return err
			}
			s.hooks = next
			return nil
		}
	}
	return ErrNotFound
}

// NewWebhookToken generates a bearer token: "wh_" plus 16 random bytes hex.
func NewWebhookToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return "wh_" + hex.EncodeToString(buf), nil
}
