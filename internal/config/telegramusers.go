package config

import (
	"os"
	"path/filepath"
	"sync"
)

// TelegramUserStore persists the username to chat-id map as
// telegram_users.json. The gateway records a user's chat id on every
// authorized message; the send_telegram tool resolves @usernames through it.
type TelegramUserStore struct {
	path string

	mu    sync.Mutex
	users map[string]string
}

// NewTelegramUserStore loads telegram_users.json from dir, starting empty
// when missing.
func NewTelegramUserStore(dir string) (*TelegramUserStore, error) {
	s := &TelegramUserStore{
		path:  filepath.Join(dir, "telegram_users.json"),
		users: make(map[string]string),
	}
	if err := readJSONFile(s.path, &s.users); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if s.users == nil {
		s.users = make(map[string]string)
	}
	return s, nil
}

// Set records the chat id for a username. Writes only when changed.
func (s *TelegramUserStore) Set(username, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users[username] == chatID {
		return nil
	}

	next := make(map[string]string, len(s.users)+1)
	for k, v := range s.users {
		next[k] = v
	}
	next[username] = chatID

	if err := writeJSONFile(s.path, next); err != nil {
		return err
	}
	s.users = next
	return nil
}

// Get returns the chat id recorded for a username.
func (s *TelegramUserStore) Get(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.users[username]
	return id, ok
}

// All returns a copy of the full map.
func (s *TelegramUserStore) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.users))
	for k, v := range s.users {
		out[k] = v
	}
	return out
}
