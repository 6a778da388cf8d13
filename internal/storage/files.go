package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one stored download.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// FileStore keeps generated downloads (presentations, reports) on disk
// under <root>/files/<chat_id>/.
type FileStore struct {
	root string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{root: filepath.Join(dataDir, "files")}
}

// Save writes data under the chat's directory and returns the absolute
// path. Name is reduced to its base to keep writes inside the store.
func (s *FileStore) Save(chatID, name string, data []byte) (string, error) {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	dir := filepath.Join(s.root, sanitizeChatID(chatID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create file directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

// Open returns the stored file's path after checking it exists and is
// inside the chat's directory.
func (s *FileStore) Open(chatID, name string) (string, error) {
	name = filepath.Base(filepath.Clean(name))
	path := filepath.Join(s.root, sanitizeChatID(chatID), name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// List returns the files stored for a chat, newest first.
func (s *FileStore) List(chatID string) ([]FileInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, sanitizeChatID(chatID)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].ModTime.After(files[i].ModTime) {
				files[i], files[j] = files[j], files[i]
			}
		}
	}
	return files, nil
}

// Delete removes all files of a chat.
func (s *FileStore) Delete(chatID string) error {
	dir := filepath.Join(s.root, sanitizeChatID(chatID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}

func sanitizeChatID(chatID string) string {
	chatID = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, chatID)
	if chatID == "" {
		return "_"
	}
	return chatID
}
