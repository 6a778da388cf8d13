package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StoredImage is a base64 image kept under a session key so a later tool
// call can pick it up without the model re-sending the bytes.
type StoredImage struct {
	Key       string
	DataB64   string
	MimeType  string
	UpdatedAt time.Time
}

// ImageStore keeps the most recent image per session key.
type ImageStore struct {
	db *sql.DB
}

func NewImageStore(db *sql.DB) *ImageStore {
	return &ImageStore{db: db}
}

// Put stores or replaces the image under key.
func (s *ImageStore) Put(ctx context.Context, key, dataB64, mimeType string) error {
	if mimeType == "" {
		mimeType = "image/png"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (key, data_b64, mime_type, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data_b64 = excluded.data_b64,
		                                mime_type = excluded.mime_type,
		                                updated_at = excluded.updated_at`,
		key, dataB64, mimeType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	return nil
}

func (s *ImageStore) Get(ctx context.Context, key string) (*StoredImage, error) {
	var img StoredImage
	row := s.db.QueryRowContext(ctx,
		`SELECT key, data_b64, mime_type, updated_at FROM images WHERE key = ?`, key)
	err := row.Scan(&img.Key, &img.DataB64, &img.MimeType, &img.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return &img, nil
}

func (s *ImageStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
