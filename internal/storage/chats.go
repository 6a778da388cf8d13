package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openguenther/guenther/pkg/models"
)

// ErrNotFound is returned when a chat or row does not exist.
var ErrNotFound = fmt.Errorf("record not found")

// ChatStore persists chats and their message history.
type ChatStore struct {
	db *sql.DB
}

func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

// CreateChat inserts a new chat and returns it. An empty title becomes
// "Neuer Chat".
func (s *ChatStore) CreateChat(ctx context.Context, title, agentID string) (*models.Chat, error) {
	if title == "" {
		title = "Neuer Chat"
	}
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		Title:     title,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, agent_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		chat.ID, chat.Title, nullString(chat.AgentID), chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

func (s *ChatStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, agent_id, created_at, updated_at FROM chats WHERE id = ?`, id)
	return scanChat(row)
}

// ListChats returns all chats, most recently updated first.
func (s *ChatStore) ListChats(ctx context.Context) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, agent_id, created_at, updated_at FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *ChatStore) RenameChat(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	return requireRow(res)
}

// SetChatAgent pins (or clears, with an empty id) the agent profile of a chat.
func (s *ChatStore) SetChatAgent(ctx context.Context, id, agentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET agent_id = ?, updated_at = ? WHERE id = ?`,
		nullString(agentID), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set chat agent: %w", err)
	}
	return requireRow(res)
}

// DeleteChat removes the chat and its messages.
func (s *ChatStore) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetChat drops the message history but keeps the chat itself.
func (s *ChatStore) ResetChat(ctx context.Context, id string) error {
	if _, err := s.GetChat(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("failed to reset chat: %w", err)
	}
	return nil
}

// AppendMessage stores one message at the end of the chat history and
// bumps the chat's updated_at.
func (s *ChatStore) AppendMessage(ctx context.Context, chatID string, msg models.ChatMessage) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, name, tool_call_id, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, msg.Role, string(content), nullString(msg.Name), nullString(msg.ToolCallID), toolCalls, now); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID)
	if err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessages stores several messages in one transaction, preserving order.
func (s *ChatStore) AppendMessages(ctx context.Context, chatID string, msgs []models.ChatMessage) error {
	for _, msg := range msgs {
		if err := s.AppendMessage(ctx, chatID, msg); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns the full history of a chat in insertion order.
func (s *ChatStore) Messages(ctx context.Context, chatID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, name, tool_call_id, tool_calls FROM messages WHERE chat_id = ? ORDER BY id ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var content string
		var name, toolCallID, toolCalls sql.NullString
		if err := rows.Scan(&msg.Role, &content, &name, &toolCallID, &toolCalls); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content: %w", err)
		}
		msg.Name = name.String
		msg.ToolCallID = toolCallID.String
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanChat(row interface{ Scan(...any) error }) (*models.Chat, error) {
	var chat models.Chat
	var agentID sql.NullString
	err := row.Scan(&chat.ID, &chat.Title, &agentID, &chat.CreatedAt, &chat.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	chat.AgentID = agentID.String
	return &chat, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
