package gateway

import (
	"context"
	"fmt"
	"strconv"
)

// Sender delivers outbound messages for the send_telegram tool. It
// satisfies tools.TelegramSender; the orchestrator receives it once the
// gateway is up.
type Sender struct {
	client BotClient
}

func (s *Sender) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, id, text)
}

func (s *Sender) SendAudio(ctx context.Context, chatID string, audio []byte, filename string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return s.client.SendAudio(ctx, id, filename, audio)
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}
