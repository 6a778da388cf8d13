package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

const (
	maxDownloadBytes = 20 * 1024 * 1024
	telegramAPIURL   = "https://api.telegram.org"
)

// BotClient is the surface of the Telegram Bot API the poller needs.
// Tests inject a fake; NewBotClient wraps the real API.
type BotClient interface {
	Username(ctx context.Context) (string, error)
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]*tgmodels.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
	SendPhoto(ctx context.Context, chatID int64, filename string, data []byte) error
	SendAudio(ctx context.Context, chatID int64, filename string, data []byte) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type realBotClient struct {
	bot    *bot.Bot
	token  string
	apiURL string
	http   *http.Client
}

// NewBotClient creates a BotClient backed by the Telegram Bot API. The
// token is not verified here; the first API call surfaces auth errors.
func NewBotClient(token string) (BotClient, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &realBotClient{
		bot:    b,
		token:  token,
		apiURL: telegramAPIURL,
		// Must outlast the long-poll timeout of getUpdates.
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *realBotClient) Username(ctx context.Context) (string, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", err
	}
	return me.Username, nil
}

// GetUpdates long-polls the getUpdates method directly; the bot library
// keeps it behind its own dispatch loop and does not export it.
func (c *realBotClient) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]*tgmodels.Update, error) {
	payload, err := json.Marshal(map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/bot%s/getUpdates", c.apiURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build getUpdates request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool               `json:"ok"`
		Description string             `json:"description"`
		Result      []*tgmodels.Update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode getUpdates response: %w", err)
	}
	if !body.OK {
		if body.Description == "" {
			body.Description = resp.Status
		}
		return nil, fmt.Errorf("getUpdates rejected: %s", body.Description)
	}
	return body.Result, nil
}

func (c *realBotClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

func (c *realBotClient) SendTyping(ctx context.Context, chatID int64) error {
	_, err := c.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: tgmodels.ChatActionTyping,
	})
	return err
}

func (c *realBotClient) SendPhoto(ctx context.Context, chatID int64, filename string, data []byte) error {
	_, err := c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID: chatID,
		Photo:  &tgmodels.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
	})
	return err
}

func (c *realBotClient) SendAudio(ctx context.Context, chatID int64, filename string, data []byte) error {
	_, err := c.bot.SendAudio(ctx, &bot.SendAudioParams{
		ChatID: chatID,
		Audio:  &tgmodels.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
	})
	return err
}

func (c *realBotClient) SendDocument(ctx context.Context, chatID int64, filename string, data []byte) error {
	_, err := c.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &tgmodels.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
	})
	return err
}

// DownloadFile resolves a file id via getFile and fetches its content.
func (c *realBotClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("getFile failed: %w", err)
	}
	link := c.bot.FileDownloadLink(file)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}
	return data, nil
}
