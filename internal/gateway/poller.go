// Package gateway connects Guenther to Telegram: a long-poll loop pulls
// updates, authorized messages become agent turns, replies fan out as
// chunked text and native media uploads.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/media"
	"github.com/openguenther/guenther/internal/observability"
	"github.com/openguenther/guenther/internal/storage"
	"github.com/openguenther/guenther/internal/terminallog"
)

const (
	pollTimeoutSeconds = 25
	pollBackoff        = 5 * time.Second
	typingInterval     = 4 * time.Second
	messageLimit       = 4096
	titleLimit         = 50
)

const (
	refusalText = "Dein Telegram-Username %s ist nicht freigeschaltet. " +
		"Bitte kontaktiere den Administrator."
	welcomeText = "Hallo! Ich bin Guenther, dein MCP-Agent. " +
		"Schreib einfach los oder nutze /new <Name> für eine neue Chat-Session."
	newSessionText   = "Neue Chat-Session gestartet: \"%s\""
	processErrorText = "Fehler bei der Verarbeitung: %s"
	sttFailedText    = "Spracherkennung fehlgeschlagen: %s"
	sttEchoPrefix    = "[Sprache erkannt]: "
)

// RunFunc executes one agent turn. The orchestrator's Run method
// satisfies it; tests inject fakes.
type RunFunc func(ctx context.Context, req agent.Request) (string, error)

// TranscribeFunc converts voice audio to text under the given settings
// snapshot.
type TranscribeFunc func(ctx context.Context, snapshot config.Settings, audio []byte, mimeType string) (string, error)

// Poller drives the Telegram gateway: one goroutine long-polls
// getUpdates, each authorized message is handled in its own goroutine.
type Poller struct {
	client    BotClient
	run       RunFunc
	chats     *storage.ChatStore
	images    *storage.ImageStore
	users     *config.TelegramUserStore
	settings  *config.SettingsStore
	extractor *media.Extractor
	logger    *observability.Logger

	agents     *config.AgentStore
	bus        *terminallog.Bus
	metrics    *observability.Metrics
	transcribe TranscribeFunc

	mu       sync.Mutex
	sessions map[string]string
	wg       sync.WaitGroup
}

// Option configures the poller.
type Option func(*Poller)

// WithAgentStore lets pinned chat agents resolve their profile.
func WithAgentStore(agents *config.AgentStore) Option {
	return func(p *Poller) { p.agents = agents }
}

// WithBus attaches the terminal event bus so turns stream their log.
func WithBus(bus *terminallog.Bus) Option {
	return func(p *Poller) { p.bus = bus }
}

// WithMetrics attaches gateway counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithTranscribeFunc replaces the STT call, used by tests.
func WithTranscribeFunc(fn TranscribeFunc) Option {
	return func(p *Poller) { p.transcribe = fn }
}

func New(client BotClient, run RunFunc, chats *storage.ChatStore, images *storage.ImageStore, users *config.TelegramUserStore, settings *config.SettingsStore, files *storage.FileStore, logger *observability.Logger, opts ...Option) *Poller {
	p := &Poller{
		client:     client,
		run:        run,
		chats:      chats,
		images:     images,
		users:      users,
		settings:   settings,
		extractor:  media.NewExtractor(files, logger),
		logger:     logger.WithFields("component", "gateway"),
		sessions:   make(map[string]string),
		transcribe: defaultTranscribe,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run long-polls until the context is cancelled, then waits for
// in-flight turns. Transport failures back off five seconds.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info(ctx, "telegram gateway started")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info(context.Background(), "telegram gateway stopped")
			return
		default:
		}

		updates, err := p.client.GetUpdates(ctx, offset, pollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn(ctx, "getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(pollBackoff):
			}
			continue
		}

		for _, update := range updates {
			if update.ID >= offset {
				offset = update.ID + 1
			}
			p.handleUpdate(ctx, update)
		}
	}
}

// Sender returns the outbound sender consumed by the send_telegram tool.
func (p *Poller) Sender() *Sender {
	return &Sender{client: p.client}
}

// handleUpdate authorizes the message, answers commands inline and
// spawns a turn goroutine for everything else.
func (p *Poller) handleUpdate(ctx context.Context, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	tgChatID := msg.Chat.ID

	username := ""
	if msg.From != nil {
		username = msg.From.Username
	}

	snapshot := p.settings.Get()
	if !allowed(snapshot.Telegram.AllowedUsernames, username) {
		display := "(kein Username)"
		if username != "" {
			display = "@" + username
		}
		p.reply(ctx, tgChatID, fmt.Sprintf(refusalText, display))
		return
	}

	// Keep the outbound map current so send_telegram can reach the user
	// later by @username.
	if err := p.users.Set(username, strconv.FormatInt(tgChatID, 10)); err != nil {
		p.logger.Warn(ctx, "cannot persist telegram user", "username", username, "error", err)
	}

	switch {
	case len(msg.Photo) > 0:
		p.spawnTurn(ctx, snapshot, username, tgChatID, func(ctx context.Context) (string, string, bool) {
			return p.inboundPhoto(ctx, username, tgChatID, msg)
		})
		return
	case msg.Voice != nil || msg.Audio != nil:
		p.spawnTurn(ctx, snapshot, username, tgChatID, func(ctx context.Context) (string, string, bool) {
			return p.inboundVoice(ctx, snapshot, tgChatID, msg)
		})
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if text == "/start" {
		p.reply(ctx, tgChatID, welcomeText)
		return
	}
	if strings.HasPrefix(text, "/new") {
		p.startNewSession(ctx, username, tgChatID, text)
		return
	}

	p.spawnTurn(ctx, snapshot, username, tgChatID, func(context.Context) (string, string, bool) {
		return text, "", true
	})
}

// startNewSession handles /new [title]: a fresh chat becomes the user's
// session regardless of any existing one.
func (p *Poller) startNewSession(ctx context.Context, username string, tgChatID int64, text string) {
	title := ""
	if rest, ok := strings.CutPrefix(text, "/new"); ok {
		title = strings.TrimSpace(rest)
	}
	if title == "" {
		title = "Telegram: @" + username
	}

	chat, err := p.chats.CreateChat(ctx, title, "")
	if err != nil {
		p.logger.Error(ctx, "cannot create chat", "username", username, "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(processErrorText, err))
		return
	}

	p.mu.Lock()
	p.sessions[username] = chat.ID
	p.mu.Unlock()

	p.reply(ctx, tgChatID, fmt.Sprintf(newSessionText, title))
}

// sessionChat returns the user's chat, creating one when none exists or
// the stored one was deleted.
func (p *Poller) sessionChat(ctx context.Context, username string) (string, error) {
	p.mu.Lock()
	chatID := p.sessions[username]
	p.mu.Unlock()

	if chatID != "" {
		if _, err := p.chats.GetChat(ctx, chatID); err == nil {
			return chatID, nil
		}
	}

	chat, err := p.chats.CreateChat(ctx, "Telegram: @"+username, "")
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.sessions[username] = chat.ID
	p.mu.Unlock()
	return chat.ID, nil
}

// spawnTurn runs prepare (media download, STT) and the agent turn off
// the poll loop. prepare returns the turn text, an optional image
// session key and whether to proceed.
func (p *Poller) spawnTurn(ctx context.Context, snapshot config.Settings, username string, tgChatID int64, prepare func(context.Context) (string, string, bool)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		text, sessionKey, ok := prepare(ctx)
		if !ok {
			return
		}
		p.processTurn(ctx, snapshot, username, tgChatID, text, sessionKey)
	}()
}

func (p *Poller) reply(ctx context.Context, tgChatID int64, text string) {
	if err := p.client.SendMessage(ctx, tgChatID, text); err != nil {
		p.logger.Warn(ctx, "sendMessage failed", "chat_id", tgChatID, "error", err)
	}
}

func allowed(usernames []string, username string) bool {
	if username == "" {
		return false
	}
	for _, u := range usernames {
		if strings.EqualFold(strings.TrimPrefix(u, "@"), username) {
			return true
		}
	}
	return false
}
