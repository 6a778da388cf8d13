package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/openguenther/guenther/internal/agent"
	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/media"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/pkg/models"
)

const photoHint = "\n\n[System-Hinweis: Der Nutzer hat ein Bild via Telegram gesendet. " +
	"Es ist unter dem Session-Key '%s' gespeichert und kann mit dem Tool " +
	"process_image bearbeitet werden (blur, grayscale, rotate, resize, sharpen, " +
	"brightness, contrast, flip_horizontal, flip_vertical, invert)."

// inboundPhoto downloads the largest photo variant, parks it in the
// image store under the user's session key and turns the message into a
// text turn carrying the session-key hint.
func (p *Poller) inboundPhoto(ctx context.Context, username string, tgChatID int64, msg *tgmodels.Message) (string, string, bool) {
	variant := msg.Photo[0]
	for _, ps := range msg.Photo[1:] {
		if ps.Width > variant.Width {
			variant = ps
		}
	}

	data, err := p.client.DownloadFile(ctx, variant.FileID)
	if err != nil {
		p.logger.Warn(ctx, "photo download failed", "username", username, "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(processErrorText, err))
		return "", "", false
	}

	sessionKey := "tg_" + username
	if err := p.images.Put(ctx, sessionKey, base64.StdEncoding.EncodeToString(data), "image/jpeg"); err != nil {
		p.logger.Error(ctx, "cannot store inbound image", "username", username, "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(processErrorText, err))
		return "", "", false
	}

	text := msg.Caption
	if text == "" {
		text = "Der Nutzer hat ein Bild gesendet."
	}
	return text + fmt.Sprintf(photoHint, sessionKey), sessionKey, true
}

// inboundVoice downloads the voice note, transcribes it and echoes the
// recognized text before the turn runs.
func (p *Poller) inboundVoice(ctx context.Context, snapshot config.Settings, tgChatID int64, msg *tgmodels.Message) (string, string, bool) {
	fileID := ""
	mimeType := "audio/ogg"
	switch {
	case msg.Voice != nil:
		fileID = msg.Voice.FileID
		if msg.Voice.MimeType != "" {
			mimeType = msg.Voice.MimeType
		}
	case msg.Audio != nil:
		fileID = msg.Audio.FileID
		if msg.Audio.MimeType != "" {
			mimeType = msg.Audio.MimeType
		}
	default:
		return "", "", false
	}

	data, err := p.client.DownloadFile(ctx, fileID)
	if err != nil {
		p.logger.Warn(ctx, "voice download failed", "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(processErrorText, err))
		return "", "", false
	}

	text, err := p.transcribe(ctx, snapshot, data, mimeType)
	if err != nil {
		p.logger.Warn(ctx, "transcription failed", "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(sttFailedText, err))
		return "", "", false
	}
	if text == "" {
		p.reply(ctx, tgChatID, fmt.Sprintf(sttFailedText, "leeres Transkript"))
		return "", "", false
	}

	p.reply(ctx, tgChatID, sttEchoPrefix+text)
	return text, "", true
}

// processTurn runs one agent turn for an inbound message and fans the
// reply out to Telegram. A typing heartbeat runs until the answer is
// ready. sessionKey names a parked inbound image cleared afterwards.
func (p *Poller) processTurn(ctx context.Context, snapshot config.Settings, username string, tgChatID int64, text, sessionKey string) {
	chatID, err := p.sessionChat(ctx, username)
	if err != nil {
		p.logger.Error(ctx, "cannot resolve session chat", "username", username, "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(processErrorText, err))
		return
	}

	history, err := p.chats.Messages(ctx, chatID)
	if err != nil {
		p.logger.Error(ctx, "cannot load chat history", "chat_id", chatID, "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(processErrorText, err))
		return
	}
	if len(history) == 0 {
		if err := p.chats.RenameChat(ctx, chatID, titleFromText(text)); err != nil {
			p.logger.Warn(ctx, "cannot set chat title", "chat_id", chatID, "error", err)
		}
	}

	userMsg := models.ChatMessage{Role: models.RoleUser, Content: models.TextContent(text)}
	req := agent.Request{
		Messages: append(history, userMsg),
		Snapshot: snapshot,
		ChatID:   chatID,
		Source:   "telegram",
	}
	if p.bus != nil {
		req.Emit = p.bus.Publish
	}
	if p.agents != nil {
		if chat, err := p.chats.GetChat(ctx, chatID); err == nil && chat.AgentID != "" {
			if profile, err := p.agents.Get(chat.AgentID); err == nil {
				req.SystemPrompt = profile.SystemPrompt
				req.AgentProviderID = profile.ProviderID
				req.AgentModel = profile.Model
			}
		}
	}

	stopTyping := p.startTyping(ctx, tgChatID)
	answer, err := p.run(ctx, req)
	stopTyping()
	if err != nil {
		p.logger.Error(ctx, "agent turn failed", "chat_id", chatID, "error", err)
		p.reply(ctx, tgChatID, fmt.Sprintf(processErrorText, err))
		return
	}

	clean, artifacts := p.extractor.Extract(chatID, answer)

	toAppend := []models.ChatMessage{userMsg}
	if clean != "" {
		toAppend = append(toAppend, models.ChatMessage{
			Role:    models.RoleAssistant,
			Content: models.TextContent(clean),
		})
	}
	if err := p.chats.AppendMessages(ctx, chatID, toAppend); err != nil {
		p.logger.Error(ctx, "cannot persist turn", "chat_id", chatID, "error", err)
	}

	for _, chunk := range chunkMessage(media.StripStoredMarkers(clean), messageLimit) {
		p.reply(ctx, tgChatID, chunk)
	}
	p.sendArtifacts(ctx, tgChatID, artifacts)

	if sessionKey != "" {
		if err := p.images.Delete(ctx, sessionKey); err != nil {
			p.logger.Warn(ctx, "cannot clear session image", "key", sessionKey, "error", err)
		}
	}
}

func (p *Poller) sendArtifacts(ctx context.Context, tgChatID int64, artifacts []media.Artifact) {
	for _, a := range artifacts {
		var err error
		switch a.Kind {
		case media.KindImage:
			err = p.client.SendPhoto(ctx, tgChatID, a.Name, a.Data)
		case media.KindAudio:
			err = p.client.SendAudio(ctx, tgChatID, a.Name, a.Data)
		default:
			err = p.client.SendDocument(ctx, tgChatID, a.Name, a.Data)
		}
		if err != nil {
			p.logger.Warn(ctx, "artifact upload failed", "name", a.Name, "kind", string(a.Kind), "error", err)
		}
	}
}

// startTyping sends the typing action immediately and then every four
// seconds until the returned stop function is called.
func (p *Poller) startTyping(ctx context.Context, tgChatID int64) func() {
	stop := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := p.client.SendTyping(ctx, tgChatID); err != nil {
				p.logger.Debug(ctx, "typing action failed", "chat_id", tgChatID, "error", err)
			}
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func titleFromText(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + "..."
}

// defaultTranscribe routes voice audio to the provider's Whisper
// endpoint or, when stt_mode is "chat", through a multimodal chat call.
func defaultTranscribe(ctx context.Context, snapshot config.Settings, audio []byte, mimeType string) (string, error) {
	cfg := snapshot.DefaultProviderConfig()
	if cfg == nil {
		return "", fmt.Errorf("kein Provider konfiguriert")
	}
	client, err := provider.New(*cfg)
	if err != nil {
		return "", err
	}

	model := snapshot.Telegram.STTModel
	if snapshot.Telegram.STTMode == "chat" {
		if model == "" {
			model = snapshot.ModelFor(cfg)
		}
		return client.TranscribeChat(ctx, audio, mimeType, model)
	}
	return client.Transcribe(ctx, audio, mimeType, model)
}
