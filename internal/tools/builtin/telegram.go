package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/tools"
)

const telegramTextLimit = 4096

var audioMimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".opus": "audio/opus",
}

func sendTelegramTool() tools.Descriptor {
	return tools.Descriptor{
		Name: "send_telegram",
		Description: "Sendet eine Textnachricht oder Audiodatei über Telegram an einen bestimmten Nutzer. " +
			"Akzeptiert als Empfänger entweder einen @username (z.B. '@mama75') " +
			"oder direkt die numerische Telegram-Chat-ID (z.B. '5761888867'). " +
			"Bei @username muss der Nutzer dem Bot vorher mindestens einmal geschrieben haben. " +
			"Kann optional eine lokale Audiodatei (MP3, WAV, OGG, FLAC, M4A, AAC, Opus) senden, " +
			"dann wird 'message' als Bildunterschrift verwendet.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipient": map[string]any{
					"type": "string",
					"description": "Empfänger: entweder @username (z.B. '@mama75' oder 'mama75') " +
						"oder direkt die numerische Telegram-Chat-ID (z.B. '5761888867'). " +
						"Bei @username wird die ID aus dem gespeicherten Mapping gelesen, " +
						"der Nutzer muss dem Bot dafür vorher mindestens einmal geschrieben haben.",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "Nachrichtentext (max. 4096 Zeichen). Bei Audiodatei: wird als Bildunterschrift gesendet (optional).",
				},
				"file_path": map[string]any{
					"type": "string",
					"description": "Optionaler absoluter Serverpfad zu einer Audiodatei (MP3, WAV, OGG, FLAC, M4A, AAC, Opus). " +
						"Wenn angegeben, wird die Datei als Audio-Nachricht gesendet.",
				},
			},
			"required": []any{"recipient", "message"},
		},
		Origin:  tools.OriginBuiltin,
		Handler: sendTelegram,
	}
}

func sendTelegram(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	recipient := strings.TrimSpace(argString(args, "recipient", ""))
	message := argString(args, "message", "")
	filePath := strings.TrimSpace(argString(args, "file_path", ""))

	if hc.Telegram == nil {
		return map[string]any{
			"success": false,
			"error":   "Kein Telegram Bot Token konfiguriert. Bitte in den Einstellungen → Telegram eintragen.",
		}, nil
	}
	if recipient == "" {
		return map[string]any{"success": false, "error": "Kein Empfänger angegeben."}, nil
	}

	chatID, display, err := resolveRecipient(hc, recipient)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}

	if filePath != "" {
		return sendTelegramAudio(ctx, hc, chatID, display, filePath, message)
	}

	emitHeader(hc, "TELEGRAM → "+display)
	if len(message) > telegramTextLimit {
		message = message[:telegramTextLimit-6] + "\n[...]"
	}
	if err := hc.Telegram.SendText(ctx, chatID, message); err != nil {
		hc.EmitText("Telegram-Fehler: " + err.Error())
		return map[string]any{"success": false, "error": "Telegram API Fehler: " + err.Error()}, nil
	}
	hc.EmitText(fmt.Sprintf("Nachricht an %s gesendet (%d Zeichen)", display, len(message)))
	emitHeader(hc, "TELEGRAM: GESENDET")
	return map[string]any{"success": true, "recipient": display, "chars": len(message)}, nil
}

func sendTelegramAudio(ctx context.Context, hc *tools.Context, chatID, display, filePath, caption string) (map[string]any, error) {
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		return map[string]any{"success": false, "error": "Datei nicht gefunden: " + filePath}, nil
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	if _, ok := audioMimeTypes[ext]; !ok {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Nicht unterstütztes Dateiformat: %s. Erlaubt: MP3, WAV, OGG, FLAC, M4A, AAC, Opus.", ext),
		}, nil
	}

	audio, err := os.ReadFile(filePath)
	if err != nil {
		return map[string]any{"success": false, "error": "Datei konnte nicht gelesen werden: " + err.Error()}, nil
	}

	filename := filepath.Base(filePath)
	emitHeader(hc, fmt.Sprintf("TELEGRAM AUDIO → %s: %s", display, filename))

	if err := hc.Telegram.SendAudio(ctx, chatID, audio, filename); err != nil {
		hc.EmitText("Telegram-Fehler: " + err.Error())
		return map[string]any{"success": false, "error": "Telegram API Fehler: " + err.Error()}, nil
	}
	if caption != "" {
		if len(caption) > 1024 {
			caption = caption[:1024]
		}
		if err := hc.Telegram.SendText(ctx, chatID, caption); err != nil {
			hc.EmitText("Telegram-Fehler: " + err.Error())
		}
	}
	hc.EmitText(fmt.Sprintf("Audio '%s' (%d KB) an %s gesendet", filename, len(audio)/1024, display))
	emitHeader(hc, "TELEGRAM: GESENDET")
	return map[string]any{"success": true, "recipient": display, "file": filename, "bytes": len(audio)}, nil
}

// resolveRecipient turns a numeric chat id or @username into the target
// chat id plus a display name for the log.
func resolveRecipient(hc *tools.Context, recipient string) (string, string, error) {
	if isNumericID(recipient) {
		return recipient, recipient, nil
	}
	username := strings.TrimPrefix(recipient, "@")
	display := "@" + username
	if hc.TelegramUsers == nil {
		return "", "", unknownRecipientError(username)
	}
	chatID, ok := hc.TelegramUsers.Get(username)
	if !ok {
		return "", "", unknownRecipientError(username)
	}
	return chatID, display, nil
}

func unknownRecipientError(username string) error {
	return fmt.Errorf("Kein Telegram-Chat für '@%s' gefunden. "+
		"Entweder muss der Nutzer dem Bot zuerst einmal schreiben, "+
		"oder du kannst die numerische Chat-ID direkt angeben.", username)
}

func isNumericID(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func emitHeader(hc *tools.Context, msg string) {
	if hc.Emit != nil {
		hc.Emit(terminallog.Event{Type: terminallog.TypeHeader, Message: msg})
	}
}
