package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openguenther/guenther/internal/terminallog"
	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

// elevenLabsBaseURL is swapped out by tests.
var elevenLabsBaseURL = "https://api.elevenlabs.io"

const (
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultTTSMode = "eleven_multilingual_v2"
)

func textToSpeechTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "text_to_speech",
		Description: "Wandelt Text in gesprochene Sprache um (ElevenLabs). Gibt Audio zurück das direkt im Chat abgespielt wird.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "Der vorzulesende Text"},
			},
			"required": []any{"text"},
		},
		SettingsSchema: []models.SettingsField{
			{Key: "api_key", Label: "ElevenLabs API Key", Type: "password",
				Placeholder: "sk_...", Description: "API Key von elevenlabs.io"},
			{Key: "voice_id", Label: "Voice ID", Type: "text",
				Placeholder: defaultVoiceID,
				Description: "Voice ID (leer = Standard: Rachel)", Default: defaultVoiceID},
			{Key: "model_id", Label: "Modell", Type: "text",
				Placeholder: defaultTTSMode,
				Description: "z.B. eleven_multilingual_v2 oder eleven_turbo_v2_5", Default: defaultTTSMode},
		},
		Origin:  tools.OriginBuiltin,
		Handler: textToSpeech,
	}
}

func textToSpeech(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	text := argString(args, "text", "")
	if text == "" {
		return errorRecord("Kein Text angegeben."), nil
	}

	apiKey := hc.Setting("api_key", "")
	if apiKey == "" {
		return errorRecord("Kein ElevenLabs API Key konfiguriert. Bitte in den Tool-Einstellungen eingeben."), nil
	}
	voiceID := strings.TrimSpace(hc.Setting("voice_id", defaultVoiceID))
	modelID := strings.TrimSpace(hc.Setting("model_id", defaultTTSMode))

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", elevenLabsBaseURL, voiceID)
	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": modelID,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return errorRecord("%v", err), nil
	}

	if hc.Emit != nil {
		hc.Emit(terminallog.Event{Type: terminallog.TypeHeader, Message: "TTS API REQUEST"})
		hc.Emit(terminallog.Event{Type: terminallog.TypeJSON, Label: "request", Data: map[string]any{
			"url":         url,
			"voice_id":    voiceID,
			"model_id":    modelID,
			"text_length": len(text),
		}})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errorRecord("%v", err), nil
	}
	req.Header.Set("xi-api-key", apiKey)
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return errorRecord("ElevenLabs nicht erreichbar: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		hc.EmitText(fmt.Sprintf("TTS API Fehler %d: %s", resp.StatusCode, errBody))
		return errorRecord("ElevenLabs API Fehler %d: %s", resp.StatusCode, errBody), nil
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorRecord("%v", err), nil
	}
	hc.EmitText(fmt.Sprintf("TTS API Response: %d Bytes MP3", len(audio)))

	return map[string]any{
		"audio_base64": base64.StdEncoding.EncodeToString(audio),
		"mime_type":    "audio/mpeg",
	}, nil
}
