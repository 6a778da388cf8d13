package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/openguenther/guenther/internal/config"
)

const maxAudioBytes = 25 * 1024 * 1024

// Transcribe converts audio to text via the provider's audio endpoint
// (Whisper-style multipart upload).
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType, model string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio data is empty")
	}
	if len(audio) > maxAudioBytes {
		return "", fmt.Errorf("audio data too large (%d bytes)", len(audio))
	}
	if model == "" {
		model = "whisper-1"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filenameForMimeType(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("failed to write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := config.NormalizeBaseURL(c.cfg.BaseURL) + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &RequestError{StatusCode: resp.StatusCode, Message: apiErrorMessage(respBody)}
	}
	return strings.TrimSpace(string(respBody)), nil
}

// TranscribeChat converts audio to text through a multimodal chat model
// for providers that route everything over chat completions.
func (c *Client) TranscribeChat(ctx context.Context, audio []byte, mimeType, model string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio data is empty")
	}
	if len(audio) > maxAudioBytes {
		return "", fmt.Errorf("audio data too large (%d bytes)", len(audio))
	}

	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{
					"type":   "input_audio",
					"data":   base64.StdEncoding.EncodeToString(audio),
					"format": audioFormatForMimeType(mimeType),
				},
				{
					"type": "text",
					"text": "Transkribiere das Audio. Gib nur den transkribierten Text zurück, ohne Erklärungen.",
				},
			},
		}},
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", payload, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// The audio endpoint recognizes files by extension, so the upload needs a
// name matching its MIME type.
func filenameForMimeType(mimeType string) string {
	return "audio." + audioFormatForMimeType(mimeType)
}

func audioFormatForMimeType(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	switch mimeType {
	case "audio/flac":
		return "flac"
	case "audio/m4a", "audio/mp4", "audio/x-m4a":
		return "m4a"
	case "audio/mpeg", "audio/mp3", "audio/mpga":
		return "mp3"
	case "audio/ogg", "audio/opus":
		// Telegram voice messages are OGG with Opus codec.
		return "ogg"
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/webm":
		return "webm"
	default:
		return "mp3"
	}
}
