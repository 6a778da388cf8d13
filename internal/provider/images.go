package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/openguenther/guenther/internal/config"
)

// GeneratedImage is the decoded result of an image generation call.
type GeneratedImage struct {
	DataB64  string
	MimeType string
}

var dataImageURIRe = regexp.MustCompile(`data:image/[^"')\s]+`)

// GenerateImage asks an image-capable chat model for a picture. The call
// goes through the chat completions endpoint with the image modality;
// responses carry either a message.images list or a data URI embedded in
// the content.
func (c *Client) GenerateImage(ctx context.Context, model, prompt, aspectRatio string) (*GeneratedImage, error) {
	payload := map[string]any{
		"model":      model,
		"messages":   []map[string]any{{"role": "user", "content": prompt}},
		"modalities": []string{"image", "text"},
	}
	if aspectRatio != "" && aspectRatio != "1:1" {
		payload["image_config"] = map[string]string{"aspect_ratio": aspectRatio}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Images  []struct {
					URL      string `json:"url"`
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"images"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", payload, &result); err != nil {
		return nil, err
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	msg := result.Choices[0].Message
	var url string
	if len(msg.Images) > 0 {
		url = msg.Images[0].URL
		if url == "" {
			url = msg.Images[0].ImageURL.URL
		}
	} else {
		url = dataImageURIRe.FindString(msg.Content)
	}
	if url == "" {
		return nil, fmt.Errorf("no image in response")
	}

	if strings.HasPrefix(url, "data:") {
		return parseDataURI(url)
	}
	return c.downloadImage(ctx, url)
}

func parseDataURI(uri string) (*GeneratedImage, error) {
	header, data, ok := strings.Cut(uri, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	mime := strings.TrimPrefix(strings.SplitN(header, ";", 2)[0], "data:")
	if mime == "" {
		mime = "image/png"
	}
	if _, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data)); err != nil {
		return nil, fmt.Errorf("invalid image data: %w", err)
	}
	return &GeneratedImage{DataB64: strings.TrimSpace(data), MimeType: mime}, nil
}

func (c *Client) downloadImage(ctx context.Context, url string) (*GeneratedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: "image download failed"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	mime := strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]
	if mime == "" {
		mime = "image/png"
	}
	return &GeneratedImage{
		DataB64:  base64.StdEncoding.EncodeToString(data),
		MimeType: mime,
	}, nil
}

// postJSON issues a raw chat-API call for request shapes the SDK does not
// model (image modalities, audio input parts).
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	url := config.NormalizeBaseURL(c.cfg.BaseURL) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://guenther.app")
	req.Header.Set("X-Title", "Guenther")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &RequestError{StatusCode: resp.StatusCode, Message: apiErrorMessage(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiErrorMessage digs the error text out of an API error body, falling
// back to the raw body.
func apiErrorMessage(body []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
