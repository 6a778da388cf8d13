package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openguenther/guenther/internal/tools"
	"github.com/openguenther/guenther/pkg/models"
)

const websiteBodyLimit = 50_000

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	descRe  = regexp.MustCompile(`(?is)<meta[^>]*name=["']description["'][^>]*content=["'](.*?)["']`)
	descRe2 = regexp.MustCompile(`(?is)<meta[^>]*content=["'](.*?)["'][^>]*name=["']description["']`)
)

func fetchWebsiteInfoTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "fetch_website_info",
		Description: "Ruft den Titel und die Beschreibung einer Website ab.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Die URL der Website (z.B. 'https://example.com')",
				},
			},
			"required": []any{"url"},
		},
		SettingsSchema: []models.SettingsField{
			{Key: "timeout", Label: "Timeout (Sekunden)", Type: "text", Placeholder: "10",
				Description: "Maximale Wartezeit pro Anfrage", Default: "10"},
		},
		Origin:  tools.OriginBuiltin,
		Handler: fetchWebsiteInfo,
	}
}

func fetchWebsiteInfo(ctx context.Context, hc *tools.Context, args map[string]any) (map[string]any, error) {
	url := argString(args, "url", "")
	if url == "" {
		return errorRecord("Keine URL angegeben."), nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	timeout := 10
	if hc != nil {
		if v, err := strconv.Atoi(hc.Setting("timeout", "10")); err == nil && v > 0 {
			timeout = v
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return map[string]any{"url": url, "error": err.Error()}, nil
	}
	req.Header.Set("User-Agent", "Guenther-Bot/1.0")

	client := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return map[string]any{"url": url, "error": err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]any{"url": url, "error": fmt.Sprintf("HTTP %d", resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, websiteBodyLimit))
	if err != nil {
		return map[string]any{"url": url, "error": err.Error()}, nil
	}
	html := string(body)

	record := map[string]any{
		"url":         url,
		"title":       nil,
		"description": nil,
		"status_code": resp.StatusCode,
	}
	if m := titleRe.FindStringSubmatch(html); m != nil {
		record["title"] = strings.TrimSpace(m[1])
	}
	if m := descRe.FindStringSubmatch(html); m != nil {
		record["description"] = strings.TrimSpace(m[1])
	} else if m := descRe2.FindStringSubmatch(html); m != nil {
		record["description"] = strings.TrimSpace(m[1])
	}
	return record, nil
}
