// Package builtin holds the native tools shipped with the server. Each
// tool file defines one descriptor; All returns them for registration at
// startup.
package builtin

import (
	"fmt"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/internal/provider"
	"github.com/openguenther/guenther/internal/tools"
)

// All returns every builtin tool descriptor.
func All() []tools.Descriptor {
	return []tools.Descriptor{
		currentTimeTool(),
		rollDiceTool(),
		calculateTool(),
		generatePasswordTool(),
		generateQRCodeTool(),
		fetchWebsiteInfoTool(),
		generateImageTool(),
		processImageTool(),
		textToSpeechTool(),
		sendTelegramTool(),
		rememberTool(),
		searchKnowledgeTool(),
	}
}

// Register adds all builtin tools to the registry.
func Register(r *tools.Registry) error {
	for _, d := range All() {
		if err := r.Register(d); err != nil {
			return fmt.Errorf("failed to register builtin %s: %w", d.Name, err)
		}
	}
	return nil
}

// defaultClient builds a provider client from the snapshot's default
// provider. Tools talk to the provider of the turn, not the live settings.
func defaultClient(snapshot config.Settings) (*provider.Client, config.ProviderConfig, error) {
	var cfg config.ProviderConfig
	if pc := snapshot.DefaultProviderConfig(); pc != nil {
		cfg = *pc
	}
	client, err := provider.New(cfg)
	return client, cfg, err
}

func argString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func argFloat(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func errorRecord(format string, a ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, a...)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
