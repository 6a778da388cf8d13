// Package config holds the runtime settings of the Guenther server and the
// JSON stores persisted under the data root (settings, agent profiles,
// autoprompts, webhooks, Telegram user map).
package config

import (
	"strings"

	"github.com/openguenther/guenther/pkg/models"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `Du bist Guenther, ein hilfreicher KI-Assistent mit Zugang zu verschiedenen Werkzeugen (MCP Tools).

Wenn der Benutzer eine Aufgabe stellt, die Werkzeuge erfordert:
1. Analysiere, welche Werkzeuge du benoetigen wirst
2. Erstelle einen kurzen Plan und teile ihn dem Benutzer mit
3. Fuehre die Werkzeuge Schritt fuer Schritt aus
4. Fasse das Ergebnis zusammen

Wenn mehrere Werkzeuge nacheinander noetig sind (z.B. erst die Uhrzeit holen, dann als Bild darstellen), rufe sie in der richtigen Reihenfolge auf.

Antworte auf Deutsch, es sei denn, der Benutzer schreibt in einer anderen Sprache.
Sei praezise und hilfreich.`

// Settings is the main runtime configuration, persisted as settings.json.
// All fields are editable through the web API.
type Settings struct {
	Providers       []ProviderConfig `json:"providers"`
	DefaultProvider string           `json:"default_provider"`
	DefaultModel    string           `json:"default_model,omitempty"`
	SystemPrompt    string           `json:"system_prompt"`
	Temperature     float64          `json:"temperature"`

	Router   RouterSettings   `json:"router"`
	Builder  BuilderSettings  `json:"builder"`
	Telegram TelegramSettings `json:"telegram"`

	// ImageGenModel overrides the chat model for image generation calls.
	ImageGenModel string `json:"image_gen_model,omitempty"`
	// EmbeddingModel is used by the knowledge tools.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// ToolSettings holds per-tool key/value configuration, keyed by tool name.
	ToolSettings map[string]map[string]string `json:"tool_settings,omitempty"`
	// DisabledTools lists tool names excluded from the agent's belt.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	MCPServers []MCPServerConfig `json:"mcp_servers,omitempty"`

	// APIPassword guards the web API when set. Empty disables auth.
	APIPassword string `json:"api_password,omitempty"`
	LogLevel    string `json:"log_level,omitempty"`
}

// ProviderConfig describes one OpenAI-compatible API endpoint.
type ProviderConfig struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	DefaultModel string `json:"default_model,omitempty"`
}

// DisplayLabel returns the label, falling back to the id.
func (p ProviderConfig) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.ID
}

// RouterSettings controls LLM tool pre-selection.
type RouterSettings struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model,omitempty"`
}

// BuilderSettings controls the tool builder loop.
type BuilderSettings struct {
	MaxLoops int    `json:"max_loops"`
	Model    string `json:"model,omitempty"`
}

// TelegramSettings configures the gateway poller.
type TelegramSettings struct {
	BotToken         string   `json:"bot_token,omitempty"`
	AllowedUsernames []string `json:"allowed_usernames,omitempty"`
	// STTMode selects voice transcription: "whisper" posts to the audio
	// endpoint, "chat" sends the audio through a multimodal chat call.
	STTMode  string `json:"stt_mode,omitempty"`
	STTModel string `json:"stt_model,omitempty"`
}

// MCPServerConfig describes one external MCP tool server.
type MCPServerConfig struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Enabled bool              `json:"enabled"`
}

// DefaultSettings returns the settings written on first start.
func DefaultSettings() Settings {
	return Settings{
		Providers: []ProviderConfig{
			{
				ID:           "openrouter",
				Label:        "OpenRouter",
				BaseURL:      "https://openrouter.ai/api/v1",
				DefaultModel: "openai/gpt-4o-mini",
			},
		},
		DefaultProvider: "openrouter",
		SystemPrompt:    DefaultSystemPrompt,
		Temperature:     0.5,
		Router:          RouterSettings{Enabled: true},
		Builder:         BuilderSettings{MaxLoops: 15},
		Telegram:        TelegramSettings{STTMode: "whisper", STTModel: "whisper-1"},
		EmbeddingModel:  "text-embedding-3-small",
		LogLevel:        "info",
	}
}

// Normalize fills zero fields from the defaults and cleans provider base
// URLs. Called after every load and before every save.
func (s *Settings) Normalize() {
	def := DefaultSettings()

	if len(s.Providers) == 0 {
		s.Providers = def.Providers
	}
	if s.DefaultProvider == "" {
		s.DefaultProvider = def.DefaultProvider
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = def.SystemPrompt
	}
	if s.Temperature == 0 {
		s.Temperature = def.Temperature
	}
	if s.Builder.MaxLoops <= 0 {
		s.Builder.MaxLoops = def.Builder.MaxLoops
	}
	if s.Telegram.STTMode == "" {
		s.Telegram.STTMode = def.Telegram.STTMode
	}
	if s.Telegram.STTModel == "" {
		s.Telegram.STTModel = def.Telegram.STTModel
	}
	if s.EmbeddingModel == "" {
		s.EmbeddingModel = def.EmbeddingModel
	}
	if s.LogLevel == "" {
		s.LogLevel = def.LogLevel
	}

	for i := range s.Providers {
		s.Providers[i].BaseURL = NormalizeBaseURL(s.Providers[i].BaseURL)
	}
}

// NormalizeBaseURL cleans a pasted endpoint: users tend to paste the full
// completions URL, but the client appends route paths itself.
func NormalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	return strings.TrimSuffix(u, "/")
}

// Provider returns the provider with the given id, or nil.
func (s *Settings) Provider(id string) *ProviderConfig {
	for i := range s.Providers {
		if s.Providers[i].ID == id {
			return &s.Providers[i]
		}
	}
	return nil
}

// DefaultProviderConfig returns the configured default provider, falling
// back to the first entry.
func (s *Settings) DefaultProviderConfig() *ProviderConfig {
	if p := s.Provider(s.DefaultProvider); p != nil {
		return p
	}
	if len(s.Providers) > 0 {
		return &s.Providers[0]
	}
	return nil
}

// ModelFor returns the model to use for a provider: the explicit global
// default when set, else the provider's own default.
func (s *Settings) ModelFor(p *ProviderConfig) string {
	if s.DefaultModel != "" {
		return s.DefaultModel
	}
	if p != nil && p.DefaultModel != "" {
		return p.DefaultModel
	}
	return ""
}

// ToolSettingsFor returns the settings map of one tool. Never nil; the
// returned map is a copy.
func (s Settings) ToolSettingsFor(name string) map[string]string {
	out := make(map[string]string)
	for k, v := range s.ToolSettings[name] {
		out[k] = v
	}
	return out
}

// SetToolSetting writes one tool setting, creating maps lazily.
func (s *Settings) SetToolSetting(tool, key, value string) {
	if s.ToolSettings == nil {
		s.ToolSettings = make(map[string]map[string]string)
	}
	if s.ToolSettings[tool] == nil {
		s.ToolSettings[tool] = make(map[string]string)
	}
	s.ToolSettings[tool][key] = value
}

// ToolDisabled reports whether a tool name is on the disabled list.
func (s Settings) ToolDisabled(name string) bool {
	for _, d := range s.DisabledTools {
		if d == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s

	out.Providers = make([]ProviderConfig, len(s.Providers))
	copy(out.Providers, s.Providers)

	out.Telegram.AllowedUsernames = append([]string(nil), s.Telegram.AllowedUsernames...)
	out.DisabledTools = append([]string(nil), s.DisabledTools...)

	if s.ToolSettings != nil {
		out.ToolSettings = make(map[string]map[string]string, len(s.ToolSettings))
		for tool, kv := range s.ToolSettings {
			inner := make(map[string]string, len(kv))
			for k, v := range kv {
				inner[k] = v
			}
			out.ToolSettings[tool] = inner
		}
	}

	out.MCPServers = make([]MCPServerConfig, len(s.MCPServers))
	copy(out.MCPServers, s.MCPServers)
	for i, srv := range s.MCPServers {
		out.MCPServers[i].Args = append([]string(nil), srv.Args...)
		if srv.Env != nil {
			env := make(map[string]string, len(srv.Env))
			for k, v := range srv.Env {
				env[k] = v
			}
			out.MCPServers[i].Env = env
		}
	}

	return out
}

// Masked returns a copy with secrets replaced by their display mask.
func (s Settings) Masked() Settings {
	out := s.Clone()
	for i := range out.Providers {
		out.Providers[i].APIKey = models.MaskSecret(out.Providers[i].APIKey, 8, 4)
	}
	out.Telegram.BotToken = models.MaskSecret(out.Telegram.BotToken, 8, 4)
	out.APIPassword = models.MaskSecret(out.APIPassword, 8, 4)
	for tool, kv := range out.ToolSettings {
		for k, v := range kv {
			if IsSecretKey(k) {
				out.ToolSettings[tool][k] = models.MaskSecret(v, 8, 4)
			}
		}
	}
	return out
}

// IsSecretKey reports whether a tool-settings key holds a secret.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "key") || strings.Contains(k, "token") ||
		strings.Contains(k, "secret") || strings.Contains(k, "password")
}

// ApplySecretUpdate decides the stored value after an update: when the
// submitted value is empty or still the masked form, the stored secret
// is kept.
func ApplySecretUpdate(stored, submitted string) string {
	if submitted == "" {
		return stored
	}
	if submitted == models.MaskSecret(stored, 8, 4) {
		return stored
	}
	return submitted
}
