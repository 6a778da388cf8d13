package provider

import (
	"github.com/openguenther/guenther/internal/config"
)

// Factory builds clients from the live settings so provider edits take
// effect without a restart.
type Factory struct {
	settings *config.SettingsStore
}

func NewFactory(settings *config.SettingsStore) *Factory {
	return &Factory{settings: settings}
}

// Client returns a client for the given provider id. An empty or unknown
// id falls back to the default provider.
func (f *Factory) Client(providerID string) (*Client, error) {
	return New(f.Config(providerID))
}

// Config resolves the provider config without building a client.
func (f *Factory) Config(providerID string) config.ProviderConfig {
	settings := f.settings.Get()
	if providerID != "" {
		if pc := settings.Provider(providerID); pc != nil {
			return *pc
		}
	}
	if pc := settings.DefaultProviderConfig(); pc != nil {
		return *pc
	}
	return config.ProviderConfig{}
}

// Default returns a client for the configured default provider.
func (f *Factory) Default() (*Client, error) {
	return f.Client("")
}
