package gen

import (
	"context"
	"fmt"

	"github.com/draftmill/draftmill/pkg/config"
)

const (
	deepSeekBaseURL      = "https://api.deepseek.com/v1"
	deepSeekDefaultModel = "deepseek-chat"
)

// BuildProvider constructs the adapter for one provider setting.
func BuildProvider(setting config.ProviderSetting) (Provider, error) {
	switch ProviderID(setting.ID) {
	case ProviderOpenAI:
		return NewOpenAICompatProvider(ProviderOpenAI, setting.APIKey, setting.BaseURL, setting.Model), nil
	case ProviderDeepSeek:
		baseURL := setting.BaseURL
		if baseURL == "" {
			baseURL = deepSeekBaseURL
		}
		model := setting.Model
		if model == "" {
			model = deepSeekDefaultModel
		}
		return NewOpenAICompatProvider(ProviderDeepSeek, setting.APIKey, baseURL, model), nil
	case ProviderClaude:
		return NewClaudeProvider(setting.APIKey, setting.Model, WithClaudeBaseURL(setting.BaseURL)), nil
	case ProviderGemini:
		return NewGeminiProvider(setting.APIKey, setting.Model, WithGeminiBaseURL(setting.BaseURL)), nil
	case ProviderOllama:
		return NewOllamaProvider(setting.BaseURL, setting.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", setting.ID)
	}
}

// BuildProviders constructs adapters for every enabled setting, preserving
// the settings order, and resolves the default provider. With no explicit
// default, the first enabled provider is the default.
func BuildProviders(settings []config.ProviderSetting) ([]Provider, ProviderID, error) {
	if err := config.ValidateProviders(settings); err != nil {
		return nil, "", err
	}

	var providers []Provider
	var defaultID ProviderID
	for _, setting := range settings {
		if !setting.Enabled {
			continue
		}
		p, err := BuildProvider(setting)
		if err != nil {
			return nil, "", err
		}
		providers = append(providers, p)
		if setting.Default || defaultID == "" {
			defaultID = p.ID()
		}
	}
	return providers, defaultID, nil
}

// FileSource returns a ProviderSource that reads the providers file on
// every (re)initialization.
func FileSource(path string) ProviderSource {
	return func(ctx context.Context) ([]Provider, ProviderID, error) {
		settings, err := config.LoadProviders(path)
		if err != nil {
			return nil, "", err
		}
		return BuildProviders(settings)
	}
}

// StoreSource returns a ProviderSource that reads provider settings from
// PostgreSQL on every (re)initialization.
func StoreSource(store *SettingsStore) ProviderSource {
	return func(ctx context.Context) ([]Provider, ProviderID, error) {
		settings, err := store.List(ctx)
		if err != nil {
			return nil, "", err
		}
		return BuildProviders(settings)
	}
}
