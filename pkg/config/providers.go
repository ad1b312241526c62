package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ProviderSetting holds the settings for a single AI provider. The list
// order in the providers file is the rotation order.
type ProviderSetting struct {
	ID      string `koanf:"id"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	Enabled bool   `koanf:"enabled"`
	Default bool   `koanf:"default"`
}

type providersFile struct {
	Providers []ProviderSetting `koanf:"providers"`
}

const envOverridePrefix = "DRAFTMILL_PROVIDERS__"

// LoadProviders reads provider settings from a YAML file, layers
// DRAFTMILL_PROVIDERS__<ID>__<FIELD> environment variable overrides on
// top, and expands ${VAR} placeholders in secrets. Overrides address
// providers by id, e.g. DRAFTMILL_PROVIDERS__OPENAI__API_KEY overrides
// the api_key of the "openai" entry.
func LoadProviders(path string) ([]ProviderSetting, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load providers file: %w", err)
	}

	var pf providersFile
	if err := k.Unmarshal("", &pf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal providers: %w", err)
	}

	// Env overrides live in their own koanf instance: the file holds a
	// list (order is rotation order) and flat env keys cannot merge into
	// list indices, so entries are addressed by id instead. The double
	// underscore separates path segments; single underscores stay part of
	// field names (DRAFTMILL_PROVIDERS__OPENAI__API_KEY -> openai.api_key).
	ek := koanf.New(".")
	if err := ek.Load(env.Provider(envOverridePrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envOverridePrefix)),
			"__", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	for i := range pf.Providers {
		p := &pf.Providers[i]
		applyEnvOverrides(ek, p)
		p.APIKey = expandSecret(p.APIKey)
		p.BaseURL = expandSecret(p.BaseURL)
	}

	if err := ValidateProviders(pf.Providers); err != nil {
		return nil, err
	}
	return pf.Providers, nil
}

func applyEnvOverrides(ek *koanf.Koanf, p *ProviderSetting) {
	prefix := strings.ToLower(p.ID) + "."
	if ek.Exists(prefix + "api_key") {
		p.APIKey = ek.String(prefix + "api_key")
	}
	if ek.Exists(prefix + "base_url") {
		p.BaseURL = ek.String(prefix + "base_url")
	}
	if ek.Exists(prefix + "model") {
		p.Model = ek.String(prefix + "model")
	}
	if ek.Exists(prefix + "enabled") {
		p.Enabled = ek.Bool(prefix + "enabled")
	}
}

// expandSecret resolves a ${VAR} placeholder against the environment.
// Plain values pass through unchanged.
func expandSecret(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// ValidateProviders checks structural invariants of a settings list:
// non-empty IDs, no duplicates, at most one default.
func ValidateProviders(settings []ProviderSetting) error {
	seen := make(map[string]bool, len(settings))
	defaults := 0
	for _, s := range settings {
		if s.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate provider id: %s", s.ID)
		}
		seen[s.ID] = true
		if s.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("multiple default providers configured")
	}
	return nil
}
