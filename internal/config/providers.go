package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ProviderCustom is the escape hatch for providers outside the closed set;
// sessions using it must supply their own URL.
const ProviderCustom = "custom"

// defaultProviderURLs is the closed set of known chat providers and the page
// a fresh session navigates to.
var defaultProviderURLs = map[string]string{
	"claude":     "https://claude.ai/new",
	"chatgpt":    "https://chatgpt.com/",
	"gemini":     "https://gemini.google.com/app",
	"grok":       "https://grok.com/",
	"deepseek":   "https://chat.deepseek.com/",
	"perplexity": "https://www.perplexity.ai/",
}

// KnownProvider reports whether the tag is in the closed provider set
// (or the "custom" escape hatch).
func KnownProvider(tag string) bool {
	if tag == ProviderCustom {
		return true
	}
	_, ok := defaultProviderURLs[tag]
	return ok
}

// ProviderURL returns the default chat URL for a provider tag. Custom and
// unknown tags have no default.
func ProviderURL(tag string) (string, bool) {
	url, ok := defaultProviderURLs[tag]
	return url, ok
}

// Providers returns the known provider tags in sorted order.
func Providers() []string {
	tags := make([]string, 0, len(defaultProviderURLs))
	for tag := range defaultProviderURLs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DeckEntry describes a single provider session to open at startup.
type DeckEntry struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name,omitempty"`
	URL      string `yaml:"url,omitempty"`
}

// DeckConfig is the top-level YAML configuration for startup sessions.
type DeckConfig struct {
	Sessions []DeckEntry `yaml:"sessions"`
}

// LoadDeck reads and validates a deck YAML config file. Returns an
// os.ErrNotExist-wrapped error if the file is absent (caller silently skips
// in that case).
func LoadDeck(path string) (*DeckConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deck config: %w", err)
	}
	var cfg DeckConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("deck config: %w", err)
	}
	if len(cfg.Sessions) < 1 {
		return nil, fmt.Errorf("deck config: at least one session entry is required")
	}
	seen := make(map[string]bool)
	for i, entry := range cfg.Sessions {
		if entry.Provider == "" {
			return nil, fmt.Errorf("deck config: sessions[%d] missing provider", i)
		}
		if !KnownProvider(entry.Provider) {
			return nil, fmt.Errorf("deck config: sessions[%d] unknown provider %q", i, entry.Provider)
		}
		if entry.Provider == ProviderCustom && entry.URL == "" {
			return nil, fmt.Errorf("deck config: sessions[%d] custom provider requires url", i)
		}
		if seen[entry.Provider] {
			return nil, fmt.Errorf("deck config: sessions[%d] duplicate provider %q", i, entry.Provider)
		}
		seen[entry.Provider] = true
	}
	return &cfg, nil
}
