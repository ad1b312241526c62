// Package gen provides the unified AI service: a multi-provider router with
// rotation, retry, response caching, and content filtering.
package gen

import (
	"time"
)

// ProviderID identifies an upstream chat-completion backend. Values are
// stable and used as map keys; new providers are additive.
type ProviderID string

const (
	ProviderOpenAI   ProviderID = "openai"
	ProviderDeepSeek ProviderID = "deepseek"
	ProviderClaude   ProviderID = "claude"
	ProviderGemini   ProviderID = "gemini"
	ProviderOllama   ProviderID = "ollama"
)

// ProviderAuto marks an unspecified provider in cache fingerprints.
const ProviderAuto = "auto"

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// TokenUsage contains token accounting for a single generation.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerationResponse is the normalized result of a generation request.
// It is immutable once returned by the service; the service itself rewrites
// Content and Metadata exactly once during word filtering, before the
// response is cached or handed to the caller.
type GenerationResponse struct {
	ID           string
	Content      string
	Provider     ProviderID
	Model        string
	Usage        TokenUsage
	FinishReason string // e.g. "stop", "length"
	Metadata     map[string]string
	CreatedAt    time.Time
}

// GenerateParams contains parameters for a generation request.
type GenerateParams struct {
	Messages    []Message
	Provider    ProviderID // empty means auto-select via rotation
	Model       string     // empty means the adapter's default model
	Temperature float64    // [0, 2]
	MaxTokens   int
	MaxRetries  int  // auto-selection attempts; defaults to 3
	UseCache    bool // consult and populate the response cache
	CacheTTL    time.Duration
}

// StreamChunk is one fragment of a streaming generation.
type StreamChunk struct {
	Delta    string
	Done     bool
	Provider ProviderID
	Model    string
	Usage    *TokenUsage // only on the final chunk, when known
	Err      error       // non-nil if the stream failed
}

// Strategy selects how the router picks a provider for auto-routed requests.
type Strategy int

const (
	// StrategySequential round-robins over the available providers,
	// keeping its cursor across calls.
	StrategySequential Strategy = iota
	// StrategyRandom picks uniformly among available providers each call.
	StrategyRandom
)

func (s Strategy) String() string {
	switch s {
	case StrategySequential:
		return "sequential"
	case StrategyRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ProviderInfo describes a configured provider for listing surfaces.
type ProviderInfo struct {
	ID           ProviderID
	DefaultModel string
	Available    bool
	Default      bool
}
