package gen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/draftmill/draftmill/pkg/cache"
)

// fingerprintPayload is the canonical shape hashed into a cache key. Field
// order is fixed, so the JSON encoding is deterministic.
type fingerprintPayload struct {
	Messages    []Message `json:"messages"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Fingerprint derives the deterministic cache key for a request: identical
// (messages, provider, model, temperature, max tokens) tuples always hash to
// the same key, and any differing field produces a different key. An
// unspecified provider hashes as "auto" and an unspecified model as
// "default".
func Fingerprint(params GenerateParams) string {
	provider := string(params.Provider)
	if provider == "" {
		provider = ProviderAuto
	}
	model := params.Model
	if model == "" {
		model = "default"
	}

	payload, _ := json.Marshal(fingerprintPayload{
		Messages:    params.Messages,
		Provider:    provider,
		Model:       model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})

	sum := sha256.Sum256(payload)
	return "gen:" + hex.EncodeToString(sum[:])
}

// ResponseStore is the response cache backend. The memory implementation is
// the default; a Redis one exists for deployments that want cached
// responses shared across restarts.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*GenerationResponse, bool, error)
	Set(ctx context.Context, key string, resp *GenerationResponse, ttl time.Duration) error
	Stats(ctx context.Context) (cache.Stats, error)
}

// MemoryResponseStore caches responses in a MemoryCache.
type MemoryResponseStore struct {
	c *cache.MemoryCache
}

// NewMemoryResponseStore wraps a memory cache as a response store.
func NewMemoryResponseStore(c *cache.MemoryCache) *MemoryResponseStore {
	return &MemoryResponseStore{c: c}
}

func (s *MemoryResponseStore) Get(ctx context.Context, key string) (*GenerationResponse, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	resp, ok := v.(*GenerationResponse)
	if !ok {
		return nil, false, nil
	}
	return resp, true, nil
}

func (s *MemoryResponseStore) Set(ctx context.Context, key string, resp *GenerationResponse, ttl time.Duration) error {
	s.c.Set(key, resp, ttl)
	return nil
}

func (s *MemoryResponseStore) Stats(ctx context.Context) (cache.Stats, error) {
	return s.c.Stats(), nil
}

// RedisResponseStore caches responses as JSON in Redis. Expiry is delegated
// to the server; hit and miss counts are tracked locally.
type RedisResponseStore struct {
	c *cache.Client

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// NewRedisResponseStore wraps a Redis client as a response store.
func NewRedisResponseStore(c *cache.Client) *RedisResponseStore {
	return &RedisResponseStore{c: c}
}

func (s *RedisResponseStore) Get(ctx context.Context, key string) (*GenerationResponse, bool, error) {
	var resp GenerationResponse
	found, err := s.c.GetJSON(ctx, key, &resp)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	if found {
		s.hits++
	} else {
		s.misses++
	}
	s.mu.Unlock()

	if !found {
		return nil, false, nil
	}
	return &resp, true, nil
}

func (s *RedisResponseStore) Set(ctx context.Context, key string, resp *GenerationResponse, ttl time.Duration) error {
	return s.c.Set(ctx, key, resp, ttl)
}

func (s *RedisResponseStore) Stats(ctx context.Context) (cache.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := cache.Stats{Hits: s.hits, Misses: s.misses}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats, nil
}
