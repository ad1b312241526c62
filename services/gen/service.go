package gen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/draftmill/draftmill/pkg/cache"
	"github.com/draftmill/draftmill/pkg/telemetry"
	"github.com/draftmill/draftmill/pkg/wordfilter"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// ProviderSource builds the full adapter set from a configuration snapshot.
// The service calls it once on first use and again on every Reload; it never
// mutates individual adapters in place.
type ProviderSource func(ctx context.Context) ([]Provider, ProviderID, error)

// StaticProviders is a ProviderSource over a fixed adapter set, used by
// composition code that has already built the adapters.
func StaticProviders(providers []Provider, defaultID ProviderID) ProviderSource {
	return func(ctx context.Context) ([]Provider, ProviderID, error) {
		return providers, defaultID, nil
	}
}

// ProviderStats counts routing outcomes per provider.
type ProviderStats struct {
	Attempts  uint64
	Successes uint64
}

// ServiceStats is the informational snapshot returned by Stats.
type ServiceStats struct {
	Strategy  string
	Providers map[ProviderID]ProviderStats
	Cache     cache.Stats
}

// Service is the unified AI service: it routes generation requests across
// the configured providers with rotation and retry, consults the response
// cache, and filters sensitive terms out of successful responses.
type Service struct {
	source ProviderSource
	store  ResponseStore // nil disables caching entirely
	filter *wordfilter.Filter
	logger *slog.Logger

	registry *Registry

	mu            sync.Mutex
	initialized   bool
	closed        bool
	strategy      Strategy
	cursor        int
	retryDelay    time.Duration
	providerStats map[ProviderID]*ProviderStats

	// Injection points for tests.
	sleep func(ctx context.Context, d time.Duration) error
	randn func(n int) int
}

// Option configures a Service.
type Option func(*Service)

// WithResponseStore enables response caching on the given backend.
func WithResponseStore(store ResponseStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithFilter sets the sensitive-word filter applied to every successful
// generation.
func WithFilter(f *wordfilter.Filter) Option {
	return func(s *Service) {
		s.filter = f
	}
}

// WithStrategy sets the initial rotation strategy.
func WithStrategy(strategy Strategy) Option {
	return func(s *Service) {
		s.strategy = strategy
	}
}

// WithRetryDelay sets the base delay of the linear backoff between failed
// auto-selection attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		s.retryDelay = d
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With("component", "gen")
	}
}

// New creates the service. Providers are constructed lazily from source on
// first use.
func New(source ProviderSource, opts ...Option) *Service {
	s := &Service{
		source:        source,
		filter:        wordfilter.New(nil),
		logger:        slog.Default().With("component", "gen"),
		registry:      NewRegistry(),
		strategy:      StrategySequential,
		retryDelay:    defaultRetryDelay,
		providerStats: make(map[ProviderID]*ProviderStats),
		sleep:         sleepContext,
		randn:         rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureInitialized builds the adapter set on first use.
func (s *Service) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	providers, defaultID, err := s.source(ctx)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	if s.initialized {
		return nil
	}
	s.registry.Replace(providers, defaultID)
	s.initialized = true

	s.logger.InfoContext(ctx, "providers initialized",
		"providers", len(providers),
		"default", string(defaultID),
	)
	return nil
}

// Reload rebuilds the full adapter set from a fresh configuration snapshot.
// In-flight calls see either the old complete set or the new one.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	s.mu.Unlock()

	providers, defaultID, err := s.source(ctx)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}

	old := s.registry.Replace(providers, defaultID)
	for _, p := range old {
		if err := p.Close(); err != nil {
			s.logger.Warn("failed to close provider", "provider", string(p.ID()), "error", err)
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "providers reloaded",
		"providers", len(providers),
		"default", string(defaultID),
	)
	return nil
}

// SetStrategy switches the rotation strategy and resets the rotation
// cursor.
func (s *Service) SetStrategy(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
	s.cursor = 0
}

// Close releases every adapter's resources. The service must not be used
// for generation afterward.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.registry.Close()
}

func validateParams(params GenerateParams) error {
	if params.Temperature < 0 || params.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0, 2]", params.Temperature)
	}
	return nil
}

// Generate routes a blocking generation request. An explicitly requested
// provider gets exactly one attempt with no fallback; otherwise providers
// are tried via the rotation strategy with linear backoff between failed
// attempts, up to MaxRetries.
func (s *Service) Generate(ctx context.Context, params GenerateParams) (*GenerationResponse, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	var key string
	if params.UseCache && s.store != nil {
		key = Fingerprint(params)
		if resp, ok, err := s.store.Get(ctx, key); err != nil {
			s.logger.Warn("cache read failed", "error", err)
		} else if ok {
			s.logger.InfoContext(ctx, "cache hit", "provider", string(resp.Provider), "model", resp.Model)
			return resp, nil
		}
	}

	if params.Provider != "" {
		resp, err := s.generateExplicit(ctx, params)
		if err != nil {
			return nil, err
		}
		return s.postProcess(ctx, key, params, resp), nil
	}

	resp, err := s.generateAuto(ctx, params)
	if err != nil {
		return nil, err
	}
	return s.postProcess(ctx, key, params, resp), nil
}

// generateExplicit makes exactly one attempt against the named provider.
// Any failure, including unavailability, surfaces immediately: an explicit
// provider choice is authoritative.
func (s *Service) generateExplicit(ctx context.Context, params GenerateParams) (*GenerationResponse, error) {
	p, ok := s.registry.Get(params.Provider)
	if !ok {
		return nil, &ProviderError{Provider: params.Provider, Err: errors.New("not configured")}
	}
	if !p.Available(ctx) {
		return nil, &ProviderError{Provider: params.Provider, Err: errors.New("not available")}
	}

	s.recordAttempt(p.ID())
	resp, err := p.Generate(ctx, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "generation failed", "provider", string(p.ID()), "error", err)
		return nil, &ProviderError{Provider: p.ID(), Err: err}
	}
	s.recordSuccess(p.ID())
	return resp, nil
}

// generateAuto iterates the rotation policy up to MaxRetries attempts with
// linear backoff between failures.
func (s *Service) generateAuto(ctx context.Context, params GenerateParams) (*GenerationResponse, error) {
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr *ProviderError
	everAvailable := false

	for attempt := 1; attempt <= maxRetries; attempt++ {
		available := s.registry.Available(ctx)
		if len(available) > 0 {
			everAvailable = true
			p := s.nextProvider(available)

			s.recordAttempt(p.ID())
			resp, err := p.Generate(ctx, params)
			if err == nil {
				s.recordSuccess(p.ID())
				s.logger.InfoContext(ctx, "generation succeeded",
					"provider", string(p.ID()),
					"model", resp.Model,
					"tokens", resp.Usage.TotalTokens,
					"attempt", attempt,
				)
				return resp, nil
			}

			lastErr = &ProviderError{Provider: p.ID(), Err: err}
			s.logger.Warn("generation attempt failed",
				"provider", string(p.ID()),
				"attempt", attempt,
				"error", err,
			)
		}

		if attempt < maxRetries {
			if err := s.sleep(ctx, time.Duration(attempt)*s.retryDelay); err != nil {
				return nil, &ProviderError{Err: err}
			}
		}
	}

	if !everAvailable {
		return nil, &ProviderError{Err: ErrNoAvailableProviders}
	}
	return nil, lastErr
}

// nextProvider applies the rotation strategy to the available-provider
// snapshot. The sequential cursor persists across calls and availability
// changes; only SetStrategy resets it.
func (s *Service) nextProvider(available []Provider) Provider {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.strategy {
	case StrategyRandom:
		return available[s.randn(len(available))]
	default:
		p := available[s.cursor%len(available)]
		s.cursor++
		return p
	}
}

// postProcess runs sensitive-word substitution and caches the result. This
// is the single intentional post-construction mutation of a response, and
// it happens before the response is cached or returned.
func (s *Service) postProcess(ctx context.Context, key string, params GenerateParams, resp *GenerationResponse) *GenerationResponse {
	matched := s.filter.Detect(resp.Content)
	if len(matched) > 0 {
		resp.Content = s.filter.Filter(resp.Content)
	}

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]string)
	}
	resp.Metadata["sensitive_words_filtered"] = strconv.Itoa(len(matched))
	if len(matched) > 0 {
		resp.Metadata["sensitive_words"] = strings.Join(matched, ",")
	}
	if traceID := telemetry.TraceIDFromContext(ctx); traceID != "" {
		resp.Metadata["trace_id"] = traceID
	}

	if params.UseCache && s.store != nil && key != "" {
		if err := s.store.Set(ctx, key, resp, params.CacheTTL); err != nil {
			s.logger.Warn("cache write failed", "error", err)
		}
	}
	return resp
}

// GenerateStream routes a streaming generation request. A single provider
// is chosen, explicitly or via rotation, with no retry loop and no caching;
// its stream is forwarded verbatim.
func (s *Service) GenerateStream(ctx context.Context, params GenerateParams) (<-chan StreamChunk, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	var p Provider
	if params.Provider != "" {
		var ok bool
		p, ok = s.registry.Get(params.Provider)
		if !ok {
			return nil, &ProviderError{Provider: params.Provider, Err: errors.New("not configured")}
		}
		if !p.Available(ctx) {
			return nil, &ProviderError{Provider: params.Provider, Err: errors.New("not available")}
		}
	} else {
		available := s.registry.Available(ctx)
		if len(available) == 0 {
			return nil, &ProviderError{Err: ErrNoAvailableProviders}
		}
		p = s.nextProvider(available)
	}

	s.logger.InfoContext(ctx, "starting stream", "provider", string(p.ID()), "model", params.Model)

	s.recordAttempt(p.ID())
	ch, err := p.GenerateStream(ctx, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "stream failed", "provider", string(p.ID()), "error", err)
		return nil, &ProviderError{Provider: p.ID(), Err: err}
	}
	s.recordSuccess(p.ID())
	return ch, nil
}

// ListProviders describes the configured providers.
func (s *Service) ListProviders(ctx context.Context) ([]ProviderInfo, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	defaultID := s.registry.Default()
	providers := s.registry.List()
	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderInfo{
			ID:           p.ID(),
			DefaultModel: p.DefaultModel(),
			Available:    p.Available(ctx),
			Default:      p.ID() == defaultID,
		})
	}
	return out, nil
}

// Stats returns routing counters and cache statistics.
func (s *Service) Stats(ctx context.Context) (ServiceStats, error) {
	s.mu.Lock()
	stats := ServiceStats{
		Strategy:  s.strategy.String(),
		Providers: make(map[ProviderID]ProviderStats, len(s.providerStats)),
	}
	for id, ps := range s.providerStats {
		stats.Providers[id] = *ps
	}
	s.mu.Unlock()

	if s.store != nil {
		cacheStats, err := s.store.Stats(ctx)
		if err != nil {
			return stats, fmt.Errorf("failed to read cache stats: %w", err)
		}
		stats.Cache = cacheStats
	}
	return stats, nil
}

func (s *Service) recordAttempt(id ProviderID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.providerStats[id]
	if !ok {
		ps = &ProviderStats{}
		s.providerStats[id] = ps
	}
	ps.Attempts++
}

func (s *Service) recordSuccess(id ProviderID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.providerStats[id]
	if !ok {
		ps = &ProviderStats{}
		s.providerStats[id] = ps
	}
	ps.Successes++
}
