package gen

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Provider is the uniform adapter over one upstream chat-completion API
// family. Adapters normalize vendor payloads into GenerationResponse and
// translate vendor failures into ordinary errors, which the service wraps
// as *ProviderError.
type Provider interface {
	// ID returns the stable provider identity.
	ID() ProviderID

	// DefaultModel returns the model used when a request names none.
	DefaultModel() string

	// Available reports whether the adapter can serve requests. For most
	// adapters this means a credential is present; local-inference
	// adapters are credential-free.
	Available(ctx context.Context) bool

	// Generate performs a blocking single-shot generation.
	Generate(ctx context.Context, params GenerateParams) (*GenerationResponse, error)

	// GenerateStream produces a forward-only sequence of content deltas.
	// Adapters whose upstream has no native streaming synthesize one from
	// a blocking call, emitting fixed-size fragments.
	GenerateStream(ctx context.Context, params GenerateParams) (<-chan StreamChunk, error)

	// Close releases held connection resources. Idempotent.
	Close() error
}

// HTTPDoer is the subset of *http.Client the adapters need. Tests swap in
// a mock implementation.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry holds the configured provider adapters. The set is replaced
// wholesale on reload; in-flight calls see either the old complete set or
// the new one, never a mix.
type Registry struct {
	mu        sync.RWMutex
	order     []ProviderID
	providers map[ProviderID]Provider
	defaultID ProviderID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[ProviderID]Provider),
	}
}

// Register adds a provider. Registration order is the stable rotation order.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID()]; !exists {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
}

// SetDefault marks the provider that is front-loaded before rotation.
func (r *Registry) SetDefault(id ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultID = id
}

// Default returns the configured default provider identity, if any.
func (r *Registry) Default() ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// Get retrieves a provider by identity.
func (r *Registry) Get(id ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns all registered providers in registration order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Available returns the currently available providers in stable order, with
// the default provider moved to the front. The reordering is applied before
// either rotation strategy runs.
func (r *Registry) Available(ctx context.Context) []Provider {
	r.mu.RLock()
	order := make([]ProviderID, len(r.order))
	copy(order, r.order)
	providers := r.providers
	defaultID := r.defaultID
	r.mu.RUnlock()

	var out []Provider
	for _, id := range order {
		p := providers[id]
		if !p.Available(ctx) {
			continue
		}
		if id == defaultID {
			out = append([]Provider{p}, out...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Replace atomically swaps the full adapter set and returns the previous
// providers so the caller can close them.
func (r *Registry) Replace(providers []Provider, defaultID ProviderID) []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		old = append(old, r.providers[id])
	}

	r.order = r.order[:0]
	r.providers = make(map[ProviderID]Provider, len(providers))
	for _, p := range providers {
		if _, exists := r.providers[p.ID()]; !exists {
			r.order = append(r.order, p.ID())
		}
		r.providers[p.ID()] = p
	}
	r.defaultID = defaultID

	return old
}

// Close closes every registered provider, keeping the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// SSEEvent represents a Server-Sent Event from a streaming response.
type SSEEvent struct {
	Event string
	Data  string
	Err   error // non-nil on a parse/read error
}

// ParseSSE reads SSE events from a reader and sends them to the events
// channel. The channel is closed when the reader is exhausted or fails.
func ParseSSE(r io.Reader, events chan<- SSEEvent) {
	defer close(events)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var event SSEEvent
	var dataLines []string

	dispatch := func() {
		if len(dataLines) > 0 {
			event.Data = strings.Join(dataLines, "\n")
			events <- event
		}
		event = SSEEvent{}
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		}
		// Comments (lines starting with ":") and ids are ignored.
	}

	dispatch()

	if err := scanner.Err(); err != nil {
		events <- SSEEvent{Err: err}
	}
}

// NDJSONLine is one line of a newline-delimited JSON stream, as produced by
// Ollama's generate endpoint.
type NDJSONLine struct {
	Data string
	Err  error
}

// ParseNDJSON reads newline-delimited JSON from a reader and sends each
// non-empty line to the channel, closing it when the reader is exhausted.
func ParseNDJSON(r io.Reader, lines chan<- NDJSONLine) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines <- NDJSONLine{Data: line}
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		lines <- NDJSONLine{Err: err}
	}
}
