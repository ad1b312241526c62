package gen

import (
	"errors"
	"fmt"
)

// ErrNoAvailableProviders reports that no provider was usable at selection
// time. It is always surfaced wrapped in a *ProviderError, so callers can
// check either the sentinel or the type.
var ErrNoAvailableProviders = errors.New("no available providers")

// ErrServiceClosed reports use of a service after Close.
var ErrServiceClosed = errors.New("service is closed")

// ProviderError reports that an upstream provider call failed: transport
// failure, a non-success status, a malformed payload, or an explicitly
// requested provider that was unavailable.
type ProviderError struct {
	Provider ProviderID // empty when no provider was ever selected
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("provider error: %v", e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNoAvailableProviders reports whether err means zero providers were
// reachable at selection time.
func IsNoAvailableProviders(err error) bool {
	return errors.Is(err, ErrNoAvailableProviders)
}
