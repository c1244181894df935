// Package entity holds the immutable SP/IdP configuration registry and
// the per-request resolver that selects an entity pair from it.
package entity

import (
	"errors"
	"fmt"
)

// Provider identifies which external IdP a request targets. The set is
// closed: adding a provider means a new constant plus a manifest entry,
// not a new conditional chain.
type Provider string

const (
	ProviderOkta  Provider = "okta"
	ProviderAzure Provider = "azure"
)

// DefaultProvider is assumed when a request names no provider.
const DefaultProvider = ProviderOkta

var knownProviders = map[Provider]bool{
	ProviderOkta:  true,
	ProviderAzure: true,
}

// Registry-level errors. Both are resolved before any cryptographic work
// begins and short-circuit the request.
var (
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ParseProvider maps a request's provider parameter to a Provider. An
// empty value selects the default; anything outside the known set is an
// error, never a silent fallback.
func ParseProvider(name string) (Provider, error) {
	if name == "" {
		return DefaultProvider, nil
	}
	p := Provider(name)
	if !knownProviders[p] {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}
