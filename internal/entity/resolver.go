package entity

import "github.com/passify/saml-gateway/internal/protocols/saml"

// Resolver maps a request's declared (provider, encrypted) selection to
// one entity pair. Resolution is a pure lookup: no I/O, no mutation, and
// no cryptographic work happens until it has succeeded.
type Resolver struct {
	registry *Registry
}

// NewResolver wraps a built registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns the entity pair for the named provider and encryption
// mode. An empty name selects the default provider. Unknown names fail
// with ErrUnknownProvider; providers whose metadata did not load, or that
// have no tenant for the requested mode, fail with ErrProviderUnavailable.
func (r *Resolver) Resolve(providerName string, encrypted bool) (saml.EntityPair, error) {
	provider, err := ParseProvider(providerName)
	if err != nil {
		return saml.EntityPair{}, err
	}
	e, ok := r.registry.entries[registryKey{provider: provider, encrypted: encrypted}]
	if !ok {
		return saml.EntityPair{}, ErrProviderUnavailable
	}
	if e.loadErr != nil {
		return saml.EntityPair{}, e.loadErr
	}
	return e.pair, nil
}
