package entity

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/passify/saml-gateway/internal/crypto"
	"github.com/passify/saml-gateway/internal/protocols/saml"
)

// Options carries the SP-side settings the registry needs at build time.
type Options struct {
	// SPEntityID names this gateway in every message and in its metadata.
	SPEntityID string
	// ACSBaseURL is the externally reachable assertion consumer URL before
	// per-tenant query parameters are applied.
	ACSBaseURL string

	SigningKeyPath       string
	SigningKeyPassphrase string
	SigningCertPath      string

	EncryptionKeyPath  string
	EncryptionCertPath string
}

type registryKey struct {
	provider  Provider
	encrypted bool
}

// entry is the startup load result for one (provider, mode) tenant:
// either a usable pair or the recorded reason it cannot be used.
type entry struct {
	pair    saml.EntityPair
	loadErr error
}

// Registry holds every (provider, encryption mode) entity pair, built
// once at startup and read-only thereafter. Concurrent reads need no
// synchronization.
type Registry struct {
	entries map[registryKey]*entry
}

// NewRegistry loads the SP key material, parses each provider's IdP
// metadata, and builds the fixed set of entity pairs. A provider whose
// metadata is missing or unparseable is recorded as unavailable and
// logged; it does not fail startup.
func NewRegistry(manifest *Manifest, opts Options, logger *zap.Logger) (*Registry, error) {
	signingKey, err := crypto.LoadPrivateKey(opts.SigningKeyPath, opts.SigningKeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	signingCert, err := crypto.LoadCertificate(opts.SigningCertPath)
	if err != nil {
		return nil, fmt.Errorf("load signing certificate: %w", err)
	}

	var encryptionKey *rsa.PrivateKey
	var encryptionCert *x509.Certificate
	if opts.EncryptionKeyPath != "" {
		encryptionKey, err = crypto.LoadPrivateKey(opts.EncryptionKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("load encryption key: %w", err)
		}
		encryptionCert, err = crypto.LoadCertificate(opts.EncryptionCertPath)
		if err != nil {
			return nil, fmt.Errorf("load encryption certificate: %w", err)
		}
	}

	r := &Registry{entries: make(map[registryKey]*entry)}
	for name, pm := range manifest.Providers {
		provider := Provider(name)
		for _, encrypted := range []bool{false, true} {
			key := registryKey{provider: provider, encrypted: encrypted}

			metadataPath := pm.Metadata
			if encrypted {
				if pm.EncryptedMetadata == "" {
					r.entries[key] = &entry{loadErr: fmt.Errorf("%w: %s has no encrypted tenant", ErrProviderUnavailable, provider)}
					continue
				}
				metadataPath = pm.EncryptedMetadata
			}

			idp, err := loadIdP(metadataPath, pm)
			if err != nil {
				logger.Warn("provider metadata unavailable",
					zap.String("provider", string(provider)),
					zap.Bool("encrypted", encrypted),
					zap.Error(err))
				r.entries[key] = &entry{loadErr: fmt.Errorf("%w: %v", ErrProviderUnavailable, err)}
				continue
			}

			acsURL, err := deriveACSURL(opts.ACSBaseURL, provider, encrypted)
			if err != nil {
				return nil, err
			}
			sp := &saml.ServiceProvider{
				EntityID:    opts.SPEntityID,
				SigningKey:  signingKey,
				SigningCert: signingCert,
				ACSURL:      acsURL,

				AuthnRequestsSigned:      false,
				WantAssertionsSigned:     true,
				WantMessageSigned:        true,
				WantLogoutRequestSigned:  true,
				WantLogoutResponseSigned: true,
			}
			if encrypted {
				if encryptionKey == nil {
					r.entries[key] = &entry{loadErr: fmt.Errorf("%w: no encryption key configured", ErrProviderUnavailable)}
					continue
				}
				sp.AssertionEncrypted = true
				sp.EncryptionKey = encryptionKey
				sp.EncryptionCert = encryptionCert
				sp.SigningOrder = parseSigningOrder(pm.EncryptedSigningOrder)
			}

			r.entries[key] = &entry{pair: saml.EntityPair{SP: sp, IdP: idp}}
		}
	}
	return r, nil
}

func loadIdP(path string, pm ProviderManifest) (*saml.IdentityProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}
	idp, err := saml.ParseIdPMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	idp.WantLogoutRequestSigned = pm.WantLogoutRequestSigned
	return idp, nil
}

// deriveACSURL appends the tenant-selecting query parameters to the base
// callback URL. The default provider in plain mode keeps the bare URL:
// tagging it with its own provider parameter would make the callback
// re-resolve to itself ambiguously.
func deriveACSURL(base string, provider Provider, encrypted bool) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid ACS base URL %q: %w", base, err)
	}
	query := parsed.Query()
	if provider != DefaultProvider {
		query.Set("provider", string(provider))
	}
	if encrypted {
		query.Set("encrypted", "true")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func parseSigningOrder(s string) saml.SigningOrder {
	if s == string(saml.EncryptThenSign) {
		return saml.EncryptThenSign
	}
	return saml.SignThenEncrypt
}
