package entity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the static provider inventory loaded from YAML at startup.
type Manifest struct {
	Providers map[string]ProviderManifest `yaml:"providers"`
}

// ProviderManifest describes one IdP: where its metadata lives and the
// policy knobs that metadata alone does not express.
type ProviderManifest struct {
	// Metadata is the path to the IdP's EntityDescriptor document.
	Metadata string `yaml:"metadata"`
	// EncryptedMetadata, when set, is a separate descriptor for the
	// encrypted-assertion tenant of the same IdP. Providers without it do
	// not support encrypted mode.
	EncryptedMetadata string `yaml:"encrypted_metadata"`

	WantLogoutRequestSigned bool `yaml:"want_logout_request_signed"`

	// EncryptedSigningOrder is "sign-then-encrypt" or "encrypt-then-sign"
	// and applies only to the encrypted tenant.
	EncryptedSigningOrder string `yaml:"encrypted_signing_order"`
}

// LoadManifest reads and validates the provider manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Providers) == 0 {
		return nil, fmt.Errorf("manifest %s declares no providers", path)
	}
	for name := range m.Providers {
		if !knownProviders[Provider(name)] {
			return nil, fmt.Errorf("manifest %s declares unknown provider %q", path, name)
		}
	}
	return &m, nil
}
