package core

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the gateway configuration, loaded from the environment.
type Config struct {
	// Environment (development, demo, production)
	Environment string `envconfig:"GATEWAY_ENV" default:"development"`

	// Server listening address
	ListenAddr string `envconfig:"GATEWAY_LISTEN_ADDR" default:":8080"`

	// Base URL for constructing absolute URLs
	BaseURL string `envconfig:"GATEWAY_BASE_URL" default:"http://localhost:8080"`

	// AssertionURL overrides the externally reachable ACS callback base.
	// Deployments behind a tunnel or load balancer set this to the public
	// address the IdP posts back to.
	AssertionURL string `envconfig:"ASSERTION_URL" default:"http://localhost:8080/sp/acs"`

	// SPEntityID names this gateway in SAML messages and metadata.
	SPEntityID string `envconfig:"GATEWAY_SP_ENTITY_ID" default:"https://saml.passify.io/metadata"`

	// SessionSecret signs the HS256 session tokens.
	SessionSecret string `envconfig:"GATEWAY_SESSION_SECRET" default:"somethingverysecret"`

	// ManifestPath points at the YAML provider inventory.
	ManifestPath string `envconfig:"GATEWAY_PROVIDERS" default:"etc/providers.yaml"`

	// SP key material
	SigningKeyPath       string `envconfig:"GATEWAY_SIGNING_KEY" default:"etc/keys/sign/privkey.pem"`
	SigningKeyPassphrase string `envconfig:"GATEWAY_SIGNING_KEY_PASSPHRASE" default:"VHOSp5RUiBcrsjrcAuXFwU1NKCkGA8px"`
	SigningCertPath      string `envconfig:"GATEWAY_SIGNING_CERT" default:"etc/keys/sign/cert.pem"`
	EncryptionKeyPath    string `envconfig:"GATEWAY_ENCRYPT_KEY" default:"etc/keys/encrypt/privkey.pem"`
	EncryptionCertPath   string `envconfig:"GATEWAY_ENCRYPT_CERT" default:"etc/keys/encrypt/cert.pem"`

	// DirectoryDSN selects the user directory database. Empty means the
	// seeded in-memory database.
	DirectoryDSN string `envconfig:"GATEWAY_DIRECTORY_DSN"`

	// CORS allowed origins
	CORSOrigins []string `envconfig:"GATEWAY_CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`

	// Enable debug logging
	Debug bool `envconfig:"GATEWAY_DEBUG" default:"false"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg.AssertionURL = strings.TrimRight(cfg.AssertionURL, "/")
	return &cfg, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
