package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/passify/saml-gateway/internal/directory"
	"github.com/passify/saml-gateway/internal/entity"
	"github.com/passify/saml-gateway/internal/session"
)

// BootstrapResult holds the initialized shared dependencies.
type BootstrapResult struct {
	Config    *Config
	Logger    *zap.Logger
	Resolver  *entity.Resolver
	Directory *directory.Store
	Sessions  *session.Issuer
}

// Bootstrap loads configuration and builds every startup dependency:
// logger, provider registry, user directory, and session issuer. A
// provider with broken metadata degrades gracefully inside the registry;
// anything else here is fatal.
func Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	manifest, err := entity.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	registry, err := entity.NewRegistry(manifest, entity.Options{
		SPEntityID:           cfg.SPEntityID,
		ACSBaseURL:           cfg.AssertionURL,
		SigningKeyPath:       cfg.SigningKeyPath,
		SigningKeyPassphrase: cfg.SigningKeyPassphrase,
		SigningCertPath:      cfg.SigningCertPath,
		EncryptionKeyPath:    cfg.EncryptionKeyPath,
		EncryptionCertPath:   cfg.EncryptionCertPath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build entity registry: %w", err)
	}

	store, err := directory.Open(cfg.DirectoryDSN)
	if err != nil {
		return nil, err
	}
	if err := store.Seed(ctx); err != nil {
		store.Close()
		return nil, err
	}

	return &BootstrapResult{
		Config:    cfg,
		Logger:    logger,
		Resolver:  entity.NewResolver(registry),
		Directory: store,
		Sessions:  session.NewIssuer(cfg.SessionSecret, nil),
	}, nil
}
