// Package gateway is the HTTP controller tying the SAML pipeline
// together: entity resolution, protocol codec, directory lookup, and
// session issuance. Handlers are thin dispatch; every failure is logged
// server-side and answered with a generic redirect or status code.
package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/passify/saml-gateway/internal/directory"
	"github.com/passify/saml-gateway/internal/entity"
	"github.com/passify/saml-gateway/internal/protocols/saml"
	"github.com/passify/saml-gateway/internal/session"
)

// Gateway orchestrates the SAML login and logout exchanges.
type Gateway struct {
	resolver  *entity.Resolver
	codec     *saml.Codec
	directory *directory.Store
	sessions  *session.Issuer
	logger    *zap.Logger

	// baseURL builds the SP's own absolute URLs (logout landing, SLO
	// endpoint advertised in metadata).
	baseURL string
}

// New wires a gateway controller.
func New(resolver *entity.Resolver, codec *saml.Codec, store *directory.Store, sessions *session.Issuer, baseURL string, logger *zap.Logger) *Gateway {
	return &Gateway{
		resolver:  resolver,
		codec:     codec,
		directory: store,
		sessions:  sessions,
		logger:    logger,
		baseURL:   baseURL,
	}
}

// RegisterRoutes mounts the gateway endpoints.
func (g *Gateway) RegisterRoutes(r chi.Router) {
	r.Route("/sso", func(r chi.Router) {
		r.Use(g.resolveEntity)
		r.Get("/redirect", g.handleLoginRedirect)
		r.Get("/post", g.handleLoginPost)
	})
	r.Route("/sp", func(r chi.Router) {
		r.Use(g.resolveEntity)
		r.Post("/acs", g.handleACS)
		r.Get("/single_logout/redirect", g.handleLogoutRedirect)
		r.Post("/sso/logout", g.handleLogoutCallback)
		r.Get("/metadata", g.handleSPMetadata)
	})
	r.With(g.resolveEntity).Get("/idp/metadata", g.handleIdPMetadata)
	r.Get("/profile", g.handleProfile)
}

type contextKey struct{}

// resolvedEntity is the request-scoped resolution result every protocol
// handler starts from.
type resolvedEntity struct {
	pair      saml.EntityPair
	provider  entity.Provider
	encrypted bool
}

// resolveEntity resolves the (provider, encrypted) selection from the
// query string before any protocol work runs. Resolution failures
// short-circuit with the generic redirect.
func (g *Gateway) resolveEntity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providerName := r.URL.Query().Get("provider")
		encrypted := r.URL.Query().Get("encrypted") == "true"

		pair, err := g.resolver.Resolve(providerName, encrypted)
		if err != nil {
			g.logger.Warn("entity resolution failed",
				zap.String("provider", providerName),
				zap.Bool("encrypted", encrypted),
				zap.String("operation", r.URL.Path),
				zap.Error(err))
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		provider, _ := entity.ParseProvider(providerName)
		ctx := context.WithValue(r.Context(), contextKey{}, resolvedEntity{
			pair:      pair,
			provider:  provider,
			encrypted: encrypted,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolved returns the entity resolution stored by the middleware.
func resolved(r *http.Request) resolvedEntity {
	return r.Context().Value(contextKey{}).(resolvedEntity)
}

// fail logs the failure with full context and sends the browser a bare
// redirect to the start page. Error detail never crosses the trust
// boundary.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	re, _ := r.Context().Value(contextKey{}).(resolvedEntity)
	g.logger.Warn(operation+" failed",
		zap.String("provider", string(re.provider)),
		zap.Bool("encrypted", re.encrypted),
		zap.String("operation", operation),
		zap.Error(err))
	http.Redirect(w, r, "/", http.StatusFound)
}
