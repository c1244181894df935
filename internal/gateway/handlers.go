package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/passify/saml-gateway/internal/protocols/saml"
	"github.com/passify/saml-gateway/pkg/models"
)

// handleLoginRedirect starts a login over the HTTP-Redirect binding: the
// browser is sent to the IdP SSO URL with the AuthnRequest in the query.
func (g *Gateway) handleLoginRedirect(w http.ResponseWriter, r *http.Request) {
	re := resolved(r)
	msg, err := g.codec.BuildAuthnRequest(re.pair, saml.BindingRedirect, r.URL.Query().Get("relayState"))
	if err != nil {
		g.fail(w, r, "login-init redirect", err)
		return
	}
	http.Redirect(w, r, msg.RedirectURL, http.StatusFound)
}

// handleLoginPost starts a login over the HTTP-POST binding: the browser
// receives an auto-submitting form targeting the IdP SSO URL.
func (g *Gateway) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	re := resolved(r)
	msg, err := g.codec.BuildAuthnRequest(re.pair, saml.BindingPost, r.URL.Query().Get("relayState"))
	if err != nil {
		g.fail(w, r, "login-init post", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(msg.PostForm))
}

// handleACS receives the IdP's Response on the assertion consumer
// service, verifies it, maps the subject to a local account, and hands
// the browser a session token. Any failure along the pipeline yields the
// same bare redirect.
func (g *Gateway) handleACS(w http.ResponseWriter, r *http.Request) {
	re := resolved(r)
	if err := r.ParseForm(); err != nil {
		g.fail(w, r, "acs", err)
		return
	}

	resp, err := g.codec.ParseLoginResponse(re.pair, saml.BindingPost, saml.WireMessage{
		Encoded:    r.PostFormValue("SAMLResponse"),
		RelayState: r.PostFormValue("RelayState"),
	})
	if err != nil {
		g.fail(w, r, "acs", err)
		return
	}

	user, err := g.directory.Lookup(r.Context(), string(re.provider), resp.Assertion.NameID)
	if err != nil {
		g.fail(w, r, "acs", err)
		return
	}

	token, err := g.sessions.Mint(user)
	if err != nil {
		g.fail(w, r, "acs", err)
		return
	}

	g.logger.Info("login completed",
		zap.String("provider", string(re.provider)),
		zap.Bool("encrypted", re.encrypted),
		zap.String("user_id", user.ID))

	query := url.Values{}
	query.Set("auth_token", token)
	http.Redirect(w, r, "/?"+query.Encode(), http.StatusFound)
}

// handleLogoutRedirect starts single logout over the redirect binding.
func (g *Gateway) handleLogoutRedirect(w http.ResponseWriter, r *http.Request) {
	re := resolved(r)
	nameID := r.URL.Query().Get("userId")
	relayState := g.baseURL + "/logout"

	msg, err := g.codec.BuildLogoutRequest(re.pair, saml.BindingRedirect, nameID, r.URL.Query().Get("sessionIndex"), relayState)
	if err != nil {
		g.fail(w, r, "logout-init redirect", err)
		return
	}
	http.Redirect(w, r, msg.RedirectURL, http.StatusFound)
}

// handleLogoutCallback receives the IdP's LogoutResponse on the POST
// binding and sends the browser to the logout landing page.
func (g *Gateway) handleLogoutCallback(w http.ResponseWriter, r *http.Request) {
	re := resolved(r)
	if err := r.ParseForm(); err != nil {
		g.fail(w, r, "logout callback", err)
		return
	}

	_, err := g.codec.ParseLogoutResponse(re.pair, saml.BindingPost, saml.WireMessage{
		Encoded:    r.PostFormValue("SAMLResponse"),
		RelayState: r.PostFormValue("RelayState"),
	})
	if err != nil {
		g.fail(w, r, "logout callback", err)
		return
	}

	g.logger.Info("logout completed", zap.String("provider", string(re.provider)))
	http.Redirect(w, r, "/logout", http.StatusFound)
}

// handleSPMetadata serves this gateway's SP metadata for the resolved
// tenant.
func (g *Gateway) handleSPMetadata(w http.ResponseWriter, r *http.Request) {
	re := resolved(r)
	metadata, err := saml.SPMetadata(re.pair.SP, g.baseURL+"/sp/sso/logout")
	if err != nil {
		g.fail(w, r, "sp metadata", err)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write(metadata)
}

// handleIdPMetadata serves the resolved IdP's metadata.
func (g *Gateway) handleIdPMetadata(w http.ResponseWriter, r *http.Request) {
	re := resolved(r)
	metadata, err := saml.IdPMetadata(re.pair.IdP)
	if err != nil {
		g.fail(w, r, "idp metadata", err)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write(metadata)
}

// handleProfile verifies the bearer session token and returns its claims.
// Invalid tokens get a bare 401.
func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	token := strings.TrimPrefix(auth, "Bearer ")

	user, err := g.sessions.Verify(token)
	if err != nil {
		g.logger.Warn("profile token rejected", zap.Error(err))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	profile := models.Profile{Claims: map[string]interface{}{
		"user_id":  user.ID,
		"email":    user.Email,
		"provider": user.Provider,
	}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}
