package gateway_test

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/passify/saml-gateway/internal/crypto"
	"github.com/passify/saml-gateway/internal/directory"
	"github.com/passify/saml-gateway/internal/entity"
	"github.com/passify/saml-gateway/internal/gateway"
	"github.com/passify/saml-gateway/internal/mockidp"
	"github.com/passify/saml-gateway/internal/protocols/saml"
	"github.com/passify/saml-gateway/internal/session"
	"github.com/passify/saml-gateway/pkg/models"
)

func mockUser() *models.User {
	return &models.User{
		ID:       "21b06b08-f296-42f4-81aa-73fb5a8eac67",
		Email:    "user.passify.io@gmail.com",
		Provider: "okta",
	}
}

// harness stands up a full gateway against in-test IdPs: metadata is
// generated from fresh keypairs and loaded through the real registry.
type harness struct {
	router   chi.Router
	sessions *session.Issuer

	okta  *mockidp.IdentityProvider
	azure *mockidp.IdentityProvider
}

const (
	testSPEntityID = "urn:test:sp"
	oktaEntityID   = "urn:mock:okta"
	azureEntityID  = "urn:mock:azure"
	azureSSOURL    = "https://login.azure.example.com/sso"
)

func writeIdPMetadata(t *testing.T, dir, name, entityID, ssoURL string, mock *mockidp.IdentityProvider) string {
	t.Helper()
	idp := &saml.IdentityProvider{
		EntityID: entityID,
		SSOURL: map[saml.Binding]string{
			saml.BindingRedirect: ssoURL,
			saml.BindingPost:     ssoURL,
		},
		SLOURL: map[saml.Binding]string{
			saml.BindingRedirect: ssoURL + "/logout",
			saml.BindingPost:     ssoURL + "/logout",
		},
		Certificates: []*x509.Certificate{mock.SigningCert},
	}
	metadata, err := saml.IdPMetadata(idp)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, metadata, 0o600))
	return path
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	oktaKey, oktaCert, err := crypto.GenerateTestKeyPair("mock-okta")
	require.NoError(t, err)
	azureKey, azureCert, err := crypto.GenerateTestKeyPair("mock-azure")
	require.NoError(t, err)

	okta := mockidp.New(oktaEntityID, oktaKey, oktaCert, nil)
	azure := mockidp.New(azureEntityID, azureKey, azureCert, nil)

	dir := t.TempDir()
	oktaPath := writeIdPMetadata(t, dir, "okta.xml", oktaEntityID, "https://mock-okta.example.com/sso", okta)
	azurePath := writeIdPMetadata(t, dir, "azure.xml", azureEntityID, azureSSOURL, azure)

	manifest := &entity.Manifest{Providers: map[string]entity.ProviderManifest{
		"okta": {
			Metadata:              oktaPath,
			EncryptedMetadata:     oktaPath,
			EncryptedSigningOrder: "sign-then-encrypt",
		},
		"azure": {Metadata: azurePath},
	}}
	registry, err := entity.NewRegistry(manifest, entity.Options{
		SPEntityID:         testSPEntityID,
		ACSBaseURL:         "http://localhost:8080/sp/acs",
		SigningKeyPath:     "testdata/sp-sign.pem",
		SigningCertPath:    "testdata/sp-sign-cert.pem",
		EncryptionKeyPath:  "testdata/sp-enc.pem",
		EncryptionCertPath: "testdata/sp-enc-cert.pem",
	}, zap.NewNop())
	require.NoError(t, err)

	store, err := directory.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background()))

	sessions := session.NewIssuer("test-secret", nil)

	g := gateway.New(entity.NewResolver(registry), saml.NewCodec(nil), store, sessions, "http://localhost:8080", zap.NewNop())
	router := chi.NewRouter()
	g.RegisterRoutes(router)

	return &harness{router: router, sessions: sessions, okta: okta, azure: azure}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postACS(target string, xml []byte) *httptest.ResponseRecorder {
	form := url.Values{}
	form.Set("SAMLResponse", mockidp.PostEncode(xml))
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

func TestLoginRedirect(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/sso/redirect?provider=azure", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "login.azure.example.com", location.Host)
	assert.NotEmpty(t, location.Query().Get("SAMLRequest"))
}

func TestLoginPost(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/sso/post", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `name="SAMLRequest"`)
	assert.Contains(t, rec.Body.String(), "https://mock-okta.example.com/sso")
}

func TestLoginRedirectUnknownProvider(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/sso/redirect?provider=google", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestACSCompletesLogin(t *testing.T) {
	h := newHarness(t)

	xml, err := h.okta.LoginResponse(mockidp.ResponseOptions{
		Destination:   "http://localhost:8080/sp/acs",
		Audience:      testSPEntityID,
		NameID:        "user.passify.io@gmail.com",
		SessionIndex:  "_session-1",
		SignAssertion: true,
		SignMessage:   true,
	})
	require.NoError(t, err)

	rec := h.postACS("/sp/acs", xml)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	token := location.Query().Get("auth_token")
	require.NotEmpty(t, token)

	user, err := h.sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user.passify.io@gmail.com", user.Email)
	assert.Equal(t, "okta", user.Provider)
	assert.Equal(t, "21b06b08-f296-42f4-81aa-73fb5a8eac67", user.ID)
}

func TestACSEncryptedAssertion(t *testing.T) {
	h := newHarness(t)

	encCert, err := crypto.LoadCertificate("testdata/sp-enc-cert.pem")
	require.NoError(t, err)

	xml, err := h.okta.LoginResponse(mockidp.ResponseOptions{
		Destination:    "http://localhost:8080/sp/acs?encrypted=true",
		Audience:       testSPEntityID,
		NameID:         "user.passify.io@gmail.com",
		SignAssertion:  true,
		EncryptionCert: encCert,
	})
	require.NoError(t, err)

	rec := h.postACS("/sp/acs?encrypted=true", xml)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.NotEmpty(t, location.Query().Get("auth_token"))
}

func TestACSWildcardSubject(t *testing.T) {
	h := newHarness(t)

	xml, err := h.azure.LoginResponse(mockidp.ResponseOptions{
		Destination:   "http://localhost:8080/sp/acs?provider=azure",
		Audience:      testSPEntityID,
		NameID:        "member@passify.onmicrosoft.com",
		SignAssertion: true,
		SignMessage:   true,
	})
	require.NoError(t, err)

	rec := h.postACS("/sp/acs?provider=azure", xml)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	token := location.Query().Get("auth_token")
	require.NotEmpty(t, token)

	user, err := h.sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "member@passify.onmicrosoft.com", user.Email)
	assert.Equal(t, "azure", user.Provider)
}

func TestACSRejectsGarbage(t *testing.T) {
	h := newHarness(t)

	form := url.Values{}
	form.Set("SAMLResponse", "!!!garbage!!!")
	req := httptest.NewRequest(http.MethodPost, "/sp/acs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := h.do(req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"),
		"failed verification answers with the bare redirect and no token")
}

func TestACSRejectsUnsignedResponse(t *testing.T) {
	h := newHarness(t)

	xml, err := h.okta.LoginResponse(mockidp.ResponseOptions{
		Destination: "http://localhost:8080/sp/acs",
		Audience:    testSPEntityID,
		NameID:      "user.passify.io@gmail.com",
	})
	require.NoError(t, err)

	rec := h.postACS("/sp/acs", xml)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestACSRejectsUnknownSubject(t *testing.T) {
	h := newHarness(t)

	xml, err := h.okta.LoginResponse(mockidp.ResponseOptions{
		Destination:   "http://localhost:8080/sp/acs",
		Audience:      testSPEntityID,
		NameID:        "stranger@example.com",
		SignAssertion: true,
		SignMessage:   true,
	})
	require.NoError(t, err)

	rec := h.postACS("/sp/acs", xml)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLogoutRoundTrip(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet,
		"/sp/single_logout/redirect?userId=user.passify.io@gmail.com&sessionIndex=_session-1", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "mock-okta.example.com", location.Host)
	assert.NotEmpty(t, location.Query().Get("SAMLRequest"))
	assert.Equal(t, "http://localhost:8080/logout", location.Query().Get("RelayState"))

	xml, err := h.okta.LogoutResponse("http://localhost:8080/sp/sso/logout", "", true)
	require.NoError(t, err)

	form := url.Values{}
	form.Set("SAMLResponse", mockidp.PostEncode(xml))
	req := httptest.NewRequest(http.MethodPost, "/sp/sso/logout", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = h.do(req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/logout", rec.Header().Get("Location"))
}

func TestSPMetadata(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/sp/metadata", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, rec.Body.String(), testSPEntityID)
	assert.Contains(t, rec.Body.String(), "AssertionConsumerService")
}

func TestIdPMetadata(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/idp/metadata?provider=azure", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), azureEntityID)
}

func TestProfile(t *testing.T) {
	h := newHarness(t)

	token, err := h.sessions.Mint(mockUser())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := h.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), `"user.passify.io@gmail.com"`)
}

func TestProfileRejectsMissingToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfileRejectsBadToken(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
