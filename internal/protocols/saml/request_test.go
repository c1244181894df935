package saml

import (
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passify/saml-gateway/internal/crypto"
)

func testPair(t *testing.T, mutate func(sp *ServiceProvider, idp *IdentityProvider)) EntityPair {
	t.Helper()
	spKey, spCert, err := crypto.GenerateTestKeyPair("sp-test")
	require.NoError(t, err)
	_, idpCert, err := crypto.GenerateTestKeyPair("idp-test")
	require.NoError(t, err)

	sp := &ServiceProvider{
		EntityID:    "urn:test:sp",
		SigningKey:  spKey,
		SigningCert: spCert,
		ACSURL:      "http://localhost:8080/sp/acs",

		WantAssertionsSigned:     true,
		WantMessageSigned:        true,
		WantLogoutRequestSigned:  true,
		WantLogoutResponseSigned: true,
	}
	idp := &IdentityProvider{
		EntityID: "urn:test:idp",
		SSOURL: map[Binding]string{
			BindingRedirect: "https://idp.test/sso",
			BindingPost:     "https://idp.test/sso",
		},
		SLOURL: map[Binding]string{
			BindingRedirect: "https://idp.test/slo",
			BindingPost:     "https://idp.test/slo",
		},
		Certificates: certs(idpCert),

		WantLogoutRequestSigned: true,
	}
	if mutate != nil {
		mutate(sp, idp)
	}
	return EntityPair{SP: sp, IdP: idp}
}

var formValueRe = regexp.MustCompile(`name="SAMLRequest" value="([^"]+)"`)

func TestBuildAuthnRequestRedirectRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := NewCodec(clock)
	pair := testPair(t, nil)

	msg, err := codec.BuildAuthnRequest(pair, BindingRedirect, "relay-1")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	parsed, err := url.Parse(msg.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "idp.test", parsed.Host)
	assert.Equal(t, "/sso", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "relay-1", query.Get("RelayState"))
	assert.Empty(t, query.Get("Signature"), "unsigned SP must not sign authn requests")

	raw, err := deflateDecode(query.Get("SAMLRequest"))
	require.NoError(t, err)
	doc, err := parseDocument(raw)
	require.NoError(t, err)

	root := doc.Root()
	assert.Equal(t, "AuthnRequest", root.Tag)
	assert.Equal(t, msg.ID, root.SelectAttrValue("ID", ""))
	assert.Equal(t, "https://idp.test/sso", root.SelectAttrValue("Destination", ""))
	assert.Equal(t, "2026-03-01T12:00:00Z", root.SelectAttrValue("IssueInstant", ""))
	assert.Equal(t, pair.SP.ACSURL, root.SelectAttrValue("AssertionConsumerServiceURL", ""))
	require.NotNil(t, childElement(root, "Issuer"))
	assert.Equal(t, "urn:test:sp", childElement(root, "Issuer").Text())
}

func TestBuildAuthnRequestRedirectSignedWhenIdPDemandsIt(t *testing.T) {
	codec := NewCodec(nil)
	pair := testPair(t, func(sp *ServiceProvider, idp *IdentityProvider) {
		idp.WantAuthnRequestsSigned = true
	})

	msg, err := codec.BuildAuthnRequest(pair, BindingRedirect, "")
	require.NoError(t, err)

	parsed, err := url.Parse(msg.RedirectURL)
	require.NoError(t, err)
	query := parsed.Query()
	require.NotEmpty(t, query.Get("Signature"))

	err = verifyRedirectSignature("SAMLRequest",
		query.Get("SAMLRequest"), query.Get("RelayState"), query.Get("SigAlg"), query.Get("Signature"),
		certs(pair.SP.SigningCert))
	assert.NoError(t, err)
}

func TestBuildAuthnRequestPostRoundTrip(t *testing.T) {
	codec := NewCodec(nil)
	pair := testPair(t, nil)

	msg, err := codec.BuildAuthnRequest(pair, BindingPost, "relay-2")
	require.NoError(t, err)
	assert.Contains(t, msg.PostForm, `action="https://idp.test/sso"`)
	assert.Contains(t, msg.PostForm, `name="RelayState" value="relay-2"`)

	match := formValueRe.FindStringSubmatch(msg.PostForm)
	require.Len(t, match, 2)

	raw, err := postDecode(match[1])
	require.NoError(t, err)
	doc, err := parseDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "AuthnRequest", doc.Root().Tag)
	assert.Equal(t, msg.ID, doc.Root().SelectAttrValue("ID", ""))
}

func TestBuildLogoutRequestPostIsSigned(t *testing.T) {
	codec := NewCodec(nil)
	pair := testPair(t, nil)

	msg, err := codec.BuildLogoutRequest(pair, BindingPost, "user@example.com", "sess-1", "")
	require.NoError(t, err)

	match := formValueRe.FindStringSubmatch(msg.PostForm)
	require.Len(t, match, 2)
	raw, err := postDecode(match[1])
	require.NoError(t, err)
	doc, err := parseDocument(raw)
	require.NoError(t, err)

	root := doc.Root()
	assert.Equal(t, "LogoutRequest", root.Tag)
	assert.Equal(t, "user@example.com", childElement(root, "NameID").Text())
	assert.Equal(t, "sess-1", childElement(root, "SessionIndex").Text())

	require.True(t, hasEnvelopedSignature(root))
	_, err = verifyEnveloped(root, certs(pair.SP.SigningCert))
	assert.NoError(t, err)
}

func TestBuildLogoutRequestUnsignedForLaxIdP(t *testing.T) {
	codec := NewCodec(nil)
	pair := testPair(t, func(sp *ServiceProvider, idp *IdentityProvider) {
		idp.WantLogoutRequestSigned = false
	})

	msg, err := codec.BuildLogoutRequest(pair, BindingPost, "user@example.com", "", "")
	require.NoError(t, err)

	match := formValueRe.FindStringSubmatch(msg.PostForm)
	require.Len(t, match, 2)
	raw, err := postDecode(match[1])
	require.NoError(t, err)
	doc, err := parseDocument(raw)
	require.NoError(t, err)
	assert.False(t, hasEnvelopedSignature(doc.Root()))
}

func TestBuildAuthnRequestUnknownEndpoint(t *testing.T) {
	codec := NewCodec(nil)
	pair := testPair(t, func(sp *ServiceProvider, idp *IdentityProvider) {
		idp.SSOURL = map[Binding]string{}
	})

	_, err := codec.BuildAuthnRequest(pair, BindingRedirect, "")
	assert.Error(t, err)
}
