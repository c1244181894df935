package saml

import (
	"crypto/rsa"
	"crypto/x509"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SAML 2.0 XML Namespaces
const (
	NamespaceSAML     = "urn:oasis:names:tc:SAML:2.0:assertion"
	NamespaceSAMLp    = "urn:oasis:names:tc:SAML:2.0:protocol"
	NamespaceDS       = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXEnc     = "http://www.w3.org/2001/04/xmlenc#"
	NamespaceMetadata = "urn:oasis:names:tc:SAML:2.0:metadata"
)

// SAML 2.0 NameID Formats
const (
	NameIDFormatUnspecified = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	NameIDFormatEmail       = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	NameIDFormatPersistent  = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"
	NameIDFormatTransient   = "urn:oasis:names:tc:SAML:2.0:nameid-format:transient"
)

// SAML 2.0 Binding URNs
const (
	BindingURNPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	BindingURNRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
)

// SAML 2.0 Status Codes
const (
	StatusSuccess       = "urn:oasis:names:tc:SAML:2.0:status:Success"
	StatusRequester     = "urn:oasis:names:tc:SAML:2.0:status:Requester"
	StatusResponder     = "urn:oasis:names:tc:SAML:2.0:status:Responder"
	StatusAuthnFailed   = "urn:oasis:names:tc:SAML:2.0:status:AuthnFailed"
	StatusPartialLogout = "urn:oasis:names:tc:SAML:2.0:status:PartialLogout"
)

// Binding identifies the HTTP transport encoding for a SAML message.
type Binding string

const (
	BindingRedirect Binding = "redirect"
	BindingPost     Binding = "post"
)

// URN returns the SAML binding URN for the binding.
func (b Binding) URN() string {
	if b == BindingPost {
		return BindingURNPost
	}
	return BindingURNRedirect
}

// ParseBinding maps a binding name to a Binding, defaulting to redirect.
func ParseBinding(s string) Binding {
	if strings.EqualFold(s, string(BindingPost)) {
		return BindingPost
	}
	return BindingRedirect
}

// SigningOrder describes how an IdP composes an encrypted response:
// whether signatures are applied before or after assertion encryption.
// The SP must unwrap in the matching order or verification fails.
type SigningOrder string

const (
	SignThenEncrypt SigningOrder = "sign-then-encrypt"
	EncryptThenSign SigningOrder = "encrypt-then-sign"
)

// ServiceProvider holds the immutable SP-side configuration for one
// (provider, encryption mode) combination. All instances share the signing
// key; they differ in ACS URL query parameters and encryption settings.
type ServiceProvider struct {
	EntityID string

	SigningKey  *rsa.PrivateKey
	SigningCert *x509.Certificate

	// EncryptionKey is set only for encrypted-mode instances.
	EncryptionKey  *rsa.PrivateKey
	EncryptionCert *x509.Certificate

	// ACSURL is the assertion consumer service location (HTTP-POST binding).
	ACSURL string

	AuthnRequestsSigned      bool
	WantAssertionsSigned     bool
	WantMessageSigned        bool
	WantLogoutRequestSigned  bool
	WantLogoutResponseSigned bool
	AssertionEncrypted       bool
	SigningOrder             SigningOrder
}

// IdentityProvider holds the immutable IdP-side configuration parsed from
// metadata, plus per-provider policy overrides.
type IdentityProvider struct {
	EntityID string

	// SSOURL and SLOURL map each supported binding to its endpoint.
	SSOURL map[Binding]string
	SLOURL map[Binding]string

	// Certificates are the trusted signing certificates from metadata.
	Certificates []*x509.Certificate

	WantAuthnRequestsSigned bool
	WantLogoutRequestSigned bool
}

// EntityPair is the (SP, IdP) configuration selected for one request.
// A pair is always fully resolved before any codec operation runs.
type EntityPair struct {
	SP  *ServiceProvider
	IdP *IdentityProvider
}

// GenerateID generates a unique SAML message ID. SAML IDs are of type
// xs:ID and must not start with a digit, hence the underscore prefix.
func GenerateID() string {
	return "_" + uuid.NewString()
}

// TimeFormat is the xs:dateTime layout required by SAML 2.0 Core Section
// 1.3.3: UTC with the 'Z' timezone indicator.
const TimeFormat = "2006-01-02T15:04:05Z"

// parseTime accepts both whole-second and fractional-second SAML instants.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}
