// Package mockidp fabricates SAML messages the way a real identity
// provider would: signed responses, encrypted assertions, logout
// responses. It backs the demo flow and the gateway test suites; nothing
// here performs verification.
package mockidp

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/passify/saml-gateway/internal/protocols/saml"
)

// IdentityProvider holds the IdP-side key material used to fabricate
// messages.
type IdentityProvider struct {
	EntityID    string
	SigningKey  *rsa.PrivateKey
	SigningCert *x509.Certificate

	clock clockwork.Clock
}

// New creates a mock IdP. A nil clock means wall-clock time.
func New(entityID string, key *rsa.PrivateKey, cert *x509.Certificate, clock clockwork.Clock) *IdentityProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IdentityProvider{
		EntityID:    entityID,
		SigningKey:  key,
		SigningCert: cert,
		clock:       clock,
	}
}

// ResponseOptions control the shape of a fabricated login response.
type ResponseOptions struct {
	// Destination is the SP's assertion consumer service URL.
	Destination string
	// Audience is the SP entityID placed in the AudienceRestriction.
	Audience     string
	InResponseTo string

	NameID       string
	NameIDFormat string
	SessionIndex string
	Attributes   map[string][]string

	SignAssertion bool
	SignMessage   bool

	// EncryptionCert, when set, wraps the assertion in an
	// EncryptedAssertion for the holder of the matching private key.
	EncryptionCert *x509.Certificate
	// EncryptThenSign encrypts the assertion before the message signature
	// is applied, so the signature covers ciphertext. The default order
	// signs the assertion first and encrypts the signed plaintext.
	EncryptThenSign bool

	// Validity bounds the assertion's Conditions window. Zero means five
	// minutes. Negative values produce an already-expired assertion.
	Validity time.Duration

	// StatusCode overrides the samlp:Status value. Empty means Success.
	StatusCode string
}

// LoginResponse fabricates a complete samlp:Response document.
func (idp *IdentityProvider) LoginResponse(opts ResponseOptions) ([]byte, error) {
	now := idp.clock.Now().UTC()
	validity := opts.Validity
	if validity == 0 {
		validity = 5 * time.Minute
	}
	if opts.NameIDFormat == "" {
		opts.NameIDFormat = saml.NameIDFormatEmail
	}
	status := opts.StatusCode
	if status == "" {
		status = saml.StatusSuccess
	}

	doc := etree.NewDocument()
	root := doc.CreateElement("samlp:Response")
	root.CreateAttr("xmlns:samlp", saml.NamespaceSAMLp)
	root.CreateAttr("xmlns:saml", saml.NamespaceSAML)
	root.CreateAttr("ID", saml.GenerateID())
	root.CreateAttr("Version", "2.0")
	root.CreateAttr("IssueInstant", now.Format(saml.TimeFormat))
	if opts.Destination != "" {
		root.CreateAttr("Destination", opts.Destination)
	}
	if opts.InResponseTo != "" {
		root.CreateAttr("InResponseTo", opts.InResponseTo)
	}

	issuer := root.CreateElement("saml:Issuer")
	issuer.SetText(idp.EntityID)

	statusEl := root.CreateElement("samlp:Status")
	statusEl.CreateElement("samlp:StatusCode").CreateAttr("Value", status)

	assertion := idp.buildAssertion(opts, now, validity)

	if opts.SignAssertion && (!opts.EncryptThenSign || opts.EncryptionCert == nil) {
		signed, err := idp.sign(assertion)
		if err != nil {
			return nil, fmt.Errorf("sign assertion: %w", err)
		}
		assertion = signed
	}

	if opts.EncryptionCert != nil {
		encrypted, err := encryptAssertion(assertion, opts.EncryptionCert)
		if err != nil {
			return nil, fmt.Errorf("encrypt assertion: %w", err)
		}
		root.AddChild(encrypted)
	} else {
		root.AddChild(assertion)
	}

	if opts.SignMessage {
		signed, err := idp.sign(root)
		if err != nil {
			return nil, fmt.Errorf("sign response: %w", err)
		}
		doc.SetRoot(signed)
	}
	return doc.WriteToBytes()
}

// buildAssertion assembles the saml:Assertion element. Namespaces are
// declared on the assertion itself so the subtree stays well-formed when
// it is detached for signing or encryption.
func (idp *IdentityProvider) buildAssertion(opts ResponseOptions, now time.Time, validity time.Duration) *etree.Element {
	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", saml.NamespaceSAML)
	assertion.CreateAttr("ID", saml.GenerateID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", now.Format(saml.TimeFormat))

	assertion.CreateElement("saml:Issuer").SetText(idp.EntityID)

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", opts.NameIDFormat)
	nameID.SetText(opts.NameID)
	confirmation := subject.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", "urn:oasis:names:tc:SAML:2.0:cm:bearer")
	confirmationData := confirmation.CreateElement("saml:SubjectConfirmationData")
	confirmationData.CreateAttr("NotOnOrAfter", now.Add(validity).Format(saml.TimeFormat))
	if opts.Destination != "" {
		confirmationData.CreateAttr("Recipient", opts.Destination)
	}
	if opts.InResponseTo != "" {
		confirmationData.CreateAttr("InResponseTo", opts.InResponseTo)
	}

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", now.Format(saml.TimeFormat))
	conditions.CreateAttr("NotOnOrAfter", now.Add(validity).Format(saml.TimeFormat))
	if opts.Audience != "" {
		restriction := conditions.CreateElement("saml:AudienceRestriction")
		restriction.CreateElement("saml:Audience").SetText(opts.Audience)
	}

	authn := assertion.CreateElement("saml:AuthnStatement")
	authn.CreateAttr("AuthnInstant", now.Format(saml.TimeFormat))
	if opts.SessionIndex != "" {
		authn.CreateAttr("SessionIndex", opts.SessionIndex)
	}
	authnContext := authn.CreateElement("saml:AuthnContext")
	authnContext.CreateElement("saml:AuthnContextClassRef").
		SetText("urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport")

	if len(opts.Attributes) > 0 {
		stmt := assertion.CreateElement("saml:AttributeStatement")
		for name, values := range opts.Attributes {
			attr := stmt.CreateElement("saml:Attribute")
			attr.CreateAttr("Name", name)
			for _, value := range values {
				attr.CreateElement("saml:AttributeValue").SetText(value)
			}
		}
	}
	return assertion
}

// LogoutResponse fabricates a samlp:LogoutResponse document.
func (idp *IdentityProvider) LogoutResponse(destination, inResponseTo string, signed bool) ([]byte, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("samlp:LogoutResponse")
	root.CreateAttr("xmlns:samlp", saml.NamespaceSAMLp)
	root.CreateAttr("xmlns:saml", saml.NamespaceSAML)
	root.CreateAttr("ID", saml.GenerateID())
	root.CreateAttr("Version", "2.0")
	root.CreateAttr("IssueInstant", idp.clock.Now().UTC().Format(saml.TimeFormat))
	if destination != "" {
		root.CreateAttr("Destination", destination)
	}
	if inResponseTo != "" {
		root.CreateAttr("InResponseTo", inResponseTo)
	}

	root.CreateElement("saml:Issuer").SetText(idp.EntityID)
	root.CreateElement("samlp:Status").
		CreateElement("samlp:StatusCode").
		CreateAttr("Value", saml.StatusSuccess)

	if signed {
		signedRoot, err := idp.sign(root)
		if err != nil {
			return nil, fmt.Errorf("sign logout response: %w", err)
		}
		doc.SetRoot(signedRoot)
	}
	return doc.WriteToBytes()
}

type keyStore struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

func (ks keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.key, ks.cert.Raw, nil
}

// sign applies an enveloped RSA-SHA256 signature to the element.
// Exclusive C14N is required here: assertions are signed standalone and
// then embedded in the Response, which adds xmlns:samlp to their scope.
// The default (inclusive) C14N 1.1 folds that scope into the SignedInfo
// canonical form, so the embedded signature would never verify.
func (idp *IdentityProvider) sign(el *etree.Element) (*etree.Element, error) {
	ctx := dsig.NewDefaultSigningContext(keyStore{key: idp.SigningKey, cert: idp.SigningCert})
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, err
	}
	return ctx.SignEnveloped(el)
}
