package saml

import (
	"time"

	"github.com/beevik/etree"
)

// clockSkew is the tolerance applied to assertion validity windows to
// absorb drift between the gateway and IdP clocks.
const clockSkew = 90 * time.Second

// WireMessage carries the binding-level fields of an inbound message as
// they appeared on the wire. SigAlg and Signature are only present for
// the redirect binding's detached signature.
type WireMessage struct {
	Encoded    string
	RelayState string
	SigAlg     string
	Signature  string
}

// Assertion is the verified statement of identity extracted from a login
// response. Values are only ever populated from an element that passed
// signature (and, when configured, decryption) checks; there is no way to
// obtain one from unverified input.
type Assertion struct {
	NameID       string
	NameIDFormat string
	SessionIndex string
	Attributes   map[string][]string
}

// LoginResponse is a fully verified SAML Response.
type LoginResponse struct {
	ID           string
	InResponseTo string
	Issuer       string
	Destination  string
	IssueInstant time.Time
	Assertion    Assertion
}

// LogoutResult is a verified LogoutResponse.
type LogoutResult struct {
	ID           string
	InResponseTo string
	Issuer       string
}

// ParseLoginResponse decodes, verifies, and extracts an inbound Response
// per the pair's policy. Any failure discards the whole message; the
// returned error wraps exactly one taxonomy sentinel.
//
// Verification order depends on the SP's encryption settings:
//
//   - plain: message-level and/or assertion-level enveloped signatures
//     are validated per wantMessageSigned / wantAssertionsSigned;
//   - encrypted, encrypt-then-sign: the outer message signature is
//     validated first, then the assertion is decrypted (an inner
//     assertion signature is validated too when present);
//   - encrypted, sign-then-encrypt: the assertion is decrypted first and
//     must carry its own signature, which is then validated. A decrypted
//     assertion without a signature means the IdP composed the message in
//     the other order, reported as a decryption failure.
func (c *Codec) ParseLoginResponse(pair EntityPair, binding Binding, msg WireMessage) (*LoginResponse, error) {
	raw, err := decodeWire(binding, msg.Encoded)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root.Tag != "Response" {
		return nil, errMalformed("unexpected root element "+root.Tag, nil)
	}
	if err := checkStatus(root); err != nil {
		return nil, err
	}
	if err := checkIssuer(root, pair.IdP); err != nil {
		return nil, err
	}

	assertionEl, err := c.verifiedAssertion(pair, root)
	if err != nil {
		return nil, err
	}
	if err := c.checkConditions(assertionEl, pair.SP); err != nil {
		return nil, err
	}

	assertion, err := extractAssertion(assertionEl)
	if err != nil {
		return nil, err
	}

	resp := &LoginResponse{
		ID:           root.SelectAttrValue("ID", ""),
		InResponseTo: root.SelectAttrValue("InResponseTo", ""),
		Destination:  root.SelectAttrValue("Destination", ""),
		Assertion:    *assertion,
	}
	if issuer := childElement(root, "Issuer"); issuer != nil {
		resp.Issuer = issuer.Text()
	}
	if instant := root.SelectAttrValue("IssueInstant", ""); instant != "" {
		if t, err := parseTime(instant); err == nil {
			resp.IssueInstant = t
		}
	}
	return resp, nil
}

// verifiedAssertion applies the signature/decryption pipeline and returns
// the one assertion element that is safe to extract from.
func (c *Codec) verifiedAssertion(pair EntityPair, root *etree.Element) (*etree.Element, error) {
	sp, idp := pair.SP, pair.IdP

	if !sp.WantMessageSigned && !sp.WantAssertionsSigned {
		return nil, &codecError{kind: ErrSignatureInvalid, detail: "service provider accepts no unsigned responses"}
	}

	if sp.AssertionEncrypted {
		return c.verifiedEncryptedAssertion(pair, root)
	}

	trustedRoot := root
	if sp.WantMessageSigned {
		if !hasEnvelopedSignature(root) {
			return nil, &codecError{kind: ErrSignatureInvalid, detail: "response is not signed"}
		}
		validated, err := verifyEnveloped(root, idp.Certificates)
		if err != nil {
			return nil, err
		}
		trustedRoot = validated
	}

	assertionEl := childElement(trustedRoot, "Assertion")
	if assertionEl == nil {
		return nil, errMalformed("response carries no assertion", nil)
	}

	if sp.WantAssertionsSigned {
		if !hasEnvelopedSignature(assertionEl) {
			return nil, &codecError{kind: ErrSignatureInvalid, detail: "assertion is not signed"}
		}
		validated, err := verifyEnveloped(assertionEl, idp.Certificates)
		if err != nil {
			return nil, err
		}
		assertionEl = validated
	}
	return assertionEl, nil
}

func (c *Codec) verifiedEncryptedAssertion(pair EntityPair, root *etree.Element) (*etree.Element, error) {
	sp, idp := pair.SP, pair.IdP

	switch sp.SigningOrder {
	case EncryptThenSign:
		// The message signature was applied over the encrypted document,
		// so it must be checked before anything is unwrapped.
		if !hasEnvelopedSignature(root) {
			return nil, &codecError{kind: ErrSignatureInvalid, detail: "response is not signed"}
		}
		validated, err := verifyEnveloped(root, idp.Certificates)
		if err != nil {
			return nil, err
		}
		encrypted := childElement(validated, "EncryptedAssertion")
		if encrypted == nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "response carries no EncryptedAssertion"}
		}
		assertionEl, err := c.decryptToAssertion(encrypted, sp)
		if err != nil {
			return nil, err
		}
		// The outer signature already covers the assertion; an inner
		// signature, if the IdP added one, is verified as well.
		if hasEnvelopedSignature(assertionEl) {
			return verifyEnveloped(assertionEl, idp.Certificates)
		}
		return assertionEl, nil

	default: // SignThenEncrypt
		encrypted := childElement(root, "EncryptedAssertion")
		if encrypted == nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "response carries no EncryptedAssertion"}
		}
		assertionEl, err := c.decryptToAssertion(encrypted, sp)
		if err != nil {
			return nil, err
		}
		// Signing happened before encryption, so the plaintext must carry
		// its own signature. Its absence means the message was composed
		// encrypt-then-sign and this SP is unwrapping in the wrong order.
		if !hasEnvelopedSignature(assertionEl) {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "decrypted assertion is unsigned: signing order mismatch"}
		}
		return verifyEnveloped(assertionEl, idp.Certificates)
	}
}

// decryptToAssertion decrypts an EncryptedAssertion element and parses
// the plaintext into an Assertion element.
func (c *Codec) decryptToAssertion(encrypted *etree.Element, sp *ServiceProvider) (*etree.Element, error) {
	plaintext, err := decryptAssertion(encrypted, sp.EncryptionKey)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(plaintext); err != nil {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "decrypted plaintext is not well-formed XML", cause: err}
	}
	root := doc.Root()
	if root == nil || root.Tag != "Assertion" {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "decrypted plaintext is not an Assertion"}
	}
	return root, nil
}

// checkConditions enforces the assertion validity window and audience
// restriction.
func (c *Codec) checkConditions(assertionEl *etree.Element, sp *ServiceProvider) error {
	conditions := childElement(assertionEl, "Conditions")
	if conditions == nil {
		return nil
	}
	now := c.clock.Now().UTC()

	if v := conditions.SelectAttrValue("NotBefore", ""); v != "" {
		notBefore, err := parseTime(v)
		if err != nil {
			return errMalformed("NotBefore", err)
		}
		if now.Add(clockSkew).Before(notBefore) {
			return &codecError{kind: ErrExpired, detail: "assertion not yet valid"}
		}
	}
	if v := conditions.SelectAttrValue("NotOnOrAfter", ""); v != "" {
		notOnOrAfter, err := parseTime(v)
		if err != nil {
			return errMalformed("NotOnOrAfter", err)
		}
		if !now.Add(-clockSkew).Before(notOnOrAfter) {
			return &codecError{kind: ErrExpired, detail: "assertion validity window passed"}
		}
	}

	if restriction := childElement(conditions, "AudienceRestriction"); restriction != nil {
		matched := false
		for _, audience := range restriction.ChildElements() {
			if audience.Tag == "Audience" && audience.Text() == sp.EntityID {
				matched = true
				break
			}
		}
		if !matched {
			return &codecError{kind: ErrRejected, detail: "assertion audience does not include " + sp.EntityID}
		}
	}
	return nil
}

// extractAssertion pulls the subject and attribute statements out of a
// verified assertion element.
func extractAssertion(assertionEl *etree.Element) (*Assertion, error) {
	subject := childElement(assertionEl, "Subject")
	if subject == nil {
		return nil, errMalformed("assertion has no Subject", nil)
	}
	nameID := childElement(subject, "NameID")
	if nameID == nil || nameID.Text() == "" {
		return nil, errMalformed("assertion subject has no NameID", nil)
	}

	assertion := &Assertion{
		NameID:       nameID.Text(),
		NameIDFormat: nameID.SelectAttrValue("Format", ""),
		Attributes:   make(map[string][]string),
	}

	if authn := childElement(assertionEl, "AuthnStatement"); authn != nil {
		assertion.SessionIndex = authn.SelectAttrValue("SessionIndex", "")
	}

	if stmt := childElement(assertionEl, "AttributeStatement"); stmt != nil {
		for _, attr := range stmt.ChildElements() {
			if attr.Tag != "Attribute" {
				continue
			}
			name := attr.SelectAttrValue("Name", "")
			if name == "" {
				continue
			}
			for _, value := range attr.ChildElements() {
				if value.Tag == "AttributeValue" {
					assertion.Attributes[name] = append(assertion.Attributes[name], value.Text())
				}
			}
		}
	}
	return assertion, nil
}

// ParseLogoutResponse decodes and verifies an inbound LogoutResponse. For
// the POST binding the signature is enveloped in the document; for the
// redirect binding it is the detached query-string signature carried in
// the wire message.
func (c *Codec) ParseLogoutResponse(pair EntityPair, binding Binding, msg WireMessage) (*LogoutResult, error) {
	raw, err := decodeWire(binding, msg.Encoded)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root.Tag != "LogoutResponse" {
		return nil, errMalformed("unexpected root element "+root.Tag, nil)
	}
	if err := checkStatus(root); err != nil {
		return nil, err
	}
	if err := checkIssuer(root, pair.IdP); err != nil {
		return nil, err
	}

	if pair.SP.WantLogoutResponseSigned {
		switch binding {
		case BindingPost:
			if !hasEnvelopedSignature(root) {
				return nil, &codecError{kind: ErrSignatureInvalid, detail: "logout response is not signed"}
			}
			validated, err := verifyEnveloped(root, pair.IdP.Certificates)
			if err != nil {
				return nil, err
			}
			root = validated
		case BindingRedirect:
			if msg.Signature == "" {
				return nil, &codecError{kind: ErrSignatureInvalid, detail: "logout response is not signed"}
			}
			if err := verifyRedirectSignature("SAMLResponse", msg.Encoded, msg.RelayState, msg.SigAlg, msg.Signature, pair.IdP.Certificates); err != nil {
				return nil, err
			}
		}
	}

	result := &LogoutResult{
		ID:           root.SelectAttrValue("ID", ""),
		InResponseTo: root.SelectAttrValue("InResponseTo", ""),
	}
	if issuer := childElement(root, "Issuer"); issuer != nil {
		result.Issuer = issuer.Text()
	}
	return result, nil
}

// decodeWire reverses the binding-specific message encoding.
func decodeWire(binding Binding, encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errMalformed("empty message", nil)
	}
	if binding == BindingRedirect {
		return deflateDecode(encoded)
	}
	return postDecode(encoded)
}

// checkStatus verifies the samlp:Status reports success.
func checkStatus(root *etree.Element) error {
	status := childElement(root, "Status")
	if status == nil {
		return errMalformed("response has no Status", nil)
	}
	code := childElement(status, "StatusCode")
	if code == nil {
		return errMalformed("response has no StatusCode", nil)
	}
	if value := code.SelectAttrValue("Value", ""); value != StatusSuccess {
		return &codecError{kind: ErrRejected, detail: "status " + value}
	}
	return nil
}

// checkIssuer verifies the message issuer matches the resolved IdP.
func checkIssuer(root *etree.Element, idp *IdentityProvider) error {
	issuer := childElement(root, "Issuer")
	if issuer == nil {
		return nil
	}
	if issuer.Text() != idp.EntityID {
		return &codecError{kind: ErrRejected, detail: "unexpected issuer " + issuer.Text()}
	}
	return nil
}
