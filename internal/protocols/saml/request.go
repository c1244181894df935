package saml

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
)

// Codec builds and parses SAML protocol messages for the redirect and POST
// bindings. It is stateless and safe for concurrent use; the clock is
// injectable for tests.
type Codec struct {
	clock clockwork.Clock
}

// NewCodec creates a codec. A nil clock means wall-clock time.
func NewCodec(clock clockwork.Clock) *Codec {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Codec{clock: clock}
}

// BuiltMessage is the wire form of an outbound protocol message.
type BuiltMessage struct {
	// ID is the generated message ID.
	ID string

	// RedirectURL is set for the redirect binding: the IdP endpoint with
	// the encoded message (and detached signature, when signed) in the
	// query string.
	RedirectURL string

	// PostForm is set for the POST binding: an auto-submitting HTML form
	// targeting the IdP endpoint.
	PostForm string
}

// BuildAuthnRequest constructs a login request addressed to the pair's IdP
// SSO endpoint for the given binding. The request is signed when the SP's
// authnRequestsSigned policy says so: detached query signature for the
// redirect binding, enveloped XML-DSig for POST.
func (c *Codec) BuildAuthnRequest(pair EntityPair, binding Binding, relayState string) (*BuiltMessage, error) {
	destination, ok := pair.IdP.SSOURL[binding]
	if !ok || destination == "" {
		return nil, fmt.Errorf("idp %s has no SSO endpoint for %s binding", pair.IdP.EntityID, binding)
	}

	id := GenerateID()
	doc := etree.NewDocument()
	root := doc.CreateElement("samlp:AuthnRequest")
	root.CreateAttr("xmlns:samlp", NamespaceSAMLp)
	root.CreateAttr("xmlns:saml", NamespaceSAML)
	root.CreateAttr("ID", id)
	root.CreateAttr("Version", "2.0")
	root.CreateAttr("IssueInstant", c.now())
	root.CreateAttr("Destination", destination)
	root.CreateAttr("ProtocolBinding", BindingURNPost)
	root.CreateAttr("AssertionConsumerServiceURL", pair.SP.ACSURL)

	issuer := root.CreateElement("saml:Issuer")
	issuer.SetText(pair.SP.EntityID)

	policy := root.CreateElement("samlp:NameIDPolicy")
	policy.CreateAttr("Format", NameIDFormatUnspecified)
	policy.CreateAttr("AllowCreate", "true")

	signed := pair.SP.AuthnRequestsSigned || pair.IdP.WantAuthnRequestsSigned
	return c.encodeRequest(root, "SAMLRequest", binding, destination, relayState, pair.SP, signed, id)
}

// BuildLogoutRequest constructs a logout request for the given subject,
// addressed to the pair's IdP SLO endpoint. It is signed when the IdP's
// metadata or per-provider policy demands signed logout requests.
func (c *Codec) BuildLogoutRequest(pair EntityPair, binding Binding, nameID, sessionIndex, relayState string) (*BuiltMessage, error) {
	destination, ok := pair.IdP.SLOURL[binding]
	if !ok || destination == "" {
		return nil, fmt.Errorf("idp %s has no SLO endpoint for %s binding", pair.IdP.EntityID, binding)
	}

	id := GenerateID()
	doc := etree.NewDocument()
	root := doc.CreateElement("samlp:LogoutRequest")
	root.CreateAttr("xmlns:samlp", NamespaceSAMLp)
	root.CreateAttr("xmlns:saml", NamespaceSAML)
	root.CreateAttr("ID", id)
	root.CreateAttr("Version", "2.0")
	root.CreateAttr("IssueInstant", c.now())
	root.CreateAttr("Destination", destination)
	root.CreateAttr("NotOnOrAfter", c.clock.Now().UTC().Add(5*time.Minute).Format(TimeFormat))

	issuer := root.CreateElement("saml:Issuer")
	issuer.SetText(pair.SP.EntityID)

	name := root.CreateElement("saml:NameID")
	name.CreateAttr("Format", NameIDFormatUnspecified)
	name.SetText(nameID)

	if sessionIndex != "" {
		si := root.CreateElement("samlp:SessionIndex")
		si.SetText(sessionIndex)
	}

	return c.encodeRequest(root, "SAMLRequest", binding, destination, relayState, pair.SP, pair.IdP.WantLogoutRequestSigned, id)
}

// encodeRequest applies the binding-specific encoding and signing rules to
// a built message element.
func (c *Codec) encodeRequest(root *etree.Element, paramName string, binding Binding, destination, relayState string, sp *ServiceProvider, signed bool, id string) (*BuiltMessage, error) {
	switch binding {
	case BindingRedirect:
		// The redirect binding never embeds an XML signature; signed
		// messages use the detached query-string signature instead.
		xmlData, err := serializeElement(root)
		if err != nil {
			return nil, fmt.Errorf("serialize message: %w", err)
		}
		encoded, err := deflateEncode(xmlData)
		if err != nil {
			return nil, err
		}
		key := sp.SigningKey
		if !signed {
			key = nil
		}
		redirectURL, err := buildRedirectURL(destination, paramName, encoded, relayState, key)
		if err != nil {
			return nil, err
		}
		return &BuiltMessage{ID: id, RedirectURL: redirectURL}, nil

	case BindingPost:
		el := root
		if signed {
			signedEl, err := signEnveloped(root, sp.SigningKey, sp.SigningCert)
			if err != nil {
				return nil, err
			}
			el = signedEl
		}
		xmlData, err := serializeElement(el)
		if err != nil {
			return nil, fmt.Errorf("serialize message: %w", err)
		}
		form, err := postForm(destination, paramName, postEncode(xmlData), relayState)
		if err != nil {
			return nil, err
		}
		return &BuiltMessage{ID: id, PostForm: form}, nil

	default:
		return nil, fmt.Errorf("unsupported binding %q", binding)
	}
}

func (c *Codec) now() string {
	return c.clock.Now().UTC().Format(TimeFormat)
}
