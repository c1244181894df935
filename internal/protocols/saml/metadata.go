package saml

import (
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
)

// ParseIdPMetadata parses an IdP EntityDescriptor document into an
// IdentityProvider. Signing certificates, SSO endpoints, and SLO
// endpoints are taken from the IDPSSODescriptor; bindings other than
// HTTP-Redirect and HTTP-POST are ignored.
func ParseIdPMetadata(data []byte) (*IdentityProvider, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root.Tag != "EntityDescriptor" {
		return nil, errMalformed("unexpected root element "+root.Tag, nil)
	}
	entityID := root.SelectAttrValue("entityID", "")
	if entityID == "" {
		return nil, errMalformed("metadata has no entityID", nil)
	}

	descriptor := childElement(root, "IDPSSODescriptor")
	if descriptor == nil {
		return nil, errMalformed("metadata has no IDPSSODescriptor", nil)
	}

	idp := &IdentityProvider{
		EntityID: entityID,
		SSOURL:   make(map[Binding]string),
		SLOURL:   make(map[Binding]string),
	}
	if v := descriptor.SelectAttrValue("WantAuthnRequestsSigned", ""); v == "true" || v == "1" {
		idp.WantAuthnRequestsSigned = true
	}

	for _, el := range descriptor.ChildElements() {
		switch el.Tag {
		case "KeyDescriptor":
			// A KeyDescriptor without a use attribute serves both uses.
			use := el.SelectAttrValue("use", "")
			if use != "" && use != "signing" {
				continue
			}
			cert, err := keyDescriptorCertificate(el)
			if err != nil {
				return nil, err
			}
			idp.Certificates = append(idp.Certificates, cert)
		case "SingleSignOnService":
			addEndpoint(idp.SSOURL, el)
		case "SingleLogoutService":
			addEndpoint(idp.SLOURL, el)
		}
	}

	if len(idp.Certificates) == 0 {
		return nil, errMalformed("metadata has no signing certificate", nil)
	}
	if len(idp.SSOURL) == 0 {
		return nil, errMalformed("metadata has no SingleSignOnService", nil)
	}
	return idp, nil
}

func addEndpoint(endpoints map[Binding]string, el *etree.Element) {
	location := el.SelectAttrValue("Location", "")
	if location == "" {
		return
	}
	switch el.SelectAttrValue("Binding", "") {
	case BindingURNRedirect:
		endpoints[BindingRedirect] = location
	case BindingURNPost:
		endpoints[BindingPost] = location
	}
}

func keyDescriptorCertificate(el *etree.Element) (*x509.Certificate, error) {
	certEl := descendantElement(el, "X509Certificate")
	if certEl == nil {
		return nil, errMalformed("KeyDescriptor has no X509Certificate", nil)
	}
	der, err := base64.StdEncoding.DecodeString(stripWhitespace(certEl.Text()))
	if err != nil {
		return nil, errMalformed("X509Certificate is not valid base64", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errMalformed("X509Certificate is not a valid certificate", err)
	}
	return cert, nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

// SPMetadata serializes the SP's EntityDescriptor for publication at the
// metadata endpoint. The document advertises the signing certificate, the
// encryption certificate when the instance decrypts assertions, and the
// assertion consumer service for the HTTP-POST binding.
func SPMetadata(sp *ServiceProvider, sloURL string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("md:EntityDescriptor")
	root.CreateAttr("xmlns:md", NamespaceMetadata)
	root.CreateAttr("xmlns:ds", NamespaceDS)
	root.CreateAttr("entityID", sp.EntityID)

	descriptor := root.CreateElement("md:SPSSODescriptor")
	descriptor.CreateAttr("protocolSupportEnumeration", NamespaceSAMLp)
	descriptor.CreateAttr("AuthnRequestsSigned", boolAttr(sp.AuthnRequestsSigned))
	descriptor.CreateAttr("WantAssertionsSigned", boolAttr(sp.WantAssertionsSigned))

	if sp.SigningCert != nil {
		appendKeyDescriptor(descriptor, "signing", sp.SigningCert)
	}
	if sp.EncryptionCert != nil {
		appendKeyDescriptor(descriptor, "encryption", sp.EncryptionCert)
	}

	if sloURL != "" {
		slo := descriptor.CreateElement("md:SingleLogoutService")
		slo.CreateAttr("Binding", BindingURNPost)
		slo.CreateAttr("Location", sloURL)
	}

	nameID := descriptor.CreateElement("md:NameIDFormat")
	nameID.SetText(NameIDFormatEmail)

	acs := descriptor.CreateElement("md:AssertionConsumerService")
	acs.CreateAttr("Binding", BindingURNPost)
	acs.CreateAttr("Location", sp.ACSURL)
	acs.CreateAttr("index", "0")
	acs.CreateAttr("isDefault", "true")

	return doc.WriteToBytes()
}

// IdPMetadata serializes a resolved IdentityProvider back into an
// EntityDescriptor, for inspection at the gateway's IdP metadata
// endpoint.
func IdPMetadata(idp *IdentityProvider) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("md:EntityDescriptor")
	root.CreateAttr("xmlns:md", NamespaceMetadata)
	root.CreateAttr("xmlns:ds", NamespaceDS)
	root.CreateAttr("entityID", idp.EntityID)

	descriptor := root.CreateElement("md:IDPSSODescriptor")
	descriptor.CreateAttr("protocolSupportEnumeration", NamespaceSAMLp)
	descriptor.CreateAttr("WantAuthnRequestsSigned", boolAttr(idp.WantAuthnRequestsSigned))

	for _, cert := range idp.Certificates {
		appendKeyDescriptor(descriptor, "signing", cert)
	}

	for _, binding := range []Binding{BindingRedirect, BindingPost} {
		if location, ok := idp.SLOURL[binding]; ok {
			slo := descriptor.CreateElement("md:SingleLogoutService")
			slo.CreateAttr("Binding", binding.URN())
			slo.CreateAttr("Location", location)
		}
	}
	for _, binding := range []Binding{BindingRedirect, BindingPost} {
		if location, ok := idp.SSOURL[binding]; ok {
			sso := descriptor.CreateElement("md:SingleSignOnService")
			sso.CreateAttr("Binding", binding.URN())
			sso.CreateAttr("Location", location)
		}
	}

	return doc.WriteToBytes()
}

func appendKeyDescriptor(descriptor *etree.Element, use string, cert *x509.Certificate) {
	kd := descriptor.CreateElement("md:KeyDescriptor")
	kd.CreateAttr("use", use)
	keyInfo := kd.CreateElement("ds:KeyInfo")
	x509Data := keyInfo.CreateElement("ds:X509Data")
	certEl := x509Data.CreateElement("ds:X509Certificate")
	certEl.SetText(base64.StdEncoding.EncodeToString(cert.Raw))
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
