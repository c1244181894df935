package saml

import (
	"crypto/x509"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// hasEnvelopedSignature reports whether el carries a direct ds:Signature
// child. Descendant signatures belong to nested elements and do not count
// as a signature over el.
func hasEnvelopedSignature(el *etree.Element) bool {
	return childElement(el, "Signature") != nil
}

// verifyEnveloped validates the enveloped signature on el against the
// trusted certificates and returns the validated element. Extraction must
// only ever read from the returned element: goxmldsig re-canonicalizes the
// signed subtree, which defeats signature-wrapping tricks where trusted
// and attacker-controlled copies of an element coexist in one document.
func verifyEnveloped(el *etree.Element, certs []*x509.Certificate) (*etree.Element, error) {
	if len(certs) == 0 {
		return nil, &codecError{kind: ErrSignatureInvalid, detail: "no trusted certificates configured"}
	}
	store := &dsig.MemoryX509CertificateStore{Roots: certs}
	ctx := dsig.NewDefaultValidationContext(store)
	validated, err := ctx.Validate(el)
	if err != nil {
		return nil, &codecError{kind: ErrSignatureInvalid, detail: "enveloped signature", cause: err}
	}
	return validated, nil
}
