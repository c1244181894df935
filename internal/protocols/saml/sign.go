package saml

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// keyStore adapts a raw RSA key and certificate to the goxmldsig key
// store interface.
type keyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (ks keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.key, ks.cert, nil
}

// signEnveloped returns a copy of el carrying an enveloped XML-DSig
// signature (RSA-SHA256, exclusive C14N) referencing el's ID attribute.
func signEnveloped(el *etree.Element, key *rsa.PrivateKey, cert *x509.Certificate) (*etree.Element, error) {
	if key == nil {
		return nil, fmt.Errorf("no signing key configured")
	}
	var certDER []byte
	if cert != nil {
		certDER = cert.Raw
	}
	ctx := dsig.NewDefaultSigningContext(keyStore{key: key, cert: certDER})
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, fmt.Errorf("set signature method: %w", err)
	}
	signed, err := ctx.SignEnveloped(el)
	if err != nil {
		return nil, fmt.Errorf("sign enveloped: %w", err)
	}
	return signed, nil
}
