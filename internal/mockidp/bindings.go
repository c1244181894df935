package mockidp

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
)

// PostEncode encodes a document for the HTTP-POST binding, producing the
// SAMLResponse form field value.
func PostEncode(xmlData []byte) string {
	return base64.StdEncoding.EncodeToString(xmlData)
}

// RedirectQuery encodes a document for the HTTP-Redirect binding and
// returns the query values as they would appear on the wire. When key is
// non-nil the query carries a detached RSA-SHA256 signature over the
// SAMLResponse, RelayState, and SigAlg parameters in that order.
func RedirectQuery(xmlData []byte, relayState string, key *rsa.PrivateKey) (url.Values, error) {
	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err := writer.Write(xmlData); err != nil {
		writer.Close()
		return nil, fmt.Errorf("deflate message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("flush deflate stream: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(compressed.Bytes())

	query := url.Values{}
	query.Set("SAMLResponse", encoded)

	signedInput := "SAMLResponse=" + url.QueryEscape(encoded)
	if relayState != "" {
		query.Set("RelayState", relayState)
		signedInput += "&RelayState=" + url.QueryEscape(relayState)
	}

	if key != nil {
		const sigAlg = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
		signedInput += "&SigAlg=" + url.QueryEscape(sigAlg)
		digest := sha256.Sum256([]byte(signedInput))
		signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("sign redirect query: %w", err)
		}
		query.Set("SigAlg", sigAlg)
		query.Set("Signature", base64.StdEncoding.EncodeToString(signature))
	}
	return query, nil
}
