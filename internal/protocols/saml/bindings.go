package saml

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// SigAlgRSASHA256 is the detached-signature algorithm used for the
// HTTP-Redirect binding (SAML 2.0 Bindings Section 3.4.4.1).
const SigAlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"

// deflateEncode serializes a message for the HTTP-Redirect binding:
// raw DEFLATE (no zlib header) then base64.
func deflateEncode(xmlData []byte) (string, error) {
	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err := writer.Write(xmlData); err != nil {
		writer.Close()
		return "", fmt.Errorf("deflate message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("flush deflate stream: %w", err)
	}
	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// deflateDecode reverses deflateEncode. The inflater is capped so a
// hostile query parameter cannot balloon into unbounded memory.
func deflateDecode(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errMalformed("base64 decode", err)
	}
	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	const maxMessageSize = 1 << 20
	xmlData, err := io.ReadAll(io.LimitReader(reader, maxMessageSize+1))
	if err != nil {
		return nil, errMalformed("inflate", err)
	}
	if len(xmlData) > maxMessageSize {
		return nil, errMalformed("message exceeds size limit", nil)
	}
	return xmlData, nil
}

// postEncode serializes a message for the HTTP-POST binding: plain base64
// of the full document, no compression.
func postEncode(xmlData []byte) string {
	return base64.StdEncoding.EncodeToString(xmlData)
}

// postDecode reverses postEncode. Some form stacks turn '+' into spaces
// before the value reaches us, so restore them first.
func postDecode(encoded string) ([]byte, error) {
	restored := strings.ReplaceAll(encoded, " ", "+")
	xmlData, err := base64.StdEncoding.DecodeString(restored)
	if err != nil {
		return nil, errMalformed("base64 decode", err)
	}
	return xmlData, nil
}

// buildRedirectURL assembles the destination URL for the redirect binding.
// When key is non-nil the query string is signed per SAML 2.0 Bindings
// Section 3.4.4.1: the signature covers the ordered concatenation of
// SAMLRequest (or SAMLResponse), RelayState, and SigAlg.
func buildRedirectURL(destination, paramName, encoded, relayState string, key *rsa.PrivateKey) (string, error) {
	parsed, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("invalid destination URL %q: %w", destination, err)
	}

	query := parsed.Query()
	query.Set(paramName, encoded)

	var signedInput strings.Builder
	signedInput.WriteString(paramName + "=" + url.QueryEscape(encoded))
	if relayState != "" {
		query.Set("RelayState", relayState)
		signedInput.WriteString("&RelayState=" + url.QueryEscape(relayState))
	}

	if key != nil {
		signedInput.WriteString("&SigAlg=" + url.QueryEscape(SigAlgRSASHA256))
		digest := sha256.Sum256([]byte(signedInput.String()))
		signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		if err != nil {
			return "", fmt.Errorf("sign redirect query: %w", err)
		}
		query.Set("SigAlg", SigAlgRSASHA256)
		query.Set("Signature", base64.StdEncoding.EncodeToString(signature))
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// verifyRedirectSignature checks a detached redirect-binding signature
// against the given certificates. Arguments are the decoded query
// parameter values; URL escaping is reapplied to rebuild the exact byte
// string the IdP signed.
func verifyRedirectSignature(paramName, encoded, relayState, sigAlg, signature string, certs []*x509.Certificate) error {
	if sigAlg != SigAlgRSASHA256 {
		return &codecError{kind: ErrSignatureInvalid, detail: "unsupported SigAlg " + sigAlg}
	}
	sigValue, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return &codecError{kind: ErrSignatureInvalid, detail: "signature decode", cause: err}
	}

	var signedInput strings.Builder
	signedInput.WriteString(paramName + "=" + url.QueryEscape(encoded))
	if relayState != "" {
		signedInput.WriteString("&RelayState=" + url.QueryEscape(relayState))
	}
	signedInput.WriteString("&SigAlg=" + url.QueryEscape(sigAlg))
	digest := sha256.Sum256([]byte(signedInput.String()))

	for _, cert := range certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sigValue) == nil {
			return nil
		}
	}
	return &codecError{kind: ErrSignatureInvalid, detail: "redirect signature did not verify against any trusted certificate"}
}

// postForm renders the auto-submitting HTML form for the POST binding
// (SAML 2.0 Bindings Section 3.5.4). Destination and RelayState are
// escaped before embedding.
func postForm(destination, paramName, encoded, relayState string) (string, error) {
	if err := validateDestinationURL(destination); err != nil {
		return "", fmt.Errorf("invalid destination URL: %w", err)
	}
	if len(relayState) > 1024 {
		relayState = relayState[:1024]
	}

	relayStateInput := ""
	if relayState != "" {
		relayStateInput = fmt.Sprintf(`<input type="hidden" name="RelayState" value="%s"/>`, escapeHTML(relayState))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>SAML POST Binding</title>
</head>
<body onload="document.forms[0].submit()">
    <noscript>
        <p>JavaScript is required. Please click the button below to continue.</p>
    </noscript>
    <form method="POST" action="%s">
        <input type="hidden" name="%s" value="%s"/>
        %s
        <noscript>
            <input type="submit" value="Continue"/>
        </noscript>
    </form>
</body>
</html>`, escapeHTML(destination), paramName, encoded, relayStateInput), nil
}

// escapeHTML escapes HTML special characters
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// validateDestinationURL validates a URL is safe for use as a form action
// or redirect target.
func validateDestinationURL(dest string) error {
	if dest == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(dest)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "" && scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s", scheme)
	}
	if parsed.Host != "" && scheme == "" {
		return fmt.Errorf("absolute URL missing scheme")
	}
	return nil
}
