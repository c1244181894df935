package saml

import "errors"

// Protocol-level failure taxonomy. A message that trips any of these is
// discarded whole; no partially verified content is ever surfaced.
var (
	// ErrMalformedMessage indicates the wire input could not be decoded
	// into a structurally valid SAML message.
	ErrMalformedMessage = errors.New("malformed SAML message")

	// ErrSignatureInvalid indicates a required signature was absent or
	// failed verification against the configured IdP certificate.
	ErrSignatureInvalid = errors.New("invalid SAML signature")

	// ErrDecryptionFailed indicates an encrypted assertion could not be
	// decrypted, or decryption produced content inconsistent with the
	// configured signing order.
	ErrDecryptionFailed = errors.New("assertion decryption failed")

	// ErrExpired indicates the message's validity window has passed or
	// not yet begun.
	ErrExpired = errors.New("SAML message expired or not yet valid")

	// ErrRejected indicates the message was refused on policy grounds:
	// a non-success status, an unexpected issuer, or an audience
	// restriction that excludes this service provider.
	ErrRejected = errors.New("SAML message rejected")
)
