package mockidp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"

	"github.com/passify/saml-gateway/internal/protocols/saml"
)

// encryptAssertion wraps an assertion element in an EncryptedAssertion:
// the serialized plaintext is encrypted with a fresh AES-256-CBC session
// key, which is in turn wrapped for the recipient with RSA-OAEP-MGF1P.
func encryptAssertion(assertion *etree.Element, recipient *x509.Certificate) (*etree.Element, error) {
	doc := etree.NewDocument()
	doc.SetRoot(assertion.Copy())
	plaintext, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize assertion: %w", err)
	}

	sessionKey := make([]byte, 32)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	ciphertext, err := encryptCBC(sessionKey, plaintext)
	if err != nil {
		return nil, err
	}

	pub, ok := recipient.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("recipient certificate does not hold an RSA key")
	}
	wrappedKey, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}

	encrypted := etree.NewElement("saml:EncryptedAssertion")
	encrypted.CreateAttr("xmlns:saml", saml.NamespaceSAML)

	data := encrypted.CreateElement("xenc:EncryptedData")
	data.CreateAttr("xmlns:xenc", saml.NamespaceXEnc)
	data.CreateAttr("Type", saml.NamespaceXEnc+"Element")
	data.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", saml.MethodAES256CBC)

	keyInfo := data.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", saml.NamespaceDS)
	encryptedKey := keyInfo.CreateElement("xenc:EncryptedKey")
	keyMethod := encryptedKey.CreateElement("xenc:EncryptionMethod")
	keyMethod.CreateAttr("Algorithm", saml.MethodRSAOAEPMGF1P)
	digest := keyMethod.CreateElement("ds:DigestMethod")
	digest.CreateAttr("Algorithm", "http://www.w3.org/2000/09/xmldsig#sha1")
	encryptedKey.CreateElement("xenc:CipherData").
		CreateElement("xenc:CipherValue").
		SetText(base64.StdEncoding.EncodeToString(wrappedKey))

	data.CreateElement("xenc:CipherData").
		CreateElement("xenc:CipherValue").
		SetText(base64.StdEncoding.EncodeToString(ciphertext))

	return encrypted, nil
}

// encryptCBC applies xmlenc block padding, prepends a random IV, and
// encrypts with AES-CBC.
func encryptCBC(sessionKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("session cipher: %w", err)
	}
	size := block.BlockSize()

	pad := size - len(plaintext)%size
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	out := make([]byte, size+len(padded))
	iv := out[:size]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[size:], padded)
	return out, nil
}
