package saml

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
)

// XML Encryption algorithm identifiers (W3C xmlenc / xmlenc11).
const (
	MethodRSAOAEPMGF1P = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	MethodRSAOAEP      = "http://www.w3.org/2009/xmlenc11#rsa-oaep"
	MethodRSA15        = "http://www.w3.org/2001/04/xmlenc#rsa-1_5"

	MethodAES128CBC    = "http://www.w3.org/2001/04/xmlenc#aes128-cbc"
	MethodAES192CBC    = "http://www.w3.org/2001/04/xmlenc#aes192-cbc"
	MethodAES256CBC    = "http://www.w3.org/2001/04/xmlenc#aes256-cbc"
	MethodTripleDESCBC = "http://www.w3.org/2001/04/xmlenc#tripledes-cbc"
	MethodAES128GCM    = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	MethodAES256GCM    = "http://www.w3.org/2009/xmlenc11#aes256-gcm"
)

// decryptAssertion unwraps an EncryptedAssertion element: the session key
// is recovered from the embedded EncryptedKey with the SP's encryption
// private key, then the assertion ciphertext is decrypted with it. The
// plaintext is returned as raw XML, not yet trusted.
func decryptAssertion(encryptedAssertion *etree.Element, key *rsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "no encryption key configured"}
	}

	encryptedData := descendantElement(encryptedAssertion, "EncryptedData")
	if encryptedData == nil {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "no EncryptedData element"}
	}

	dataMethod := encryptionMethod(encryptedData)
	if dataMethod == "" {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "missing data EncryptionMethod"}
	}

	encryptedKey := descendantElement(encryptedAssertion, "EncryptedKey")
	if encryptedKey == nil {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "no EncryptedKey element"}
	}
	sessionKey, err := decryptSessionKey(encryptedKey, key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := cipherValue(encryptedData)
	if err != nil {
		return nil, err
	}

	plaintext, err := decryptData(dataMethod, sessionKey, ciphertext)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// decryptSessionKey recovers the symmetric session key carried in an
// EncryptedKey element via RSA key transport.
func decryptSessionKey(encryptedKey *etree.Element, key *rsa.PrivateKey) ([]byte, error) {
	method := encryptionMethod(encryptedKey)
	ciphertext, err := cipherValue(encryptedKey)
	if err != nil {
		return nil, err
	}

	switch method {
	case MethodRSAOAEPMGF1P:
		plaintext, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, key, ciphertext, nil)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "rsa-oaep-mgf1p key transport", cause: err}
		}
		return plaintext, nil
	case MethodRSAOAEP:
		plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "rsa-oaep key transport", cause: err}
		}
		return plaintext, nil
	case MethodRSA15:
		plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "rsa-1_5 key transport", cause: err}
		}
		return plaintext, nil
	default:
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "unsupported key transport " + method}
	}
}

// decryptData decrypts the assertion ciphertext with the session key per
// the declared block cipher.
func decryptData(method string, sessionKey, ciphertext []byte) ([]byte, error) {
	switch method {
	case MethodAES128CBC, MethodAES192CBC, MethodAES256CBC:
		block, err := aes.NewCipher(sessionKey)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "session key size", cause: err}
		}
		return decryptCBC(block, ciphertext)
	case MethodTripleDESCBC:
		block, err := des.NewTripleDESCipher(sessionKey)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "session key size", cause: err}
		}
		return decryptCBC(block, ciphertext)
	case MethodAES128GCM, MethodAES256GCM:
		block, err := aes.NewCipher(sessionKey)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "session key size", cause: err}
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "gcm init", cause: err}
		}
		if len(ciphertext) < gcm.NonceSize() {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "ciphertext shorter than nonce"}
		}
		nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
		plaintext, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, &codecError{kind: ErrDecryptionFailed, detail: "gcm open", cause: err}
		}
		return plaintext, nil
	default:
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "unsupported block cipher " + method}
	}
}

// decryptCBC performs CBC decryption with the IV prepended to the
// ciphertext and strips the xmlenc block padding (last octet holds the
// pad length).
func decryptCBC(block cipher.Block, ciphertext []byte) ([]byte, error) {
	size := block.BlockSize()
	if len(ciphertext) < 2*size || len(ciphertext)%size != 0 {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "invalid CBC ciphertext length"}
	}
	iv, body := ciphertext[:size], ciphertext[size:]
	plaintext := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, body)

	pad := int(plaintext[len(plaintext)-1])
	if pad < 1 || pad > size || pad > len(plaintext) {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "invalid CBC padding"}
	}
	return plaintext[:len(plaintext)-pad], nil
}

// encryptionMethod returns the Algorithm of the element's own
// EncryptionMethod child.
func encryptionMethod(el *etree.Element) string {
	method := childElement(el, "EncryptionMethod")
	if method == nil {
		return ""
	}
	return method.SelectAttrValue("Algorithm", "")
}

// cipherValue returns the decoded CipherData/CipherValue content of el.
func cipherValue(el *etree.Element) ([]byte, error) {
	data := childElement(el, "CipherData")
	if data == nil {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "missing CipherData"}
	}
	value := childElement(data, "CipherValue")
	if value == nil {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "missing CipherValue"}
	}
	raw := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, value.Text())
	ciphertext, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &codecError{kind: ErrDecryptionFailed, detail: "cipher value decode", cause: err}
	}
	return ciphertext, nil
}
