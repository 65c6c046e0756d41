// Package crypto implements the field cipher used to protect sensitive field
// values before they are staged.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// keySize is the AES-256 key length in bytes.
const keySize = 32

// AESFieldCipher encrypts field values with AES-256-GCM. Every value gets a
// fresh random nonce; CRITICAL values additionally bind the execution id into
// the ciphertext as associated data, so a ciphertext moved to another
// execution fails authentication instead of decrypting silently.
type AESFieldCipher struct {
	aead cipher.AEAD
}

// NewAESFieldCipher creates a field cipher from a raw 256-bit key.
func NewAESFieldCipher(key []byte) (*AESFieldCipher, error) {
	const op = "crypto.NewAESFieldCipher"
	if len(key) != keySize {
		return nil, exception.NewBatchError("crypto",
			fmt.Sprintf("%s: field encryption key must be %d bytes, got %d", op, keySize, len(key)), nil, false, false)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, exception.NewBatchError("crypto", fmt.Sprintf("%s: failed to initialize AES cipher", op), err, false, false)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, exception.NewBatchError("crypto", fmt.Sprintf("%s: failed to initialize GCM mode", op), err, false, false)
	}
	return &AESFieldCipher{aead: aead}, nil
}

// NewAESFieldCipherFromBase64 creates a field cipher from a base64-encoded key,
// the form keys take in environment variables.
func NewAESFieldCipherFromBase64(encodedKey string) (*AESFieldCipher, error) {
	const op = "crypto.NewAESFieldCipherFromBase64"
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, exception.NewBatchError("crypto", fmt.Sprintf("%s: field encryption key is not valid base64", op), err, false, false)
	}
	return NewAESFieldCipher(key)
}

// associatedData returns the AAD for the given level. Only CRITICAL binds the
// execution id.
func associatedData(level model.EncryptionLevel, executionID string) []byte {
	if level == model.EncryptionCritical {
		return []byte(executionID)
	}
	return nil
}

// EncryptField encrypts one plaintext value. NONE passes through unchanged;
// HIGH and CRITICAL produce base64(nonce || ciphertext || tag).
func (c *AESFieldCipher) EncryptField(plaintext string, level model.EncryptionLevel, executionID string) (string, error) {
	const op = "AESFieldCipher.EncryptField"
	switch level {
	case model.EncryptionNone, "":
		return plaintext, nil
	case model.EncryptionHigh, model.EncryptionCritical:
	default:
		return "", exception.NewBatchError("crypto", fmt.Sprintf("%s: unknown encryption level '%s'", op, level), nil, false, false)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", exception.NewBatchError("crypto", fmt.Sprintf("%s: failed to generate nonce", op), err, false, false)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), associatedData(level, executionID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField. Authentication failure (tampered data,
// wrong key, or a CRITICAL value presented under a different execution id)
// surfaces as an error, never as garbage plaintext.
func (c *AESFieldCipher) DecryptField(ciphertext string, level model.EncryptionLevel, executionID string) (string, error) {
	const op = "AESFieldCipher.DecryptField"
	switch level {
	case model.EncryptionNone, "":
		return ciphertext, nil
	case model.EncryptionHigh, model.EncryptionCritical:
	default:
		return "", exception.NewBatchError("crypto", fmt.Sprintf("%s: unknown encryption level '%s'", op, level), nil, false, false)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", exception.NewBatchError("crypto", fmt.Sprintf("%s: ciphertext is not valid base64", op), err, false, false)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", exception.NewBatchError("crypto", fmt.Sprintf("%s: ciphertext shorter than the nonce", op), nil, false, false)
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, associatedData(level, executionID))
	if err != nil {
		return "", exception.NewBatchError("crypto", fmt.Sprintf("%s: authentication failed", op), err, false, false)
	}
	return string(plaintext), nil
}

var _ port.FieldCipher = (*AESFieldCipher)(nil)
