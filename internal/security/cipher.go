package security

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// IV returns the initialization vector for a frame: sixteen zero bytes with
// the sequence number in the first byte.
func IV(seq uint8) []byte {
	iv := make([]byte, aes.BlockSize)
	iv[0] = seq
	return iv
}

// Encrypt encrypts plaintext with AES-128 in CFB mode. The ciphertext has
// the same length as the plaintext.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt reverses Encrypt.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(out, ciphertext)
	return out, nil
}

// FrameCipher encrypts frame payloads under a negotiated key, deriving the
// IV from each frame's sequence number.
type FrameCipher struct {
	block cipher.Block
}

// NewFrameCipher creates a cipher for a 16-byte session key.
func NewFrameCipher(key []byte) (*FrameCipher, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", KeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &FrameCipher{block: block}, nil
}

// Encrypt encrypts a frame payload.
func (c *FrameCipher) Encrypt(seq uint8, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(c.block, IV(seq)).XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt decrypts a frame payload.
func (c *FrameCipher) Decrypt(seq uint8, ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(c.block, IV(seq)).XORKeyStream(out, ciphertext)
	return out, nil
}
