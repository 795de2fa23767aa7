// Package security implements the key exchange and payload cipher used to
// secure a BLUFI session: Diffie-Hellman over a fixed 1024-bit group, an MD5
// digest of the shared secret as the AES-128 key, and AES in 128-bit CFB mode
// with an IV derived from the frame sequence number.
package security

import (
	"crypto/md5"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const dhPrimeHex = "cf5cf5c38419a724957ff5dd323b9c45c3cdd261eb740f69aa94b8bb1a5c9640" +
	"9153bd76b24222d03274e4725a5406092e9e82e9135c643cae98132b0d95f7d6" +
	"5347c68afc1e677da90e51bbab5f5cf429c291b4ba39c6b2dc5e8c7231e46aa7" +
	"728e87664532cdf547be20c9a3fa8342be6e34371a27c06f7dc0edddd2f86373"

const (
	// Generator is the DH group generator.
	Generator = 2

	// PublicKeyLength is the size of the field the client's public value is
	// serialized into.
	PublicKeyLength = 256

	// KeyLength is the size of the derived AES key.
	KeyLength = 16
)

var (
	dhPrime = func() *big.Int {
		p, ok := new(big.Int).SetString(dhPrimeHex, 16)
		if !ok {
			panic("security: bad DH prime")
		}
		return p
	}()
	dhGenerator = big.NewInt(Generator)

	// ErrInvalidPublicKey is returned when a peer public value is outside
	// the range (1, p-1).
	ErrInvalidPublicKey = errors.New("invalid DH public value")
)

// Prime returns the big-endian bytes of the DH prime.
func Prime() []byte {
	return dhPrime.Bytes()
}

// PrimeLength is the byte length of the DH prime, which is also the length
// of a complete peer public value.
func PrimeLength() int {
	return (dhPrime.BitLen() + 7) / 8
}

// GeneratorBytes returns the generator as a single big-endian byte.
func GeneratorBytes() []byte {
	return dhGenerator.Bytes()
}

// KeyPair is one side of a DH exchange. It is generated fresh for every
// negotiation attempt.
type KeyPair struct {
	private *big.Int
	public  *big.Int
}

// GenerateKeyPair draws a private value in [2, p-2] and computes g^x mod p.
func GenerateKeyPair() (*KeyPair, error) {
	max := new(big.Int).Sub(dhPrime, big.NewInt(3))
	x, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, fmt.Errorf("failed to generate DH private value: %w", err)
	}
	return keyPairFromPrivate(x.Add(x, big.NewInt(2))), nil
}

func keyPairFromPrivate(x *big.Int) *KeyPair {
	return &KeyPair{
		private: x,
		public:  new(big.Int).Exp(dhGenerator, x, dhPrime),
	}
}

// Public returns the public value as a big-endian field of size bytes,
// left-padded with zeros.
func (k *KeyPair) Public(size int) []byte {
	return k.public.FillBytes(make([]byte, size))
}

// DeriveKey computes the shared secret with the peer's big-endian public
// value and returns the MD5 digest of the secret, left-padded to the prime
// length.
func (k *KeyPair) DeriveKey(peerPublic []byte) ([]byte, error) {
	y := new(big.Int).SetBytes(peerPublic)
	upper := new(big.Int).Sub(dhPrime, big.NewInt(1))
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(upper) >= 0 {
		return nil, ErrInvalidPublicKey
	}
	secret := new(big.Int).Exp(y, k.private, dhPrime)
	sum := md5.Sum(secret.FillBytes(make([]byte, PrimeLength())))
	return sum[:], nil
}
