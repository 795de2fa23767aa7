package security

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goldenLocalPublic = "508f23ddc11effcc7f6d7e0d0cf6f1964464abdc0d54995905aadeed00c8931d" +
		"bbb39b2a84423cb32284410da45716b3acf8c2c41d28bd3b16ed50017ad47944" +
		"5b43c19042638f20b9d3aa57fcef84f9f43cde5e3663f0384e3dc480e9123224" +
		"16f90717a6c7c5f7cdb4e0bfef10b52f9f824e776775da6c3b24e763324f7bd3"
	goldenPeerPublic = "58633636a2b3142ad7841ef4f2f33437716eb08b9aca21a4c025c86b58660417" +
		"46d2fcfe5331baf20fb25cdce512aa7270b7dc201a7c78638ba5f408e0650f7f" +
		"e9ac3a0b5abd790a78e28159d901ee963480f3bfbf546d1aae0be51f730aea4f" +
		"1c7fd8a38cbbe6eb9b6fd5a409fde92180350d98d913d25a99e6dc6930658167"
	goldenKey = "da71869173e5d75b36c671c3ca9dc4b1"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 16)
	require.True(t, ok)
	return n
}

func TestGroupParameters(t *testing.T) {
	assert.Equal(t, 128, PrimeLength())
	assert.Len(t, Prime(), 128)
	assert.Equal(t, []byte{0x02}, GeneratorBytes())
	assert.True(t, dhPrime.ProbablyPrime(20))
}

func TestDeriveKeyGolden(t *testing.T) {
	local := keyPairFromPrivate(mustBig(t, "0123456789abcdef0123456789abcdef"))
	assert.Equal(t, goldenLocalPublic, hex.EncodeToString(local.Public(PrimeLength())))

	key, err := local.DeriveKey(mustHex(t, goldenPeerPublic))
	require.NoError(t, err)
	assert.Equal(t, goldenKey, hex.EncodeToString(key))
}

func TestDeriveKeyAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	ka, err := a.DeriveKey(b.Public(PrimeLength()))
	require.NoError(t, err)
	kb, err := b.DeriveKey(a.Public(PublicKeyLength))
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Len(t, ka, KeyLength)
}

func TestPublicFieldIsPadded(t *testing.T) {
	k := keyPairFromPrivate(big.NewInt(1))
	pub := k.Public(PublicKeyLength)
	require.Len(t, pub, PublicKeyLength)
	assert.Equal(t, byte(0x02), pub[PublicKeyLength-1])
	assert.True(t, bytes.Equal(make([]byte, PublicKeyLength-1), pub[:PublicKeyLength-1]))
}

func TestDeriveKeyRejectsDegenerateValues(t *testing.T) {
	k, err := GenerateKeyPair()
	require.NoError(t, err)

	pMinus1 := new(big.Int).Sub(dhPrime, big.NewInt(1))
	for name, v := range map[string][]byte{
		"zero":  {0x00},
		"one":   {0x01},
		"p-1":   pMinus1.Bytes(),
		"p":     Prime(),
		"empty": nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := k.DeriveKey(v)
			assert.ErrorIs(t, err, ErrInvalidPublicKey)
		})
	}
}

func TestEncryptGolden(t *testing.T) {
	key := mustHex(t, goldenKey)
	ct, err := Encrypt(key, IV(5), []byte("hello blufi"))
	require.NoError(t, err)
	assert.Equal(t, "5952f5be2d156197c518a4", hex.EncodeToString(ct))

	pt, err := Decrypt(key, IV(5), ct)
	require.NoError(t, err)
	assert.Equal(t, "hello blufi", string(pt))

	fc, err := NewFrameCipher(key)
	require.NoError(t, err)
	ct2, err := fc.Encrypt(5, []byte("hello blufi"))
	require.NoError(t, err)
	assert.Equal(t, ct, ct2)
}

func TestCipherPreservesLength(t *testing.T) {
	fc, err := NewFrameCipher(mustHex(t, goldenKey))
	require.NoError(t, err)
	for _, n := range []int{0, 1, 15, 16, 17, 255} {
		pt := bytes.Repeat([]byte{0x42}, n)
		ct, err := fc.Encrypt(9, pt)
		require.NoError(t, err)
		assert.Len(t, ct, n)
		back, err := fc.Decrypt(9, ct)
		require.NoError(t, err)
		assert.Equal(t, pt, back)
	}
}

func TestIVUniqueness(t *testing.T) {
	seen := make(map[string]int, 256)
	for seq := 0; seq < 256; seq++ {
		iv := IV(uint8(seq))
		require.Len(t, iv, 16)
		if prev, ok := seen[string(iv)]; ok {
			t.Fatalf("IV for %d repeats IV for %d", seq, prev)
		}
		seen[string(iv)] = seq
	}

	wrapped := 256
	assert.Equal(t, IV(0), IV(uint8(wrapped)))
}

func TestNewFrameCipherKeyLength(t *testing.T) {
	_, err := NewFrameCipher(make([]byte, 8))
	assert.Error(t, err)
}
