package offcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinHashIsDeterministic(t *testing.T) {
	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	pw := PasswordToUTF16LE("correct horse battery staple")

	a := spinHash(HashSHA1, salt, pw)
	b := spinHash(HashSHA1, salt, pw)
	require.Equal(t, a, b)
	require.Len(t, a, HashSHA1.DigestLen())

	// A different password must not collide.
	c := spinHash(HashSHA1, salt, PasswordToUTF16LE("wrong password"))
	require.NotEqual(t, a, c)
}

func TestFinalHashVariesByBlockIndex(t *testing.T) {
	passwordHash := spinHash(HashSHA1, []byte("salt"), PasswordToUTF16LE("pw"))
	h0 := finalHash(HashSHA1, passwordHash, le32(0))
	h1 := finalHash(HashSHA1, passwordHash, le32(1))
	require.NotEqual(t, h0, h1)
}

func TestStretchKeyTruncatesWhenKeyFitsInDigest(t *testing.T) {
	digest := HashSHA1.Digest([]byte("x"))
	key := stretchKey(HashSHA1, digest, 16)
	require.Equal(t, digest[:16], key)
}

func TestStretchKeyPadsWhenKeyExceedsDigest(t *testing.T) {
	digest := HashSHA1.Digest([]byte("x")) // 20 bytes
	key := stretchKey(HashSHA1, digest, 32)
	require.Len(t, key, 32)
	// The first 20 bytes come from X1 = Hash(pad(digest, 0x36)), which must
	// differ from the raw digest itself (it's hashed, not copied).
	require.NotEqual(t, digest, key[:20])
}

func TestXorPadFillsRemainderAndXORsPrefix(t *testing.T) {
	src := []byte{0xFF, 0x00}
	padded := xorPad(src, 8, 0x36)
	require.Len(t, padded, 8)
	require.Equal(t, byte(0xFF^0x36), padded[0])
	require.Equal(t, byte(0x00^0x36), padded[1])
	for _, b := range padded[2:] {
		require.Equal(t, byte(0x36), b)
	}
}

func TestFitOrPadTruncatesAndZeroPads(t *testing.T) {
	require.Equal(t, []byte{1, 2}, fitOrPad([]byte{1, 2, 3}, 2))
	require.Equal(t, []byte{1, 2, 0, 0}, fitOrPad([]byte{1, 2}, 4))
}
