package offcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordToUTF16LEEncodesASCII(t *testing.T) {
	got := PasswordToUTF16LE("Ab1")
	require.Equal(t, []byte{'A', 0, 'b', 0, '1', 0}, got)
}

func TestPasswordToUTF16LEEncodesSurrogatePair(t *testing.T) {
	// U+1F600 (grinning face) requires a UTF-16 surrogate pair:
	// high surrogate 0xD83D, low surrogate 0xDE00.
	got := PasswordToUTF16LE("\U0001F600")
	require.Equal(t, []byte{0x3D, 0xD8, 0x00, 0xDE}, got)
}

func TestHashAlgorithmDigestLenMatchesOutput(t *testing.T) {
	cases := []HashAlgorithm{HashMD5, HashSHA1, HashSHA256, HashSHA384, HashSHA512}
	for _, alg := range cases {
		d := alg.Digest([]byte("probe"))
		require.Len(t, d, alg.DigestLen())
	}
}

func TestHashAlgorithmFromOOXMLNameCaseInsensitive(t *testing.T) {
	alg, err := HashAlgorithmFromOOXMLName("sha512")
	require.NoError(t, err)
	require.Equal(t, HashSHA512, alg)

	_, err = HashAlgorithmFromOOXMLName("whirlpool")
	require.Error(t, err)
}

func TestHashAlgorithmFromCalgID(t *testing.T) {
	alg, err := HashAlgorithmFromCalgID(0x00008004)
	require.NoError(t, err)
	require.Equal(t, HashSHA1, alg)

	alg, err = HashAlgorithmFromCalgID(0x00008003)
	require.NoError(t, err)
	require.Equal(t, HashMD5, alg)

	_, err = HashAlgorithmFromCalgID(0x1234)
	require.Error(t, err)
}
