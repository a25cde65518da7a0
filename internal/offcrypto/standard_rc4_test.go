package offcrypto

import (
	"bytes"
	"crypto/rc4"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// encryptStandardRC4EncryptedPackage mirrors DecryptStandardRC4EncryptedPackage
// exactly (same per-block re-keying), used only to build round-trip
// fixtures for these tests.
func encryptStandardRC4EncryptedPackage(t *testing.T, alg HashAlgorithm, passwordHash []byte, keyLen int, plaintext []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	prefix := make([]byte, encryptedPackageSizePrefixLen)
	binary.LittleEndian.PutUint64(prefix, uint64(len(plaintext)))
	out.Write(prefix)

	blockIndex := uint32(0)
	for offset := 0; offset < len(plaintext); offset += encryptedPackageRC4BlockLen {
		end := offset + encryptedPackageRC4BlockLen
		if end > len(plaintext) {
			end = len(plaintext)
		}
		blockKey := finalHash(alg, passwordHash, le32(blockIndex))
		cipher, err := rc4.NewCipher(blockKey[:keyLen])
		require.NoError(t, err)
		seg := make([]byte, end-offset)
		cipher.XORKeyStream(seg, plaintext[offset:end])
		out.Write(seg)
		blockIndex++
	}
	return out.Bytes()
}

func TestStandardRC4RoundTripAcrossBlockBoundary(t *testing.T) {
	alg := HashSHA1
	passwordHash := DeriveStandardRC4PasswordHash(alg, []byte("salt1234"), "hunter2")

	for _, keyLen := range []int{5, 7, 16} {
		for _, size := range []int{0, 1, 511, 512, 513, 1024 + 17} {
			plain := make([]byte, size)
			for i := range plain {
				plain[i] = byte(i * 7)
			}
			ciphertext := encryptStandardRC4EncryptedPackage(t, alg, passwordHash, keyLen, plain)
			got, err := DecryptStandardRC4EncryptedPackage(alg, passwordHash, keyLen, ciphertext)
			require.NoError(t, err, "keyLen=%d size=%d", keyLen, size)
			require.Equal(t, plain, got, "keyLen=%d size=%d", keyLen, size)
		}
	}
}

func TestStandardRC4RoundTripMD5HashAlgorithm(t *testing.T) {
	alg := HashMD5
	passwordHash := DeriveStandardRC4PasswordHash(alg, []byte("saltsalt"), "correct horse")
	plain := bytes.Repeat([]byte{0x5A}, 600)
	ciphertext := encryptStandardRC4EncryptedPackage(t, alg, passwordHash, 16, plain)

	got, err := DecryptStandardRC4EncryptedPackage(alg, passwordHash, 16, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestStandardRC4BlocksReKeyIndependently(t *testing.T) {
	// CryptoAPI RC4 re-keys every 0x200-byte block from
	// finalHash(password_hash, block_index), so two blocks of identical
	// plaintext under the same password hash are encrypted under distinct
	// keys and yield distinct ciphertext blocks.
	alg := HashSHA1
	passwordHash := DeriveStandardRC4PasswordHash(alg, []byte("saltsalt"), "pw")
	plain := bytes.Repeat([]byte{0x99}, encryptedPackageRC4BlockLen*2)
	ciphertext := encryptStandardRC4EncryptedPackage(t, alg, passwordHash, 16, plain)
	body := ciphertext[encryptedPackageSizePrefixLen:]
	block0 := body[:encryptedPackageRC4BlockLen]
	block1 := body[encryptedPackageRC4BlockLen:]
	require.NotEqual(t, block0, block1, "distinct block indices must derive distinct keys even for identical plaintext")
}

func TestStandardRC4DecryptErrorsOnShortStream(t *testing.T) {
	_, err := DecryptStandardRC4EncryptedPackage(HashSHA1, make([]byte, 20), 16, []byte{1, 2})
	require.Error(t, err)
}
