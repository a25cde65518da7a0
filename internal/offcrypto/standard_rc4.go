package offcrypto

import (
	"crypto/rc4"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const encryptedPackageRC4BlockLen = 0x200

// DeriveStandardRC4PasswordHash computes the CryptoAPI RC4 descriptor's
// password_hash: the plain 50,000-round spin hash over salt||password, with
// no purpose suffix mixed in yet. Each 0x200-byte block of the
// EncryptedPackage stream re-keys independently from this same value via
// finalHash, unlike Agile's single key-data-wide key.
func DeriveStandardRC4PasswordHash(alg HashAlgorithm, salt []byte, password string) []byte {
	return spinHash(alg, salt, PasswordToUTF16LE(password))
}

// VerifyStandardRC4Password checks a password against the descriptor's
// encrypted verifier using the RC4 key derived for block 0, mirroring
// VerifyStandardPassword's AES counterpart.
func VerifyStandardRC4Password(alg HashAlgorithm, passwordHash []byte, keyLen int, hdr *StandardHeader) error {
	blockKey := finalHash(alg, passwordHash, le32(0))
	if keyLen > len(blockKey) {
		keyLen = len(blockKey)
	}
	cipher, err := rc4.NewCipher(blockKey[:keyLen])
	if err != nil {
		return mcperr.Wrap(mcperr.InvalidKeyLength, err, "failed to build RC4 cipher for password verification")
	}
	verifierPlain := make([]byte, len(hdr.EncryptedVerifier))
	cipher.XORKeyStream(verifierPlain, hdr.EncryptedVerifier)

	// A fresh cipher re-keyed identically would restart the keystream
	// rather than continue it; the verifier and its hash are two distinct
	// RC4-encrypted fields within the same block, so the hash is
	// decrypted by continuing the stream, not by re-keying again.
	verifierHashPlain := make([]byte, len(hdr.EncryptedVerifierHash))
	cipher.XORKeyStream(verifierHashPlain, hdr.EncryptedVerifierHash)

	want := alg.Digest(verifierPlain)
	n := alg.DigestLen()
	if len(verifierHashPlain) < n {
		return mcperr.New(mcperr.InvalidPassword, "decrypted verifier hash shorter than the hash algorithm's digest")
	}
	if !constantTimeEqual(want, verifierHashPlain[:n]) {
		return mcperr.New(mcperr.InvalidPassword, "password verification failed")
	}
	return nil
}

// DecryptStandardRC4EncryptedPackage decrypts the CryptoAPI RC4
// EncryptedPackage stream. Unlike AES-ECB, RC4 is a stream cipher with no
// block alignment requirement, but CryptoAPI RC4 re-keys every
// 0x200-byte block independently (final_hash(password_hash, block_index)):
// the cipher state does NOT carry across block boundaries the way a single
// continuous RC4 stream would.
func DecryptStandardRC4EncryptedPackage(alg HashAlgorithm, passwordHash []byte, keyLen int, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < encryptedPackageSizePrefixLen {
		return nil, mcperr.New(mcperr.TruncatedPrefix, "EncryptedPackage stream (%d bytes) is shorter than the size prefix", len(ciphertext))
	}
	origSize := leUint64(ciphertext[:encryptedPackageSizePrefixLen])
	body := ciphertext[encryptedPackageSizePrefixLen:]
	if origSize > uint64(len(body)) {
		return nil, mcperr.New(mcperr.OrigSizeTooLarge, "declared plaintext size %d exceeds ciphertext length %d", origSize, len(body))
	}

	plain := make([]byte, origSize)
	blockIndex := uint32(0)
	for offset := uint64(0); offset < origSize; offset += encryptedPackageRC4BlockLen {
		end := offset + encryptedPackageRC4BlockLen
		if end > origSize {
			end = origSize
		}
		blockKey := finalHash(alg, passwordHash, le32(blockIndex))
		kl := keyLen
		if kl > len(blockKey) {
			kl = len(blockKey)
		}
		cipher, err := rc4.NewCipher(blockKey[:kl])
		if err != nil {
			return nil, mcperr.Wrap(mcperr.InvalidKeyLength, err, "failed to build RC4 cipher for block %d", blockIndex)
		}
		cipher.XORKeyStream(plain[offset:end], body[offset:end])
		blockIndex++
	}
	return plain, nil
}
