package offcrypto

import (
	"crypto/aes"
	"io"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const (
	encryptedPackageSizePrefixLen = 8
	aesBlockLen                   = 16
	encryptedPackageSegmentLen    = 0x1000
)

// paddedAESLen rounds n up to the next AES block boundary.
func paddedAESLen(n int) int {
	if n%aesBlockLen == 0 {
		return n
	}
	return (n/aesBlockLen + 1) * aesBlockLen
}

// DeriveStandardAESKey derives the package key for CryptoAPI AES encryption
// ([MS-OFFCRYPTO] 2.3.4.7): a plain spin hash over salt||password, mixed
// with a fixed zero block number since a Standard-encrypted package uses a
// single key for the whole stream (unlike Agile's per-segment IVs).
func DeriveStandardAESKey(alg HashAlgorithm, salt []byte, password string, keyBits int) []byte {
	passwordHash := spinHash(alg, salt, PasswordToUTF16LE(password))
	h := finalHash(alg, passwordHash, le32(0))
	return stretchKey(alg, h, keyBits/8)
}

// VerifyStandardPassword checks a candidate Standard-AES package key against
// the descriptor's encrypted verifier: decrypt EncryptedVerifier with the
// key, hash the 16-byte plaintext, and compare against the decrypted
// EncryptedVerifierHash (truncated to the hash's own digest length, since
// verifierHashSize is block-padded).
func VerifyStandardPassword(alg HashAlgorithm, key []byte, hdr *StandardHeader) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return mcperr.Wrap(mcperr.InvalidKeyLength, err, "failed to build AES cipher for password verification")
	}
	verifierPlain := make([]byte, len(hdr.EncryptedVerifier))
	if err := ecbDecrypt(block, verifierPlain, hdr.EncryptedVerifier); err != nil {
		return err
	}
	verifierHashPlain := make([]byte, len(hdr.EncryptedVerifierHash))
	if err := ecbDecrypt(block, verifierHashPlain, hdr.EncryptedVerifierHash); err != nil {
		return err
	}
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

// ecbDecrypt decrypts src into dst block-by-block; Go's stdlib deliberately
// has no cipher.Mode for ECB (it is a deprecated, pattern-leaking mode), so
// CryptoAPI's Standard AES-ECB EncryptedPackage format is decrypted by
// driving cipher.Block.Decrypt directly, one aes.BlockSize chunk at a time.
func ecbDecrypt(block interface{ Decrypt(dst, src []byte) }, dst, src []byte) error {
	if len(src)%aesBlockLen != 0 {
		return mcperr.New(mcperr.CiphertextNotAligned, "ciphertext length %d is not a multiple of the AES block size", len(src))
	}
	for i := 0; i < len(src); i += aesBlockLen {
		block.Decrypt(dst[i:i+aesBlockLen], src[i:i+aesBlockLen])
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// DecryptStandardAESEncryptedPackage decrypts the CryptoAPI AES-ECB
// EncryptedPackage stream: an 8-byte little-endian orig_size prefix,
// followed by 0x1000-byte AES-ECB ciphertext segments, the last of which is
// zero-padded past orig_size. Every segment boundary and length is validated
// before any decryption is attempted, so a truncated or misaligned stream
// fails with a precise, segment-addressed error rather than garbage output.
func DecryptStandardAESEncryptedPackage(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < encryptedPackageSizePrefixLen {
		return nil, mcperr.New(mcperr.TruncatedPrefix, "EncryptedPackage stream (%d bytes) is shorter than the size prefix", len(ciphertext))
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, mcperr.New(mcperr.InvalidKeyLength, "AES key length %d is not one of 16, 24, 32 bytes", len(key))
	}
	origSize := leUint64(ciphertext[:encryptedPackageSizePrefixLen])
	body := ciphertext[encryptedPackageSizePrefixLen:]

	if origSize == 0 {
		return []byte{}, nil
	}
	if origSize > uint64(len(body)) {
		return nil, mcperr.New(mcperr.OrigSizeTooLarge, "declared plaintext size %d exceeds ciphertext length %d", origSize, len(body))
	}
	// A guard independent of the ciphertext-length check above: an
	// adversarial orig_size close to math.MaxUint64 must not be allowed to
	// drive a multi-exabyte make([]byte, ..., origSize) pre-allocation
	// below, even before the segment math would otherwise catch it via
	// TruncatedSegment.
	const maxAllocation = 1 << 34 // 16 GiB
	if origSize > maxAllocation {
		return nil, mcperr.New(mcperr.AllocationFailed, "refused to allocate %d bytes for EncryptedPackage plaintext", origSize)
	}

	segmentCount := (origSize + encryptedPackageSegmentLen - 1) / encryptedPackageSegmentLen
	fullSegments := segmentCount - 1
	fullCipherLen := fullSegments * encryptedPackageSegmentLen
	if fullCipherLen > uint64(len(body)) {
		return nil, mcperr.New(mcperr.TruncatedSegment, "ciphertext is missing full segment %d (need %d bytes, have %d)", fullSegments, fullCipherLen, len(body))
	}
	lastPlainLen := origSize - fullCipherLen
	lastCipherLen := paddedAESLen(int(lastPlainLen))
	if uint64(len(body)) < fullCipherLen+uint64(lastCipherLen) {
		return nil, mcperr.New(mcperr.TruncatedSegment, "ciphertext is missing the tail of segment %d (need %d bytes at offset %d, have %d)", fullSegments, lastCipherLen, fullCipherLen, len(body)-int(fullCipherLen))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidKeyLength, err, "unsupported AES key length %d", len(key))
	}

	plain := make([]byte, 0, origSize)
	offset := uint64(0)
	for offset < origSize {
		segLen := encryptedPackageSegmentLen
		remaining := origSize - offset
		if remaining < encryptedPackageSegmentLen {
			segLen = paddedAESLen(int(remaining))
		}
		if offset+uint64(segLen) > uint64(len(body)) {
			return nil, mcperr.New(mcperr.CiphertextNotAligned, "segment at offset %d is not block-aligned with the remaining ciphertext", offset)
		}
		segCipher := body[offset : offset+uint64(segLen)]
		segPlain := make([]byte, segLen)
		if err := ecbDecrypt(block, segPlain, segCipher); err != nil {
			return nil, err
		}
		take := uint64(segLen)
		if remaining < take {
			take = remaining
		}
		plain = append(plain, segPlain[:take]...)
		offset += take
	}
	return plain, nil
}

// DecryptStandardAESEncryptedPackageToWriter streams a Standard AES-ECB
// EncryptedPackage from r to w in O(1) memory: one segment-sized scratch
// buffer, reused for every 0x1000-byte segment, rather than the buffered
// variant's full-plaintext allocation. Used for the disk-backed decryption
// path where the whole package may be far larger than is reasonable to
// hold twice in memory at once.
func DecryptStandardAESEncryptedPackageToWriter(key []byte, r io.Reader, w io.Writer) (int64, error) {
	prefix := make([]byte, encryptedPackageSizePrefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return 0, mcperr.Wrap(mcperr.TruncatedPrefix, err, "failed to read EncryptedPackage size prefix")
	}
	origSize := leUint64(prefix)
	const maxAllocation = 1 << 34
	if origSize > maxAllocation {
		return 0, mcperr.New(mcperr.AllocationFailed, "refused to stream %d bytes of EncryptedPackage plaintext", origSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, mcperr.Wrap(mcperr.InvalidKeyLength, err, "unsupported AES key length %d", len(key))
	}

	scratch := make([]byte, encryptedPackageSegmentLen)
	var written uint64
	for written < origSize {
		remaining := origSize - written
		segLen := encryptedPackageSegmentLen
		if remaining < encryptedPackageSegmentLen {
			segLen = paddedAESLen(int(remaining))
		}
		n, err := io.ReadFull(r, scratch[:segLen])
		if err != nil {
			return int64(written), mcperr.Wrap(mcperr.TruncatedSegment, err, "failed to read ciphertext segment at plaintext offset %d", written)
		}
		if err := ecbDecrypt(block, scratch[:n], scratch[:n]); err != nil {
			return int64(written), err
		}
		take := uint64(n)
		if remaining < take {
			take = remaining
		}
		if _, err := w.Write(scratch[:take]); err != nil {
			return int64(written), mcperr.Wrap(mcperr.WriteFailed, err, "failed to write decrypted segment at plaintext offset %d", written)
		}
		written += take
	}
	return int64(written), nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
