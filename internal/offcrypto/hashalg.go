// Package offcrypto implements the MS-OFFCRYPTO Standard (CryptoAPI RC4 and
// AES-ECB) and Agile encryption codecs used to wrap an OOXML zip package in
// an OLE compound file (spec.md §4.8): EncryptionInfo descriptor parsing,
// password-based key derivation, and EncryptedPackage stream decryption.
package offcrypto

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// HashAlgorithm is one of the digest algorithms MS-OFFCRYPTO permits for
// password hashing and key derivation.
type HashAlgorithm int

const (
	HashMD5 HashAlgorithm = iota
	HashSHA1
	HashSHA256
	HashSHA384
	HashSHA512
)

// New returns a fresh hash.Hash for the algorithm.
func (h HashAlgorithm) New() hash.Hash {
	switch h {
	case HashMD5:
		return md5.New()
	case HashSHA256:
		return sha256.New()
	case HashSHA384:
		return sha512.New384()
	case HashSHA512:
		return sha512.New()
	default:
		return sha1.New()
	}
}

// Digest hashes data in one call.
func (h HashAlgorithm) Digest(data ...[]byte) []byte {
	d := h.New()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// DigestLen returns the algorithm's output length in bytes.
func (h HashAlgorithm) DigestLen() int {
	switch h {
	case HashMD5:
		return 16
	case HashSHA1:
		return 20
	case HashSHA256:
		return 32
	case HashSHA384:
		return 48
	case HashSHA512:
		return 64
	default:
		return 20
	}
}

// BlockLen returns the algorithm's internal compression block size, used
// only for the >keyLen HMAC-style pad/hash key-stretching step (2.3.4.11).
func (h HashAlgorithm) BlockLen() int {
	switch h {
	case HashSHA384, HashSHA512:
		return 128
	default:
		return 64
	}
}

// HashAlgorithmFromOOXMLName maps an EncryptionInfo XML hashAlgorithm
// attribute (e.g. "SHA512") to a HashAlgorithm.
func HashAlgorithmFromOOXMLName(name string) (HashAlgorithm, error) {
	switch strings.ToUpper(name) {
	case "MD5":
		return HashMD5, nil
	case "SHA1", "SHA-1":
		return HashSHA1, nil
	case "SHA256", "SHA-256":
		return HashSHA256, nil
	case "SHA384", "SHA-384":
		return HashSHA384, nil
	case "SHA512", "SHA-512":
		return HashSHA512, nil
	default:
		return 0, mcperr.New(mcperr.InvalidFormat, "unsupported hashAlgorithm %q", name)
	}
}

// HashAlgorithmFromCalgID maps an EncryptionHeader.algIdHash CALG constant
// to a HashAlgorithm, for the Standard (CryptoAPI) descriptor.
func HashAlgorithmFromCalgID(algIDHash uint32) (HashAlgorithm, error) {
	switch algIDHash {
	case 0x00008003:
		return HashMD5, nil
	case 0x00008004:
		return HashSHA1, nil
	default:
		return 0, mcperr.New(mcperr.UnsupportedEncryption, "unsupported algIdHash %#08x", algIDHash)
	}
}

// PasswordToUTF16LE encodes a password the way every MS-OFFCRYPTO password
// hash input requires: UTF-16LE code units, surrogate pairs included, no
// byte-order mark or terminator.
func PasswordToUTF16LE(password string) []byte {
	out := make([]byte, 0, len(password)*2)
	for _, r := range password {
		if r <= 0xFFFF {
			out = append(out, byte(r), byte(r>>8))
			continue
		}
		r -= 0x10000
		hi := 0xD800 + (r >> 10)
		lo := 0xDC00 + (r & 0x3FF)
		out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
	}
	return out
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
