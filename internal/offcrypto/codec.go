package offcrypto

import (
	"io"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// Open reads an OLE/CFB-wrapped encrypted .xlsx from r, detects its
// Standard or Agile descriptor, authenticates password, and returns the
// decrypted OOXML zip package.
func Open(r io.ReaderAt, password string) ([]byte, error) {
	encryptionInfo, encryptedPackage, err := ReadEncryptedContainer(r)
	if err != nil {
		return nil, err
	}
	return Decrypt(encryptionInfo, encryptedPackage, password)
}

// Decrypt authenticates password against an already-extracted
// EncryptionInfo descriptor and decrypts the paired EncryptedPackage
// stream, dispatching to the Standard (AES or RC4) or Agile codec as the
// descriptor's version dictates.
func Decrypt(encryptionInfo, encryptedPackage []byte, password string) ([]byte, error) {
	descriptor, err := DetectDescriptor(encryptionInfo)
	if err != nil {
		return nil, err
	}

	switch descriptor {
	case DescriptorAgile:
		info, err := ParseAgileEncryptionInfo(encryptionInfo)
		if err != nil {
			return nil, err
		}
		return DecryptAgileEncryptedPackage(info, encryptedPackage, password)
	default:
		hdr, err := ParseStandardEncryptionInfo(encryptionInfo)
		if err != nil {
			return nil, err
		}
		return decryptStandard(hdr, encryptedPackage, password)
	}
}

func decryptStandard(hdr *StandardHeader, encryptedPackage []byte, password string) ([]byte, error) {
	alg, err := HashAlgorithmFromCalgID(hdr.AlgIDHash)
	if err != nil {
		return nil, err
	}

	if hdr.AlgID == algIDRC4 {
		keyLen := int(hdr.KeyBits) / 8
		if keyLen <= 0 {
			keyLen = 5
		}
		passwordHash := DeriveStandardRC4PasswordHash(alg, hdr.Salt, password)
		if err := VerifyStandardRC4Password(alg, passwordHash, keyLen, hdr); err != nil {
			return nil, err
		}
		return DecryptStandardRC4EncryptedPackage(alg, passwordHash, keyLen, encryptedPackage)
	}

	keyBits, ok := algIDAES(hdr.AlgID)
	if !ok {
		return nil, mcperr.New(mcperr.UnsupportedEncryption, "unsupported Standard AlgID %#08x", hdr.AlgID)
	}
	if int(hdr.KeyBits) != 0 {
		keyBits = int(hdr.KeyBits)
	}
	key := DeriveStandardAESKey(alg, hdr.Salt, password, keyBits)
	if err := VerifyStandardPassword(alg, key, hdr); err != nil {
		return nil, err
	}
	return DecryptStandardAESEncryptedPackage(key, encryptedPackage)
}

// Seal encrypts zipBytes with password using Agile encryption (the only
// format this package produces; Standard encryption is read-only here,
// matching every modern Office client's own write behavior) and wraps the
// result in an OLE/CFB container.
func Seal(zipBytes []byte, password string, opts AgileEncryptOptions) ([]byte, error) {
	encryptionInfo, encryptedPackage, err := EncryptAgileEncryptedPackage(zipBytes, password, opts)
	if err != nil {
		return nil, err
	}
	return WriteEncryptedContainer(encryptionInfo, encryptedPackage), nil
}
