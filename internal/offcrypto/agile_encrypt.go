package offcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// AgileEncryptOptions selects the cipher strength and hash algorithm for a
// freshly produced Agile descriptor. Defaults mirror what Excel itself
// writes: AES-256, SHA-512, 100,000 spin iterations.
type AgileEncryptOptions struct {
	KeyBits       int
	HashAlgorithm HashAlgorithm
	SpinCount     int
}

// DefaultAgileEncryptOptions returns Excel's own defaults.
func DefaultAgileEncryptOptions() AgileEncryptOptions {
	return AgileEncryptOptions{KeyBits: 256, HashAlgorithm: HashSHA512, SpinCount: 100000}
}

const agileSaltLen = 16

// EncryptAgileEncryptedPackage encrypts zipBytes under password and returns
// the EncryptionInfo stream (header + descriptor XML) and the
// EncryptedPackage stream, ready to be written into an OLE/CFB container.
func EncryptAgileEncryptedPackage(zipBytes []byte, password string, opts AgileEncryptOptions) (encryptionInfo, encryptedPackage []byte, err error) {
	if opts.KeyBits%8 != 0 || (opts.KeyBits != 128 && opts.KeyBits != 256) {
		return nil, nil, mcperr.New(mcperr.UnsupportedEncryption, "unsupported Agile key size %d bits", opts.KeyBits)
	}
	keyBytes := opts.KeyBits / 8

	encryptorSalt, err := randomBytes(agileSaltLen)
	if err != nil {
		return nil, nil, err
	}
	keyDataSalt, err := randomBytes(agileSaltLen)
	if err != nil {
		return nil, nil, err
	}
	packageKey, err := randomBytes(keyBytes)
	if err != nil {
		return nil, nil, err
	}
	verifierInputPlain, err := randomBytes(agileSaltLen)
	if err != nil {
		return nil, nil, err
	}
	verifierValuePlain := padZero(opts.HashAlgorithm.Digest(verifierInputPlain), aesBlockLen)

	passwordUTF16 := PasswordToUTF16LE(password)
	pwIV := encryptorSalt[:aesBlockLen]

	verifierInputKey := deriveAgileKey(opts.HashAlgorithm, encryptorSalt, passwordUTF16, opts.SpinCount, keyBytes, blockKeyVerifierHashInput)
	verifierValueKey := deriveAgileKey(opts.HashAlgorithm, encryptorSalt, passwordUTF16, opts.SpinCount, keyBytes, blockKeyVerifierHashValue)
	keyValueKey := deriveAgileKey(opts.HashAlgorithm, encryptorSalt, passwordUTF16, opts.SpinCount, keyBytes, blockKeyEncryptedKeyValue)

	encryptedVerifierInput, err := aesCBCEncrypt(verifierInputKey, pwIV, padZero(verifierInputPlain, aesBlockLen))
	if err != nil {
		return nil, nil, err
	}
	encryptedVerifierValue, err := aesCBCEncrypt(verifierValueKey, pwIV, verifierValuePlain)
	if err != nil {
		return nil, nil, err
	}
	encryptedKeyValue, err := aesCBCEncrypt(keyValueKey, pwIV, padZero(packageKey, aesBlockLen))
	if err != nil {
		return nil, nil, err
	}

	encryptedPackage, err = encryptAgilePackageStream(zipBytes, packageKey, opts.HashAlgorithm, keyDataSalt, aesBlockLen)
	if err != nil {
		return nil, nil, err
	}

	hmacKeyPlain, err := randomBytes(opts.HashAlgorithm.DigestLen())
	if err != nil {
		return nil, nil, err
	}
	hmacValuePlain := computeHMAC(opts.HashAlgorithm, hmacKeyPlain, encryptedPackage)

	ivHMACKey := deriveIV(opts.HashAlgorithm, keyDataSalt, blockKeyIntegrityHMACKey, aesBlockLen)
	ivHMACVal := deriveIV(opts.HashAlgorithm, keyDataSalt, blockKeyIntegrityHMACVal, aesBlockLen)
	encryptedHMACKey, err := aesCBCEncrypt(packageKey, ivHMACKey, padZero(hmacKeyPlain, aesBlockLen))
	if err != nil {
		return nil, nil, err
	}
	encryptedHMACValue, err := aesCBCEncrypt(packageKey, ivHMACVal, padZero(hmacValuePlain, aesBlockLen))
	if err != nil {
		return nil, nil, err
	}

	xmlDoc := buildAgileDescriptorXML(agileDescriptorFields{
		keyDataSalt:            keyDataSalt,
		blockSize:              aesBlockLen,
		keyBits:                opts.KeyBits,
		hashAlgorithm:          opts.HashAlgorithm,
		encryptorSalt:          encryptorSalt,
		spinCount:              opts.SpinCount,
		encryptedVerifierInput: encryptedVerifierInput,
		encryptedVerifierValue: encryptedVerifierValue,
		encryptedKeyValue:      encryptedKeyValue,
		encryptedHMACKey:       encryptedHMACKey,
		encryptedHMACValue:     encryptedHMACValue,
	})

	var header bytes.Buffer
	binary.Write(&header, binary.LittleEndian, uint16(4))
	binary.Write(&header, binary.LittleEndian, uint16(4))
	binary.Write(&header, binary.LittleEndian, uint32(0x00000040))
	binary.Write(&header, binary.LittleEndian, uint32(len(xmlDoc)))
	header.Write(xmlDoc)

	return header.Bytes(), encryptedPackage, nil
}

func encryptAgilePackageStream(zipBytes, packageKey []byte, alg HashAlgorithm, salt []byte, blockSize int) ([]byte, error) {
	var out bytes.Buffer
	sizePrefix := make([]byte, encryptedPackageSizePrefixLen)
	binary.LittleEndian.PutUint64(sizePrefix, uint64(len(zipBytes)))
	out.Write(sizePrefix)

	const agileSegmentLen = 4096
	blockIndex := uint32(0)
	for offset := 0; offset < len(zipBytes); offset += agileSegmentLen {
		end := offset + agileSegmentLen
		if end > len(zipBytes) {
			end = len(zipBytes)
		}
		iv := deriveIV(alg, salt, le32(blockIndex), blockSize)
		segCipher, err := aesCBCEncrypt(packageKey, iv, padZero(zipBytes[offset:end], blockSize))
		if err != nil {
			return nil, err
		}
		out.Write(segCipher)
		blockIndex++
	}
	return out.Bytes(), nil
}

func aesCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	if len(plaintext)%aesBlockLen != 0 {
		return nil, mcperr.New(mcperr.CryptoError, "plaintext length %d is not a multiple of the AES block size", len(plaintext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidKeyLength, err, "unsupported AES key length %d", len(key))
	}
	cipherText := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, plaintext)
	return cipherText, nil
}

// padZero pads data to a multiple of blockSize with zero bytes -- Agile's
// segment and blob padding is plain zero-fill, not PKCS#7.
func padZero(data []byte, blockSize int) []byte {
	rem := len(data) % blockSize
	if rem == 0 {
		return data
	}
	out := make([]byte, len(data)+(blockSize-rem))
	copy(out, data)
	return out
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, mcperr.Wrap(mcperr.CryptoError, err, "failed to generate random bytes")
	}
	return b, nil
}

type agileDescriptorFields struct {
	keyDataSalt            []byte
	blockSize              int
	keyBits                int
	hashAlgorithm          HashAlgorithm
	encryptorSalt          []byte
	spinCount              int
	encryptedVerifierInput []byte
	encryptedVerifierValue []byte
	encryptedKeyValue      []byte
	encryptedHMACKey       []byte
	encryptedHMACValue     []byte
}

func hashAlgorithmOOXMLName(h HashAlgorithm) string {
	switch h {
	case HashMD5:
		return "MD5"
	case HashSHA1:
		return "SHA1"
	case HashSHA256:
		return "SHA256"
	case HashSHA384:
		return "SHA384"
	default:
		return "SHA512"
	}
}

// buildAgileDescriptorXML renders the <encryption> document Excel itself
// produces: default (unprefixed) namespace on the root, p: prefix on the
// password keyEncryptor's child elements.
func buildAgileDescriptorXML(f agileDescriptorFields) []byte {
	b64 := base64.StdEncoding.EncodeToString
	return []byte(fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
			`<encryption xmlns="http://schemas.microsoft.com/office/2006/encryption" `+
			`xmlns:p="http://schemas.microsoft.com/office/2006/keyEncryptor/password">`+
			`<keyData saltSize="%d" blockSize="%d" keyBits="%d" hashSize="%d" `+
			`cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="%s" saltValue="%s"/>`+
			`<dataIntegrity encryptedHmacKey="%s" encryptedHmacValue="%s"/>`+
			`<keyEncryptors><keyEncryptor uri="%s">`+
			`<p:encryptedKey spinCount="%d" saltSize="%d" blockSize="%d" keyBits="%d" hashSize="%d" `+
			`cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="%s" saltValue="%s" `+
			`encryptedVerifierHashInput="%s" encryptedVerifierHashValue="%s" encryptedKeyValue="%s"/>`+
			`</keyEncryptor></keyEncryptors></encryption>`,
		len(f.keyDataSalt), f.blockSize, f.keyBits, f.hashAlgorithm.DigestLen(),
		hashAlgorithmOOXMLName(f.hashAlgorithm), b64(f.keyDataSalt),
		b64(f.encryptedHMACKey), b64(f.encryptedHMACValue),
		passwordKeyEncryptorURI,
		f.spinCount, len(f.encryptorSalt), f.blockSize, f.keyBits, f.hashAlgorithm.DigestLen(),
		hashAlgorithmOOXMLName(f.hashAlgorithm), b64(f.encryptorSalt),
		b64(f.encryptedVerifierInput), b64(f.encryptedVerifierValue), b64(f.encryptedKeyValue),
	))
}
