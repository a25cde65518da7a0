package offcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const passwordKeyEncryptorURI = "http://schemas.microsoft.com/office/2006/keyEncryptor/password"

// AgileKeyData is the <keyData> element: the cipher parameters and salt
// used for the EncryptedPackage body and the data-integrity HMAC.
type AgileKeyData struct {
	SaltValue       []byte
	BlockSize       int
	KeyBits         int
	HashAlgorithm   HashAlgorithm
	CipherAlgorithm string
	CipherChaining  string
}

// AgileDataIntegrity is the <dataIntegrity> element.
type AgileDataIntegrity struct {
	EncryptedHMACKey   []byte
	EncryptedHMACValue []byte
}

// AgilePasswordKeyEncryptor is the password-scoped <keyEncryptor>: the
// spin-hash parameters plus the three password-verification/key-recovery
// blobs.
type AgilePasswordKeyEncryptor struct {
	SaltValue       []byte
	BlockSize       int
	KeyBits         int
	SpinCount       int
	HashAlgorithm   HashAlgorithm
	CipherAlgorithm string
	CipherChaining  string

	EncryptedVerifierHashInput []byte
	EncryptedVerifierHashValue []byte
	EncryptedKeyValue          []byte
}

// AgileEncryptionInfo is the fully parsed Agile <encryption> descriptor.
type AgileEncryptionInfo struct {
	KeyData              AgileKeyData
	DataIntegrity         AgileDataIntegrity
	PasswordKeyEncryptor AgilePasswordKeyEncryptor
}

// ParseAgileEncryptionInfo slices the XML descriptor out of an Agile
// EncryptionInfo stream: a 12-byte header (2-byte versionMajor, 2-byte
// versionMinor, 4-byte flags, 4-byte little-endian XML length) followed by
// exactly that many bytes of descriptor XML.
func ParseAgileEncryptionInfo(data []byte) (*AgileEncryptionInfo, error) {
	if len(data) < 12 {
		return nil, mcperr.New(mcperr.InvalidFormat, "Agile EncryptionInfo stream is too short (%d bytes)", len(data))
	}
	xmlLen := binary.LittleEndian.Uint32(data[8:12])
	if uint64(12)+uint64(xmlLen) > uint64(len(data)) {
		return nil, mcperr.New(mcperr.InvalidFormat, "Agile descriptor XML length %d exceeds remaining stream length", xmlLen)
	}
	return parseAgileDescriptor(data[12 : 12+xmlLen])
}

// parseAgileDescriptor walks the <encryption> XML by local element name
// only, tolerating whatever namespace prefix a given producer chooses
// (p:, default, or none) -- the schema fixes element names, not prefixes,
// and at least one real-world writer (ms_offcrypto_writer) flattens the
// three password-encryptor blobs onto <encryptedKey> as attributes rather
// than nesting them as child elements, so both encodings are accepted.
func parseAgileDescriptor(xmlBody []byte) (*AgileEncryptionInfo, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))

	var info AgileEncryptionInfo
	var haveKeyData, haveIntegrity, haveEncryptor bool
	inPasswordEncryptor := false

	var verifierInput, verifierValue, keyValue string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse Agile EncryptionInfo descriptor")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "keyData":
				kd, err := parseKeyDataAttrs(t.Attr)
				if err != nil {
					return nil, err
				}
				info.KeyData = kd
				haveKeyData = true
			case "dataIntegrity":
				di, err := parseDataIntegrityAttrs(t.Attr)
				if err != nil {
					return nil, err
				}
				info.DataIntegrity = di
				haveIntegrity = true
			case "keyEncryptor":
				inPasswordEncryptor = isPasswordKeyEncryptor(t.Attr)
			case "encryptedKey":
				if !inPasswordEncryptor {
					continue
				}
				enc, err := parsePasswordKeyEncryptorAttrs(t.Attr)
				if err != nil {
					return nil, err
				}
				info.PasswordKeyEncryptor = enc
				haveEncryptor = true

				// Some producers flatten the verifier/key blobs onto this
				// same element as attributes instead of nesting them as
				// child elements; capture that form here so the
				// child-element form (handled via CharData below) simply
				// overwrites it if present.
				verifierInput = attrValue(t.Attr, "encryptedVerifierHashInput")
				verifierValue = attrValue(t.Attr, "encryptedVerifierHashValue")
				keyValue = attrValue(t.Attr, "encryptedKeyValue")
			case "p:encryptedVerifierHashInput", "encryptedVerifierHashInput":
				if s, err := captureText(dec); err == nil {
					verifierInput = s
				} else {
					return nil, err
				}
			case "p:encryptedVerifierHashValue", "encryptedVerifierHashValue":
				if s, err := captureText(dec); err == nil {
					verifierValue = s
				} else {
					return nil, err
				}
			case "p:encryptedKeyValue", "encryptedKeyValue":
				if s, err := captureText(dec); err == nil {
					keyValue = s
				} else {
					return nil, err
				}
			}
		case xml.EndElement:
			if t.Name.Local == "keyEncryptor" {
				inPasswordEncryptor = false
			}
		}
	}

	if !haveKeyData {
		return nil, mcperr.New(mcperr.InvalidFormat, "Agile descriptor is missing <keyData>")
	}
	if !haveIntegrity {
		return nil, mcperr.New(mcperr.InvalidFormat, "Agile descriptor is missing <dataIntegrity>")
	}
	if !haveEncryptor {
		return nil, mcperr.New(mcperr.InvalidFormat, "Agile descriptor has no password keyEncryptor")
	}

	var err error
	if info.PasswordKeyEncryptor.EncryptedVerifierHashInput, err = decodeB64Attr(verifierInput); err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidFormat, err, "encryptedVerifierHashInput is not valid base64")
	}
	if info.PasswordKeyEncryptor.EncryptedVerifierHashValue, err = decodeB64Attr(verifierValue); err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidFormat, err, "encryptedVerifierHashValue is not valid base64")
	}
	if info.PasswordKeyEncryptor.EncryptedKeyValue, err = decodeB64Attr(keyValue); err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidFormat, err, "encryptedKeyValue is not valid base64")
	}

	return &info, nil
}

// captureText reads the inline character data of the element the decoder
// just entered and returns it undecoded; decodeB64Attr decodes it later.
func captureText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", mcperr.Wrap(mcperr.MalformedXML, err, "failed to read element text")
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			return b.String(), nil
		}
	}
}

func attrValue(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func isPasswordKeyEncryptor(attrs []xml.Attr) bool {
	return attrValue(attrs, "uri") == passwordKeyEncryptorURI
}

func parseKeyDataAttrs(attrs []xml.Attr) (AgileKeyData, error) {
	salt, err := decodeB64Attr(attrValue(attrs, "saltValue"))
	if err != nil {
		return AgileKeyData{}, mcperr.Wrap(mcperr.InvalidFormat, err, "keyData saltValue is not valid base64")
	}
	blockSize, err := atoi(attrValue(attrs, "blockSize"))
	if err != nil {
		return AgileKeyData{}, mcperr.Wrap(mcperr.InvalidFormat, err, "keyData blockSize is invalid")
	}
	keyBits, err := atoi(attrValue(attrs, "keyBits"))
	if err != nil {
		return AgileKeyData{}, mcperr.Wrap(mcperr.InvalidFormat, err, "keyData keyBits is invalid")
	}
	alg, err := HashAlgorithmFromOOXMLName(attrValue(attrs, "hashAlgorithm"))
	if err != nil {
		return AgileKeyData{}, err
	}
	return AgileKeyData{
		SaltValue:       salt,
		BlockSize:       blockSize,
		KeyBits:         keyBits,
		HashAlgorithm:   alg,
		CipherAlgorithm: attrValue(attrs, "cipherAlgorithm"),
		CipherChaining:  attrValue(attrs, "cipherChaining"),
	}, nil
}

func parseDataIntegrityAttrs(attrs []xml.Attr) (AgileDataIntegrity, error) {
	key, err := decodeB64Attr(attrValue(attrs, "encryptedHmacKey"))
	if err != nil {
		return AgileDataIntegrity{}, mcperr.Wrap(mcperr.InvalidFormat, err, "dataIntegrity encryptedHmacKey is not valid base64")
	}
	val, err := decodeB64Attr(attrValue(attrs, "encryptedHmacValue"))
	if err != nil {
		return AgileDataIntegrity{}, mcperr.Wrap(mcperr.InvalidFormat, err, "dataIntegrity encryptedHmacValue is not valid base64")
	}
	return AgileDataIntegrity{EncryptedHMACKey: key, EncryptedHMACValue: val}, nil
}

func parsePasswordKeyEncryptorAttrs(attrs []xml.Attr) (AgilePasswordKeyEncryptor, error) {
	salt, err := decodeB64Attr(attrValue(attrs, "saltValue"))
	if err != nil {
		return AgilePasswordKeyEncryptor{}, mcperr.Wrap(mcperr.InvalidFormat, err, "keyEncryptor saltValue is not valid base64")
	}
	blockSize, err := atoi(attrValue(attrs, "blockSize"))
	if err != nil {
		return AgilePasswordKeyEncryptor{}, mcperr.Wrap(mcperr.InvalidFormat, err, "keyEncryptor blockSize is invalid")
	}
	keyBits, err := atoi(attrValue(attrs, "keyBits"))
	if err != nil {
		return AgilePasswordKeyEncryptor{}, mcperr.Wrap(mcperr.InvalidFormat, err, "keyEncryptor keyBits is invalid")
	}
	spinCount, err := atoi(attrValue(attrs, "spinCount"))
	if err != nil {
		return AgilePasswordKeyEncryptor{}, mcperr.Wrap(mcperr.InvalidFormat, err, "keyEncryptor spinCount is invalid")
	}
	alg, err := HashAlgorithmFromOOXMLName(attrValue(attrs, "hashAlgorithm"))
	if err != nil {
		return AgilePasswordKeyEncryptor{}, err
	}
	return AgilePasswordKeyEncryptor{
		SaltValue:       salt,
		BlockSize:       blockSize,
		KeyBits:         keyBits,
		SpinCount:       spinCount,
		HashAlgorithm:   alg,
		CipherAlgorithm: attrValue(attrs, "cipherAlgorithm"),
		CipherChaining:  attrValue(attrs, "cipherChaining"),
	}, nil
}

func atoi(s string) (int, error) {
	return strconv.Atoi(s)
}

// decodeB64Attr decodes a base64 blob, tolerating embedded whitespace and
// both padded and unpadded standard alphabets (producers differ on both).
func decodeB64Attr(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	cleaned := s
	if strings.ContainsAny(s, "\r\n\t ") {
		var b strings.Builder
		for _, r := range s {
			if r == '\r' || r == '\n' || r == '\t' || r == ' ' {
				continue
			}
			b.WriteRune(r)
		}
		cleaned = b.String()
	}
	if b, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(cleaned)
}

// DecryptAgileEncryptedPackage authenticates password against info's
// password key encryptor, recovers the package key, verifies the
// EncryptedPackage stream's HMAC, and decrypts the package body.
func DecryptAgileEncryptedPackage(info *AgileEncryptionInfo, encryptedPackage []byte, password string) ([]byte, error) {
	pke := info.PasswordKeyEncryptor
	if !strings.EqualFold(pke.CipherAlgorithm, "AES") || pke.CipherChaining != "ChainingModeCBC" {
		return nil, mcperr.New(mcperr.UnsupportedEncryption, "unsupported password keyEncryptor cipher %s/%s", pke.CipherAlgorithm, pke.CipherChaining)
	}
	if pke.BlockSize != aesBlockLen {
		return nil, mcperr.New(mcperr.UnsupportedEncryption, "unsupported password keyEncryptor block size %d", pke.BlockSize)
	}
	kd := info.KeyData
	if !strings.EqualFold(kd.CipherAlgorithm, "AES") || kd.CipherChaining != "ChainingModeCBC" {
		return nil, mcperr.New(mcperr.UnsupportedEncryption, "unsupported keyData cipher %s/%s", kd.CipherAlgorithm, kd.CipherChaining)
	}

	passwordUTF16 := PasswordToUTF16LE(password)

	// The password-encryptor-scoped blobs all share one IV: the encryptor's
	// own salt, used directly rather than via derive_iv.
	pwIV := pke.SaltValue[:min(len(pke.SaltValue), pke.BlockSize)]

	verifierInputKey := deriveAgileKey(pke.HashAlgorithm, pke.SaltValue, passwordUTF16, pke.SpinCount, pke.KeyBits/8, blockKeyVerifierHashInput)
	verifierValueKey := deriveAgileKey(pke.HashAlgorithm, pke.SaltValue, passwordUTF16, pke.SpinCount, pke.KeyBits/8, blockKeyVerifierHashValue)
	keyValueKey := deriveAgileKey(pke.HashAlgorithm, pke.SaltValue, passwordUTF16, pke.SpinCount, pke.KeyBits/8, blockKeyEncryptedKeyValue)

	verifierInputPlain, err := aesCBCDecrypt(verifierInputKey, pwIV, pke.EncryptedVerifierHashInput)
	if err != nil {
		return nil, err
	}
	verifierValuePlain, err := aesCBCDecrypt(verifierValueKey, pwIV, pke.EncryptedVerifierHashValue)
	if err != nil {
		return nil, err
	}
	wantVerifierHash := pke.HashAlgorithm.Digest(verifierInputPlain)
	n := pke.HashAlgorithm.DigestLen()
	if len(verifierValuePlain) < n || !constantTimeEqual(wantVerifierHash, verifierValuePlain[:n]) {
		return nil, mcperr.New(mcperr.InvalidPassword, "password verification failed")
	}

	packageKey, err := aesCBCDecrypt(keyValueKey, pwIV, pke.EncryptedKeyValue)
	if err != nil {
		return nil, err
	}
	packageKey = packageKey[:min(len(packageKey), kd.KeyBits/8)]

	ivHMACKey := deriveIV(kd.HashAlgorithm, kd.SaltValue, blockKeyIntegrityHMACKey, kd.BlockSize)
	ivHMACVal := deriveIV(kd.HashAlgorithm, kd.SaltValue, blockKeyIntegrityHMACVal, kd.BlockSize)
	hmacKeyPlain, err := aesCBCDecrypt(packageKey, ivHMACKey, info.DataIntegrity.EncryptedHMACKey)
	if err != nil {
		return nil, err
	}
	hmacValPlain, err := aesCBCDecrypt(packageKey, ivHMACVal, info.DataIntegrity.EncryptedHMACValue)
	if err != nil {
		return nil, err
	}

	gotHMAC := computeHMAC(kd.HashAlgorithm, hmacKeyPlain, encryptedPackage)
	hn := kd.HashAlgorithm.DigestLen()
	if len(hmacValPlain) < hn || !constantTimeEqual(gotHMAC, hmacValPlain[:hn]) {
		return nil, mcperr.New(mcperr.IntegrityCheckFailed, "EncryptedPackage HMAC does not match")
	}

	if len(encryptedPackage) < encryptedPackageSizePrefixLen {
		return nil, mcperr.New(mcperr.TruncatedPrefix, "EncryptedPackage stream is shorter than the size prefix")
	}
	totalSize := leUint64(encryptedPackage[:encryptedPackageSizePrefixLen])
	body := encryptedPackage[encryptedPackageSizePrefixLen:]

	const agileSegmentLen = 4096
	plain := make([]byte, 0, totalSize)
	blockIndex := uint32(0)
	for offset := 0; offset < len(body); offset += agileSegmentLen {
		end := offset + agileSegmentLen
		if end > len(body) {
			end = len(body)
		}
		iv := deriveIV(kd.HashAlgorithm, kd.SaltValue, le32(blockIndex), kd.BlockSize)
		segPlain, err := aesCBCDecrypt(packageKey, iv, body[offset:end])
		if err != nil {
			return nil, err
		}
		plain = append(plain, segPlain...)
		blockIndex++
		if uint64(len(plain)) >= totalSize {
			break
		}
	}
	if uint64(len(plain)) < totalSize {
		return nil, mcperr.New(mcperr.TruncatedSegment, "decrypted package (%d bytes) is shorter than the declared size %d", len(plain), totalSize)
	}
	return plain[:totalSize], nil
}

func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	if len(ciphertext)%aesBlockLen != 0 {
		return nil, mcperr.New(mcperr.CiphertextNotAligned, "ciphertext length %d is not a multiple of the AES block size", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.InvalidKeyLength, err, "unsupported AES key length %d", len(key))
	}
	if len(iv) != aesBlockLen {
		return nil, mcperr.New(mcperr.CryptoError, "IV length %d does not match the AES block size", len(iv))
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return plain, nil
}

func computeHMAC(alg HashAlgorithm, key, data []byte) []byte {
	mac := hmac.New(alg.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
