package offcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

func TestAgileEncryptDecryptRoundTrip(t *testing.T) {
	zip := []byte("PK\x03\x04 pretend this is a zip package body, long enough to span more than one 4096-byte segment. ")
	for len(zip) < 9000 {
		zip = append(zip, zip...)
	}
	zip = zip[:9000]

	encryptionInfo, encryptedPackage, err := EncryptAgileEncryptedPackage(zip, "s3cr3t!", DefaultAgileEncryptOptions())
	require.NoError(t, err)

	descriptor, err := DetectDescriptor(encryptionInfo)
	require.NoError(t, err)
	require.Equal(t, DescriptorAgile, descriptor)

	info, err := ParseAgileEncryptionInfo(encryptionInfo)
	require.NoError(t, err)
	require.Equal(t, "AES", info.KeyData.CipherAlgorithm)
	require.Equal(t, "ChainingModeCBC", info.KeyData.CipherChaining)

	got, err := DecryptAgileEncryptedPackage(info, encryptedPackage, "s3cr3t!")
	require.NoError(t, err)
	require.Equal(t, zip, got)
}

func TestAgileDecryptRejectsWrongPassword(t *testing.T) {
	zip := []byte("small package body")
	encryptionInfo, encryptedPackage, err := EncryptAgileEncryptedPackage(zip, "correct password", DefaultAgileEncryptOptions())
	require.NoError(t, err)

	info, err := ParseAgileEncryptionInfo(encryptionInfo)
	require.NoError(t, err)

	_, err = DecryptAgileEncryptedPackage(info, encryptedPackage, "wrong password")
	require.Error(t, err)
	require.True(t, mcperr.Is(err, mcperr.InvalidPassword))
}

func TestAgileDecryptRejectsTamperedHMAC(t *testing.T) {
	zip := []byte("small package body")
	encryptionInfo, encryptedPackage, err := EncryptAgileEncryptedPackage(zip, "pw", DefaultAgileEncryptOptions())
	require.NoError(t, err)

	info, err := ParseAgileEncryptionInfo(encryptionInfo)
	require.NoError(t, err)

	tampered := append([]byte{}, encryptedPackage...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = DecryptAgileEncryptedPackage(info, tampered, "pw")
	require.Error(t, err)
	require.True(t, mcperr.Is(err, mcperr.IntegrityCheckFailed))
}

func TestAgileEncryptSupportsAES128(t *testing.T) {
	opts := AgileEncryptOptions{KeyBits: 128, HashAlgorithm: HashSHA1, SpinCount: 1000}
	zip := []byte("payload")
	encryptionInfo, encryptedPackage, err := EncryptAgileEncryptedPackage(zip, "pw", opts)
	require.NoError(t, err)

	info, err := ParseAgileEncryptionInfo(encryptionInfo)
	require.NoError(t, err)
	require.Equal(t, 128, info.KeyData.KeyBits)

	got, err := DecryptAgileEncryptedPackage(info, encryptedPackage, "pw")
	require.NoError(t, err)
	require.Equal(t, zip, got)
}

// TestParseAgileDescriptorAcceptsFlattenedAttributeForm covers a real-world
// producer convention (ms_offcrypto_writer) that puts the three
// verifier/key blobs directly as attributes on <encryptedKey> instead of
// nesting them as child elements.
func TestParseAgileDescriptorAcceptsFlattenedAttributeForm(t *testing.T) {
	xmlDoc := `<encryption xmlns="http://schemas.microsoft.com/office/2006/encryption" xmlns:p="http://schemas.microsoft.com/office/2006/keyEncryptor/password">` +
		`<keyData saltSize="16" blockSize="16" keyBits="256" hashSize="64" cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="SHA512" saltValue="AAAAAAAAAAAAAAAAAAAAAA=="/>` +
		`<dataIntegrity encryptedHmacKey="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=" encryptedHmacValue="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="/>` +
		`<keyEncryptors><keyEncryptor uri="http://schemas.microsoft.com/office/2006/keyEncryptor/password">` +
		`<p:encryptedKey spinCount="100000" saltSize="16" blockSize="16" keyBits="256" hashSize="64" cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="SHA512" saltValue="AAAAAAAAAAAAAAAAAAAAAA==" encryptedVerifierHashInput="AAAAAAAAAAAAAAAAAAAAAA==" encryptedVerifierHashValue="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=" encryptedKeyValue="AAAAAAAAAAAAAAAAAAAAAA=="/>` +
		`</keyEncryptor></keyEncryptors></encryption>`

	info, err := parseAgileDescriptor([]byte(xmlDoc))
	require.NoError(t, err)
	require.NotEmpty(t, info.PasswordKeyEncryptor.EncryptedVerifierHashInput)
	require.NotEmpty(t, info.PasswordKeyEncryptor.EncryptedVerifierHashValue)
	require.NotEmpty(t, info.PasswordKeyEncryptor.EncryptedKeyValue)
	require.Equal(t, 100000, info.PasswordKeyEncryptor.SpinCount)
}

// TestParseAgileDescriptorAcceptsChildElementForm covers the more common
// producer convention where the three blobs are nested child elements
// rather than flattened attributes.
func TestParseAgileDescriptorAcceptsChildElementForm(t *testing.T) {
	xmlDoc := `<encryption xmlns="http://schemas.microsoft.com/office/2006/encryption" xmlns:p="http://schemas.microsoft.com/office/2006/keyEncryptor/password">` +
		`<keyData saltSize="16" blockSize="16" keyBits="256" hashSize="64" cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="SHA512" saltValue="AAAAAAAAAAAAAAAAAAAAAA=="/>` +
		`<dataIntegrity encryptedHmacKey="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=" encryptedHmacValue="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="/>` +
		`<keyEncryptors><keyEncryptor uri="http://schemas.microsoft.com/office/2006/keyEncryptor/password">` +
		`<p:encryptedKey spinCount="100000" saltSize="16" blockSize="16" keyBits="256" hashSize="64" cipherAlgorithm="AES" cipherChaining="ChainingModeCBC" hashAlgorithm="SHA512" saltValue="AAAAAAAAAAAAAAAAAAAAAA==">` +
		`<p:encryptedVerifierHashInput>AAAAAAAAAAAAAAAAAAAAAA==</p:encryptedVerifierHashInput>` +
		`<p:encryptedVerifierHashValue>AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=</p:encryptedVerifierHashValue>` +
		`<p:encryptedKeyValue>AAAAAAAAAAAAAAAAAAAAAA==</p:encryptedKeyValue>` +
		`</p:encryptedKey>` +
		`</keyEncryptor></keyEncryptors></encryption>`

	info, err := parseAgileDescriptor([]byte(xmlDoc))
	require.NoError(t, err)
	require.NotEmpty(t, info.PasswordKeyEncryptor.EncryptedVerifierHashInput)
	require.NotEmpty(t, info.PasswordKeyEncryptor.EncryptedVerifierHashValue)
	require.NotEmpty(t, info.PasswordKeyEncryptor.EncryptedKeyValue)
}

func TestDecodeB64AttrAcceptsWhitespaceAndUnpadded(t *testing.T) {
	b, err := decodeB64Attr("AAAA\nAAAA")
	require.NoError(t, err)
	require.Len(t, b, 6)

	b, err = decodeB64Attr("AAAA") // already padded multiple of 4
	require.NoError(t, err)
	require.Len(t, b, 3)
}

func TestDecodeB64AttrEmptyIsNil(t *testing.T) {
	b, err := decodeB64Attr("")
	require.NoError(t, err)
	require.Nil(t, b)
}
