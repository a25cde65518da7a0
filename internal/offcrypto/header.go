package offcrypto

import (
	"encoding/binary"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// Descriptor identifies which of the two EncryptionInfo layouts a package
// carries, selected by the 2-byte version pair every descriptor opens with
// ([MS-OFFCRYPTO] 2.3.2).
type Descriptor int

const (
	DescriptorStandard Descriptor = iota
	DescriptorAgile
)

// versionHeader is the common 4-byte prefix (vMajor, vMinor) every
// EncryptionInfo stream starts with, before any format-specific payload.
type versionHeader struct {
	Major uint16
	Minor uint16
}

// DetectDescriptor reads an EncryptionInfo stream's leading version pair and
// reports whether it is the Standard (CryptoAPI) binary descriptor or the
// Agile XML descriptor. Standard descriptors use major versions 2-4 with
// minor version 2; Agile descriptors use major version 4 with minor version
// 4 ([MS-OFFCRYPTO] 2.3.4.5/2.3.4.10).
func DetectDescriptor(encryptionInfo []byte) (Descriptor, error) {
	if len(encryptionInfo) < 8 {
		return 0, mcperr.New(mcperr.InvalidFormat, "EncryptionInfo stream is shorter than its header (%d bytes)", len(encryptionInfo))
	}
	v := versionHeader{
		Major: binary.LittleEndian.Uint16(encryptionInfo[0:2]),
		Minor: binary.LittleEndian.Uint16(encryptionInfo[2:4]),
	}
	switch {
	case v.Major == 4 && v.Minor == 4:
		return DescriptorAgile, nil
	case v.Minor == 2 && (v.Major == 2 || v.Major == 3 || v.Major == 4):
		return DescriptorStandard, nil
	default:
		return 0, mcperr.New(mcperr.UnsupportedEncryption, "unrecognized EncryptionInfo version %d.%d", v.Major, v.Minor)
	}
}

// StandardHeader is the fixed-layout EncryptionHeader/EncryptionVerifier
// pair that follows the version+flags prefix of a Standard (CryptoAPI)
// EncryptionInfo stream ([MS-OFFCRYPTO] 2.3.3).
type StandardHeader struct {
	Flags        uint32
	AlgID        uint32
	AlgIDHash    uint32
	KeyBits      uint32
	ProviderType uint32
	CSPName      string

	Salt                 []byte
	EncryptedVerifier    []byte
	VerifierHashSize     uint32
	EncryptedVerifierHash []byte
}

// ParseStandardEncryptionInfo decodes the CryptoAPI EncryptionInfo stream:
// an 8-byte version+flags prefix, a 4-byte header size, the EncryptionHeader
// struct itself, and the EncryptionVerifier that follows it.
func ParseStandardEncryptionInfo(data []byte) (*StandardHeader, error) {
	if len(data) < 12 {
		return nil, mcperr.New(mcperr.InvalidFormat, "Standard EncryptionInfo stream is too short (%d bytes)", len(data))
	}
	flags := binary.LittleEndian.Uint32(data[4:8])
	headerSize := binary.LittleEndian.Uint32(data[8:12])
	pos := 12
	if uint64(pos)+uint64(headerSize) > uint64(len(data)) {
		return nil, mcperr.New(mcperr.InvalidFormat, "EncryptionHeader size %d exceeds remaining stream length", headerSize)
	}
	headerEnd := pos + int(headerSize)
	hdr := data[pos:headerEnd]
	if len(hdr) < 32 {
		return nil, mcperr.New(mcperr.InvalidFormat, "EncryptionHeader is shorter than its fixed fields (%d bytes)", len(hdr))
	}
	// EncryptionHeader (2.3.2): Flags, SizeExtra, AlgID, AlgIDHash, KeySize,
	// ProviderType, Reserved1, Reserved2, then CSPName -- 8 reserved/typed
	// 4-byte fields before the variable-length name.
	algID := binary.LittleEndian.Uint32(hdr[8:12])
	algIDHash := binary.LittleEndian.Uint32(hdr[12:16])
	keyBits := binary.LittleEndian.Uint32(hdr[16:20])
	providerType := binary.LittleEndian.Uint32(hdr[20:24])
	cspNameUTF16 := hdr[32:]
	cspName := decodeUTF16LEZ(cspNameUTF16)

	pos = headerEnd
	if pos+4 > len(data) {
		return nil, mcperr.New(mcperr.InvalidFormat, "EncryptionVerifier is missing its salt size field")
	}
	saltSize := binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	if uint64(pos)+uint64(saltSize) > uint64(len(data)) {
		return nil, mcperr.New(mcperr.InvalidFormat, "EncryptionVerifier salt (%d bytes) exceeds remaining stream length", saltSize)
	}
	salt := append([]byte{}, data[pos:pos+int(saltSize)]...)
	pos += int(saltSize)

	const encryptedVerifierLen = 16
	if pos+encryptedVerifierLen > len(data) {
		return nil, mcperr.New(mcperr.InvalidFormat, "EncryptionVerifier is missing its encryptedVerifier field")
	}
	encryptedVerifier := append([]byte{}, data[pos:pos+encryptedVerifierLen]...)
	pos += encryptedVerifierLen

	if pos+4 > len(data) {
		return nil, mcperr.New(mcperr.InvalidFormat, "EncryptionVerifier is missing its verifierHashSize field")
	}
	verifierHashSize := binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4

	if uint64(pos)+uint64(verifierHashSize) > uint64(len(data)) {
		return nil, mcperr.New(mcperr.InvalidFormat, "EncryptionVerifier encryptedVerifierHash exceeds remaining stream length")
	}
	encryptedVerifierHash := append([]byte{}, data[pos:pos+int(verifierHashSize)]...)

	return &StandardHeader{
		Flags:                 flags,
		AlgID:                 algID,
		AlgIDHash:             algIDHash,
		KeyBits:               keyBits,
		ProviderType:          providerType,
		CSPName:               cspName,
		Salt:                  salt,
		EncryptedVerifier:     encryptedVerifier,
		VerifierHashSize:      verifierHashSize,
		EncryptedVerifierHash: encryptedVerifierHash,
	}, nil
}

// decodeUTF16LEZ decodes a null-terminated (or stream-end-terminated)
// UTF-16LE string, as CSPName is encoded in the EncryptionHeader.
func decodeUTF16LEZ(b []byte) string {
	var runes []rune
	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			break
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}

// algIDAES reports whether AlgID names one of the three CryptoAPI AES
// variants ([MS-OFFCRYPTO] 2.3.2's AlgID enumeration); any other non-RC4
// AlgID is treated as unsupported rather than guessed at.
func algIDAES(algID uint32) (keyBits int, ok bool) {
	switch algID {
	case 0x0000660E:
		return 128, true
	case 0x0000660F:
		return 192, true
	case 0x00006610:
		return 256, true
	default:
		return 0, false
	}
}

const algIDRC4 = 0x00006801
