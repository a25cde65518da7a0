package offcrypto

// Agile encryption's per-purpose block keys, [MS-OFFCRYPTO] 2.3.4.11's
// fixed byte constants. Each scopes a key or IV derivation to exactly one
// use: verifying the password, recovering the package key, or checking
// EncryptedPackage integrity.
var (
	blockKeyVerifierHashInput = []byte{0xFE, 0xA7, 0xD2, 0x76, 0x3B, 0x4B, 0x9E, 0x79}
	blockKeyVerifierHashValue = []byte{0xD7, 0xAA, 0x0F, 0x6D, 0x30, 0x61, 0x34, 0x4E}
	blockKeyEncryptedKeyValue = []byte{0x14, 0x6E, 0x0B, 0xE7, 0xAB, 0xAC, 0xD0, 0xD6}
	blockKeyIntegrityHMACKey  = []byte{0x5F, 0xB2, 0xAD, 0x01, 0x0C, 0xB9, 0xE1, 0xF6}
	blockKeyIntegrityHMACVal  = []byte{0xA0, 0x67, 0x7F, 0x02, 0xB2, 0x2C, 0x84, 0x33}
)

// deriveAgileKey implements [MS-OFFCRYPTO] 2.3.4.11's GenerateKey: spin-hash
// salt||password spinCount times, mix in the purpose-scoped blockKey, then
// stretch or truncate to keyLen bytes.
func deriveAgileKey(alg HashAlgorithm, salt, passwordUTF16LE []byte, spinCount int, keyLen int, blockKey []byte) []byte {
	h := alg.Digest(salt, passwordUTF16LE)
	for i := 0; i < spinCount; i++ {
		h = alg.Digest(le32(uint32(i)), h)
	}
	h = alg.Digest(h, blockKey)
	return stretchKey(alg, h, keyLen)
}

// deriveIV implements [MS-OFFCRYPTO] 2.3.4.12's GenerateIV: hash
// salt||blockKey (blockKey may be a fixed purpose constant or a
// little-endian segment index) and fit the result to blockSize bytes.
func deriveIV(alg HashAlgorithm, salt, blockKey []byte, blockSize int) []byte {
	h := alg.Digest(salt, blockKey)
	return fitOrPad(h, blockSize)
}
