package offcrypto

// Password-based key derivation for the Standard descriptors (CryptoAPI RC4
// and CryptoAPI AES): a fixed 50,000-round spin hash over
// salt||UTF16LE(password), then a final hash that mixes in a block number.
// Agile runs the same loop with the descriptor's own spinCount in
// deriveAgileKey (agilederive.go). [MS-OFFCRYPTO] 2.3.4.7/2.3.4.9
// document the exact byte layout this code reproduces.

const standardSpinCount = 50000

// spinHash returns H(salt || password), then re-hashes H(LE32(i) || H)
// standardSpinCount times. The result, password_hash in the source
// algorithm's terms, is the input every per-block/per-purpose final hash
// derives from.
func spinHash(alg HashAlgorithm, salt, passwordUTF16LE []byte) []byte {
	h := alg.Digest(salt, passwordUTF16LE)
	for i := uint32(0); i < standardSpinCount; i++ {
		h = alg.Digest(le32(i), h)
	}
	return h
}

// finalHash mixes a per-block or per-purpose suffix into the spun password
// hash: Hash(password_hash || suffix). CryptoAPI RC4 passes the little-endian
// block index as suffix (one call per 0x200-byte block, independently
// re-keyed); CryptoAPI AES passes a fixed 4-byte zero block number since the
// whole EncryptedPackage shares one key.
func finalHash(alg HashAlgorithm, passwordHash, suffix []byte) []byte {
	return alg.Digest(passwordHash, suffix)
}

// stretchKey expands a hash digest to keyLen bytes per [MS-OFFCRYPTO]
// 2.3.4.11's key-generation step, used whenever the requested key is longer
// than the hash algorithm's own output: pad the digest into two
// HMAC-ipad/opad-style buffers (0x36 / 0x5C repeated to the algorithm's
// block length, with the digest XORed into the start of each), hash each,
// and concatenate. When keyLen fits within the digest it is simply
// truncated.
func stretchKey(alg HashAlgorithm, digest []byte, keyLen int) []byte {
	if keyLen <= len(digest) {
		return digest[:keyLen]
	}
	x1 := alg.Digest(xorPad(digest, alg.BlockLen(), 0x36))
	x2 := alg.Digest(xorPad(digest, alg.BlockLen(), 0x5C))
	combined := append(append([]byte{}, x1...), x2...)
	if keyLen > len(combined) {
		keyLen = len(combined)
	}
	return combined[:keyLen]
}

// xorPad builds a blockLen-byte buffer filled with fill, XORing src into
// its leading bytes.
func xorPad(src []byte, blockLen int, fill byte) []byte {
	buf := make([]byte, blockLen)
	for i := range buf {
		buf[i] = fill
	}
	for i := 0; i < len(src) && i < blockLen; i++ {
		buf[i] ^= src[i]
	}
	return buf
}

// fitOrPad truncates digest to n bytes, or right-pads it with zero bytes
// when shorter, matching the Agile IV-derivation rule ([MS-OFFCRYPTO]
// 2.3.4.12): an IV is always exactly blockSize bytes regardless of the hash
// algorithm's own output length.
func fitOrPad(digest []byte, n int) []byte {
	if len(digest) >= n {
		return digest[:n]
	}
	out := make([]byte, n)
	copy(out, digest)
	return out
}
