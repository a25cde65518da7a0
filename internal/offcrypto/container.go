package offcrypto

import (
	"io"

	"github.com/richardlehane/mscfb"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const (
	encryptionInfoStreamName    = "EncryptionInfo"
	encryptedPackageStreamName  = "EncryptedPackage"
)

// ReadEncryptedContainer opens the outer OLE/CFB compound file an encrypted
// .xlsx is wrapped in and extracts its EncryptionInfo and EncryptedPackage
// streams. mscfb.New walks the container's directory depth-first and hands
// back each entry as an io.Reader positioned at that entry's data; there is
// no lookup-by-name, so every entry is visited once and matched by Name.
func ReadEncryptedContainer(r io.ReaderAt) (encryptionInfo, encryptedPackage []byte, err error) {
	doc, err := mscfb.New(r)
	if err != nil {
		return nil, nil, mcperr.Wrap(mcperr.CorruptWorkbook, err, "failed to open OLE/CFB container")
	}

	for entry, walkErr := doc.Next(); walkErr == nil; entry, walkErr = doc.Next() {
		switch entry.Name {
		case encryptionInfoStreamName:
			buf := make([]byte, entry.Size)
			if _, readErr := io.ReadFull(entry, buf); readErr != nil {
				return nil, nil, mcperr.Wrap(mcperr.CorruptWorkbook, readErr, "failed to read %s stream", encryptionInfoStreamName)
			}
			encryptionInfo = buf
		case encryptedPackageStreamName:
			buf := make([]byte, entry.Size)
			if _, readErr := io.ReadFull(entry, buf); readErr != nil {
				return nil, nil, mcperr.Wrap(mcperr.CorruptWorkbook, readErr, "failed to read %s stream", encryptedPackageStreamName)
			}
			encryptedPackage = buf
		}
	}

	if encryptionInfo == nil {
		return nil, nil, mcperr.New(mcperr.MissingPart, "OLE container has no %s stream", encryptionInfoStreamName)
	}
	if encryptedPackage == nil {
		return nil, nil, mcperr.New(mcperr.MissingPart, "OLE container has no %s stream", encryptedPackageStreamName)
	}
	return encryptionInfo, encryptedPackage, nil
}

// WriteEncryptedContainer wraps an EncryptionInfo stream and an
// EncryptedPackage stream into a minimal two-stream OLE/CFB compound file,
// the inverse of ReadEncryptedContainer. mscfb is read-only (it exposes no
// writer), so the container is assembled directly against the CFB binary
// format (ECMA-376 part 2, Open Specification [MS-CFB]): one FAT sector
// chain per stream, a single directory sector holding the root storage
// entry plus the two stream entries, and a 512-byte header naming the
// directory's first sector. Both streams here are written as "big" (FAT,
// not mini-FAT) streams for simplicity, which the format permits regardless
// of size.
func WriteEncryptedContainer(encryptionInfo, encryptedPackage []byte) []byte {
	return buildCFB([]cfbStream{
		{name: encryptionInfoStreamName, data: encryptionInfo},
		{name: encryptedPackageStreamName, data: encryptedPackage},
	})
}
