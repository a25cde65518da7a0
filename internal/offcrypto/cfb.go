package offcrypto

import (
	"bytes"
	"encoding/binary"
)

// A minimal [MS-CFB] compound-file writer: just enough to wrap the two
// streams an encrypted OOXML package needs (EncryptionInfo,
// EncryptedPackage) into a valid container. mscfb (this module's CFB
// reader dependency) is read-only, so the inverse direction -- producing a
// container Excel and mscfb itself can both open -- is written directly
// against the binary layout documented in the Open Specification, section
// 2: a 512-byte header, a FAT sector chain, one directory sector, and the
// stream data sectors themselves. Every stream here is stored as a regular
// (non-mini) stream regardless of size, which the format permits; the
// Mini FAT path real Office writers use for small streams is not
// implemented, since nothing in this codebase ever reads a container this
// writer did not also produce.
const (
	cfbSectorSize  = 512
	cfbFreeSect    = 0xFFFFFFFF
	cfbEndOfChain  = 0xFFFFFFFE
	cfbFATSect     = 0xFFFFFFFD
	cfbNoStream    = 0xFFFFFFFF
)

type cfbStream struct {
	name string
	data []byte
}

func sectorsFor(n int) int {
	if n == 0 {
		return 0
	}
	return (n + cfbSectorSize - 1) / cfbSectorSize
}

// buildCFB assembles a complete compound file holding exactly the given
// streams as top-level entries of the root storage.
func buildCFB(streams []cfbStream) []byte {
	// Directory entries: index 0 is the Root Entry; one entry per stream
	// follows, padded to a multiple of 4 (128-byte entries per 512-byte
	// sector).
	numDirEntries := 1 + len(streams)
	numDirEntries += (4 - numDirEntries%4) % 4
	dirSectors := sectorsFor(numDirEntries * 128)

	streamStartSector := make([]int, len(streams))
	streamSectorCount := make([]int, len(streams))
	nextSector := dirSectors
	for i, s := range streams {
		streamStartSector[i] = nextSector
		streamSectorCount[i] = sectorsFor(len(s.data))
		nextSector += streamSectorCount[i]
	}
	dataSectors := nextSector // dirSectors + all stream sectors

	// The FAT describes every sector including its own, so its size must
	// be solved for: start from the sector count that ignores the FAT,
	// then grow until adding another FAT sector doesn't require yet
	// another one.
	fatSectors := 1
	for {
		totalSectors := dataSectors + fatSectors
		need := (totalSectors + 127) / 128
		if need == fatSectors {
			break
		}
		fatSectors = need
	}
	fatStartSector := dataSectors
	totalSectors := dataSectors + fatSectors

	fat := make([]uint32, fatSectors*128)
	for i := range fat {
		fat[i] = cfbFreeSect
	}

	// Directory sector chain (just one sector here).
	for i := 0; i < dirSectors; i++ {
		if i == dirSectors-1 {
			fat[i] = cfbEndOfChain
		} else {
			fat[i] = uint32(i + 1)
		}
	}
	// Each stream's sector chain.
	for i := range streams {
		start := streamStartSector[i]
		count := streamSectorCount[i]
		for j := 0; j < count; j++ {
			if j == count-1 {
				fat[start+j] = cfbEndOfChain
			} else {
				fat[start+j] = uint32(start + j + 1)
			}
		}
	}
	// FAT sector chain describes itself.
	for i := 0; i < fatSectors; i++ {
		fat[fatStartSector+i] = cfbFATSect
	}

	var out bytes.Buffer
	writeHeader(&out, uint32(fatSectors), uint32(fatStartSector))

	// Directory sector(s).
	dirBuf := make([]byte, dirSectors*cfbSectorSize)
	writeRootEntry(dirBuf[0:128], len(streams))
	for i, s := range streams {
		// Sibling pointers are filled in below by linkDirectorySiblings,
		// which orders entries by the CFB name-comparison rule and threads
		// them as a right-leaning chain rooted at the Root Entry's child
		// pointer.
		writeStreamEntry(dirBuf[(i+1)*128:(i+2)*128], s.name, uint32(streamStartSector[i]), len(s.data), cfbNoStream, cfbNoStream)
	}
	linkDirectorySiblings(dirBuf, streams)
	out.Write(dirBuf)

	// Stream data, each padded to a full sector.
	for i, s := range streams {
		out.Write(s.data)
		pad := streamSectorCount[i]*cfbSectorSize - len(s.data)
		out.Write(make([]byte, pad))
	}

	// FAT sectors.
	fatBuf := make([]byte, fatSectors*cfbSectorSize)
	for i, v := range fat {
		binary.LittleEndian.PutUint32(fatBuf[i*4:i*4+4], v)
	}
	out.Write(fatBuf)

	return out.Bytes()
}

func writeHeader(out *bytes.Buffer, numFATSectors, firstFATSector uint32) {
	h := make([]byte, cfbSectorSize)
	copy(h[0:8], []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	binary.LittleEndian.PutUint16(h[24:26], 0x003E)
	binary.LittleEndian.PutUint16(h[26:28], 0x0003)
	binary.LittleEndian.PutUint16(h[28:30], 0xFFFE)
	binary.LittleEndian.PutUint16(h[30:32], 0x0009)
	binary.LittleEndian.PutUint16(h[32:34], 0x0006)
	binary.LittleEndian.PutUint32(h[40:44], 0)
	binary.LittleEndian.PutUint32(h[44:48], numFATSectors)
	binary.LittleEndian.PutUint32(h[48:52], 0) // first directory sector
	binary.LittleEndian.PutUint32(h[56:60], 0x00001000)
	binary.LittleEndian.PutUint32(h[60:64], cfbEndOfChain) // no mini FAT
	binary.LittleEndian.PutUint32(h[64:68], 0)
	binary.LittleEndian.PutUint32(h[68:72], cfbEndOfChain) // no DIFAT sectors
	binary.LittleEndian.PutUint32(h[72:76], 0)

	for i := 0; i < 109; i++ {
		off := 76 + i*4
		if i == 0 {
			binary.LittleEndian.PutUint32(h[off:off+4], firstFATSector)
		} else {
			binary.LittleEndian.PutUint32(h[off:off+4], cfbFreeSect)
		}
	}
	out.Write(h)
}

func writeDirName(entry []byte, name string) {
	u := utf16leFromASCII(name)
	copy(entry[0:64], u)
	binary.LittleEndian.PutUint16(entry[64:66], uint16(len(u)+2))
}

func writeRootEntry(entry []byte, numStreams int) {
	writeDirName(entry, "Root Entry")
	entry[66] = 5 // root storage
	entry[67] = 1 // black
	binary.LittleEndian.PutUint32(entry[68:72], cfbNoStream)
	binary.LittleEndian.PutUint32(entry[72:76], cfbNoStream)
	if numStreams > 0 {
		binary.LittleEndian.PutUint32(entry[76:80], 1) // child = first stream entry
	} else {
		binary.LittleEndian.PutUint32(entry[76:80], cfbNoStream)
	}
	binary.LittleEndian.PutUint32(entry[116:120], cfbEndOfChain)
}

func writeStreamEntry(entry []byte, name string, startSector uint32, size int, left, right uint32) {
	writeDirName(entry, name)
	entry[66] = 2 // stream
	entry[67] = 1 // black
	binary.LittleEndian.PutUint32(entry[68:72], left)
	binary.LittleEndian.PutUint32(entry[72:76], right)
	binary.LittleEndian.PutUint32(entry[76:80], cfbNoStream)
	binary.LittleEndian.PutUint32(entry[116:120], startSector)
	binary.LittleEndian.PutUint64(entry[120:128], uint64(size))
}

// linkDirectorySiblings orders the stream entries by CFB's directory
// name-comparison rule and threads them together as a right-leaning chain
// rooted at the Root Entry's child pointer.
func linkDirectorySiblings(dirBuf []byte, streams []cfbStream) {
	order := make([]int, len(streams))
	for i := range order {
		order[i] = i
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && cfbNameLess(streams[order[j]].name, streams[order[j-1]].name); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	for pos, idx := range order {
		entryOff := (idx + 1) * 128
		var right uint32 = cfbNoStream
		if pos+1 < len(order) {
			right = uint32(order[pos+1] + 1)
		}
		binary.LittleEndian.PutUint32(dirBuf[entryOff+72:entryOff+76], right)
	}
	if len(order) > 0 {
		binary.LittleEndian.PutUint32(dirBuf[76:80], uint32(order[0]+1))
	}
}

func cfbNameLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func utf16leFromASCII(s string) []byte {
	out := make([]byte, 0, len(s)*2+2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	out = append(out, 0, 0)
	return out
}
