package localstore

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// entryOp is the first byte of every log entry.
type entryOp byte

const (
	opPut      entryOp = 1
	opDelete   entryOp = 2
	opSequence entryOp = 3 // carries the highest id ever issued
)

const (
	// Format: Op (1) | ID (8) | Meta_Len (4) | Meta (N) | Data_Len (4) | Data (M) | CRC32 (4)
	entryHeaderSize = 1 + 8 + 4
	maxMetaLen      = 1024 * 1024
	maxDataLen      = 1 << 31
)

var errTornEntry = errors.New("torn or corrupt entry")

type decodedEntry struct {
	op         entryOp
	id         uint64
	meta       []byte
	dataOffset int64 // relative to the entry start
	dataLen    int64
	size       int64
}

func entrySize(metaLen, dataLen int) int64 {
	return int64(entryHeaderSize + metaLen + 4 + dataLen + 4)
}

func encodeEntry(op entryOp, id uint64, meta, data []byte) []byte {
	buf := make([]byte, entrySize(len(meta), len(data)))
	buf[0] = byte(op)
	binary.BigEndian.PutUint64(buf[1:9], id)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(meta))) // #nosec G115
	copy(buf[entryHeaderSize:], meta)

	pos := entryHeaderSize + len(meta)
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(data))) // #nosec G115
	pos += 4
	copy(buf[pos:], data)
	pos += len(data)

	binary.BigEndian.PutUint32(buf[pos:], crc32.ChecksumIEEE(buf[:pos]))
	return buf
}

// readEntry decodes the next entry, skipping over its data. It returns io.EOF
// at a clean end of segment and errTornEntry for a partial or corrupt tail.
func readEntry(r io.Reader) (decodedEntry, error) {
	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)

	header := make([]byte, entryHeaderSize)
	if _, err := io.ReadFull(tr, header); err != nil {
		if err == io.EOF {
			return decodedEntry{}, io.EOF
		}
		return decodedEntry{}, tornOr(err)
	}

	e := decodedEntry{
		op: entryOp(header[0]),
		id: binary.BigEndian.Uint64(header[1:9]),
	}
	if e.op != opPut && e.op != opDelete && e.op != opSequence {
		return decodedEntry{}, errTornEntry
	}

	metaLen := int64(binary.BigEndian.Uint32(header[9:13]))
	if metaLen > maxMetaLen {
		return decodedEntry{}, errTornEntry
	}
	e.meta = make([]byte, metaLen)
	if _, err := io.ReadFull(tr, e.meta); err != nil {
		return decodedEntry{}, tornOr(err)
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(tr, lenBuf); err != nil {
		return decodedEntry{}, tornOr(err)
	}
	e.dataLen = int64(binary.BigEndian.Uint32(lenBuf))
	if e.dataLen > maxDataLen {
		return decodedEntry{}, errTornEntry
	}
	e.dataOffset = entryHeaderSize + metaLen + 4

	if _, err := io.CopyN(io.Discard, tr, e.dataLen); err != nil {
		return decodedEntry{}, tornOr(err)
	}

	sum := crc.Sum32()
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return decodedEntry{}, tornOr(err)
	}
	if binary.BigEndian.Uint32(lenBuf) != sum {
		return decodedEntry{}, errTornEntry
	}

	e.size = e.dataOffset + e.dataLen + 4
	return e, nil
}

func tornOr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errTornEntry
	}
	return err
}
