package broadcast

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// putUvarint appends v to buf using a variable-width encoding, the
// length-prefix shape spec.md §6 requires for byte sequences.
func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// putBytes writes b as a varint length prefix followed by the bytes
// themselves.
func putBytes(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

// putFixed64 writes v as a little-endian 8-byte fixed-width integer.
func putFixed64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read length prefix")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errors.Wrap(err, "cannot read length-prefixed payload")
	}
	return b, nil
}

func readFixed64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errors.Wrap(err, "cannot read fixed-width integer")
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}
