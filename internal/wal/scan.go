package wal

import (
	"io"

	"github.com/pkg/errors"

	"github.com/tuannm99/redodb/internal/alias/bx"
)

// entry is a record header located in the file; the body is read lazily.
type entry struct {
	off     int64
	typ     RecordType
	txID    int64
	bodyLen int32
}

// read loads the whole record at e and decodes it.
func (e entry) read(r io.ReaderAt) (Record, error) {
	buf := make([]byte, lenFieldSize+int(e.bodyLen))
	if _, err := r.ReadAt(buf, e.off); err != nil {
		return Record{}, errors.Wrapf(err, "wal: read record at %d", e.off)
	}
	rec, _, err := Decode(buf)
	if err != nil {
		return Record{}, errors.Wrapf(err, "tx=%d offset=%d", e.txID, e.off)
	}
	return rec, nil
}

type scanResult struct {
	records  int
	validEnd int64 // offset just past the last complete record
	torn     bool  // trailing bytes that do not form a complete record
}

// scan walks every complete record header from offset 0, skipping bodies by
// the declared length. A trailing record that runs past size is a torn tail:
// the scan stops before it. So is an all-zero tail, which a crash leaves when
// the file length reached disk before the appended bytes did. Any other
// length too small to hold the header, or an unknown type, is corruption.
func scan(r io.ReaderAt, size int64, fn func(e entry) error) (scanResult, error) {
	var res scanResult
	var hdr [HeaderSize]byte

	off := int64(0)
	for off < size {
		if size-off < HeaderSize {
			res.torn = true
			break
		}
		if _, err := r.ReadAt(hdr[:], off); err != nil {
			return res, errors.Wrapf(err, "wal: read header at %d", off)
		}
		e := entry{
			off:     off,
			bodyLen: bx.I32At(hdr[:], 0),
			typ:     RecordType(hdr[lenFieldSize]),
			txID:    bx.I64At(hdr[:], lenFieldSize+1),
		}
		if e.bodyLen < bodyHdrSize {
			zero, err := zeroFrom(r, off, size)
			if err != nil {
				return res, err
			}
			if zero {
				res.torn = true
				break
			}
			return res, errors.Wrapf(ErrBadRecord, "length %d at offset %d", e.bodyLen, off)
		}
		next := off + lenFieldSize + int64(e.bodyLen)
		if next > size {
			res.torn = true
			break
		}
		if !e.typ.valid() {
			return res, errors.Wrapf(ErrBadRecord, "type %d at offset %d", uint8(e.typ), off)
		}
		if fn != nil {
			if err := fn(e); err != nil {
				return res, err
			}
		}
		res.records++
		off = next
		res.validEnd = off
	}
	return res, nil
}

// zeroFrom reports whether every byte in [off, size) is zero.
func zeroFrom(r io.ReaderAt, off, size int64) (bool, error) {
	var chunk [4096]byte
	for off < size {
		n := int64(len(chunk))
		if size-off < n {
			n = size - off
		}
		if _, err := r.ReadAt(chunk[:n], off); err != nil {
			return false, errors.Wrapf(err, "wal: read tail at %d", off)
		}
		for _, b := range chunk[:n] {
			if b != 0 {
				return false, nil
			}
		}
		off += n
	}
	return true, nil
}
