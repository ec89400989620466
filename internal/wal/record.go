package wal

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/tuannm99/redodb/internal/alias/bx"
)

// RecordType tags a WAL record. The numeric values are the on-disk type byte.
type RecordType uint8

const (
	RecBegin  RecordType = 1
	RecUpdate RecordType = 2
	RecCommit RecordType = 3
	RecAbort  RecordType = 4
)

func (t RecordType) String() string {
	switch t {
	case RecBegin:
		return "BEGIN"
	case RecUpdate:
		return "UPDATE"
	case RecCommit:
		return "COMMIT"
	case RecAbort:
		return "ABORT"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

func (t RecordType) valid() bool { return t >= RecBegin && t <= RecAbort }

// On-disk layout (big-endian):
//
//	len:int32 | type:byte | txId:int64 | payload[len-9]
//
// len counts type, txId and payload but not itself.
const (
	lenFieldSize = 4
	bodyHdrSize  = 1 + 8 // type + txId
	HeaderSize   = lenFieldSize + bodyHdrSize
)

// UpdatePayload carries whole-page images:
//
//	pageId:int32 | beforeLen:int32 | before | afterLen:int32 | after
type UpdatePayload struct {
	PageID int32
	Before []byte
	After  []byte
}

func (u *UpdatePayload) size() int { return 4 + 4 + len(u.Before) + 4 + len(u.After) }

// Record is the tagged variant read from and written to the log. Update is
// set only when Type == RecUpdate.
type Record struct {
	Type   RecordType
	TxID   int64
	Update *UpdatePayload
}

func (r *Record) payloadSize() int {
	if r.Type == RecUpdate && r.Update != nil {
		return r.Update.size()
	}
	return 0
}

// Encode serializes r including its length prefix.
func (r *Record) Encode() ([]byte, error) {
	if !r.Type.valid() {
		return nil, errors.Wrapf(ErrBadRecord, "encode %s", r.Type)
	}
	if r.Type == RecUpdate && r.Update == nil {
		return nil, errors.Wrap(ErrBadRecord, "encode UPDATE without payload")
	}

	bodyLen := bodyHdrSize + r.payloadSize()
	buf := make([]byte, lenFieldSize+bodyLen)
	off := 0

	putI32 := func(v int32) { bx.PutI32At(buf, off, v); off += 4 }
	putI64 := func(v int64) { bx.PutI64At(buf, off, v); off += 8 }
	putU8 := func(v uint8) { buf[off] = v; off++ }
	putBytes := func(b []byte) { putI32(int32(len(b))); off += copy(buf[off:], b) }

	putI32(int32(bodyLen))
	putU8(uint8(r.Type))
	putI64(r.TxID)

	if r.Type == RecUpdate {
		putI32(r.Update.PageID)
		putBytes(r.Update.Before)
		putBytes(r.Update.After)
	}

	if off != len(buf) {
		return nil, ErrBadRecord
	}
	return buf, nil
}

// Decode parses one record from the front of buf and reports how many
// bytes it took. A buffer that ends inside the record yields
// io.ErrUnexpectedEOF.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < HeaderSize {
		return Record{}, 0, errors.Wrap(io.ErrUnexpectedEOF, "wal: decode header")
	}
	bodyLen := bx.I32At(buf, 0)
	if bodyLen < bodyHdrSize {
		return Record{}, 0, errors.Wrapf(ErrBadRecord, "length %d", bodyLen)
	}
	n := lenFieldSize + int(bodyLen)
	if n > len(buf) {
		return Record{}, 0, errors.Wrapf(io.ErrUnexpectedEOF, "wal: record needs %d bytes, have %d", n, len(buf))
	}

	rec := Record{
		Type: RecordType(buf[lenFieldSize]),
		TxID: bx.I64At(buf, lenFieldSize+1),
	}
	if !rec.Type.valid() {
		return Record{}, 0, errors.Wrapf(ErrBadRecord, "type %d", uint8(rec.Type))
	}
	if rec.Type == RecUpdate {
		upd, err := decodeUpdate(buf[HeaderSize:n])
		if err != nil {
			return Record{}, 0, err
		}
		rec.Update = upd
	}
	return rec, n, nil
}

// decodeUpdate parses an UPDATE payload.
func decodeUpdate(payload []byte) (*UpdatePayload, error) {
	off := 0
	getI32 := func() (int32, error) {
		if off+4 > len(payload) {
			return 0, errors.Wrap(ErrBadRecord, "update payload truncated")
		}
		v := bx.I32At(payload, off)
		off += 4
		return v, nil
	}
	getBytes := func() ([]byte, error) {
		n, err := getI32()
		if err != nil {
			return nil, err
		}
		if n < 0 || off+int(n) > len(payload) {
			return nil, errors.Wrapf(ErrBadRecord, "image length %d exceeds payload", n)
		}
		b := make([]byte, n)
		copy(b, payload[off:off+int(n)])
		off += int(n)
		return b, nil
	}

	pageID, err := getI32()
	if err != nil {
		return nil, err
	}
	before, err := getBytes()
	if err != nil {
		return nil, err
	}
	after, err := getBytes()
	if err != nil {
		return nil, err
	}
	return &UpdatePayload{PageID: pageID, Before: before, After: after}, nil
}
