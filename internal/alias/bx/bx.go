// stand for bytes helper
//
// Every on-disk integer in redodb (WAL headers, UPDATE payloads, slotted heap
// pages, tuple fields) is big-endian, so only BE helpers live here.
package bx

import "encoding/binary"

var BE = binary.BigEndian

// --- BE: read ---
func U32(b []byte) uint32 { return BE.Uint32(b) }
func U64(b []byte) uint64 { return BE.Uint64(b) }
func I32(b []byte) int32  { return int32(U32(b)) }
func I64(b []byte) int64  { return int64(U64(b)) }

// --- BE: write ---
func PutU32(b []byte, v uint32) { BE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { BE.PutUint64(b, v) }
func PutI32(b []byte, v int32)  { PutU32(b, uint32(v)) }
func PutI64(b []byte, v int64)  { PutU64(b, uint64(v)) }

// --- BE: At (offset) ---
func I32At(b []byte, off int) int32       { return I32(b[off:]) }
func I64At(b []byte, off int) int64       { return I64(b[off:]) }
func PutI32At(b []byte, off int, v int32) { PutI32(b[off:], v) }
func PutI64At(b []byte, off int, v int64) { PutI64(b[off:], v) }
