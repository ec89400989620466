package heap

import (
	"github.com/pkg/errors"

	"github.com/tuannm99/redodb/internal/alias/bx"
	"github.com/tuannm99/redodb/internal/storage"
)

// Slotted page layout (all ints are big-endian int32):
//
// +----------------------+ 0
// | slot count N         |
// +----------------------+ 4
// | [len][payload] ...   |  records grow forward
// +----------------------+ <-- high-water mark
// |      free space      |
// +----------------------+ <-- PageSize - 4*N
// | slot N-1 ... slot 0  |  slot i at PageSize - 4*(i+1) holds a record offset
// +----------------------+ PageSize
//
// len == 0 marks a tombstone. Tombstoned bytes are never reused except when
// they sit at the very end of the record area.
const (
	HeaderSize    = 4
	SlotSize      = 4
	LenPrefixSize = 4

	// MaxRecordSize is the largest payload an empty page can take.
	MaxRecordSize = storage.PageSize - HeaderSize - SlotSize - LenPrefixSize
)

var (
	ErrNoSpace        = errors.New("heap: not enough free space in page")
	ErrCorruption     = errors.New("heap: corrupt slot or record bounds")
	ErrRecordDeleted  = errors.WithMessage(storage.ErrInvalidOperation, "heap: record is deleted")
	ErrRecordTooLarge = errors.WithMessage(storage.ErrInvalidOperation, "heap: record larger than page capacity")

	// a zero length would read back as a tombstone
	errEmptyRecord = errors.WithMessage(storage.ErrInvalidOperation, "heap: empty record")
)

// HeapPage interprets a page buffer with the slotted layout. It does not
// copy: changes go straight into the cached page bytes.
type HeapPage struct {
	buf []byte
}

func NewHeapPage(p *storage.Page) HeapPage { return HeapPage{buf: p.Data} }

func (hp HeapPage) NumSlots() int { return int(bx.I32At(hp.buf, 0)) }

func (hp HeapPage) setNumSlots(n int) { bx.PutI32At(hp.buf, 0, int32(n)) }

func slotPos(i int) int { return storage.PageSize - SlotSize*(i+1) }

func (hp HeapPage) slotOffset(i int) int { return int(bx.I32At(hp.buf, slotPos(i))) }

// slotDirStart is the low-water mark of the slot directory.
func (hp HeapPage) slotDirStart() int { return storage.PageSize - SlotSize*hp.NumSlots() }

// highWater is the end of the furthest record, tombstones included.
func (hp HeapPage) highWater() (int, error) {
	hw := HeaderSize
	n := hp.NumSlots()
	limit := hp.slotDirStart()
	for i := 0; i < n; i++ {
		off := hp.slotOffset(i)
		if off < HeaderSize || off+LenPrefixSize > limit {
			return 0, errors.Wrapf(ErrCorruption, "slot %d offset %d", i, off)
		}
		l := int(bx.I32At(hp.buf, off))
		end := off + LenPrefixSize + l
		if l < 0 || end > limit {
			return 0, errors.Wrapf(ErrCorruption, "slot %d length %d", i, l)
		}
		if end > hw {
			hw = end
		}
	}
	return hw, nil
}

// FreeSpace is the gap between the record high-water mark and the slot
// directory.
func (hp HeapPage) FreeSpace() (int, error) {
	hw, err := hp.highWater()
	if err != nil {
		return 0, err
	}
	return hp.slotDirStart() - hw, nil
}

// Fits reports whether a payload of n bytes plus its prefix and slot fits.
func (hp HeapPage) Fits(n int) (bool, error) {
	free, err := hp.FreeSpace()
	if err != nil {
		return false, err
	}
	return free >= LenPrefixSize+n+SlotSize, nil
}

// Insert appends rec after the high-water mark, adds a slot and returns the
// record offset.
func (hp HeapPage) Insert(rec []byte) (int, error) {
	if len(rec) > MaxRecordSize {
		return -1, ErrRecordTooLarge
	}
	if len(rec) == 0 {
		return -1, errEmptyRecord
	}
	hw, err := hp.highWater()
	if err != nil {
		return -1, err
	}
	n := hp.NumSlots()
	if hp.slotDirStart()-hw < LenPrefixSize+len(rec)+SlotSize {
		return -1, ErrNoSpace
	}

	bx.PutI32At(hp.buf, hw, int32(len(rec)))
	copy(hp.buf[hw+LenPrefixSize:], rec)
	bx.PutI32At(hp.buf, slotPos(n), int32(hw))
	hp.setNumSlots(n + 1)
	return hw, nil
}

func (hp HeapPage) checkOffset(off int) error {
	if off < HeaderSize || off+LenPrefixSize > hp.slotDirStart() {
		return errors.Wrapf(ErrCorruption, "offset %d", off)
	}
	return nil
}

// Read returns the live payload at off. The slice aliases the page.
func (hp HeapPage) Read(off int) ([]byte, error) {
	if err := hp.checkOffset(off); err != nil {
		return nil, err
	}
	l := int(bx.I32At(hp.buf, off))
	if l == 0 {
		return nil, ErrRecordDeleted
	}
	if l < 0 || off+LenPrefixSize+l > hp.slotDirStart() {
		return nil, errors.Wrapf(ErrCorruption, "length %d at offset %d", l, off)
	}
	return hp.buf[off+LenPrefixSize : off+LenPrefixSize+l], nil
}

// Overwrite replaces the payload at off in place; rec must not be longer
// than the current payload.
func (hp HeapPage) Overwrite(off int, rec []byte) error {
	cur, err := hp.Read(off)
	if err != nil {
		return err
	}
	if len(rec) > len(cur) {
		return ErrNoSpace
	}
	if len(rec) == 0 {
		return errEmptyRecord
	}
	bx.PutI32At(hp.buf, off, int32(len(rec)))
	copy(hp.buf[off+LenPrefixSize:], rec)
	return nil
}

// Tombstone marks the record at off deleted.
func (hp HeapPage) Tombstone(off int) error {
	if _, err := hp.Read(off); err != nil {
		return err
	}
	bx.PutI32At(hp.buf, off, 0)
	return nil
}

// ForEach visits live records in slot order.
func (hp HeapPage) ForEach(fn func(off int, payload []byte) error) error {
	for i := 0; i < hp.NumSlots(); i++ {
		off := hp.slotOffset(i)
		payload, err := hp.Read(off)
		if errors.Is(err, ErrRecordDeleted) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(off, payload); err != nil {
			return err
		}
	}
	return nil
}
