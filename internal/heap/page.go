package heap

import (
	"encoding/binary"
	"errors"
)

// Header offsets
const (
	offFlags   = 0
	offPageID  = 2
	offLower   = 6
	offUpper   = 8
	offSpecial = 10

	headerSize = 12
	slotSize   = 6

	// special space at the tail of every data page: next page id + padding
	specialSize = 8
)

// Slot flags
const (
	slotFlagNormal  uint16 = 0
	slotFlagDeleted uint16 = 1 << 0
)

var (
	ErrTupleTooLarge = errors.New("heap: tuple too large for one page")
	ErrNoSpace       = errors.New("heap: not enough free space")
	ErrBadSlot       = errors.New("heap: invalid slot")
	ErrCorruption    = errors.New("heap: corrupt slot or tuple bounds")
)

type slot struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

// +------------------+ 0
// | PageHeaderData   |
// | Slots[]          | <-- lower
// +------------------+
// |   Free space     |
// +------------------+ <-- upper
// |  Tuple Data      |
// |  (grows down)    |
// +------------------+ <-- special
// |  next page id    |
// +------------------+ page size
type page struct {
	Buf []byte
}

func wrapPage(buf []byte) *page { return &page{Buf: buf} }

func (p *page) init(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	binary.LittleEndian.PutUint32(p.Buf[offPageID:], pageID)
	p.setLower(headerSize)
	p.setUpper(uint16(len(p.Buf) - specialSize))
	p.setSpecial(uint16(len(p.Buf) - specialSize))
}

func (p *page) isUninitialized() bool {
	return p.lower() == 0 && p.upper() == 0
}

func (p *page) lower() uint16     { return binary.LittleEndian.Uint16(p.Buf[offLower:]) }
func (p *page) setLower(v uint16) { binary.LittleEndian.PutUint16(p.Buf[offLower:], v) }
func (p *page) upper() uint16     { return binary.LittleEndian.Uint16(p.Buf[offUpper:]) }
func (p *page) setUpper(v uint16) { binary.LittleEndian.PutUint16(p.Buf[offUpper:], v) }
func (p *page) special() uint16   { return binary.LittleEndian.Uint16(p.Buf[offSpecial:]) }
func (p *page) setSpecial(v uint16) {
	binary.LittleEndian.PutUint16(p.Buf[offSpecial:], v)
}

func (p *page) nextPage() uint32 {
	return binary.LittleEndian.Uint32(p.Buf[int(p.special()):])
}

func (p *page) setNextPage(pid uint32) {
	binary.LittleEndian.PutUint32(p.Buf[int(p.special()):], pid)
}

func (p *page) freeSpace() int { return int(p.upper() - p.lower()) }
func (p *page) numSlots() int  { return int(p.lower()-headerSize) / slotSize }

// maxTupleLen is the largest tuple a fresh page of this size can hold.
func maxTupleLen(pageSize int) int {
	return pageSize - headerSize - slotSize - specialSize
}

func (p *page) slotOff(idx int) int { return headerSize + idx*slotSize }

func (p *page) getSlot(i int) (slot, error) {
	if i < 0 || i >= p.numSlots() {
		return slot{}, ErrBadSlot
	}
	o := p.slotOff(i)
	return slot{
		Offset: binary.LittleEndian.Uint16(p.Buf[o+0:]),
		Length: binary.LittleEndian.Uint16(p.Buf[o+2:]),
		Flags:  binary.LittleEndian.Uint16(p.Buf[o+4:]),
	}, nil
}

func (p *page) putSlot(idx int, s slot) error {
	if idx < 0 || idx > p.numSlots() {
		return ErrBadSlot
	}
	o := p.slotOff(idx)
	if o+slotSize > len(p.Buf) {
		return ErrCorruption
	}
	binary.LittleEndian.PutUint16(p.Buf[o+0:], s.Offset)
	binary.LittleEndian.PutUint16(p.Buf[o+2:], s.Length)
	binary.LittleEndian.PutUint16(p.Buf[o+4:], s.Flags)
	return nil
}

func (p *page) isLiveSlot(i int) (bool, error) {
	s, err := p.getSlot(i)
	if err != nil {
		return false, err
	}
	return s.Flags == slotFlagNormal && s.Offset != 0 && s.Length != 0, nil
}

// insertTuple copies tup into the page and appends a slot for it.
func (p *page) insertTuple(tup []byte) (int, error) {
	if len(tup) > maxTupleLen(len(p.Buf)) {
		return -1, ErrTupleTooLarge
	}
	if p.freeSpace() < len(tup)+slotSize {
		return -1, ErrNoSpace
	}
	u := int(p.upper()) - len(tup)
	copy(p.Buf[u:], tup)
	p.setUpper(uint16(u))

	i := p.numSlots()
	if err := p.putSlot(i, slot{Offset: uint16(u), Length: uint16(len(tup)), Flags: slotFlagNormal}); err != nil {
		return -1, err
	}
	p.setLower(p.lower() + slotSize)
	return i, nil
}

func (p *page) readTuple(i int) ([]byte, error) {
	s, err := p.getSlot(i)
	if err != nil {
		return nil, err
	}
	if s.Flags != slotFlagNormal {
		return nil, ErrBadSlot
	}
	if s.Offset == 0 || s.Length == 0 {
		return nil, ErrCorruption
	}
	start, end := int(s.Offset), int(s.Offset)+int(s.Length)
	if start < int(p.upper()) || end > int(p.special()) {
		return nil, ErrCorruption
	}
	return p.Buf[start:end], nil
}

// updateTupleInPlace overwrites the slot's tuple when the new encoding
// shrinks or keeps its size; larger tuples must be relocated by the caller.
func (p *page) updateTupleInPlace(i int, tup []byte) error {
	s, err := p.getSlot(i)
	if err != nil {
		return err
	}
	if s.Flags != slotFlagNormal || s.Offset == 0 || s.Length == 0 {
		return ErrBadSlot
	}
	if len(tup) > int(s.Length) {
		return ErrNoSpace
	}
	copy(p.Buf[int(s.Offset):], tup)
	return p.putSlot(i, slot{Offset: s.Offset, Length: uint16(len(tup)), Flags: slotFlagNormal})
}

// deleteTuple tombstones the slot. The space is not compacted and the slot
// index is never reused.
func (p *page) deleteTuple(i int) error {
	if _, err := p.getSlot(i); err != nil {
		return err
	}
	return p.putSlot(i, slot{Offset: 0, Length: 0, Flags: slotFlagDeleted})
}
