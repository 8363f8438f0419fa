// Package slotted implements the variable-length record layout used by
// heap tables and the hash index's bucket file: several records packed
// into one fixed-size block, modeled after the slotted-page design in
// Database Systems Concepts, 6ed, Figure 10-9.
package slotted

import (
	"encoding/binary"

	"github.com/klundeen/cpsc5300go/dberr"
)

// headerEntrySize is the width in bytes of one (size, loc) pair, and also
// of the block header itself (record id 0 aliases the block header).
const headerEntrySize = 4

// Page manages one in-memory block laid out as a slotted page. Record
// ids are handed out sequentially starting at 1 as records are added.
type Page struct {
	data       []byte
	blockSize  uint32
	numRecords uint16
	endFree    uint16
}

// New creates an empty slotted page over a fresh, zeroed block of the
// given size.
func New(blockSize uint32) *Page {
	p := &Page{
		data:      make([]byte, blockSize),
		blockSize: blockSize,
		endFree:   uint16(blockSize - 1),
	}
	p.putHeader(0, p.numRecords, p.endFree)
	return p
}

// Load wraps an existing block's bytes as a slotted page, reading the
// header to recover num_records and end_free. The returned Page shares
// no memory with data.
func Load(data []byte) *Page {
	p := &Page{
		data:      make([]byte, len(data)),
		blockSize: uint32(len(data)),
	}
	copy(p.data, data)
	p.numRecords, p.endFree = p.getHeader(0)
	return p
}

// Bytes returns the current block contents. The caller must not retain a
// reference across further mutation of the page.
func (p *Page) Bytes() []byte {
	return p.data
}

func (p *Page) get2(off uint16) uint16 {
	return binary.BigEndian.Uint16(p.data[off : off+2])
}

func (p *Page) put2(off uint16, v uint16) {
	binary.BigEndian.PutUint16(p.data[off:off+2], v)
}

// getHeader returns (size, loc) for recordID; recordID 0 is the block
// header itself (num_records, end_free).
func (p *Page) getHeader(recordID uint16) (uint16, uint16) {
	off := headerEntrySize * recordID
	return p.get2(off), p.get2(off + 2)
}

// putHeader stores (size, loc) for recordID; recordID 0 writes num_records
// and end_free.
func (p *Page) putHeader(recordID, size, loc uint16) {
	off := headerEntrySize * recordID
	p.put2(off, size)
	p.put2(off+2, loc)
}

func (p *Page) hasRoom(size int) bool {
	available := int(p.endFree) - int(p.numRecords+2)*headerEntrySize
	return size <= available
}

// Add appends a new record and returns its id. Fails with dberr.NoRoom if
// the record plus its header entry doesn't fit.
func (p *Page) Add(data []byte) (uint16, error) {
	if !p.hasRoom(len(data) + headerEntrySize) {
		return 0, dberr.New(dberr.NoRoom)
	}
	p.numRecords++
	recordID := p.numRecords
	size := uint16(len(data))
	p.endFree -= size
	loc := p.endFree + 1
	p.putHeader(0, p.numRecords, p.endFree)
	p.putHeader(recordID, size, loc)
	copy(p.data[loc:loc+size], data)
	return recordID, nil
}

// Get returns the bytes for recordID, or nil if it has been deleted
// (tombstoned).
func (p *Page) Get(recordID uint16) []byte {
	size, loc := p.getHeader(recordID)
	if loc == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, p.data[loc:loc+size])
	return out
}

// Delete tombstones recordID (size=0, loc=0) and compacts the space it
// held, without ever reusing or renumbering ids.
func (p *Page) Delete(recordID uint16) {
	size, loc := p.getHeader(recordID)
	p.putHeader(recordID, 0, 0)
	p.slide(loc, loc+size)
}

// Put replaces the record's data in place, sliding neighboring records to
// grow or shrink the slot as needed. Fails with dberr.NoRoom if new,
// larger data doesn't fit.
func (p *Page) Put(recordID uint16, data []byte) error {
	size, loc := p.getHeader(recordID)
	newSize := uint16(len(data))
	if newSize > size {
		extra := newSize - size
		if !p.hasRoom(int(extra)) {
			return dberr.New(dberr.NoRoom)
		}
		p.slide(loc, loc-extra)
		copy(p.data[loc-extra:loc+size], data)
	} else {
		copy(p.data[loc:loc+newSize], data)
		p.slide(loc+newSize, loc+size)
	}
	_, loc = p.getHeader(recordID)
	p.putHeader(recordID, newSize, loc)
	return nil
}

// Ids returns all non-tombstoned record ids in insertion order.
func (p *Page) Ids() []uint16 {
	var ids []uint16
	for i := uint16(1); i <= p.numRecords; i++ {
		if _, loc := p.getHeader(i); loc != 0 {
			ids = append(ids, i)
		}
	}
	return ids
}

// Clear deletes all records and resets the page to empty.
func (p *Page) Clear() {
	p.numRecords = 0
	p.endFree = uint16(p.blockSize - 1)
	p.putHeader(0, p.numRecords, p.endFree)
}

// slide removes or opens up space in [start, end): if start < end, bytes
// left of start slide right to cover the gap; if start > end, bytes left
// of start slide left to make room. Headers of any record whose loc was
// at or left of start are fixed up to follow the shift. Assumes the
// caller already verified there is room for a left shift.
func (p *Page) slide(start, end uint16) {
	shift := int(end) - int(start)
	if shift == 0 {
		return
	}
	copy(p.data[int(p.endFree)+1+shift:int(end)], p.data[int(p.endFree)+1:int(start)])
	for _, recordID := range p.Ids() {
		size, loc := p.getHeader(recordID)
		if loc <= start {
			loc = uint16(int(loc) + shift)
			p.putHeader(recordID, size, loc)
		}
	}
	p.endFree = uint16(int(p.endFree) + shift)
	p.putHeader(0, p.numRecords, p.endFree)
}
