// Package fixedpage implements the fixed-length record layout used by
// the hash index's bucket-address-table and overflow files (through
// hashindex's fixedTable): every record in a page has the same width, and free slots are
// linked into an intrusive free list.
package fixedpage

import (
	"encoding/binary"

	"github.com/klundeen/cpsc5300go/dberr"
)

// headPointerSize is the width of the free-list head pointer stored at
// the start of the block, and of the next-pointer stored in a free slot.
const headPointerSize = 2

// Page manages one in-memory block laid out as a sequence of
// fixed-length records. Record ids are 0-based slot numbers.
type Page struct {
	data       []byte
	recordLen  uint32
	maxRecords uint16
}

func maxRecords(blockSize, recordLen uint32) uint16 {
	return uint16((blockSize - headPointerSize) / recordLen)
}

func offset(id uint16, recordLen uint32) uint32 {
	return uint32(id)*recordLen + headPointerSize
}

// New creates an empty fixed-length page with every slot threaded onto
// the free list in ascending order.
func New(blockSize, recordLen uint32) *Page {
	p := &Page{
		data:       make([]byte, blockSize),
		recordLen:  recordLen,
		maxRecords: maxRecords(blockSize, recordLen),
	}
	if p.maxRecords == 0 {
		panic("fixedpage: record length larger than block size")
	}
	binary.BigEndian.PutUint16(p.data[0:2], 0)
	for id := uint16(0); id < p.maxRecords; id++ {
		next := id + 1
		off := offset(id, recordLen)
		binary.BigEndian.PutUint16(p.data[off:off+headPointerSize], next)
	}
	return p
}

// Load wraps an existing block's bytes as a fixed-length page.
func Load(data []byte, recordLen uint32) *Page {
	p := &Page{
		data:       make([]byte, len(data)),
		recordLen:  recordLen,
		maxRecords: maxRecords(uint32(len(data)), recordLen),
	}
	copy(p.data, data)
	return p
}

// Bytes returns the current block contents.
func (p *Page) Bytes() []byte {
	return p.data
}

func (p *Page) head() uint16 {
	return binary.BigEndian.Uint16(p.data[0:2])
}

func (p *Page) setHead(id uint16) {
	binary.BigEndian.PutUint16(p.data[0:2], id)
}

func (p *Page) next(id uint16) uint16 {
	off := offset(id, p.recordLen)
	return binary.BigEndian.Uint16(p.data[off : off+headPointerSize])
}

func (p *Page) setNext(id, next uint16) {
	off := offset(id, p.recordLen)
	binary.BigEndian.PutUint16(p.data[off:off+headPointerSize], next)
}

func (p *Page) isFree(id uint16) bool {
	for cur := p.head(); cur < p.maxRecords; cur = p.next(cur) {
		if cur == id {
			return true
		}
	}
	return false
}

// Add pops the head of the free list and writes data into it. Fails with
// dberr.NoRoom when the free list is exhausted.
func (p *Page) Add(data []byte) (uint16, error) {
	id := p.head()
	if id >= p.maxRecords {
		return 0, dberr.New(dberr.NoRoom)
	}
	off := offset(id, p.recordLen)
	next := p.next(id)
	copy(p.data[off:off+p.recordLen], data)
	p.setHead(next)
	return id, nil
}

// Get returns the record at id, or nil if id is on the free list.
func (p *Page) Get(id uint16) []byte {
	if p.isFree(id) {
		return nil
	}
	off := offset(id, p.recordLen)
	out := make([]byte, p.recordLen)
	copy(out, p.data[off:off+p.recordLen])
	return out
}

// Delete pushes id onto the front of the free list. A no-op if id is
// already free.
func (p *Page) Delete(id uint16) {
	if p.isFree(id) {
		return
	}
	next := p.head()
	p.setNext(id, next)
	p.setHead(id)
}

// Put overwrites the record at id in place. id must be live.
func (p *Page) Put(id uint16, data []byte) {
	off := offset(id, p.recordLen)
	copy(p.data[off:off+p.recordLen], data)
}

// Ids returns all live (non-free) ids in ascending order.
func (p *Page) Ids() []uint16 {
	var ids []uint16
	for id := uint16(0); id < p.maxRecords; id++ {
		if !p.isFree(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// MaxRecords returns the slot capacity of this page.
func (p *Page) MaxRecords() uint16 {
	return p.maxRecords
}
