// Package pagestore implements the fixed-size block file that every other
// storage package in this module is built on: a record-number file where
// record number equals block id, backed by a memory-mapped region so reads
// and coalesced writes don't round-trip through the page cache on every
// call.
package pagestore

import (
	"iter"
	"os"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/mmap"
)

// DefaultBlockSize is used when a caller doesn't specify one.
const DefaultBlockSize = 4096

// reservedSlots is the number of block-sized slots reserved at the start
// of the file before block id 1 (slot 0 is never addressed — "block 0 is
// never used").
const reservedSlots = 1

// PageStore is a fixed-size block file. Block ids are assigned
// sequentially starting at 1 by GetNew; block 0 is never used.
type PageStore struct {
	path      string
	blockSize uint32

	file *os.File
	mm   *mmap.Map

	last   uint32 // highest allocated block id
	closed bool

	writeDepth int
	dirty      map[uint32][]byte
}

// New returns a PageStore for the block file at path. Neither Create nor
// Open has been called yet.
func New(path string, blockSize uint32) *PageStore {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &PageStore{
		path:      path,
		blockSize: blockSize,
		closed:    true,
		dirty:     make(map[uint32][]byte),
	}
}

func (s *PageStore) offset(id uint32) int64 {
	return int64(id) * int64(s.blockSize)
}

func (s *PageStore) fileSize(last uint32) int64 {
	return int64(last+reservedSlots) * int64(s.blockSize)
}

// Create makes a new block file exclusively (fails with dberr.Exists if the
// file is already there) and installs block 1, empty.
func (s *PageStore) Create() error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return dberr.Wrap(dberr.Exists, err)
		}
		return dberr.Wrap(dberr.Invalid, err)
	}
	s.last = 1
	size := s.fileSize(s.last)
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(s.path)
		return dberr.Wrap(dberr.Invalid, err)
	}
	mm, err := mmap.New(int(f.Fd()), 0, int(size), true)
	if err != nil {
		f.Close()
		os.Remove(s.path)
		return dberr.Wrap(dberr.Invalid, err)
	}
	s.file = f
	s.mm = mm
	s.closed = false
	return nil
}

// Open opens an existing block file. Fails with dberr.NoSuchFile if it
// doesn't exist.
func (s *PageStore) Open() error {
	if !s.closed {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return dberr.Wrap(dberr.NoSuchFile, err)
		}
		return dberr.Wrap(dberr.Invalid, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return dberr.Wrap(dberr.Invalid, err)
	}
	size := fi.Size()
	if size < int64(s.blockSize) {
		f.Close()
		return dberr.Newf(dberr.Invalid, "block file %s is smaller than one block", s.path)
	}
	mm, err := mmap.New(int(f.Fd()), 0, int(size), true)
	if err != nil {
		f.Close()
		return dberr.Wrap(dberr.Invalid, err)
	}
	s.last = uint32(size/int64(s.blockSize)) - reservedSlots
	s.file = f
	s.mm = mm
	s.closed = false
	return nil
}

// Close flushes any pending coalesced writes and releases the file handle.
// Idempotent.
func (s *PageStore) Close() error {
	if s.closed {
		return nil
	}
	s.writeDepth = 1
	s.EndWrite()
	var err error
	if s.mm != nil {
		if syncErr := s.mm.Sync(); syncErr == nil || err == nil {
			err = syncErr
		}
		if closeErr := s.mm.Close(); err == nil {
			err = closeErr
		}
		s.mm = nil
	}
	if s.file != nil {
		if closeErr := s.file.Close(); err == nil {
			err = closeErr
		}
		s.file = nil
	}
	s.closed = true
	if err != nil {
		return dberr.Wrap(dberr.Invalid, err)
	}
	return nil
}

// Delete closes the store (if open) and unlinks the underlying file.
func (s *PageStore) Delete() error {
	if err := s.Open(); err != nil {
		if dberr.Is(err, dberr.NoSuchFile) {
			return err
		}
	}
	s.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return dberr.Wrap(dberr.Invalid, err)
	}
	return nil
}

// Get returns a private copy of the given block. If a coalesced write is in
// progress and the block is dirty, the dirty copy is returned.
func (s *PageStore) Get(id uint32) (*Block, error) {
	if s.closed {
		return nil, dberr.New(dberr.Invalid)
	}
	if id < 1 || id > s.last {
		return nil, dberr.Newf(dberr.NotFound, "block %d out of range", id)
	}
	if data, ok := s.dirty[id]; ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		return &Block{ID: id, Data: cp}, nil
	}
	off := s.offset(id)
	data := make([]byte, s.blockSize)
	copy(data, s.mm.Data()[off:off+int64(s.blockSize)])
	return &Block{ID: id, Data: data}, nil
}

// GetNew allocates a new, empty block with id last+1 and advances last.
func (s *PageStore) GetNew() (*Block, error) {
	if s.closed {
		return nil, dberr.New(dberr.Invalid)
	}
	newLast := s.last + 1
	if err := s.growTo(newLast); err != nil {
		return nil, err
	}
	s.last = newLast
	return &Block{ID: newLast, Data: make([]byte, s.blockSize)}, nil
}

// growTo ensures the file and mapping cover block id last.
func (s *PageStore) growTo(last uint32) error {
	need := s.fileSize(last)
	if need <= s.mm.Size() {
		return nil
	}
	if err := s.file.Truncate(need); err != nil {
		return dberr.Wrap(dberr.Invalid, err)
	}
	if err := s.mm.Remap(need); err != nil {
		return dberr.Wrap(dberr.Invalid, err)
	}
	return nil
}

// Put signals that block should be written back. If write-coalescing is
// off (writeDepth == 0), the write happens immediately; otherwise it is
// buffered in the dirty map until EndWrite.
func (s *PageStore) Put(block *Block) error {
	if s.closed {
		return dberr.New(dberr.Invalid)
	}
	if block.ID < 1 || block.ID > s.last {
		return dberr.Newf(dberr.NotFound, "block %d out of range", block.ID)
	}
	cp := make([]byte, s.blockSize)
	copy(cp, block.Data)
	if s.writeDepth > 0 {
		s.dirty[block.ID] = cp
		return nil
	}
	return s.writeThrough(block.ID, cp)
}

func (s *PageStore) writeThrough(id uint32, data []byte) error {
	off := s.offset(id)
	copy(s.mm.Data()[off:off+int64(s.blockSize)], data)
	return nil
}

// BeginWrite starts (or nests into) a coalesced-write critical section and
// returns the new depth.
func (s *PageStore) BeginWrite() int {
	s.writeDepth++
	return s.writeDepth
}

// EndWrite ends (or un-nests from) a coalesced-write critical section. When
// the depth returns to zero, all dirty blocks are flushed to the mapping
// and the dirty map is cleared. Returns the new depth.
func (s *PageStore) EndWrite() int {
	if s.writeDepth > 0 {
		s.writeDepth--
	}
	if s.writeDepth == 0 && len(s.dirty) > 0 {
		for id, data := range s.dirty {
			s.writeThrough(id, data)
		}
		s.dirty = make(map[uint32][]byte)
	}
	return s.writeDepth
}

// Last returns the highest allocated block id.
func (s *PageStore) Last() uint32 {
	return s.last
}

// BlockIDs returns the lazy sequence 1..=last.
func (s *PageStore) BlockIDs() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for id := uint32(1); id <= s.last; id++ {
			if !yield(id) {
				return
			}
		}
	}
}

// Stats is a read-only snapshot for observability.
type Stats struct {
	NumBlocks  uint32
	BlockSize  uint32
	DirtyCount int
}

// Stat returns a snapshot of the store's current state.
func (s *PageStore) Stat() Stats {
	return Stats{NumBlocks: s.last, BlockSize: s.blockSize, DirtyCount: len(s.dirty)}
}

// BlockSize returns the fixed block size for this store.
func (s *PageStore) BlockSize() uint32 {
	return s.blockSize
}
