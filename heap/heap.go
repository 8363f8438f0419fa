// Package heap implements HeapTable: a Relation built on pagestore and
// slotted, the way HeapFile/HeapTable are layered in the storage engine
// this module is modeled on. Rows are appended to the last block until
// it runs out of room, then a fresh block is allocated.
package heap

import (
	"iter"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/pagestore"
	"github.com/klundeen/cpsc5300go/schema"
	"github.com/klundeen/cpsc5300go/slotted"
)

// Handle identifies one row in a heap table: the block it lives in and
// its slotted-page record id within that block.
type Handle struct {
	BlockID  uint32
	RecordID uint16
}

// Table is a Relation storing rows of Columns in a PageStore of slotted
// pages.
type Table struct {
	store   *pagestore.PageStore
	columns []schema.Column
}

// New creates a Table over the block file at path, ready for Create,
// Open or CreateIfNotExists.
func New(path string, blockSize uint32, columns []schema.Column) *Table {
	return &Table{
		store:   pagestore.New(path, blockSize),
		columns: columns,
	}
}

// Create makes the underlying file and installs a properly initialized
// empty first block (PageStore.Create only zero-fills it, which is not
// a valid slotted-page header).
func (t *Table) Create() error {
	if err := t.store.Create(); err != nil {
		return err
	}
	return t.savePage(t.store.Last(), slotted.New(t.store.BlockSize()))
}

// Open opens an existing table file.
func (t *Table) Open() error {
	return t.store.Open()
}

// Close closes the table file, flushing any pending coalesced writes.
func (t *Table) Close() error {
	return t.store.Close()
}

// CreateIfNotExists opens the table, or creates it if it doesn't exist
// yet.
func (t *Table) CreateIfNotExists() error {
	err := t.Open()
	if err == nil {
		return nil
	}
	if dberr.Is(err, dberr.NoSuchFile) {
		return t.Create()
	}
	return err
}

// Drop closes (if open) and deletes the underlying file.
func (t *Table) Drop() error {
	return t.store.Delete()
}

// BeginWrite / EndWrite delegate to the underlying PageStore's coalesced
// write buffering.
func (t *Table) BeginWrite() int { return t.store.BeginWrite() }
func (t *Table) EndWrite() int   { return t.store.EndWrite() }

func (t *Table) loadPage(blockID uint32) (*slotted.Page, error) {
	block, err := t.store.Get(blockID)
	if err != nil {
		return nil, err
	}
	return slotted.Load(block.Data), nil
}

func (t *Table) savePage(blockID uint32, page *slotted.Page) error {
	return t.store.Put(&pagestore.Block{ID: blockID, Data: page.Bytes()})
}

// Insert validates row against the table's columns, marshals it, and
// appends it to the last block (allocating a new one if it's full).
// Returns the new row's handle.
func (t *Table) Insert(row schema.Row) (Handle, error) {
	full, err := schema.Validate(t.columns, row)
	if err != nil {
		return Handle{}, err
	}
	data, err := schema.Marshal(t.columns, full)
	if err != nil {
		return Handle{}, err
	}
	return t.append(data)
}

func (t *Table) append(data []byte) (Handle, error) {
	blockID := t.store.Last()
	page, err := t.loadPage(blockID)
	if err != nil {
		return Handle{}, err
	}
	recordID, err := page.Add(data)
	if dberr.Is(err, dberr.NoRoom) {
		block, err := t.store.GetNew()
		if err != nil {
			return Handle{}, err
		}
		blockID = block.ID
		page = slotted.New(t.store.BlockSize())
		recordID, err = page.Add(data)
		if err != nil {
			return Handle{}, err
		}
	} else if err != nil {
		return Handle{}, err
	}
	if err := t.savePage(blockID, page); err != nil {
		return Handle{}, err
	}
	return Handle{BlockID: blockID, RecordID: recordID}, nil
}

// Select lazily yields handles for every row for which where (a
// conjunction of column equalities) holds. A nil where matches every row.
// If handles is non-nil, only those handles are considered (refined
// selection); otherwise every block/record is scanned.
func (t *Table) Select(where schema.Row, handles iter.Seq[Handle]) iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		emit := func(h Handle) bool {
			if where != nil {
				ok, err := t.matches(h, where)
				if err != nil || !ok {
					return true
				}
			}
			return yield(h)
		}
		if handles != nil {
			for h := range handles {
				if !emit(h) {
					return
				}
			}
			return
		}
		for blockID := uint32(1); blockID <= t.store.Last(); blockID++ {
			page, err := t.loadPage(blockID)
			if err != nil {
				return
			}
			for _, recordID := range page.Ids() {
				if !emit(Handle{BlockID: blockID, RecordID: recordID}) {
					return
				}
			}
		}
	}
}

func (t *Table) matches(h Handle, where schema.Row) (bool, error) {
	row, err := t.Project(h, nil)
	if err != nil {
		return false, err
	}
	for col, want := range where {
		if row[col] != want {
			return false, nil
		}
	}
	return true, nil
}

// Project reads and unmarshals the row at handle, restricting it to
// columns if given (nil returns every column).
func (t *Table) Project(h Handle, columns []string) (schema.Row, error) {
	page, err := t.loadPage(h.BlockID)
	if err != nil {
		return nil, err
	}
	data := page.Get(h.RecordID)
	if data == nil {
		return nil, dberr.Newf(dberr.NotFound, "handle %v has been deleted", h)
	}
	row, err := schema.Unmarshal(t.columns, data)
	if err != nil {
		return nil, err
	}
	return schema.Project(row, columns), nil
}

// Update overlays newValues onto the current row at handle, re-validates
// and re-marshals it, then writes it back in place (which may slide
// other records in the block).
func (t *Table) Update(h Handle, newValues schema.Row) error {
	row, err := t.Project(h, nil)
	if err != nil {
		return err
	}
	for k, v := range newValues {
		row[k] = v
	}
	full, err := schema.Validate(t.columns, row)
	if err != nil {
		return err
	}
	data, err := schema.Marshal(t.columns, full)
	if err != nil {
		return err
	}
	page, err := t.loadPage(h.BlockID)
	if err != nil {
		return err
	}
	if err := page.Put(h.RecordID, data); err != nil {
		return err
	}
	return t.savePage(h.BlockID, page)
}

// Delete tombstones the row at handle.
func (t *Table) Delete(h Handle) error {
	page, err := t.loadPage(h.BlockID)
	if err != nil {
		return err
	}
	page.Delete(h.RecordID)
	return t.savePage(h.BlockID, page)
}

// Columns returns the table's column definitions.
func (t *Table) Columns() []schema.Column {
	return t.columns
}

// Stats is a read-only snapshot of a table's size, for observability.
type Stats struct {
	NumBlocks uint32
	BlockSize uint32
}

// Stat returns a snapshot of the table's current block file size.
func (t *Table) Stat() Stats {
	s := t.store.Stat()
	return Stats{NumBlocks: s.NumBlocks, BlockSize: s.BlockSize}
}
