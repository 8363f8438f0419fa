package hashindex

import (
	"encoding/binary"
	"iter"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/fixedpage"
	"github.com/klundeen/cpsc5300go/heap"
	"github.com/klundeen/cpsc5300go/pagestore"
)

// fixedTable is the minimal fixed-length-record relation underneath the
// bucket-address table and the per-bucket overflow files: uniformly sized
// records of packed big-endian uint32 fields, with no column schema of
// its own. Like heap.Table, it appends to the last block and allocates a
// new one when that fills.
type fixedTable struct {
	store      *pagestore.PageStore
	fieldCount int
}

func newFixedTable(path string, blockSize uint32, fieldCount int) *fixedTable {
	return &fixedTable{store: pagestore.New(path, blockSize), fieldCount: fieldCount}
}

func (t *fixedTable) recordLen() uint32 { return uint32(t.fieldCount * 4) }

// Create makes the underlying file and installs a properly initialized
// empty first page (PageStore.Create only zero-fills it, which is not a
// valid fixed-page free-list layout).
func (t *fixedTable) Create() error {
	if err := t.store.Create(); err != nil {
		return err
	}
	return t.savePage(t.store.Last(), fixedpage.New(t.store.BlockSize(), t.recordLen()))
}

func (t *fixedTable) Open() error  { return t.store.Open() }
func (t *fixedTable) Close() error { return t.store.Close() }
func (t *fixedTable) Drop() error  { return t.store.Delete() }

func (t *fixedTable) BeginWrite() int { return t.store.BeginWrite() }
func (t *fixedTable) EndWrite() int   { return t.store.EndWrite() }

func (t *fixedTable) loadPage(id uint32) (*fixedpage.Page, error) {
	b, err := t.store.Get(id)
	if err != nil {
		return nil, err
	}
	return fixedpage.Load(b.Data, t.recordLen()), nil
}

func (t *fixedTable) savePage(id uint32, page *fixedpage.Page) error {
	return t.store.Put(&pagestore.Block{ID: id, Data: page.Bytes()})
}

func marshalFields(fields []uint32) []byte {
	data := make([]byte, len(fields)*4)
	for i, f := range fields {
		binary.BigEndian.PutUint32(data[i*4:i*4+4], f)
	}
	return data
}

func unmarshalFields(data []byte) []uint32 {
	fields := make([]uint32, len(data)/4)
	for i := range fields {
		fields[i] = binary.BigEndian.Uint32(data[i*4 : i*4+4])
	}
	return fields
}

// Insert appends fields as a new record, allocating a new page if the last
// one is full. Returns the record's handle.
func (t *fixedTable) Insert(fields []uint32) (heap.Handle, error) {
	return t.append(marshalFields(fields))
}

func (t *fixedTable) append(data []byte) (heap.Handle, error) {
	blockID := t.store.Last()
	page, err := t.loadPage(blockID)
	if err != nil {
		return heap.Handle{}, err
	}
	recordID, err := page.Add(data)
	if dberr.Is(err, dberr.NoRoom) {
		block, gerr := t.store.GetNew()
		if gerr != nil {
			return heap.Handle{}, gerr
		}
		blockID = block.ID
		page = fixedpage.New(t.store.BlockSize(), t.recordLen())
		recordID, err = page.Add(data)
		if err != nil {
			return heap.Handle{}, err
		}
	} else if err != nil {
		return heap.Handle{}, err
	}
	if err := t.savePage(blockID, page); err != nil {
		return heap.Handle{}, err
	}
	return heap.Handle{BlockID: blockID, RecordID: recordID}, nil
}

// Update overwrites the fields at handle in place.
func (t *fixedTable) Update(h heap.Handle, fields []uint32) error {
	page, err := t.loadPage(h.BlockID)
	if err != nil {
		return err
	}
	page.Put(h.RecordID, marshalFields(fields))
	return t.savePage(h.BlockID, page)
}

// Project reads the fields at handle.
func (t *fixedTable) Project(h heap.Handle) ([]uint32, error) {
	page, err := t.loadPage(h.BlockID)
	if err != nil {
		return nil, err
	}
	data := page.Get(h.RecordID)
	if data == nil {
		return nil, dberr.Newf(dberr.NotFound, "handle %v has been deleted", h)
	}
	return unmarshalFields(data), nil
}

// Delete frees the record at handle.
func (t *fixedTable) Delete(h heap.Handle) error {
	page, err := t.loadPage(h.BlockID)
	if err != nil {
		return err
	}
	page.Delete(h.RecordID)
	return t.savePage(h.BlockID, page)
}

// Select lazily yields every live handle, in block/record order.
func (t *fixedTable) Select() iter.Seq[heap.Handle] {
	return func(yield func(heap.Handle) bool) {
		for blockID := uint32(1); blockID <= t.store.Last(); blockID++ {
			page, err := t.loadPage(blockID)
			if err != nil {
				return
			}
			for _, recordID := range page.Ids() {
				if !yield(heap.Handle{BlockID: blockID, RecordID: recordID}) {
					return
				}
			}
		}
	}
}
