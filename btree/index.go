package btree

import (
	"encoding/binary"
	"iter"

	"github.com/klundeen/cpsc5300go/heap"
	"github.com/klundeen/cpsc5300go/schema"
)

// HandleCodec encodes a leaf value as a row handle: 4 bytes block id
// big-endian, 2 bytes record id big-endian. This is the value payload a
// secondary Index uses.
type HandleCodec struct{}

func (HandleCodec) Marshal(value any) []byte {
	h := value.(heap.Handle)
	b := make([]byte, 6)
	binary.BigEndian.PutUint32(b[0:4], h.BlockID)
	binary.BigEndian.PutUint16(b[4:6], h.RecordID)
	return b
}

func (HandleCodec) Unmarshal(data []byte) any {
	return heap.Handle{
		BlockID:  binary.BigEndian.Uint32(data[0:4]),
		RecordID: binary.BigEndian.Uint16(data[4:6]),
	}
}

// Relation is the subset of a heap.Table's API a secondary Index needs
// to build and maintain itself: read rows by handle, and scan handles.
type Relation interface {
	Select(where schema.Row, handles iter.Seq[heap.Handle]) iter.Seq[heap.Handle]
	Project(h heap.Handle, columns []string) (schema.Row, error)
}

// Index is a unique secondary index over an external relation: leaf
// values are row handles, and the key is projected from the relation's
// columns named in keyColumns.
type Index struct {
	tree       *Tree
	relation   Relation
	keyColumns []string
}

// NewIndex returns a secondary index over relation, keyed on keyColumns
// (typed per profile, in the same order).
func NewIndex(path string, blockSize uint32, relation Relation, profile schema.KeyProfile, keyColumns []string) *Index {
	return &Index{
		tree:       New(path, blockSize, profile, HandleCodec{}),
		relation:   relation,
		keyColumns: keyColumns,
	}
}

// Create builds the index file and populates it from every row currently
// in the relation.
func (ix *Index) Create() error {
	if err := ix.tree.Create(); err != nil {
		return err
	}
	ix.tree.BeginWrite()
	defer ix.tree.EndWrite()
	for h := range ix.relation.Select(nil, nil) {
		if err := ix.Insert(h); err != nil {
			return err
		}
	}
	return nil
}

// Open opens an existing index file.
func (ix *Index) Open() error { return ix.tree.Open() }

// Close closes the index file.
func (ix *Index) Close() error { return ix.tree.Close() }

// Drop deletes the index file.
func (ix *Index) Drop() error { return ix.tree.Drop() }

// Stat returns a snapshot of the underlying tree's size and height.
func (ix *Index) Stat() Stats { return ix.tree.Stat() }

func (ix *Index) keyFor(h heap.Handle) ([]any, error) {
	row, err := ix.relation.Project(h, ix.keyColumns)
	if err != nil {
		return nil, err
	}
	key := make([]any, len(ix.keyColumns))
	for i, col := range ix.keyColumns {
		key[i] = row[col]
	}
	return key, nil
}

// Insert indexes a row that already exists in the relation, identified
// by its handle.
func (ix *Index) Insert(h heap.Handle) error {
	key, err := ix.keyFor(h)
	if err != nil {
		return err
	}
	return ix.tree.Insert(key, h)
}

// Lookup finds the handle whose projected key equals key.
func (ix *Index) Lookup(key []any) (heap.Handle, bool, error) {
	v, ok, err := ix.tree.Lookup(key)
	if err != nil || !ok {
		return heap.Handle{}, ok, err
	}
	return v.(heap.Handle), true, nil
}

// Range lazily yields handles whose projected key is in [min, max] (a
// nil bound is unbounded on that side).
func (ix *Index) Range(min, max []any) iter.Seq[heap.Handle] {
	return func(yield func(heap.Handle) bool) {
		for e := range ix.tree.Range(min, max) {
			if !yield(e.Value.(heap.Handle)) {
				return
			}
		}
	}
}

// Delete removes the entry for a row, identified by its (still valid)
// handle.
func (ix *Index) Delete(h heap.Handle) error {
	key, err := ix.keyFor(h)
	if err != nil {
		return err
	}
	return ix.tree.Delete(key)
}
