// Package hashindex implements an extendible hash index over an external
// relation: a bucket-address table (BAT) maps the top bits of a masked key
// hash to a bucket page, buckets hold handles keyed by their full hash,
// and a bucket that fills past MAX_BITS distinct splits converts to an
// overflow file. Modeled on the same split-page storage pattern as the
// heap and B+ tree packages in this module, generalized to the
// extendible-hashing access method.
package hashindex

import (
	"fmt"
	"hash/fnv"
	"iter"
	"math/bits"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/heap"
	"github.com/klundeen/cpsc5300go/pagestore"
	"github.com/klundeen/cpsc5300go/schema"
	"github.com/klundeen/cpsc5300go/slotted"
)

// Relation is the subset of a heap.Table's API a hash Index needs: read a
// row's columns by handle, and scan every handle when first building the
// index.
type Relation interface {
	Select(where schema.Row, handles iter.Seq[heap.Handle]) iter.Seq[heap.Handle]
	Project(h heap.Handle, columns []string) (schema.Row, error)
}

// Index is an extendible hash index over an external relation.
type Index struct {
	relation   Relation
	keyColumns []string
	profile    schema.KeyProfile

	// Unique rejects a second handle for a hash whose list already exists,
	// with dberr.DuplicateKey. Defaults to false.
	Unique bool

	blockSize uint32
	buckets   *pagestore.PageStore
	entries   *fixedTable

	overflowPrefix string
	overflowCache  map[uint16]*fixedTable

	bucketTableBits int
	bat             []uint32
}

// New returns a hash index over relation, keyed on keyColumns (typed per
// profile, in the same order). filePrefix names the backing files:
// <filePrefix>-buckets.db, <filePrefix>-entries.db, and one
// <filePrefix>-<hash_prefix>.db per overflowed bucket.
func New(filePrefix string, blockSize uint32, relation Relation, profile schema.KeyProfile, keyColumns []string) *Index {
	if blockSize == 0 {
		blockSize = pagestore.DefaultBlockSize
	}
	return &Index{
		relation:       relation,
		keyColumns:     keyColumns,
		profile:        profile,
		blockSize:      blockSize,
		buckets:        pagestore.New(filePrefix+"-buckets.db", blockSize),
		entries:        newFixedTable(filePrefix+"-entries.db", blockSize, 1),
		overflowPrefix: filePrefix + "-",
		overflowCache:  map[uint16]*fixedTable{},
	}
}

// Create builds the three backing files (one initial bucket, a one-entry
// BAT) and populates the index from every row currently in the relation.
func (ix *Index) Create() error {
	if err := ix.buckets.Create(); err != nil {
		return err
	}
	page := slotted.New(ix.buckets.BlockSize())
	bucket, err := newHashBucket(ix.buckets.Last(), page, 0, 0)
	if err != nil {
		return err
	}
	if err := ix.saveBucket(bucket); err != nil {
		return err
	}
	if err := ix.entries.Create(); err != nil {
		return err
	}
	if _, err := ix.entries.Insert([]uint32{bucket.id}); err != nil {
		return err
	}
	ix.bat = []uint32{bucket.id}
	ix.bucketTableBits = 0

	ix.buckets.BeginWrite()
	defer ix.buckets.EndWrite()
	for h := range ix.relation.Select(nil, nil) {
		if err := ix.Insert(h); err != nil {
			return err
		}
	}
	return nil
}

// Open opens an existing index's backing files and reads the BAT into
// memory.
func (ix *Index) Open() error {
	if err := ix.buckets.Open(); err != nil {
		return err
	}
	if err := ix.entries.Open(); err != nil {
		return err
	}
	return ix.readBAT()
}

func (ix *Index) readBAT() error {
	var bat []uint32
	for h := range ix.entries.Select() {
		fields, err := ix.entries.Project(h)
		if err != nil {
			return err
		}
		bat = append(bat, fields[0])
	}
	ix.bat = bat
	ix.bucketTableBits = bits.Len(uint(len(bat))) - 1
	return nil
}

// Close closes the backing files.
func (ix *Index) Close() error {
	if err := ix.buckets.Close(); err != nil {
		return err
	}
	for _, t := range ix.overflowCache {
		t.Close()
	}
	return ix.entries.Close()
}

// Drop deletes the index's backing files, including every overflow file.
func (ix *Index) Drop() error {
	if err := ix.Open(); err != nil && !dberr.Is(err, dberr.NoSuchFile) {
		return err
	}
	for id := range ix.buckets.BlockIDs() {
		bucket, err := ix.loadBucket(id)
		if err != nil {
			return err
		}
		if bucket.isOverflow() {
			t, err := ix.overflow(bucket.hashPrefix)
			if err != nil {
				return err
			}
			if err := t.Drop(); err != nil {
				return err
			}
		}
	}
	if err := ix.buckets.Delete(); err != nil {
		return err
	}
	return ix.entries.Drop()
}

// BeginWrite / EndWrite delegate to the bucket file's coalesced-write
// buffering.
func (ix *Index) BeginWrite() int { return ix.buckets.BeginWrite() }
func (ix *Index) EndWrite() int   { return ix.buckets.EndWrite() }

// BucketTableBits returns the current BAT depth (log2 of its length).
func (ix *Index) BucketTableBits() int { return ix.bucketTableBits }

// Stats is a read-only snapshot of an index's size, for observability.
type Stats struct {
	NumBlocks       uint32
	BucketTableBits int
}

// Stat returns a snapshot of the bucket file's size and the current BAT
// depth.
func (ix *Index) Stat() Stats {
	s := ix.buckets.Stat()
	return Stats{NumBlocks: s.NumBlocks, BucketTableBits: ix.bucketTableBits}
}

func (ix *Index) loadBucket(id uint32) (*hashBucket, error) {
	b, err := ix.buckets.Get(id)
	if err != nil {
		return nil, err
	}
	return loadHashBucket(id, slotted.Load(b.Data)), nil
}

func (ix *Index) saveBucket(b *hashBucket) error {
	return ix.buckets.Put(&pagestore.Block{ID: b.id, Data: b.block.Bytes()})
}

func (ix *Index) newBucket(hashPrefix, bitsUsed uint16) (*hashBucket, error) {
	block, err := ix.buckets.GetNew()
	if err != nil {
		return nil, err
	}
	page := slotted.New(ix.buckets.BlockSize())
	return newHashBucket(block.ID, page, hashPrefix, bitsUsed)
}

func (ix *Index) overflowPath(hashPrefix uint16) string {
	return fmt.Sprintf("%s%d.db", ix.overflowPrefix, hashPrefix)
}

// overflow returns the (already created) overflow file for hashPrefix,
// opening and caching it on first use.
func (ix *Index) overflow(hashPrefix uint16) (*fixedTable, error) {
	if t, ok := ix.overflowCache[hashPrefix]; ok {
		return t, nil
	}
	t := newFixedTable(ix.overflowPath(hashPrefix), ix.blockSize, 2)
	if err := t.Open(); err != nil {
		return nil, err
	}
	ix.overflowCache[hashPrefix] = t
	return t, nil
}

// createOverflow makes a brand new overflow file for hashPrefix (used the
// moment a bucket fully overflows).
func (ix *Index) createOverflow(hashPrefix uint16) (*fixedTable, error) {
	t := newFixedTable(ix.overflowPath(hashPrefix), ix.blockSize, 2)
	if err := t.Create(); err != nil {
		return nil, err
	}
	ix.overflowCache[hashPrefix] = t
	return t, nil
}

func addToOverflow(t *fixedTable, h heap.Handle) error {
	_, err := t.Insert([]uint32{h.BlockID, uint32(h.RecordID)})
	return err
}

func removeFromOverflow(t *fixedTable, bh bucketHandle) error {
	for h := range t.Select() {
		fields, err := t.Project(h)
		if err != nil {
			return err
		}
		if fields[0] == bh.BlockID && uint16(fields[1]) == bh.RecordID {
			return t.Delete(h)
		}
	}
	return nil
}

// hash concatenates key's values in key order (via the shared key codec)
// and masks a 64-bit FNV-1a digest to the low MAX_BITS bits.
func (ix *Index) hash(key []any) (uint16, error) {
	data, err := schema.MarshalKey(ix.profile, key)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write(data)
	return uint16(h.Sum64() & maxBitMask), nil
}

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

func (ix *Index) getBucket(h uint16) (*hashBucket, error) {
	entry := int(h) >> (maxBits - ix.bucketTableBits)
	return ix.loadBucket(ix.bat[entry])
}

// Lookup finds every handle whose key (after resolving the collision risk
// of a shared hash by re-projecting and comparing the full key) equals
// key.
func (ix *Index) Lookup(key []any) (iter.Seq[heap.Handle], error) {
	h, err := ix.hash(key)
	if err != nil {
		return nil, err
	}
	bucket, err := ix.getBucket(h)
	if err != nil {
		return nil, err
	}
	var handles []bucketHandle
	if bucket.isOverflow() {
		t, err := ix.overflow(bucket.hashPrefix)
		if err != nil {
			return nil, err
		}
		for oh := range t.Select() {
			fields, err := t.Project(oh)
			if err != nil {
				return nil, err
			}
			handles = append(handles, bucketHandle{BlockID: fields[0], RecordID: uint16(fields[1])})
		}
	} else {
		handles = bucket.lookup(h)
	}

	where := make(schema.Row, len(ix.keyColumns))
	for i, col := range ix.keyColumns {
		where[col] = key[i]
	}
	return func(yield func(heap.Handle) bool) {
		for _, bh := range handles {
			rh := heap.Handle{BlockID: bh.BlockID, RecordID: bh.RecordID}
			row, err := ix.relation.Project(rh, ix.keyColumns)
			if err != nil {
				continue
			}
			match := true
			for col, want := range where {
				if row[col] != want {
					match = false
					break
				}
			}
			if match && !yield(rh) {
				return
			}
		}
	}, nil
}

// Range is not supported by a hash index.
func (ix *Index) Range(min, max []any) (iter.Seq[heap.Handle], error) {
	return nil, dberr.New(dberr.Unsupported)
}

// Insert indexes a row that already exists in the relation, identified by
// its handle, splitting or converting to overflow as needed.
func (ix *Index) Insert(handle heap.Handle) error {
	key, err := ix.keyFor(handle)
	if err != nil {
		return err
	}
	h, err := ix.hash(key)
	if err != nil {
		return err
	}
	bucket, err := ix.getBucket(h)
	if err != nil {
		return err
	}
	bh := bucketHandle{BlockID: handle.BlockID, RecordID: handle.RecordID}
	for {
		if bucket.isOverflow() {
			t, err := ix.overflow(bucket.hashPrefix)
			if err != nil {
				return err
			}
			return addToOverflow(t, handle)
		}
		err := bucket.add(h, bh, ix.Unique)
		if err == nil {
			return ix.saveBucket(bucket)
		}
		if dberr.Is(err, dberr.DuplicateKey) {
			return err
		}
		if !dberr.Is(err, dberr.NoRoom) {
			return err
		}
		if err := ix.split(bucket); err != nil {
			return err
		}
		bucket, err = ix.getBucket(h)
		if err != nil {
			return err
		}
	}
}

// Delete removes a row's handle from its index entry, identified by the
// row's (still valid) handle.
func (ix *Index) Delete(handle heap.Handle) error {
	key, err := ix.keyFor(handle)
	if err != nil {
		return err
	}
	h, err := ix.hash(key)
	if err != nil {
		return err
	}
	bucket, err := ix.getBucket(h)
	if err != nil {
		return err
	}
	bh := bucketHandle{BlockID: handle.BlockID, RecordID: handle.RecordID}
	if bucket.isOverflow() {
		t, err := ix.overflow(bucket.hashPrefix)
		if err != nil {
			return err
		}
		return removeFromOverflow(t, bh)
	}
	bucket.remove(h, bh)
	if err := ix.saveBucket(bucket); err != nil {
		return err
	}
	if bucket.len() == 0 {
		ix.shrink(bucket)
	}
	return nil
}

// shrink would collapse an empty bucket back into its sibling and halve
// the BAT when possible. Left unimplemented: the index only ever grows,
// matching the behavior this package generalizes.
func (ix *Index) shrink(bucket *hashBucket) {}

type movedRecord struct {
	h       uint16
	handles []bucketHandle
}

// split grows bucket's bits_used, either converting it to an overflow
// bucket (once bits_used reaches MAX_BITS) or dividing it into two
// siblings and fixing up the bucket-address table to match.
func (ix *Index) split(bucket *hashBucket) error {
	if bucket.bitsUsed == maxBits {
		return ix.convertToOverflow(bucket)
	}

	h0 := bucket.hashPrefix * 2
	h1 := h0 + 1
	bucket0 := bucket
	bucket0.setHeader(h0, bucket0.bitsUsed+1)
	bucket1, err := ix.newBucket(h1, bucket0.bitsUsed)
	if err != nil {
		return err
	}

	var toMove []movedRecord
	bucket0.records(func(h uint16, handles []bucketHandle) {
		if h>>(maxBits-bucket0.bitsUsed) == h1 {
			toMove = append(toMove, movedRecord{h: h, handles: handles})
		}
	})
	for _, m := range toMove {
		bucket0.delete(m.h)
		if err := bucket1.addList(m.h, m.handles); err != nil {
			return err
		}
	}
	if err := ix.saveBucket(bucket0); err != nil {
		return err
	}
	if err := ix.saveBucket(bucket1); err != nil {
		return err
	}

	if ix.bucketTableBits >= int(bucket0.bitsUsed) {
		return ix.repointRange(h1, bucket1)
	}
	return ix.doubleBAT(h0, h1, bucket0, bucket1)
}

// convertToOverflow migrates a fully-split bucket's one remaining record
// (all handles necessarily share its hash_prefix verbatim, since
// bits_used == MAX_BITS pins every bit) into a fresh overflow file.
func (ix *Index) convertToOverflow(bucket *hashBucket) error {
	h, handles, ok := bucket.firstRecord()
	if ok {
		overflow, err := ix.createOverflow(h)
		if err != nil {
			return err
		}
		for _, bh := range handles {
			if err := addToOverflow(overflow, heap.Handle{BlockID: bh.BlockID, RecordID: bh.RecordID}); err != nil {
				return err
			}
		}
	}
	bucket.setOverflow()
	return ix.saveBucket(bucket)
}

// repointRange handles the case where the BAT already has at least two
// slots per bucket: only the tail range that should now point at bucket1
// needs fixing, both in memory and on disk.
func (ix *Index) repointRange(h1 uint16, bucket1 *hashBucket) error {
	shift := ix.bucketTableBits - int(bucket1.bitsUsed)
	h1Extended := int(h1) << shift
	nextHash := int(h1+1) << shift

	for entry := h1Extended; entry < nextHash; entry++ {
		ix.bat[entry] = bucket1.id
	}

	var toUpdate []heap.Handle
	n := 0
	for eh := range ix.entries.Select() {
		if n == nextHash {
			break
		}
		if n >= h1Extended {
			toUpdate = append(toUpdate, eh)
		}
		n++
	}
	for _, eh := range toUpdate {
		if err := ix.entries.Update(eh, []uint32{bucket1.id}); err != nil {
			return err
		}
	}
	return nil
}

// doubleBAT handles the case where the BAT has only one slot per bucket:
// it must double in size, duplicating every existing pointer, before the
// two new halves can be repointed to bucket0 and bucket1.
func (ix *Index) doubleBAT(h0, h1 uint16, bucket0, bucket1 *hashBucket) error {
	ix.bucketTableBits++
	bat := make([]uint32, 0, len(ix.bat)*2)
	for _, id := range ix.bat {
		bat = append(bat, id, id)
	}
	bat[h0] = bucket0.id
	bat[h1] = bucket1.id
	ix.bat = bat

	var existing []heap.Handle
	for eh := range ix.entries.Select() {
		existing = append(existing, eh)
	}

	ix.entries.BeginWrite()
	defer ix.entries.EndWrite()
	for n, eh := range existing {
		if err := ix.entries.Update(eh, []uint32{bat[n]}); err != nil {
			return err
		}
	}
	for n := len(existing); n < len(bat); n++ {
		if _, err := ix.entries.Insert([]uint32{bat[n]}); err != nil {
			return err
		}
	}
	return nil
}
