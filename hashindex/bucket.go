package hashindex

import (
	"encoding/binary"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/slotted"
)

const (
	maxBits    = 16
	maxBitMask = 1<<maxBits - 1

	bucketHeaderRecord = 1
)

// bucketHandle is a (block_id, record_id) pair referencing a row in the
// indexed relation: the payload a hash bucket carries per hash value.
type bucketHandle struct {
	BlockID  uint32
	RecordID uint16
}

func marshalHeader(hashPrefix, bitsUsed uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], hashPrefix)
	binary.BigEndian.PutUint16(data[2:4], bitsUsed)
	return data
}

func marshalHandles(h uint16, handles []bucketHandle) []byte {
	data := make([]byte, 2+6*len(handles))
	binary.BigEndian.PutUint16(data[0:2], h)
	off := 2
	for _, hd := range handles {
		binary.BigEndian.PutUint32(data[off:off+4], hd.BlockID)
		binary.BigEndian.PutUint16(data[off+4:off+6], hd.RecordID)
		off += 6
	}
	return data
}

func unmarshalHash(data []byte) uint16 {
	return binary.BigEndian.Uint16(data[0:2])
}

func unmarshalHandles(data []byte) []bucketHandle {
	var handles []bucketHandle
	for off := 2; off+6 <= len(data); off += 6 {
		handles = append(handles, bucketHandle{
			BlockID:  binary.BigEndian.Uint32(data[off : off+4]),
			RecordID: binary.BigEndian.Uint16(data[off+4 : off+6]),
		})
	}
	return handles
}

// hashBucket wraps one slotted page of an extendible hash index: record 1
// is a header (hash_prefix, bits_used), and every other live record holds
// one full-hash value plus the list of handles that share it.
type hashBucket struct {
	block      *slotted.Page
	id         uint32
	hashPrefix uint16
	bitsUsed   uint16
}

// newHashBucket writes a fresh header into an empty page.
func newHashBucket(id uint32, block *slotted.Page, hashPrefix, bitsUsed uint16) (*hashBucket, error) {
	if _, err := block.Add(marshalHeader(hashPrefix, bitsUsed)); err != nil {
		return nil, err
	}
	return &hashBucket{block: block, id: id, hashPrefix: hashPrefix, bitsUsed: bitsUsed}, nil
}

// loadHashBucket wraps an existing bucket page, reading its header.
func loadHashBucket(id uint32, block *slotted.Page) *hashBucket {
	header := block.Get(bucketHeaderRecord)
	return &hashBucket{
		block:      block,
		id:         id,
		hashPrefix: binary.BigEndian.Uint16(header[0:2]),
		bitsUsed:   binary.BigEndian.Uint16(header[2:4]),
	}
}

// len returns the number of distinct full-hash records held (excluding the
// header).
func (b *hashBucket) len() int {
	return len(b.block.Ids()) - 1
}

func (b *hashBucket) find(h uint16) (uint16, []byte, bool) {
	for _, id := range b.block.Ids() {
		if id <= bucketHeaderRecord {
			continue
		}
		data := b.block.Get(id)
		if unmarshalHash(data) == h {
			return id, data, true
		}
	}
	return 0, nil, false
}

// firstRecord returns the bucket's sole remaining data record, if any
// (used to migrate a fully-overflowed bucket's handles into its overflow
// file: at bits_used == MAX_BITS every record necessarily shares the same
// full hash, so there can be only one).
func (b *hashBucket) firstRecord() (uint16, []bucketHandle, bool) {
	for _, id := range b.block.Ids() {
		if id <= bucketHeaderRecord {
			continue
		}
		data := b.block.Get(id)
		return unmarshalHash(data), unmarshalHandles(data), true
	}
	return 0, nil, false
}

func (b *hashBucket) lookup(h uint16) []bucketHandle {
	_, data, ok := b.find(h)
	if !ok {
		return nil
	}
	return unmarshalHandles(data)
}

// add appends handle to h's list, creating the record if h is new. Fails
// with dberr.DuplicateKey if unique is set and h already has a list, or
// dberr.NoRoom if the page can't hold the addition.
func (b *hashBucket) add(h uint16, handle bucketHandle, unique bool) error {
	id, data, ok := b.find(h)
	if !ok {
		_, err := b.block.Add(marshalHandles(h, []bucketHandle{handle}))
		return err
	}
	if unique {
		return dberr.New(dberr.DuplicateKey)
	}
	handles := append(unmarshalHandles(data), handle)
	return b.block.Put(id, marshalHandles(h, handles))
}

// addList writes h's full handle list as a brand new record (used by
// split when redistributing records wholesale).
func (b *hashBucket) addList(h uint16, handles []bucketHandle) error {
	_, err := b.block.Add(marshalHandles(h, handles))
	return err
}

// remove deletes handle from h's list, dropping the record entirely if the
// list becomes empty.
func (b *hashBucket) remove(h uint16, handle bucketHandle) {
	id, data, ok := b.find(h)
	if !ok {
		return
	}
	handles := unmarshalHandles(data)
	for i, hd := range handles {
		if hd == handle {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		b.block.Delete(id)
		return
	}
	b.block.Put(id, marshalHandles(h, handles))
}

func (b *hashBucket) delete(h uint16) {
	if id, _, ok := b.find(h); ok {
		b.block.Delete(id)
	}
}

func (b *hashBucket) isOverflow() bool {
	return b.bitsUsed > maxBits
}

func (b *hashBucket) setOverflow() {
	b.setHeader(b.hashPrefix, maxBits+1)
}

func (b *hashBucket) setHeader(hashPrefix, bitsUsed uint16) {
	b.hashPrefix = hashPrefix
	b.bitsUsed = bitsUsed
	b.block.Put(bucketHeaderRecord, marshalHeader(hashPrefix, bitsUsed))
}

// records visits every (hash, handles) record in the bucket, skipping the
// header.
func (b *hashBucket) records(visit func(h uint16, handles []bucketHandle)) {
	for _, id := range b.block.Ids() {
		if id <= bucketHeaderRecord {
			continue
		}
		data := b.block.Get(id)
		visit(unmarshalHash(data), unmarshalHandles(data))
	}
}
