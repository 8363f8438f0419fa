// Package btree implements an ordered unique index as a B+ tree: root,
// interior and leaf pages share one block file, split-on-full growth,
// and equality/range descent. Two value codecs let the same engine serve
// as a secondary index (leaf value = row handle, see Index) or as
// clustered primary storage (leaf value = the non-key tuple, see Table).
package btree

import (
	"iter"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/pagestore"
	"github.com/klundeen/cpsc5300go/schema"
)

// Tree is the shared engine underneath Index and Table: a unique ordered
// index keyed by profile, whose leaves hold whatever ValueCodec encodes.
type Tree struct {
	store   *pagestore.PageStore
	file    *file
	profile schema.KeyProfile
	codec   ValueCodec
	stat    *statBlock
}

// New returns a Tree over the block file at path, ready for Create or
// Open.
func New(path string, blockSize uint32, profile schema.KeyProfile, codec ValueCodec) *Tree {
	store := pagestore.New(path, blockSize)
	return &Tree{store: store, file: &file{store: store}, profile: profile, codec: codec}
}

// Create makes the file (which installs an empty block 1), allocates an
// empty root leaf in block 2, and records the stat block in block 1.
func (t *Tree) Create() error {
	if err := t.store.Create(); err != nil {
		return err
	}
	rootLeaf, err := newLeafNode(t.file, t.profile, t.codec)
	if err != nil {
		return err
	}
	if err := rootLeaf.save(); err != nil {
		return err
	}
	stat, err := initStat(t.file, rootLeaf.id)
	if err != nil {
		return err
	}
	t.stat = stat
	return nil
}

// Open opens an existing index file and reads its stat block.
func (t *Tree) Open() error {
	if err := t.store.Open(); err != nil {
		return err
	}
	stat, err := loadStat(t.file, statBlockID)
	if err != nil {
		return err
	}
	t.stat = stat
	return nil
}

// Close closes the underlying file.
func (t *Tree) Close() error {
	return t.store.Close()
}

// Drop deletes the underlying file.
func (t *Tree) Drop() error {
	return t.store.Delete()
}

// BeginWrite / EndWrite delegate to the underlying PageStore.
func (t *Tree) BeginWrite() int { return t.store.BeginWrite() }
func (t *Tree) EndWrite() int   { return t.store.EndWrite() }

// Height returns the current tree height (1 == root is a leaf).
func (t *Tree) Height() int { return t.stat.height }

// Stats is a read-only snapshot of a tree's size, for observability.
type Stats struct {
	NumBlocks uint32
	Height    int
}

// Stat returns a snapshot of the tree's current block file size and
// height.
func (t *Tree) Stat() Stats {
	s := t.store.Stat()
	return Stats{NumBlocks: s.NumBlocks, Height: t.stat.height}
}

// Lookup descends to the leaf that would hold key and returns its value,
// or ok=false if key is absent.
func (t *Tree) Lookup(key []any) (any, bool, error) {
	return t.lookupNode(t.stat.rootID, t.stat.height, key)
}

func (t *Tree) lookupNode(id uint32, depth int, key []any) (any, bool, error) {
	if depth == 1 {
		leaf, err := loadLeafNode(t.file, id, t.profile, t.codec)
		if err != nil {
			return nil, false, err
		}
		v, ok := leaf.findEq(key)
		return v, ok, nil
	}
	interior, err := loadInteriorNode(t.file, id, t.profile)
	if err != nil {
		return nil, false, err
	}
	return t.lookupNode(interior.find(key), depth-1, key)
}

// Entry is one key/value pair yielded by Range.
type Entry struct {
	Key   []any
	Value any
}

// Range descends to the leaf containing min (or the leftmost leaf if min
// is nil) and lazily yields every entry with min <= key <= max (a nil
// bound is unbounded on that side), following next_leaf links.
func (t *Tree) Range(min, max []any) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		leafID, err := t.findLeafID(min)
		if err != nil {
			return
		}
		for leafID != 0 {
			leaf, err := loadLeafNode(t.file, leafID, t.profile, t.codec)
			if err != nil {
				return
			}
			for _, e := range leaf.sortedEntries() {
				if min != nil && schema.CompareKeys(e.Key, min) < 0 {
					continue
				}
				if max != nil && schema.CompareKeys(e.Key, max) > 0 {
					return
				}
				if !yield(Entry{Key: e.Key, Value: e.Value}) {
					return
				}
			}
			leafID = leaf.nextLeaf
		}
	}
}

func (t *Tree) findLeafID(min []any) (uint32, error) {
	id := t.stat.rootID
	depth := t.stat.height
	for depth > 1 {
		interior, err := loadInteriorNode(t.file, id, t.profile)
		if err != nil {
			return 0, err
		}
		if min == nil {
			id = interior.first
		} else {
			id = interior.find(min)
		}
		depth--
	}
	return id, nil
}

// Insert adds key/value to the tree, splitting leaves and interior nodes
// (and growing the root) as needed. Fails with dberr.DuplicateKey if key
// is already present.
func (t *Tree) Insert(key []any, value any) error {
	split, err := t.insertNode(t.stat.rootID, t.stat.height, key, value)
	if err != nil {
		return err
	}
	if split == nil {
		return nil
	}
	root, err := newInteriorNode(t.file, t.profile)
	if err != nil {
		return err
	}
	root.first = t.stat.rootID
	if err := root.insert(split.boundary, split.id, false); err != nil {
		return err
	}
	if err := root.save(); err != nil {
		return err
	}
	t.stat.rootID = root.id
	t.stat.height++
	return t.stat.save()
}

type splitResult struct {
	id       uint32
	boundary []any
}

func (t *Tree) insertNode(id uint32, depth int, key []any, value any) (*splitResult, error) {
	if depth == 1 {
		leaf, err := loadLeafNode(t.file, id, t.profile, t.codec)
		if err != nil {
			return nil, err
		}
		err = leaf.insert(key, value)
		if err == nil {
			return nil, leaf.save()
		}
		if !dberr.Is(err, dberr.NoRoom) {
			return nil, err
		}
		return t.splitLeaf(leaf, key, value)
	}
	interior, err := loadInteriorNode(t.file, id, t.profile)
	if err != nil {
		return nil, err
	}
	childSplit, err := t.insertNode(interior.find(key), depth-1, key, value)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}
	err = interior.insert(childSplit.boundary, childSplit.id, false)
	if err == nil {
		return nil, interior.save()
	}
	if !dberr.Is(err, dberr.NoRoom) {
		return nil, err
	}
	return t.splitInterior(interior, childSplit.boundary, childSplit.id)
}

// splitLeaf merges key/value into leaf's sorted entries and moves the
// upper half into a new right sibling, returning that sibling's id and
// its minimum key as the separator to promote to the parent.
func (t *Tree) splitLeaf(leaf *leafNode, key []any, value any) (*splitResult, error) {
	all := leaf.sortedEntries()
	merged := make([]leafEntry, 0, len(all)+1)
	inserted := false
	for _, e := range all {
		if !inserted && schema.CompareKeys(key, e.Key) < 0 {
			merged = append(merged, leafEntry{Key: key, Value: value})
			inserted = true
		}
		merged = append(merged, e)
	}
	if !inserted {
		merged = append(merged, leafEntry{Key: key, Value: value})
	}

	nleaf, err := newLeafNode(t.file, t.profile, t.codec)
	if err != nil {
		return nil, err
	}
	nleaf.nextLeaf = leaf.nextLeaf
	leaf.nextLeaf = nleaf.id

	split := len(merged) / 2
	leaf.entries = map[string]leafEntry{}
	for _, e := range merged[:split] {
		leaf.entries[keyString(t.profile, e.Key)] = e
	}
	nleaf.entries = map[string]leafEntry{}
	for _, e := range merged[split:] {
		nleaf.entries[keyString(t.profile, e.Key)] = e
	}

	if err := leaf.save(); err != nil {
		return nil, err
	}
	if err := nleaf.save(); err != nil {
		return nil, err
	}
	return &splitResult{id: nleaf.id, boundary: merged[split].Key}, nil
}

// splitInterior absorbs boundary/blockID (oversizing is allowed here)
// then moves the upper half of boundaries/pointers into a new right
// sibling interior node, promoting the boundary between the two halves.
func (t *Tree) splitInterior(node *interiorNode, boundary []any, blockID uint32) (*splitResult, error) {
	if err := node.insert(boundary, blockID, true); err != nil {
		return nil, err
	}
	nnode, err := newInteriorNode(t.file, t.profile)
	if err != nil {
		return nil, err
	}
	split := len(node.boundaries) / 2
	nnode.first = node.pointers[split]
	nboundary := node.boundaries[split]

	nnode.pointers = append([]uint32{}, node.pointers[split+1:]...)
	node.pointers = node.pointers[:split]
	nnode.boundaries = append([][]any{}, node.boundaries[split+1:]...)
	node.boundaries = node.boundaries[:split]

	if err := node.save(); err != nil {
		return nil, err
	}
	if err := nnode.save(); err != nil {
		return nil, err
	}
	return &splitResult{id: nnode.id, boundary: nboundary}, nil
}

// Delete removes key from its leaf, if present. The tree is never merged
// or rebalanced afterward.
func (t *Tree) Delete(key []any) error {
	return t.deleteNode(t.stat.rootID, t.stat.height, key)
}

func (t *Tree) deleteNode(id uint32, depth int, key []any) error {
	if depth == 1 {
		leaf, err := loadLeafNode(t.file, id, t.profile, t.codec)
		if err != nil {
			return err
		}
		leaf.remove(key)
		return leaf.save()
	}
	interior, err := loadInteriorNode(t.file, id, t.profile)
	if err != nil {
		return err
	}
	return t.deleteNode(interior.find(key), depth-1, key)
}
