package btree

import (
	"encoding/binary"
	"sort"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/pagestore"
	"github.com/klundeen/cpsc5300go/schema"
	"github.com/klundeen/cpsc5300go/slotted"
)

// ValueCodec marshals and unmarshals a leaf's payload. HandleCodec stores
// a row handle (secondary index); RowCodec stores the non-key columns of
// a tuple directly (clustered primary storage).
type ValueCodec interface {
	Marshal(value any) []byte
	Unmarshal(data []byte) any
}

func marshalBlockID(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

func unmarshalBlockID(data []byte) uint32 {
	return binary.BigEndian.Uint32(data[:4])
}

func marshalKey(profile schema.KeyProfile, key []any) []byte {
	data, err := schema.MarshalKey(profile, key)
	if err != nil {
		panic(err)
	}
	return data
}

func keyString(profile schema.KeyProfile, key []any) string {
	return string(marshalKey(profile, key))
}

// file is the block file backing every node (stat, interior, leaf) of one
// tree: pagestore plus the slotted-page record layout, the same
// combination heap.Table uses for relations.
type file struct {
	store *pagestore.PageStore
}

func (f *file) get(id uint32) (*slotted.Page, error) {
	b, err := f.store.Get(id)
	if err != nil {
		return nil, err
	}
	return slotted.Load(b.Data), nil
}

func (f *file) getNew() (uint32, error) {
	b, err := f.store.GetNew()
	if err != nil {
		return 0, err
	}
	return b.ID, nil
}

func (f *file) put(id uint32, page *slotted.Page) error {
	return f.store.Put(&pagestore.Block{ID: id, Data: page.Bytes()})
}

// statBlock is the fixed block_id=1 record holding the root's block id and
// the tree's height (1 == root is a leaf).
type statBlock struct {
	f      *file
	id     uint32
	rootID uint32
	height int
}

const statBlockID = 1
const statRootRecord = 1
const statHeightRecord = 2

// initStat writes the very first stat block into the file's pre-existing
// block 1 (installed empty by PageStore.Create), recording rootID as the
// root of a brand new, single-leaf tree.
func initStat(f *file, rootID uint32) (*statBlock, error) {
	page := slotted.New(f.store.BlockSize())
	if _, err := page.Add(marshalBlockID(rootID)); err != nil {
		return nil, err
	}
	if _, err := page.Add(marshalBlockID(1)); err != nil {
		return nil, err
	}
	if err := f.put(statBlockID, page); err != nil {
		return nil, err
	}
	return &statBlock{f: f, id: statBlockID, rootID: rootID, height: 1}, nil
}

func loadStat(f *file, id uint32) (*statBlock, error) {
	page, err := f.get(id)
	if err != nil {
		return nil, err
	}
	rootID := unmarshalBlockID(page.Get(statRootRecord))
	height := unmarshalBlockID(page.Get(statHeightRecord))
	return &statBlock{f: f, id: id, rootID: rootID, height: int(height)}, nil
}

func (s *statBlock) save() error {
	page, err := s.f.get(s.id)
	if err != nil {
		return err
	}
	if err := page.Put(statRootRecord, marshalBlockID(s.rootID)); err != nil {
		return err
	}
	if err := page.Put(statHeightRecord, marshalBlockID(uint32(s.height))); err != nil {
		return err
	}
	return s.f.put(s.id, page)
}

// interiorNode holds first_child plus parallel boundaries/pointers
// arrays: subtree(first) holds keys < boundaries[0]; subtree(pointers[i])
// holds keys in [boundaries[i], boundaries[i+1]).
type interiorNode struct {
	f          *file
	id         uint32
	profile    schema.KeyProfile
	first      uint32
	boundaries [][]any
	pointers   []uint32
}

func newInteriorNode(f *file, profile schema.KeyProfile) (*interiorNode, error) {
	id, err := f.getNew()
	if err != nil {
		return nil, err
	}
	return &interiorNode{f: f, id: id, profile: profile}, nil
}

func loadInteriorNode(f *file, id uint32, profile schema.KeyProfile) (*interiorNode, error) {
	page, err := f.get(id)
	if err != nil {
		return nil, err
	}
	ids := page.Ids()
	n := &interiorNode{f: f, id: id, profile: profile}
	if len(ids) == 0 {
		return n, nil
	}
	n.first = unmarshalBlockID(page.Get(ids[0]))
	rest := ids[1:]
	for i := 0; i+1 < len(rest); i += 2 {
		key, err := schema.UnmarshalKey(profile, page.Get(rest[i]))
		if err != nil {
			return nil, err
		}
		n.boundaries = append(n.boundaries, key)
		n.pointers = append(n.pointers, unmarshalBlockID(page.Get(rest[i+1])))
	}
	return n, nil
}

// find returns the child block id in which key must live.
func (n *interiorNode) find(key []any) uint32 {
	down := n.first
	if len(n.pointers) > 0 {
		down = n.pointers[len(n.pointers)-1]
	}
	for i, boundary := range n.boundaries {
		if schema.CompareKeys(boundary, key) > 0 {
			if i > 0 {
				down = n.pointers[i-1]
			} else {
				down = n.first
			}
			break
		}
	}
	return down
}

// wouldFit reports whether boundary/blockID could be appended to a fresh
// rebuild of this node without overflowing one block.
func (n *interiorNode) wouldFit(boundary []any, blockID uint32) (bool, error) {
	page := slotted.New(n.f.store.BlockSize())
	try := func(data []byte) bool {
		_, err := page.Add(data)
		return err == nil
	}
	if !try(marshalBlockID(n.first)) {
		return false, nil
	}
	for i, b := range n.boundaries {
		if !try(marshalKey(n.profile, b)) {
			return false, nil
		}
		if !try(marshalBlockID(n.pointers[i])) {
			return false, nil
		}
	}
	if !try(marshalKey(n.profile, boundary)) {
		return false, nil
	}
	if !try(marshalBlockID(blockID)) {
		return false, nil
	}
	return true, nil
}

// insert inserts boundary/blockID in sorted order. With skipSizeCheck it
// skips the capacity probe (used while absorbing a child split, where
// oversizing the in-memory arrays is allowed ahead of an immediate split).
func (n *interiorNode) insert(boundary []any, blockID uint32, skipSizeCheck bool) error {
	if !skipSizeCheck {
		fits, err := n.wouldFit(boundary, blockID)
		if err != nil {
			return err
		}
		if !fits {
			return dberr.New(dberr.NoRoom)
		}
	}
	for i, check := range n.boundaries {
		c := schema.CompareKeys(boundary, check)
		if c == 0 {
			return dberr.Newf(dberr.Invalid, "unexpected boundary for new btree node")
		}
		if c < 0 {
			n.boundaries = append(n.boundaries, nil)
			copy(n.boundaries[i+1:], n.boundaries[i:])
			n.boundaries[i] = boundary
			n.pointers = append(n.pointers, 0)
			copy(n.pointers[i+1:], n.pointers[i:])
			n.pointers[i] = blockID
			return nil
		}
	}
	n.boundaries = append(n.boundaries, boundary)
	n.pointers = append(n.pointers, blockID)
	return nil
}

func (n *interiorNode) save() error {
	page := slotted.New(n.f.store.BlockSize())
	if _, err := page.Add(marshalBlockID(n.first)); err != nil {
		return err
	}
	for i, b := range n.boundaries {
		if _, err := page.Add(marshalKey(n.profile, b)); err != nil {
			return err
		}
		if _, err := page.Add(marshalBlockID(n.pointers[i])); err != nil {
			return err
		}
	}
	return n.f.put(n.id, page)
}

// leafEntry is one key/value pair stored in a leaf node.
type leafEntry struct {
	Key   []any
	Value any
}

// leafNode holds key/value pairs, in a map keyed by the marshalled key
// (sortedEntries yields them in key order), plus the block id of the
// in-order successor leaf (0 if none).
type leafNode struct {
	f        *file
	id       uint32
	profile  schema.KeyProfile
	codec    ValueCodec
	nextLeaf uint32
	entries  map[string]leafEntry
}

func newLeafNode(f *file, profile schema.KeyProfile, codec ValueCodec) (*leafNode, error) {
	id, err := f.getNew()
	if err != nil {
		return nil, err
	}
	return &leafNode{f: f, id: id, profile: profile, codec: codec, entries: map[string]leafEntry{}}, nil
}

func loadLeafNode(f *file, id uint32, profile schema.KeyProfile, codec ValueCodec) (*leafNode, error) {
	page, err := f.get(id)
	if err != nil {
		return nil, err
	}
	n := &leafNode{f: f, id: id, profile: profile, codec: codec, entries: map[string]leafEntry{}}
	ids := page.Ids()
	if len(ids) == 0 {
		return n, nil
	}
	n.nextLeaf = unmarshalBlockID(page.Get(ids[len(ids)-1]))
	rest := ids[:len(ids)-1]
	for i := 0; i+1 < len(rest); i += 2 {
		value := codec.Unmarshal(page.Get(rest[i]))
		key, err := schema.UnmarshalKey(profile, page.Get(rest[i+1]))
		if err != nil {
			return nil, err
		}
		n.entries[keyString(profile, key)] = leafEntry{Key: key, Value: value}
	}
	return n, nil
}

func (n *leafNode) findEq(key []any) (any, bool) {
	e, ok := n.entries[keyString(n.profile, key)]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

func (n *leafNode) wouldFit(key []any, value any) (bool, error) {
	page := slotted.New(n.f.store.BlockSize())
	try := func(data []byte) bool {
		_, err := page.Add(data)
		return err == nil
	}
	for _, e := range n.entries {
		if !try(n.codec.Marshal(e.Value)) {
			return false, nil
		}
		if !try(marshalKey(n.profile, e.Key)) {
			return false, nil
		}
	}
	if !try(n.codec.Marshal(value)) {
		return false, nil
	}
	if !try(marshalKey(n.profile, key)) {
		return false, nil
	}
	if !try(marshalBlockID(n.nextLeaf)) {
		return false, nil
	}
	return true, nil
}

// insert adds key/value, failing with dberr.DuplicateKey if key is
// already present or dberr.NoRoom if the leaf wouldn't fit the addition.
func (n *leafNode) insert(key []any, value any) error {
	k := keyString(n.profile, key)
	if _, exists := n.entries[k]; exists {
		return dberr.New(dberr.DuplicateKey)
	}
	fits, err := n.wouldFit(key, value)
	if err != nil {
		return err
	}
	if !fits {
		return dberr.New(dberr.NoRoom)
	}
	n.entries[k] = leafEntry{Key: key, Value: value}
	return nil
}

// remove deletes key, if present.
func (n *leafNode) remove(key []any) {
	delete(n.entries, keyString(n.profile, key))
}

// sortedEntries returns every entry in ascending key order.
func (n *leafNode) sortedEntries() []leafEntry {
	out := make([]leafEntry, 0, len(n.entries))
	for _, e := range n.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return schema.CompareKeys(out[i].Key, out[j].Key) < 0
	})
	return out
}

func (n *leafNode) save() error {
	page := slotted.New(n.f.store.BlockSize())
	for _, e := range n.sortedEntries() {
		if _, err := page.Add(n.codec.Marshal(e.Value)); err != nil {
			return err
		}
		if _, err := page.Add(marshalKey(n.profile, e.Key)); err != nil {
			return err
		}
	}
	if _, err := page.Add(marshalBlockID(n.nextLeaf)); err != nil {
		return err
	}
	return n.f.put(n.id, page)
}
