package btree

import (
	"iter"
	"sort"

	"github.com/klundeen/cpsc5300go/schema"
)

// RowCodec encodes a leaf value as the non-key columns of a tuple, using
// the same fixed wire codec as a heap table. This is the value payload a
// clustered Table uses, realizing primary-key storage directly in the
// B+ tree rather than via a separate heap file.
type RowCodec struct {
	Columns []schema.Column
}

func (c RowCodec) Marshal(value any) []byte {
	data, err := schema.Marshal(c.Columns, value.(schema.Row))
	if err != nil {
		panic(err)
	}
	return data
}

func (c RowCodec) Unmarshal(data []byte) any {
	row, err := schema.Unmarshal(c.Columns, data)
	if err != nil {
		panic(err)
	}
	return row
}

// Table is a Relation whose rows are stored directly in B+ tree leaves,
// clustered by primary key: the external handle is the primary-key
// tuple itself rather than a (block, record) pair.
type Table struct {
	tree         *Tree
	allColumns   []schema.Column
	keyColumns   []schema.Column
	valueColumns []schema.Column
}

// NewTable returns a clustered Table over the block file at path. Key
// columns are identified by a non-zero PrimaryKeySeq and ordered by it.
func NewTable(path string, blockSize uint32, columns []schema.Column) *Table {
	var keyCols, valueCols []schema.Column
	for _, c := range columns {
		if c.PrimaryKeySeq > 0 {
			keyCols = append(keyCols, c)
		} else {
			valueCols = append(valueCols, c)
		}
	}
	sort.Slice(keyCols, func(i, j int) bool { return keyCols[i].PrimaryKeySeq < keyCols[j].PrimaryKeySeq })

	profile := make(schema.KeyProfile, len(keyCols))
	for i, c := range keyCols {
		profile[i] = c.Type
	}
	return &Table{
		tree:         New(path, blockSize, profile, RowCodec{Columns: valueCols}),
		allColumns:   columns,
		keyColumns:   keyCols,
		valueColumns: valueCols,
	}
}

func (t *Table) Create() error { return t.tree.Create() }
func (t *Table) Open() error   { return t.tree.Open() }
func (t *Table) Close() error  { return t.tree.Close() }
func (t *Table) Drop() error   { return t.tree.Drop() }

func (t *Table) BeginWrite() int { return t.tree.BeginWrite() }
func (t *Table) EndWrite() int   { return t.tree.EndWrite() }

// Stat returns a snapshot of the underlying tree's size and height.
func (t *Table) Stat() Stats { return t.tree.Stat() }

func (t *Table) keyOf(row schema.Row) []any {
	key := make([]any, len(t.keyColumns))
	for i, c := range t.keyColumns {
		key[i] = row[c.Name]
	}
	return key
}

func (t *Table) valueColumnNames() []string {
	names := make([]string, len(t.valueColumns))
	for i, c := range t.valueColumns {
		names[i] = c.Name
	}
	return names
}

// Insert validates row against every column, splits it into key and
// value parts, and inserts it into the tree. Returns the row's handle
// (its primary-key tuple).
func (t *Table) Insert(row schema.Row) ([]any, error) {
	full, err := schema.Validate(t.allColumns, row)
	if err != nil {
		return nil, err
	}
	key := t.keyOf(full)
	value := schema.Project(full, t.valueColumnNames())
	if err := t.tree.Insert(key, value); err != nil {
		return nil, err
	}
	return key, nil
}

// Project reads the row at handle (a primary-key tuple), restricting it
// to columns if given (nil returns every column, key and value alike).
func (t *Table) Project(handle []any, columns []string) (schema.Row, error) {
	full, err := t.fullRow(handle)
	if err != nil {
		return nil, err
	}
	return schema.Project(full, columns), nil
}

func (t *Table) fullRow(handle []any) (schema.Row, error) {
	v, ok, err := t.tree.Lookup(handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	value := v.(schema.Row)
	full := make(schema.Row, len(t.allColumns))
	for i, c := range t.keyColumns {
		full[c.Name] = handle[i]
	}
	for k, val := range value {
		full[k] = val
	}
	return full, nil
}

// Select lazily yields handles for every row for which where (a
// conjunction of column equalities) holds; nil matches every row.
func (t *Table) Select(where schema.Row) iter.Seq[[]any] {
	return func(yield func([]any) bool) {
		for e := range t.tree.Range(nil, nil) {
			if where != nil {
				row := e.Value.(schema.Row)
				for i, c := range t.keyColumns {
					row[c.Name] = e.Key[i]
				}
				match := true
				for col, want := range where {
					if row[col] != want {
						match = false
						break
					}
				}
				if !match {
					continue
				}
			}
			if !yield(e.Key) {
				return
			}
		}
	}
}

// Update overlays newValues onto the current row at handle, re-validates
// it, and rewrites it (as a delete of the old key followed by an insert,
// since a key component may itself have changed). Returns the row's
// (possibly new) handle.
func (t *Table) Update(handle []any, newValues schema.Row) ([]any, error) {
	row, err := t.Project(handle, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range newValues {
		row[k] = v
	}
	full, err := schema.Validate(t.allColumns, row)
	if err != nil {
		return nil, err
	}
	newKey := t.keyOf(full)
	value := schema.Project(full, t.valueColumnNames())
	if err := t.tree.Delete(handle); err != nil {
		return nil, err
	}
	if err := t.tree.Insert(newKey, value); err != nil {
		return nil, err
	}
	return newKey, nil
}

// Delete removes the row at handle.
func (t *Table) Delete(handle []any) error {
	return t.tree.Delete(handle)
}
