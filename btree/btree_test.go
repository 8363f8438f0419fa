package btree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/heap"
	"github.com/klundeen/cpsc5300go/schema"
)

func tempPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "btree-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

var abColumns = []schema.Column{
	{Name: "a", Type: schema.INT},
	{Name: "b", Type: schema.INT},
}

func TestIndexLookup(t *testing.T) {
	table := heap.New(tempPath(t, "foo.db"), 0, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("table.Create: %v", err)
	}
	defer table.Drop()

	row1 := schema.Row{"a": int32(12), "b": int32(99)}
	row2 := schema.Row{"a": int32(88), "b": int32(101)}
	if _, err := table.Insert(row1); err != nil {
		t.Fatalf("Insert row1: %v", err)
	}
	if _, err := table.Insert(row2); err != nil {
		t.Fatalf("Insert row2: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if _, err := table.Insert(schema.Row{"a": int32(i + 100), "b": int32(-i)}); err != nil {
			t.Fatalf("Insert row %d: %v", i, err)
		}
	}

	index := NewIndex(tempPath(t, "fooindex.db"), 0, table, schema.KeyProfile{schema.INT}, []string{"a"})
	if err := index.Create(); err != nil {
		t.Fatalf("index.Create: %v", err)
	}
	defer index.Drop()

	h, ok, err := index.Lookup([]any{int32(12)})
	if err != nil || !ok {
		t.Fatalf("Lookup(12) ok=%v err=%v", ok, err)
	}
	row, err := table.Project(h, nil)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if row["a"] != row1["a"] || row["b"] != row1["b"] {
		t.Fatalf("Lookup(12) row = %v, want %v", row, row1)
	}

	h, ok, err = index.Lookup([]any{int32(88)})
	if err != nil || !ok {
		t.Fatalf("Lookup(88) ok=%v err=%v", ok, err)
	}
	row, _ = table.Project(h, nil)
	if row["a"] != row2["a"] || row["b"] != row2["b"] {
		t.Fatalf("Lookup(88) row = %v, want %v", row, row2)
	}

	_, ok, err = index.Lookup([]any{int32(6)})
	if err != nil {
		t.Fatalf("Lookup(6): %v", err)
	}
	if ok {
		t.Fatalf("Lookup(6) found a handle, want none")
	}

	for i := 0; i < 1000; i++ {
		h, ok, err := index.Lookup([]any{int32(i + 100)})
		if err != nil || !ok {
			t.Fatalf("Lookup(%d) ok=%v err=%v", i+100, ok, err)
		}
		row, err := table.Project(h, nil)
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		if row["a"] != int32(i+100) || row["b"] != int32(-i) {
			t.Fatalf("row for key %d = %v", i+100, row)
		}
	}
}

func TestIndexDuplicateKey(t *testing.T) {
	table := heap.New(tempPath(t, "dup.db"), 0, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()
	table.Insert(schema.Row{"a": int32(1), "b": int32(1)})
	table.Insert(schema.Row{"a": int32(1), "b": int32(2)})

	index := NewIndex(tempPath(t, "dupindex.db"), 0, table, schema.KeyProfile{schema.INT}, []string{"a"})
	err := index.Create()
	if !dberr.Is(err, dberr.DuplicateKey) {
		t.Fatalf("index.Create with duplicate key err = %v, want DuplicateKey", err)
	}
}

func TestIndexRange(t *testing.T) {
	table := heap.New(tempPath(t, "range.db"), 0, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()
	for i := 0; i < 50; i++ {
		table.Insert(schema.Row{"a": int32(i), "b": int32(i * i)})
	}
	index := NewIndex(tempPath(t, "rangeindex.db"), 0, table, schema.KeyProfile{schema.INT}, []string{"a"})
	if err := index.Create(); err != nil {
		t.Fatalf("index.Create: %v", err)
	}
	defer index.Drop()

	count := 0
	for h := range index.Range([]any{int32(10)}, []any{int32(20)}) {
		row, err := table.Project(h, nil)
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		a := row["a"].(int32)
		if a < 10 || a > 20 {
			t.Fatalf("Range yielded out-of-bounds key %d", a)
		}
		count++
	}
	if count != 11 {
		t.Fatalf("Range(10,20) count = %d, want 11", count)
	}
}

func TestIndexDelete(t *testing.T) {
	table := heap.New(tempPath(t, "del.db"), 0, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()
	h1, _ := table.Insert(schema.Row{"a": int32(1), "b": int32(1)})
	table.Insert(schema.Row{"a": int32(2), "b": int32(2)})

	index := NewIndex(tempPath(t, "delindex.db"), 0, table, schema.KeyProfile{schema.INT}, []string{"a"})
	if err := index.Create(); err != nil {
		t.Fatalf("index.Create: %v", err)
	}
	defer index.Drop()

	if err := index.Delete(h1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := index.Lookup([]any{int32(1)})
	if err != nil {
		t.Fatalf("Lookup after delete: %v", err)
	}
	if ok {
		t.Fatalf("Lookup after delete found a handle, want none")
	}
}

func TestClusteredTable(t *testing.T) {
	columns := []schema.Column{
		{Name: "id", Type: schema.INT, PrimaryKeySeq: 1},
		{Name: "name", Type: schema.TEXT},
	}
	table := NewTable(tempPath(t, "clustered.db"), 0, columns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()

	for i := 0; i < 30; i++ {
		if _, err := table.Insert(schema.Row{"id": int32(i), "name": "row"}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	row, err := table.Project([]any{int32(15)}, nil)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if row["id"] != int32(15) || row["name"] != "row" {
		t.Fatalf("Project(15) = %v", row)
	}

	newHandle, err := table.Update([]any{int32(15)}, schema.Row{"name": "updated"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	row, err = table.Project(newHandle, nil)
	if err != nil {
		t.Fatalf("Project after update: %v", err)
	}
	if row["name"] != "updated" {
		t.Fatalf("Project after update = %v", row)
	}

	if err := table.Delete([]any{int32(3)}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	count := 0
	for range table.Select(nil) {
		count++
	}
	if count != 29 {
		t.Fatalf("Select count after delete = %d, want 29", count)
	}
}

func TestDuplicateKeyError(t *testing.T) {
	columns := []schema.Column{
		{Name: "id", Type: schema.INT, PrimaryKeySeq: 1},
	}
	table := NewTable(tempPath(t, "dupkey.db"), 0, columns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()
	if _, err := table.Insert(schema.Row{"id": int32(1)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := table.Insert(schema.Row{"id": int32(1)}); !dberr.Is(err, dberr.DuplicateKey) {
		t.Fatalf("second Insert err = %v, want DuplicateKey", err)
	}
}
