package heap

import (
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klundeen/cpsc5300go/dberr"
	"github.com/klundeen/cpsc5300go/schema"
)

func tempTablePath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "heap-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "test.db")
}

var abColumns = []schema.Column{
	{Name: "a", Type: schema.INT},
	{Name: "b", Type: schema.TEXT},
}

func collect(seq iter.Seq[Handle]) []Handle {
	var out []Handle
	for h := range seq {
		out = append(out, h)
	}
	return out
}

func TestCreateDrop(t *testing.T) {
	path := tempTablePath(t)
	table := New(path, 0, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file missing after Create: %v", err)
	}
	if err := table.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still present after Drop")
	}
}

func TestInsertSelectProjectUpdateDelete(t *testing.T) {
	path := tempTablePath(t)
	table := New(path, 0, abColumns)
	if err := table.CreateIfNotExists(); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}
	if err := table.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := table.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer table.Close()

	base := []schema.Row{
		{"a": int32(12), "b": "Hello!"},
		{"a": int32(-192), "b": strings.Repeat("Much longer piece of text here", 100)},
		{"a": int32(1000), "b": ""},
	}
	var rows []schema.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, base...)
	}

	var handles []Handle
	for _, row := range rows {
		h, err := table.Insert(row)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		handles = append(handles, h)
	}

	i := 0
	for h := range table.Select(nil, nil) {
		row, err := table.Project(h, nil)
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		if row["a"] != rows[i]["a"] || row["b"] != rows[i]["b"] {
			t.Fatalf("row %d = %v, want %v", i, row, rows[i])
		}
		i++
	}
	if i != len(rows) {
		t.Fatalf("scanned %d rows, want %d", i, len(rows))
	}

	last := rows[len(rows)-1]
	matching := collect(table.Select(last, nil))
	if len(matching) != 10 {
		t.Fatalf("matching last row = %d, want 10", len(matching))
	}

	if err := table.Delete(handles[len(handles)-1]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	matching = collect(table.Select(last, nil))
	if len(matching) != 9 {
		t.Fatalf("matching last row after delete = %d, want 9", len(matching))
	}

	if err := table.Delete(handles[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	i = 1
	for h := range table.Select(nil, nil) {
		row, err := table.Project(h, nil)
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		if row["a"] != rows[i]["a"] {
			t.Fatalf("row after deletes[%d] a = %v, want %v", i, row["a"], rows[i]["a"])
		}
		i++
	}

	if err := table.Update(handles[1], schema.Row{"a": int32(999)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	found := false
	for h := range table.Select(schema.Row{"a": int32(999)}, nil) {
		row, err := table.Project(h, nil)
		if err != nil {
			t.Fatalf("Project: %v", err)
		}
		if row["a"] == int32(999) {
			found = true
		}
	}
	if !found {
		t.Fatalf("updated row not found via Select")
	}
}

func TestInsertValidatesColumns(t *testing.T) {
	path := tempTablePath(t)
	table := New(path, 0, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()

	_, err := table.Insert(schema.Row{"a": int32(1)})
	if !dberr.Is(err, dberr.BadValue) {
		t.Fatalf("Insert missing column err = %v, want BadValue", err)
	}
}

func TestAllocatesNewBlockWhenFull(t *testing.T) {
	path := tempTablePath(t)
	table := New(path, 64, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()

	var last Handle
	for i := 0; i < 20; i++ {
		h, err := table.Insert(schema.Row{"a": int32(i), "b": "x"})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		last = h
	}
	if last.BlockID <= 1 {
		t.Fatalf("expected table to span multiple blocks, last handle = %+v", last)
	}
}

func TestProjectColumns(t *testing.T) {
	path := tempTablePath(t)
	table := New(path, 0, abColumns)
	if err := table.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer table.Drop()

	h, err := table.Insert(schema.Row{"a": int32(7), "b": "seven"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	row, err := table.Project(h, []string{"a"})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(row) != 1 || row["a"] != int32(7) {
		t.Fatalf("Project(columns) = %v", row)
	}
}
