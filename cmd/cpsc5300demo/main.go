// Command cpsc5300demo exercises the storage core end to end: a heap
// table with a secondary B+ tree index, a clustered B+ tree table, and
// an extendible hash index, each built, populated and queried the way
// an upper-layer planner would drive them.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/klundeen/cpsc5300go/btree"
	"github.com/klundeen/cpsc5300go/hashindex"
	"github.com/klundeen/cpsc5300go/heap"
	"github.com/klundeen/cpsc5300go/schema"
)

func main() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("cpsc5300go storage core demo")
	fmt.Println(strings.Repeat("=", 72))

	dir, err := os.MkdirTemp("", "cpsc5300demo-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	demoHeapWithBTreeIndex(dir)
	fmt.Println()
	demoBTreeTable(dir)
	fmt.Println()
	demoHashIndex(dir)
}

// demoHeapWithBTreeIndex builds foo(a INT, b INT), a secondary index on
// a, and walks through lookup, range, and delete.
func demoHeapWithBTreeIndex(dir string) {
	fmt.Println("\n### HeapTable + BTree secondary index ###")
	fmt.Println(strings.Repeat("-", 48))

	columns := []schema.Column{
		{Name: "a", Type: schema.INT},
		{Name: "b", Type: schema.INT},
	}
	table := heap.New(filepath.Join(dir, "foo.db"), 0, columns)
	if err := table.Create(); err != nil {
		log.Fatal(err)
	}
	defer table.Close()

	mustInsert(table, schema.Row{"a": int32(12), "b": int32(99)})
	mustInsert(table, schema.Row{"a": int32(88), "b": int32(101)})
	for i := 0; i < 1000; i++ {
		mustInsert(table, schema.Row{"a": int32(100 + i), "b": int32(-i)})
	}
	fmt.Printf("  inserted 1002 rows into foo (blocks: %d)\n", table.Stat().NumBlocks)

	index := btree.NewIndex(filepath.Join(dir, "foo-a-index.db"), 0, table, schema.KeyProfile{schema.INT}, []string{"a"})
	if err := index.Create(); err != nil {
		log.Fatal(err)
	}
	defer index.Close()
	fmt.Printf("  built index foo(a) (height %d)\n", index.Stat().Height)

	for _, a := range []int32{12, 88, 6} {
		h, ok, err := index.Lookup([]any{a})
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			fmt.Printf("  lookup(a=%d) -> no match\n", a)
			continue
		}
		row, err := table.Project(h, nil)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("  lookup(a=%d) -> %v\n", a, row)
	}

	count := 0
	for range index.Range([]any{int32(100)}, []any{int32(310)}) {
		count++
	}
	fmt.Printf("  range(a=[100,310]) -> %d rows\n", count)

	h44, err := table.Insert(schema.Row{"a": int32(44), "b": int32(44)})
	if err != nil {
		log.Fatal(err)
	}
	if err := index.Insert(h44); err != nil {
		log.Fatal(err)
	}
	if err := index.Delete(h44); err != nil {
		log.Fatal(err)
	}
	if err := table.Delete(h44); err != nil {
		log.Fatal(err)
	}
	_, ok, err := index.Lookup([]any{int32(44)})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  after delete, lookup(a=44) found = %v\n", ok)
}

// demoBTreeTable builds a clustered bt(id INT, data TEXT, PRIMARY KEY(id))
// whose rows live directly in B+ tree leaves.
func demoBTreeTable(dir string) {
	fmt.Println("\n### Clustered BTree table ###")
	fmt.Println(strings.Repeat("-", 48))

	columns := []schema.Column{
		{Name: "id", Type: schema.INT, PrimaryKeySeq: 1},
		{Name: "data", Type: schema.TEXT},
	}
	bt := btree.NewTable(filepath.Join(dir, "bt.db"), 0, columns)
	if err := bt.Create(); err != nil {
		log.Fatal(err)
	}
	defer bt.Close()

	rows := []schema.Row{
		{"id": int32(1), "data": "one"},
		{"id": int32(2), "data": "Two"},
		{"id": int32(3), "data": "three"},
	}
	for _, r := range rows {
		if _, err := bt.Insert(r); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Println("  select * ->")
	for handle := range bt.Select(nil) {
		row, err := bt.Project(handle, nil)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("    %v\n", row)
	}

	if err := bt.Delete([]any{int32(2)}); err != nil {
		log.Fatal(err)
	}
	fmt.Println("  after delete id=2 ->")
	for handle := range bt.Select(nil) {
		row, err := bt.Project(handle, nil)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("    %v\n", row)
	}
}

// demoHashIndex builds a hash index on (a) over a fresh relation, then
// indexes 300 rows that share one key and looks them all up.
func demoHashIndex(dir string) {
	fmt.Println("\n### Extendible hash index ###")
	fmt.Println(strings.Repeat("-", 48))

	columns := []schema.Column{
		{Name: "a", Type: schema.INT},
		{Name: "b", Type: schema.INT},
	}
	table := heap.New(filepath.Join(dir, "hashed.db"), 0, columns)
	if err := table.Create(); err != nil {
		log.Fatal(err)
	}
	defer table.Close()

	for i := 0; i < 1000; i++ {
		mustInsert(table, schema.Row{"a": int32(i), "b": int32(i * 2)})
	}

	index := hashindex.New(filepath.Join(dir, "hashed-a-index"), 0, table, schema.KeyProfile{schema.INT}, []string{"a"})
	if err := index.Create(); err != nil {
		log.Fatal(err)
	}
	defer index.Close()

	dup := schema.Row{"a": int32(-123), "b": int32(0)}
	for i := 0; i < 300; i++ {
		h, err := table.Insert(dup)
		if err != nil {
			log.Fatal(err)
		}
		if err := index.Insert(h); err != nil {
			log.Fatal(err)
		}
	}

	seq, err := index.Lookup([]any{int32(-123)})
	if err != nil {
		log.Fatal(err)
	}
	count := 0
	for range seq {
		count++
	}
	fmt.Printf("  lookup(a=-123) -> %d handles (inserted 300 duplicates)\n", count)
	stat := index.Stat()
	fmt.Printf("  bucket file blocks: %d, bucket_table_bits: %d\n", stat.NumBlocks, stat.BucketTableBits)

	_, err = index.Range([]any{int32(0)}, []any{int32(10)})
	fmt.Printf("  range(...) on hash index -> error = %v\n", err)
}

func mustInsert(table *heap.Table, row schema.Row) {
	if _, err := table.Insert(row); err != nil {
		log.Fatal(err)
	}
}
