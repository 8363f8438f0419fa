package fixedpage

import (
	"bytes"
	"testing"

	"github.com/klundeen/cpsc5300go/dberr"
)

func TestBasics(t *testing.T) {
	p := New(30, 4)

	id, err := p.Add([]byte("Help"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id2, err := p.Add([]byte("Wow!"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := p.Get(id); !bytes.Equal(got, []byte("Help")) {
		t.Fatalf("Get(id) = %q, want Help", got)
	}
	if got := p.Get(id2); !bytes.Equal(got, []byte("Wow!")) {
		t.Fatalf("Get(id2) = %q, want Wow!", got)
	}

	p.Put(id, []byte("Good"))
	if got := p.Get(id2); !bytes.Equal(got, []byte("Wow!")) {
		t.Fatalf("Get(id2) after Put = %q, want Wow!", got)
	}
	if got := p.Get(id); !bytes.Equal(got, []byte("Good")) {
		t.Fatalf("Get(id) after Put = %q, want Good", got)
	}
	p.Put(id, []byte("Tiny"))
	if got := p.Get(id2); !bytes.Equal(got, []byte("Wow!")) {
		t.Fatalf("Get(id2) after second Put = %q, want Wow!", got)
	}
	if got := p.Get(id); !bytes.Equal(got, []byte("Tiny")) {
		t.Fatalf("Get(id) after second Put = %q, want Tiny", got)
	}

	if ids := p.Ids(); len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("Ids = %v, want [0 1]", ids)
	}

	p.Delete(id)
	if got := p.Get(id); got != nil {
		t.Fatalf("Get(id) after Delete = %q, want nil", got)
	}
	if ids := p.Ids(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("Ids after Delete = %v, want [1]", ids)
	}
	if _, err := p.Add([]byte("Gent")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range p.Ids() {
		seen[string(p.Get(id))] = true
	}
	if !seen["Wow!"] || !seen["Gent"] || len(seen) != 2 {
		t.Fatalf("final ids contents = %v, want {Wow! Gent}", seen)
	}

	want := []byte("\x00\x02GentWow!\x00\x03\x00\x00\x00\x04\x00\x00\x00\x05\x00\x00\x00\x06\x00\x00\x00\x07\x00\x00")
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("final block = %q, want %q", p.Bytes(), want)
	}
}

func TestAddNoRoom(t *testing.T) {
	p := New(10, 4)
	if p.MaxRecords() != 2 {
		t.Fatalf("MaxRecords = %d, want 2", p.MaxRecords())
	}
	if _, err := p.Add([]byte("aaaa")); err != nil {
		t.Fatalf("Add 1: %v", err)
	}
	if _, err := p.Add([]byte("bbbb")); err != nil {
		t.Fatalf("Add 2: %v", err)
	}
	if _, err := p.Add([]byte("cccc")); !dberr.Is(err, dberr.NoRoom) {
		t.Fatalf("Add 3 = %v, want NoRoom", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	p := New(30, 4)
	id, _ := p.Add([]byte("Help"))
	p.Delete(id)
	p.Delete(id) // must not corrupt the free list
	if got := p.Get(id); got != nil {
		t.Fatalf("Get(id) after double Delete = %q, want nil", got)
	}
	id2, err := p.Add([]byte("Next"))
	if err != nil {
		t.Fatalf("Add after double Delete: %v", err)
	}
	if id2 != id {
		t.Fatalf("Add after double Delete reused id %d, want %d", id2, id)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	p := New(30, 4)
	id, _ := p.Add([]byte("Help"))

	p2 := Load(p.Bytes(), 4)
	if got := p2.Get(id); !bytes.Equal(got, []byte("Help")) {
		t.Fatalf("Get after Load = %q", got)
	}
}
