package slotted

import (
	"bytes"
	"testing"

	"github.com/klundeen/cpsc5300go/dberr"
)

func TestBasics(t *testing.T) {
	p := New(32)

	recordID, err := p.Add([]byte("Hello"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id2, err := p.Add([]byte("Wow!"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := p.Get(recordID); !bytes.Equal(got, []byte("Hello")) {
		t.Fatalf("Get(recordID) = %q, want Hello", got)
	}
	if got := p.Get(id2); !bytes.Equal(got, []byte("Wow!")) {
		t.Fatalf("Get(id2) = %q, want Wow!", got)
	}

	if err := p.Put(recordID, []byte("Goodbye")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := p.Get(id2); !bytes.Equal(got, []byte("Wow!")) {
		t.Fatalf("Get(id2) after Put = %q, want Wow!", got)
	}
	if got := p.Get(recordID); !bytes.Equal(got, []byte("Goodbye")) {
		t.Fatalf("Get(recordID) after Put = %q, want Goodbye", got)
	}
	if err := p.Put(recordID, []byte("Tiny")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := p.Get(id2); !bytes.Equal(got, []byte("Wow!")) {
		t.Fatalf("Get(id2) after shrink Put = %q, want Wow!", got)
	}
	if got := p.Get(recordID); !bytes.Equal(got, []byte("Tiny")) {
		t.Fatalf("Get(recordID) after shrink Put = %q, want Tiny", got)
	}

	if ids := p.Ids(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("Ids = %v, want [1 2]", ids)
	}

	p.Delete(recordID)
	if got := p.Get(recordID); got != nil {
		t.Fatalf("Get(recordID) after Delete = %q, want nil", got)
	}
	if ids := p.Ids(); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("Ids after Delete = %v, want [2]", ids)
	}
	if _, err := p.Add([]byte("George")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range p.Ids() {
		seen[string(p.Get(id))] = true
	}
	if !seen["Wow!"] || !seen["George"] || len(seen) != 2 {
		t.Fatalf("final ids contents = %v, want {Wow! George}", seen)
	}

	want := []byte("\x00\x03\x00\x15\x00\x00\x00\x00\x00\x04\x00\x1c\x00\x06\x00\x16\x00\x00\x00\x00\x00WGeorgeWow!")
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("final block = %q, want %q", p.Bytes(), want)
	}
}

func TestMoreDeletes(t *testing.T) {
	p := New(100)
	p.Add([]byte("as;lkdjfa;sldfjk"))
	id3, _ := p.Add([]byte("stuff after"))
	id4, _ := p.Add([]byte("foo"))
	id5, _ := p.Add([]byte("more stuff around it"))

	if err := p.Put(id4, []byte("something bigger")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := p.Get(id3); !bytes.Equal(got, []byte("stuff after")) {
		t.Fatalf("Get(id3) = %q", got)
	}
	if got := p.Get(id4); !bytes.Equal(got, []byte("something bigger")) {
		t.Fatalf("Get(id4) = %q", got)
	}
	if got := p.Get(id5); !bytes.Equal(got, []byte("more stuff around it")) {
		t.Fatalf("Get(id5) = %q", got)
	}
}

func TestAddNoRoom(t *testing.T) {
	p := New(16)
	_, err := p.Add(make([]byte, 100))
	if !dberr.Is(err, dberr.NoRoom) {
		t.Fatalf("Add oversized = %v, want NoRoom", err)
	}
}

func TestClear(t *testing.T) {
	p := New(32)
	p.Add([]byte("a"))
	p.Add([]byte("b"))
	p.Clear()
	if ids := p.Ids(); len(ids) != 0 {
		t.Fatalf("Ids after Clear = %v, want empty", ids)
	}
	id, err := p.Add([]byte("fresh"))
	if err != nil {
		t.Fatalf("Add after Clear: %v", err)
	}
	if id != 1 {
		t.Fatalf("Add after Clear returned id %d, want 1", id)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	p := New(32)
	p.Add([]byte("Hello"))
	p.Add([]byte("Wow!"))

	p2 := Load(p.Bytes())
	if got := p2.Get(1); !bytes.Equal(got, []byte("Hello")) {
		t.Fatalf("Get(1) after Load = %q", got)
	}
	if got := p2.Get(2); !bytes.Equal(got, []byte("Wow!")) {
		t.Fatalf("Get(2) after Load = %q", got)
	}
	if ids := p2.Ids(); len(ids) != 2 {
		t.Fatalf("Ids after Load = %v", ids)
	}
}
