package schema

import (
	"testing"

	"github.com/klundeen/cpsc5300go/dberr"
)

var testCols = []Column{
	{Name: "a", Type: INT},
	{Name: "b", Type: TEXT},
	{Name: "c", Type: BOOLEAN},
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	row := Row{"a": int32(-192), "b": "Hello!", "c": true}
	data, err := Marshal(testCols, row)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(testCols, data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, col := range testCols {
		if got[col.Name] != row[col.Name] {
			t.Fatalf("column %s = %v, want %v", col.Name, got[col.Name], row[col.Name])
		}
	}
}

func TestMarshalEmptyText(t *testing.T) {
	row := Row{"a": int32(1000), "b": "", "c": false}
	data, err := Marshal(testCols, row)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) != 4+2+1 {
		t.Fatalf("len(data) = %d, want %d", len(data), 7)
	}
}

func TestValidateMissingColumn(t *testing.T) {
	cols := []Column{{Name: "a", Type: INT}, {Name: "b", Type: TEXT}}
	_, err := Validate(cols, Row{"a": int32(1)})
	if !dberr.Is(err, dberr.BadValue) {
		t.Fatalf("Validate missing column err = %v, want BadValue", err)
	}
}

func TestValidateRunsValidator(t *testing.T) {
	cols := []Column{{Name: "a", Type: INT, Validate: func(v any) bool {
		return v.(int32) >= 0
	}}}
	if _, err := Validate(cols, Row{"a": int32(-1)}); !dberr.Is(err, dberr.BadValue) {
		t.Fatalf("Validate negative = %v, want BadValue", err)
	}
	full, err := Validate(cols, Row{"a": int32(5)})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if full["a"] != int32(5) {
		t.Fatalf("Validate full row = %v", full)
	}
}

func TestProject(t *testing.T) {
	row := Row{"a": int32(1), "b": "x", "c": true}
	got := Project(row, []string{"a", "c"})
	if len(got) != 2 || got["a"] != int32(1) || got["c"] != true {
		t.Fatalf("Project = %v", got)
	}
	if full := Project(row, nil); len(full) != 3 {
		t.Fatalf("Project(nil) = %v, want full row", full)
	}
}

func TestKeyCodecAndCompare(t *testing.T) {
	profile := KeyProfile{INT, TEXT}
	k1 := []any{int32(1), "apple"}
	k2 := []any{int32(1), "banana"}

	b1, err := MarshalKey(profile, k1)
	if err != nil {
		t.Fatalf("MarshalKey: %v", err)
	}
	b2, err := MarshalKey(profile, k2)
	if err != nil {
		t.Fatalf("MarshalKey: %v", err)
	}
	if CompareKeys(k1, k2) >= 0 {
		t.Fatalf("CompareKeys(k1,k2) should be negative")
	}

	back1, err := UnmarshalKey(profile, b1)
	if err != nil {
		t.Fatalf("UnmarshalKey: %v", err)
	}
	if back1[0] != int32(1) || back1[1] != "apple" {
		t.Fatalf("UnmarshalKey = %v", back1)
	}
	_ = b2
}
