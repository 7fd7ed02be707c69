package table

import (
	"testing"

	"tradepipe/internal/schema"
)

var pair = schema.Contract{
	Name: "pair",
	Fields: []schema.Field{
		{Name: "k", Type: schema.KindString},
		{Name: "v", Type: schema.KindString},
	},
}

func TestNew_RejectsWrongWidth(t *testing.T) {
	if _, err := New(pair, []Row{{Str("a")}}); err == nil {
		t.Fatalf("expected width error")
	}
	tb, err := New(pair, []Row{{Str("a"), Null()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tb.Len() != 1 || tb.Get(0, "v").Valid {
		t.Fatalf("unexpected table %+v", tb)
	}
	if tb.Get(0, "missing").Valid || tb.Get(5, "k").Valid {
		t.Fatalf("out-of-range Get must read as null")
	}
}

func TestSortedBy_NullsFirstAndStable(t *testing.T) {
	tb := Table{Schema: pair, Rows: []Row{
		{Str("b"), Str("1")},
		{Null(), Str("2")},
		{Str("a"), Str("3")},
		{Str("b"), Str("4")},
	}}
	got := tb.SortedBy("k")
	want := []string{"2", "3", "1", "4"}
	for i, w := range want {
		if got.Rows[i][1].String != w {
			t.Fatalf("row %d v=%q; want %q", i, got.Rows[i][1].String, w)
		}
	}
	// input untouched
	if tb.Rows[0][1].String != "1" {
		t.Fatalf("SortedBy mutated its input")
	}
}

func TestFingerprint(t *testing.T) {
	a := Table{Schema: pair, Rows: []Row{{Str("ab"), Str("c")}}}
	b := Table{Schema: pair, Rows: []Row{{Str("a"), Str("bc")}}}
	c := Table{Schema: pair, Rows: []Row{{Str("ab"), Str("c")}}}
	n := Table{Schema: pair, Rows: []Row{{Str("ab"), Null()}}}
	e := Table{Schema: pair, Rows: []Row{{Str("ab"), Str("")}}}

	if a.Fingerprint() != c.Fingerprint() {
		t.Fatalf("equal tables must have equal fingerprints")
	}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("cell boundaries must affect fingerprint")
	}
	if n.Fingerprint() == e.Fingerprint() {
		t.Fatalf("null and empty string must differ")
	}
}

func TestEqualAndClone(t *testing.T) {
	a := Table{Schema: pair, Rows: []Row{{Str("x"), Str("y")}}}
	b := a.Clone()
	if !Equal(a, b) {
		t.Fatalf("clone must be equal")
	}
	b.Rows[0][0] = Str("z")
	if Equal(a, b) {
		t.Fatalf("clone must be deep")
	}
}
