package value

import "testing"

func TestTableMigration(t *testing.T) {
	// S3: put(2,"two") goes to hash (array empty); put(1,"one") appends
	// at the boundary and expandArray then migrates "two" out of the
	// hash, giving len 2; put(3,"three") appends at the new boundary,
	// leaving a dense array of length 3.
	tbl := NewTable(0, 0)
	tbl.Set(Integer(2), String("two"))
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d before any array-boundary key is set, want 0", tbl.Len())
	}
	tbl.Set(Integer(1), String("one"))
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d after put(1,...), want 2", tbl.Len())
	}
	tbl.Set(Integer(3), String("three"))
	if tbl.Len() != 3 {
		t.Fatalf("Len() = %d after final put, want 3", tbl.Len())
	}
	for i, want := range []string{"one", "two", "three"} {
		got, _ := tbl.Get(Integer(int64(i + 1))).ToString()
		if got != want {
			t.Errorf("Get(%d) = %q, want %q", i+1, got, want)
		}
	}
}

func TestTablePutGetLaw(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Set(String("k"), Integer(42))
	if got := tbl.Get(String("k")); !Equals(got, Integer(42)) {
		t.Errorf("Get after Put = %#v, want Integer(42)", got)
	}
	tbl.Set(String("k"), Nil)
	if got := tbl.Get(String("k")); !got.IsNil() {
		t.Errorf("Get after Put(nil) = %#v, want Nil", got)
	}
}

func TestTableIntegerFloatKeysShareSlot(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Set(Integer(5), String("five"))
	if got, _ := tbl.Get(Float(5.0)).ToString(); got != "five" {
		t.Errorf("Float(5.0) key should find the slot Integer(5) wrote, got %q", got)
	}
}

func TestTableShrinkOnTrailingNil(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Set(Integer(1), String("a"))
	tbl.Set(Integer(2), String("b"))
	tbl.Set(Integer(3), String("c"))
	tbl.Set(Integer(3), Nil)
	if tbl.Len() != 2 {
		t.Errorf("Len() after trimming trailing nil = %d, want 2", tbl.Len())
	}
}

func TestIsNaN(t *testing.T) {
	var zero float64
	nan := zero / zero
	if !Float(nan).IsNaN() {
		t.Error("Float(NaN).IsNaN() should be true")
	}
	if Float(1.0).IsNaN() || Integer(1).IsNaN() {
		t.Error("IsNaN() should be false for non-NaN values")
	}
}
