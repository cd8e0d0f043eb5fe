package value

import "testing"

func TestToBoolean(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil", Nil, false},
		{"false", Boolean(false), false},
		{"true", Boolean(true), true},
		{"zero integer", Integer(0), true},
		{"zero float", Float(0), true},
		{"empty string", String(""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.ToBoolean(); got != tt.want {
				t.Errorf("ToBoolean() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToInteger(t *testing.T) {
	tests := []struct {
		name    string
		v       Value
		want    int64
		wantOK  bool
	}{
		{"integer", Integer(7), 7, true},
		{"exact float", Float(7.0), 7, true},
		{"fractional float", Float(7.5), 0, false},
		{"numeric string", String("42"), 42, true},
		{"float string", String("3.0"), 3, true},
		{"fractional string", String("3.5"), 0, false},
		{"garbage string", String("nope"), 0, false},
		{"table", TableValue(NewTable(0, 0)), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.ToInteger()
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("ToInteger() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEqualsIntegerFloatCrossCompare(t *testing.T) {
	if !Equals(Integer(2), Float(2.0)) {
		t.Error("Integer(2) should equal Float(2.0)")
	}
	if Equals(Integer(2), Float(2.5)) {
		t.Error("Integer(2) should not equal Float(2.5)")
	}
	if Equals(Integer(1), Boolean(true)) {
		t.Error("differing tags (other than int/float) must never be equal")
	}
}

func TestRoundTripPushTypes(t *testing.T) {
	n := int64(-123456789)
	if got, ok := Integer(n).ToInteger(); !ok || got != n {
		t.Errorf("integer round-trip: got (%v, %v)", got, ok)
	}
	f := 3.25
	if got, ok := Float(f).ToNumber(); !ok || got != f {
		t.Errorf("float round-trip: got (%v, %v)", got, ok)
	}
	if got := Boolean(true).ToBoolean(); !got {
		t.Error("boolean round-trip failed")
	}
	s := "hello"
	if got, ok := String(s).ToString(); !ok || got != s {
		t.Errorf("string round-trip: got (%v, %v)", got, ok)
	}
}

func TestArithPromotion(t *testing.T) {
	// S1: "3.0" + 4.0 must promote to Float(7.0), never Integer.
	got, err := Arith(String("3.0"), Float(4.0), OpAdd)
	if err != nil {
		t.Fatalf("Arith: %v", err)
	}
	if got.Tag != TagFloat || got.AsFloat() != 7.0 {
		t.Errorf("got %#v, want Float(7.0)", got)
	}
}

func TestArithIntegerStaysInteger(t *testing.T) {
	got, err := Arith(Integer(2), Integer(3), OpAdd)
	if err != nil {
		t.Fatalf("Arith: %v", err)
	}
	if got.Tag != TagInteger || got.AsInteger() != 5 {
		t.Errorf("got %#v, want Integer(5)", got)
	}
}

func TestArithPowAndDivAlwaysFloat(t *testing.T) {
	for _, op := range []ArithOp{OpPow, OpDiv} {
		got, err := Arith(Integer(4), Integer(2), op)
		if err != nil {
			t.Fatalf("Arith: %v", err)
		}
		if got.Tag != TagFloat {
			t.Errorf("op %v: got tag %v, want TagFloat", op, got.Tag)
		}
	}
}

func TestFloorDivisionLaw(t *testing.T) {
	// Invariant 8: idiv(a,b)*b + imod(a,b) == a, and sign(imod) follows b.
	cases := []struct{ a, b int64 }{
		{7, 2}, {-7, 2}, {7, -2}, {-7, -2}, {1, 3}, {-1, 3},
	}
	for _, c := range cases {
		q, err := Arith(Integer(c.a), Integer(c.b), OpIDiv)
		if err != nil {
			t.Fatalf("idiv(%d,%d): %v", c.a, c.b, err)
		}
		r, err := Arith(Integer(c.a), Integer(c.b), OpMod)
		if err != nil {
			t.Fatalf("imod(%d,%d): %v", c.a, c.b, err)
		}
		if q.AsInteger()*c.b+r.AsInteger() != c.a {
			t.Errorf("idiv/imod law broken for (%d,%d): q=%d r=%d", c.a, c.b, q.AsInteger(), r.AsInteger())
		}
		if r.AsInteger() != 0 && (r.AsInteger() < 0) != (c.b < 0) {
			t.Errorf("imod(%d,%d) sign %d does not follow divisor", c.a, c.b, r.AsInteger())
		}
	}
}

func TestShiftLaw(t *testing.T) {
	got, _ := Arith(Integer(1), Integer(4), OpShl)
	want, _ := Arith(Integer(1), Integer(-4), OpShr)
	if got.AsInteger() != want.AsInteger() {
		t.Errorf("shift_left(1,4)=%d != shift_right(1,-4)=%d", got.AsInteger(), want.AsInteger())
	}
	big, _ := Arith(Integer(1), Integer(64), OpShl)
	if big.AsInteger() != 0 {
		t.Errorf("shift by >=64 should yield 0, got %d", big.AsInteger())
	}
}

func TestDivisionByZeroIsFatal(t *testing.T) {
	if _, err := Arith(Integer(1), Integer(0), OpIDiv); err == nil {
		t.Error("integer idiv by zero should error")
	}
	if _, err := Arith(Integer(1), Integer(0), OpMod); err == nil {
		t.Error("integer mod by zero should error")
	}
}

func TestCompareStringAndNumber(t *testing.T) {
	lt, err := Compare(String("abc"), String("abd"), CompareLT)
	if err != nil || !lt {
		t.Errorf("string LT failed: %v %v", lt, err)
	}
	lt, err = Compare(Integer(1), Float(1.5), CompareLT)
	if err != nil || !lt {
		t.Errorf("int/float LT failed: %v %v", lt, err)
	}
	if _, err := Compare(Integer(1), String("x"), CompareLT); err == nil {
		t.Error("comparing number with string should error")
	}
}
