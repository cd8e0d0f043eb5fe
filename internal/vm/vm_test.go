package vm

import (
	"testing"

	"ruavm/internal/bytecode"
	"ruavm/internal/errors"
	"ruavm/internal/value"
)

func pushClosure(s *State, proto *bytecode.Prototype) {
	s.frame().Push(value.FunctionValue(value.NewScriptClosure(proto)))
}

// S2: concatenating three pushed strings yields their join.
func TestConcatScenario(t *testing.T) {
	s := NewState()
	s.PushString("a")
	s.PushString("b")
	s.PushString("c")
	if err := s.Concat(3); err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if got := s.ToString(-1); got != "abc" {
		t.Errorf("Concat result = %q, want %q", got, "abc")
	}
}

func TestConcatEmptyAndSingle(t *testing.T) {
	s := NewState()
	if err := s.Concat(0); err != nil {
		t.Fatalf("Concat(0): %v", err)
	}
	if got := s.ToString(-1); got != "" {
		t.Errorf("Concat(0) = %q, want empty string", got)
	}
	s.PushString("x")
	top := s.GetTop()
	if err := s.Concat(1); err != nil {
		t.Fatalf("Concat(1): %v", err)
	}
	if got := s.ToString(-1); got != "x" || s.GetTop() != top {
		t.Errorf("Concat(1) = %q with top %d, want %q with top %d", got, s.GetTop(), "x", top)
	}
}

// S4: a two-param vararg closure called with three arguments forwards
// the overflow argument through VARARG/RETURN.
func TestVarargForwarding(t *testing.T) {
	proto := &bytecode.Prototype{
		NumParams:    2,
		IsVararg:     true,
		MaxStackSize: 3,
		Code: []bytecode.Instruction{
			bytecode.Encode(bytecode.OpVararg, 2, 0, 0, 0),
			bytecode.Encode(bytecode.OpReturn, 2, 0, 0, 0),
		},
	}

	s := NewState()
	pushClosure(s, proto)
	s.PushInteger(1)
	s.PushInteger(2)
	s.PushInteger(3)

	if err := s.Call(3, 1); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := s.ToInteger(-1); got != 3 {
		t.Errorf("forwarded vararg = %d, want 3", got)
	}
}

// S5: a numeric for loop (1,3,1) over a global accumulator sums to 6.
func TestNumericForLoopIntegerScenario(t *testing.T) {
	proto := &bytecode.Prototype{
		NumParams:    0,
		MaxStackSize: 5,
		Constants: []bytecode.Constant{
			{Tag: bytecode.ConstString, Str: "sum"},
		},
		Code: []bytecode.Instruction{
			bytecode.EncodeAsBx(bytecode.OpLoadI, 0, 1),    // R0 = 1 (init)
			bytecode.EncodeAsBx(bytecode.OpLoadI, 1, 3),    // R1 = 3 (limit)
			bytecode.EncodeAsBx(bytecode.OpLoadI, 2, 1),    // R2 = 1 (step)
			bytecode.EncodeABx(bytecode.OpForPrep, 0, 3),   // FORPREP A=0 Bx=3
			bytecode.Encode(bytecode.OpGetTabUp, 4, 0, 0, 0), // R4 = _ENV["sum"]
			bytecode.Encode(bytecode.OpAdd, 4, 4, 3, 0),    // R4 = R4 + R3(loopvar)
			bytecode.Encode(bytecode.OpSetTabUp, 0, 0, 4, 0), // _ENV["sum"] = R4
			bytecode.EncodeABx(bytecode.OpForLoop, 0, 4),   // FORLOOP A=0 Bx=4
			bytecode.Encode(bytecode.OpReturn0, 0, 0, 0, 0),
		},
	}

	s := NewState()
	s.Globals().Set(value.String("sum"), value.Integer(0))
	pushClosure(s, proto)

	if err := s.Call(0, 0); err != nil {
		t.Fatalf("Call: %v", err)
	}
	got := s.Globals().Get(value.String("sum"))
	if i, ok := got.ToInteger(); !ok || i != 6 {
		t.Errorf("sum = %#v, want Integer(6)", got)
	}
}

// S6: a float-stepped for loop (0.0, 1.0, 0.25) enters the body
// exactly 5 times (0, 0.25, 0.5, 0.75, 1.0).
func TestNumericForLoopFloatScenario(t *testing.T) {
	// AddI's C operand is the signed SC field; sc=+1 encodes as
	// offsetSC+1 (offsetSC == maxArgC>>1 == 127), per instruction.go.
	const addOne = 128

	proto := &bytecode.Prototype{
		NumParams:    0,
		MaxStackSize: 5,
		Constants: []bytecode.Constant{
			{Tag: bytecode.ConstString, Str: "count"},
			{Tag: bytecode.ConstFloat, Float: 0.0},
			{Tag: bytecode.ConstFloat, Float: 1.0},
			{Tag: bytecode.ConstFloat, Float: 0.25},
		},
		Code: []bytecode.Instruction{
			bytecode.EncodeABx(bytecode.OpLoadK, 0, 1), // R0 = 0.0 (init)
			bytecode.EncodeABx(bytecode.OpLoadK, 1, 2), // R1 = 1.0 (limit)
			bytecode.EncodeABx(bytecode.OpLoadK, 2, 3), // R2 = 0.25 (step)
			bytecode.EncodeABx(bytecode.OpForPrep, 0, 3),
			bytecode.Encode(bytecode.OpGetTabUp, 4, 0, 0, 0),
			bytecode.Encode(bytecode.OpAddI, 4, 4, addOne, 0), // R4 = R4 + 1 (per-iteration counter)
			bytecode.Encode(bytecode.OpSetTabUp, 0, 0, 4, 0),
			bytecode.EncodeABx(bytecode.OpForLoop, 0, 4),
			bytecode.Encode(bytecode.OpReturn0, 0, 0, 0, 0),
		},
	}

	s := NewState()
	s.Globals().Set(value.String("count"), value.Integer(0))
	pushClosure(s, proto)

	if err := s.Call(0, 0); err != nil {
		t.Fatalf("Call: %v", err)
	}
	got := s.Globals().Get(value.String("count"))
	if i, ok := got.ToInteger(); !ok || i != 5 {
		t.Errorf("count = %#v, want Integer(5)", got)
	}
}

// Invariant 1: get/type_id on an out-of-range index behaves as "no value".
func TestOutOfRangeIsTypeNone(t *testing.T) {
	s := NewState()
	s.PushInteger(1)
	if tp := s.TypeID(5); tp != value.TypeNone {
		t.Errorf("TypeID(5) = %d, want TypeNone", tp)
	}
	if !s.frame().Get(5).IsNil() {
		t.Errorf("Get(5) should be Nil for an out-of-range index")
	}
}

// Invariant 2: abs_index(-k) counts back from the top.
func TestAbsIndex(t *testing.T) {
	s := NewState()
	s.PushInteger(10)
	s.PushInteger(20)
	s.PushInteger(30)
	if got := s.AbsIndex(-1); got != 3 {
		t.Errorf("AbsIndex(-1) = %d, want 3", got)
	}
	if got := s.AbsIndex(-3); got != 1 {
		t.Errorf("AbsIndex(-3) = %d, want 1", got)
	}
}

// Invariant 7: rotate(i,n) followed by rotate(i,-n) is the identity.
func TestRotateIsInvolutivePair(t *testing.T) {
	s := NewState()
	s.PushInteger(1)
	s.PushInteger(2)
	s.PushInteger(3)
	s.PushInteger(4)
	before := []int64{s.ToInteger(1), s.ToInteger(2), s.ToInteger(3), s.ToInteger(4)}

	if err := s.Rotate(1, 2); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := s.Rotate(1, -2); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	after := []int64{s.ToInteger(1), s.ToInteger(2), s.ToInteger(3), s.ToInteger(4)}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("slot %d: before=%d after=%d, rotate pair should be identity", i+1, before[i], after[i])
		}
	}
}

// NaN keys are rejected at the host-API boundary, not inside Table itself.
func TestSetTableRejectsNaNKey(t *testing.T) {
	s := NewState()
	s.NewTable()
	tblIdx := s.GetTop()
	var zero float64
	nan := zero / zero
	s.PushNumber(nan)
	s.PushInteger(1)
	err := s.SetTable(tblIdx)
	if err == nil {
		t.Fatal("SetTable with a NaN key should error")
	}
	e, ok := err.(*errors.Error)
	if !ok || e.Kind != errors.TableError {
		t.Errorf("got %v, want a TableError", err)
	}
}

func TestSetFieldAndGetFieldRoundTrip(t *testing.T) {
	s := NewState()
	s.NewTable()
	tblIdx := s.GetTop()
	s.PushInteger(99)
	if err := s.SetField(tblIdx, "x"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if _, err := s.GetField(tblIdx, "x"); err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if got := s.ToInteger(-1); got != 99 {
		t.Errorf("GetField result = %d, want 99", got)
	}
}

func TestCallNonFunctionIsTypeError(t *testing.T) {
	s := NewState()
	s.PushInteger(5)
	err := s.Call(0, 0)
	if err == nil {
		t.Fatal("calling an integer should error")
	}
	e, ok := err.(*errors.Error)
	if !ok || e.Kind != errors.TypeError {
		t.Errorf("got %v, want a TypeError", err)
	}
}

func TestRegisterAndCallGoFunction(t *testing.T) {
	s := NewState()
	s.Register("double", func(s *State) int {
		n := s.ToInteger(1)
		s.PushInteger(n * 2)
		return 1
	})
	s.GetGlobal("double")
	s.PushInteger(21)
	if err := s.Call(1, 1); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := s.ToInteger(-1); got != 42 {
		t.Errorf("double(21) = %d, want 42", got)
	}
}
