// Package vm implements the register-window call stack, the host API
// surface a Go program and host functions use to drive the VM, and the
// opcode dispatch loop that executes a loaded chunk.
package vm

import (
	"ruavm/internal/bytecode"
	"ruavm/internal/errors"
	"ruavm/internal/value"
)

// Frame is one call's register window: a growable stack of values
// addressed the Lua way (1-based from the bottom, or negative counting
// back from the top), plus the executing closure's program counter and
// its collected varargs. Grounded on
// original_source/src/state/lua_stack.rs for indexing/reverse, extended
// with pc/closure/varargs the way lua_state.rs's call protocol actually
// uses them (that richer shape isn't in the retrieved lua_stack.rs
// excerpt, so the fields are inferred from their call sites there).
type Frame struct {
	regs     []value.Value
	closure  *value.Closure
	pc       int
	varargs  []value.Value
	source   string
}

// NewFrame allocates a register window sized to hold at least
// initialCap values, for the given closure (nil for a bare top-level
// frame with no executing prototype, e.g. before Load).
func NewFrame(closure *value.Closure, initialCap int) *Frame {
	f := &Frame{closure: closure, regs: make([]value.Value, 0, initialCap)}
	if closure != nil && closure.Proto != nil {
		f.source = closure.Proto.Source
	}
	return f
}

// Top returns the 1-based index of the topmost populated slot (0 if empty).
func (f *Frame) Top() int { return len(f.regs) }

// AbsIndex converts a possibly-negative index into its absolute
// 1-based form, without checking validity.
func (f *Frame) AbsIndex(idx int) int {
	if idx >= 0 {
		return idx
	}
	return idx + f.Top() + 1
}

// IsValid reports whether idx (after AbsIndex) names a populated slot.
func (f *Frame) IsValid(idx int) bool {
	a := f.AbsIndex(idx)
	return a > 0 && a <= f.Top()
}

// Get returns the value at idx, or Nil if idx is out of range.
func (f *Frame) Get(idx int) value.Value {
	a := f.AbsIndex(idx)
	if a > 0 && a <= f.Top() {
		return f.regs[a-1]
	}
	return value.Nil
}

// Set overwrites the value at idx, returning IndexError if idx is invalid.
func (f *Frame) Set(idx int, v value.Value) error {
	a := f.AbsIndex(idx)
	if a > 0 && a <= f.Top() {
		f.regs[a-1] = v
		return nil
	}
	return f.indexError("invalid index %d", idx)
}

func (f *Frame) indexError(format string, args ...any) error {
	return errors.At(errors.IndexError, f.source, f.currentLine(), format, args...)
}

func (f *Frame) currentLine() int {
	if f.closure == nil || f.closure.Proto == nil {
		return 0
	}
	return f.closure.Proto.Line(f.pc)
}

// Push appends v to the top of the register window.
func (f *Frame) Push(v value.Value) { f.regs = append(f.regs, v) }

// Pop removes and returns the top value, or Nil if the window is empty.
func (f *Frame) Pop() value.Value {
	n := len(f.regs)
	if n == 0 {
		return value.Nil
	}
	v := f.regs[n-1]
	f.regs = f.regs[:n-1]
	return v
}

// PopN removes and returns the top n values, in bottom-to-top order
// (not reversed), or as many as are available if fewer than n remain.
func (f *Frame) PopN(n int) []value.Value {
	if n > len(f.regs) {
		n = len(f.regs)
	}
	start := len(f.regs) - n
	out := make([]value.Value, n)
	copy(out, f.regs[start:])
	f.regs = f.regs[:start]
	return out
}

// PushN pushes every value in vals, then pads with Nil or truncates so
// that exactly n values were added — unless n is negative, the "push
// everything" sentinel used for an "all results"/"all varargs" call.
// Grounded on lua_state.rs's call_lua_closure's push_n(args, nparams).
func (f *Frame) PushN(vals []value.Value, n int) {
	want := n
	if want < 0 {
		want = len(vals)
	}
	for i := 0; i < want; i++ {
		if i < len(vals) {
			f.Push(vals[i])
		} else {
			f.Push(value.Nil)
		}
	}
}

// SetTop grows (padding with Nil) or truncates the register window so
// Top() == AbsIndex(idx).
func (f *Frame) SetTop(idx int) error {
	newTop := f.AbsIndex(idx)
	if newTop < 0 {
		return f.indexError("stack underflow")
	}
	n := f.Top() - newTop
	switch {
	case n > 0:
		f.regs = f.regs[:newTop]
	case n < 0:
		for i := 0; i < -n; i++ {
			f.Push(value.Nil)
		}
	}
	return nil
}

// Reverse swaps regs[from..to] (0-based, inclusive) end for end.
func (f *Frame) Reverse(from, to int) {
	for from < to {
		f.regs[from], f.regs[to] = f.regs[to], f.regs[from]
		from++
		to--
	}
}

// Rotate cyclically shifts the values from idx up to the top by n
// positions toward the top (n>=0, so n=1 moves the top value down to
// idx) or toward idx (n<0, so n=-1 moves the value at idx to the top);
// the three-reverse algorithm from
// original_source/src/api/lua_state.rs's rotate.
func (f *Frame) Rotate(idx, n int) error {
	absIdx := f.AbsIndex(idx)
	if absIdx < 0 || !f.IsValid(absIdx) {
		return f.indexError("invalid index %d", idx)
	}
	t := f.Top() - 1
	p := absIdx - 1
	var m int
	if n >= 0 {
		m = t - n
	} else {
		m = p - n - 1
	}
	f.Reverse(p, m)
	f.Reverse(m+1, t)
	f.Reverse(p, t)
	return nil
}

// Insert moves the top value down to idx, shifting intervening values up.
func (f *Frame) Insert(idx int) error { return f.Rotate(idx, 1) }

// Remove deletes the value at idx, shifting values above it down.
func (f *Frame) Remove(idx int) error {
	if err := f.Rotate(idx, -1); err != nil {
		return err
	}
	f.Pop()
	return nil
}

// Fetch returns the instruction at pc and advances pc past it.
func (f *Frame) Fetch() bytecode.Instruction {
	i := f.closure.Proto.Code[f.pc]
	f.pc++
	return i
}

// Const returns the constant at idx in the executing prototype,
// converted to a runtime Value.
func (f *Frame) Const(idx int) value.Value {
	return constantToValue(f.closure.Proto.Constants[idx])
}

func constantToValue(c bytecode.Constant) value.Value {
	switch c.Tag {
	case bytecode.ConstNil:
		return value.Nil
	case bytecode.ConstBoolean:
		return value.Boolean(c.Boolean)
	case bytecode.ConstInteger:
		return value.Integer(c.Integer)
	case bytecode.ConstFloat:
		return value.Float(c.Float)
	case bytecode.ConstString:
		return value.String(c.Str)
	}
	return value.Nil
}
