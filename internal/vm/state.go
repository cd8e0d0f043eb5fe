package vm

import (
	"ruavm/internal/bytecode"
	"ruavm/internal/errors"
	"ruavm/internal/value"
)

// minStack is the slack allocated above a closure's declared
// MaxStackSize when a new call frame is created, mirroring
// original_source/src/state/lua_state.rs's call_lua_closure sizing
// (`nregs + 20`, LUA_MINSTACK in api/consts.rs).
const minStack = 20

// GoFunction is a host-registered builtin: it receives the State (so
// it can read its arguments and push results through the same host
// API a script closure uses) and returns how many of the values now on
// top of the stack are its results. Grounded on
// original_source/src/api/lua_state.rs's `type RustFn = fn(&dyn
// LuaState) -> usize`.
type GoFunction func(s *State) int

// State is the process-wide VM: a stack of call Frames (the active one
// is frames[len-1]) plus the single globals table every script and host
// function shares. Grounded on original_source/src/state/lua_state.rs's
// LuaState{frames}.
type State struct {
	frames  []*Frame
	globals *value.Table
}

// NewState creates a state with an empty globals table and a single
// bare top-level frame, ready for Load.
func NewState() *State {
	s := &State{globals: value.NewTable(0, 0)}
	s.frames = []*Frame{NewFrame(nil, minStack)}
	return s
}

// Globals returns the shared globals table, so a host can pre-populate
// it (e.g. hostlib packages registering builtins) before Load/Call.
func (s *State) Globals() *value.Table { return s.globals }

func (s *State) frame() *Frame { return s.frames[len(s.frames)-1] }

func (s *State) pushFrame(f *Frame) { s.frames = append(s.frames, f) }

func (s *State) popFrame() *Frame {
	n := len(s.frames)
	f := s.frames[n-1]
	s.frames = s.frames[:n-1]
	return f
}

// --- basic stack operations ---

func (s *State) GetTop() int              { return s.frame().Top() }
func (s *State) AbsIndex(idx int) int     { return s.frame().AbsIndex(idx) }
func (s *State) CheckStack(n int) bool    { return true }
func (s *State) Pop(n int) {
	for i := 0; i < n; i++ {
		s.frame().Pop()
	}
}
func (s *State) Copy(fromIdx, toIdx int) error {
	return s.frame().Set(toIdx, s.frame().Get(fromIdx))
}
func (s *State) PushValue(idx int) { s.frame().Push(s.frame().Get(idx)) }
func (s *State) Replace(idx int) error {
	return s.frame().Set(idx, s.frame().Pop())
}
func (s *State) Insert(idx int) error { return s.frame().Insert(idx) }
func (s *State) Remove(idx int) error { return s.frame().Remove(idx) }
func (s *State) Rotate(idx, n int) error { return s.frame().Rotate(idx, n) }
func (s *State) SetTop(idx int) error  { return s.frame().SetTop(idx) }

// --- type introspection ---

func TypeName(tp int8) string {
	switch tp {
	case value.TypeNone:
		return "no value"
	case value.TypeNil:
		return "nil"
	case value.TypeBoolean:
		return "boolean"
	case value.TypeNumber:
		return "number"
	case value.TypeString:
		return "string"
	case value.TypeTable:
		return "table"
	case value.TypeFunction:
		return "function"
	}
	return "unknown"
}

func (s *State) TypeID(idx int) int8 {
	if !s.frame().IsValid(idx) {
		return value.TypeNone
	}
	return s.frame().Get(idx).TypeID()
}

func (s *State) IsNone(idx int) bool       { return s.TypeID(idx) == value.TypeNone }
func (s *State) IsNil(idx int) bool        { return s.TypeID(idx) == value.TypeNil }
func (s *State) IsNoneOrNil(idx int) bool  { return s.IsNone(idx) || s.IsNil(idx) }
func (s *State) IsBoolean(idx int) bool    { return s.TypeID(idx) == value.TypeBoolean }
func (s *State) IsInteger(idx int) bool    { return s.frame().Get(idx).Tag == value.TagInteger }
func (s *State) IsNumber(idx int) bool     { _, ok := s.frame().Get(idx).ToNumber(); return ok }
func (s *State) IsString(idx int) bool {
	t := s.TypeID(idx)
	return t == value.TypeString || t == value.TypeNumber
}
func (s *State) IsTable(idx int) bool    { return s.TypeID(idx) == value.TypeTable }
func (s *State) IsFunction(idx int) bool { return s.TypeID(idx) == value.TypeFunction }
func (s *State) IsGoFunction(idx int) bool {
	v := s.frame().Get(idx)
	return v.Tag == value.TagFunction && v.AsClosure() != nil && v.AsClosure().IsHost()
}

// --- conversions (stack -> Go) ---

func (s *State) ToBoolean(idx int) bool { return s.frame().Get(idx).ToBoolean() }

func (s *State) ToInteger(idx int) int64 {
	n, _ := s.ToIntegerX(idx)
	return n
}
func (s *State) ToIntegerX(idx int) (int64, bool) { return s.frame().Get(idx).ToInteger() }

func (s *State) ToNumber(idx int) float64 {
	n, _ := s.ToNumberX(idx)
	return n
}
func (s *State) ToNumberX(idx int) (float64, bool) { return s.frame().Get(idx).ToNumber() }

func (s *State) ToString(idx int) string {
	str, _ := s.ToStringX(idx)
	return str
}
func (s *State) ToStringX(idx int) (string, bool) { return s.frame().Get(idx).ToString() }

func (s *State) ToGoFunction(idx int) (GoFunction, bool) {
	v := s.frame().Get(idx)
	if v.Tag != value.TagFunction || v.AsClosure() == nil || !v.AsClosure().IsHost() {
		return nil, false
	}
	fn, ok := v.AsClosure().Host.(GoFunction)
	return fn, ok
}

// --- push functions (Go -> stack) ---

func (s *State) PushNil()            { s.frame().Push(value.Nil) }
func (s *State) PushBoolean(b bool)  { s.frame().Push(value.Boolean(b)) }
func (s *State) PushInteger(n int64) { s.frame().Push(value.Integer(n)) }
func (s *State) PushNumber(n float64) { s.frame().Push(value.Float(n)) }
func (s *State) PushString(str string) { s.frame().Push(value.String(str)) }
func (s *State) PushGoFunction(name string, fn GoFunction) {
	s.frame().Push(value.FunctionValue(value.NewHostClosure(name, fn)))
}
func (s *State) PushGlobalTable() { s.frame().Push(value.TableValue(s.globals)) }

// --- arithmetic and comparison ---

// Arith pops the operands required by op (two, or one for UNM/BNOT)
// off the stack and pushes the result, per §4.D.
func (s *State) Arith(op value.ArithOp) error {
	f := s.frame()
	var a, b value.Value
	if op == value.OpUnm || op == value.OpBNot {
		a = f.Pop()
		b = a
	} else {
		b = f.Pop()
		a = f.Pop()
	}
	result, err := value.Arith(a, b, op)
	if err != nil {
		return s.locate(err)
	}
	f.Push(result)
	return nil
}

// Compare compares the values at idx1/idx2 without popping them.
func (s *State) Compare(idx1, idx2 int, op value.CompareOp) (bool, error) {
	f := s.frame()
	if !f.IsValid(idx1) || !f.IsValid(idx2) {
		return false, nil
	}
	result, err := value.Compare(f.Get(idx1), f.Get(idx2), op)
	if err != nil {
		return false, s.locate(err)
	}
	return result, nil
}

// Len pushes the length of the value at idx: a string's byte length,
// or a table's array-part border.
func (s *State) Len(idx int) error {
	f := s.frame()
	v := f.Get(idx)
	switch v.Tag {
	case value.TagString:
		f.Push(value.Integer(int64(len(v.AsString()))))
	case value.TagTable:
		f.Push(value.Integer(v.AsTable().Len()))
	default:
		return s.locate(errors.New(errors.TypeError, "attempt to get length of a %s value", typeNameOf(v)))
	}
	return nil
}

// Concat pops the top n values and pushes their string concatenation
// (n==0 pushes "", n==1 is a no-op).
func (s *State) Concat(n int) error {
	f := s.frame()
	if n == 0 {
		f.Push(value.String(""))
		return nil
	}
	for i := 1; i < n; i++ {
		if !s.IsString(-1) || !s.IsString(-2) {
			return s.locate(errors.New(errors.TypeError, "attempt to concatenate a non-string value"))
		}
		s2 := s.ToString(-1)
		s1 := s.ToString(-2)
		f.Pop()
		f.Pop()
		f.Push(value.String(s1 + s2))
	}
	return nil
}

func typeNameOf(v value.Value) string {
	return TypeName(v.TypeID())
}

func (s *State) locate(err error) error {
	e, ok := err.(*errors.Error)
	if !ok {
		return err
	}
	f := s.frame()
	if f.closure != nil && f.closure.Proto != nil {
		e.Where = errors.Location{Source: f.source, Line: f.closure.Proto.Line(f.pc)}
	}
	return e
}

// --- table access ---

func (s *State) NewTable() { s.CreateTable(0, 0) }

func (s *State) CreateTable(narr, nrec int) {
	s.frame().Push(value.TableValue(value.NewTable(narr, nrec)))
}

func (s *State) getTableImpl(t, k value.Value) (int8, error) {
	if t.Tag != value.TagTable {
		return value.TypeNone, s.locate(errors.New(errors.TableError, "attempt to index a %s value", typeNameOf(t)))
	}
	v := t.AsTable().Get(k)
	s.frame().Push(v)
	return v.TypeID(), nil
}

// GetTable pops a key and pushes table[key], where table is at idx.
func (s *State) GetTable(idx int) (int8, error) {
	t := s.frame().Get(idx)
	k := s.frame().Pop()
	return s.getTableImpl(t, k)
}

// GetField pushes table[k] (table at idx, k a string constant).
func (s *State) GetField(idx int, k string) (int8, error) {
	return s.getTableImpl(s.frame().Get(idx), value.String(k))
}

// GetI pushes table[i] (table at idx, i an integer constant).
func (s *State) GetI(idx int, i int64) (int8, error) {
	return s.getTableImpl(s.frame().Get(idx), value.Integer(i))
}

// GetGlobal pushes the value of the named global.
func (s *State) GetGlobal(name string) int8 {
	v := s.globals.Get(value.String(name))
	s.frame().Push(v)
	return v.TypeID()
}

func (s *State) setTableImpl(t, k, v value.Value) error {
	if t.Tag != value.TagTable {
		return s.locate(errors.New(errors.TableError, "attempt to index a %s value", typeNameOf(t)))
	}
	if k.IsNil() {
		return s.locate(errors.New(errors.TableError, "table index is nil"))
	}
	if k.IsNaN() {
		return s.locate(errors.New(errors.TableError, "table index is NaN"))
	}
	t.AsTable().Set(k, v)
	return nil
}

// SetTable pops a value then a key and stores table[key] = value.
func (s *State) SetTable(idx int) error {
	t := s.frame().Get(idx)
	v := s.frame().Pop()
	k := s.frame().Pop()
	return s.setTableImpl(t, k, v)
}

// SetField pops a value and stores table[k] = value.
func (s *State) SetField(idx int, k string) error {
	t := s.frame().Get(idx)
	v := s.frame().Pop()
	return s.setTableImpl(t, value.String(k), v)
}

// SetI pops a value and stores table[i] = value.
func (s *State) SetI(idx int, i int64) error {
	t := s.frame().Get(idx)
	v := s.frame().Pop()
	return s.setTableImpl(t, value.Integer(i), v)
}

// SetGlobal pops a value and stores it under the named global.
func (s *State) SetGlobal(name string) {
	v := s.frame().Pop()
	s.globals.Set(value.String(name), v)
}

// Register installs fn as a named global host function, usable
// directly from script code through GETTABUP/globals lookup.
func (s *State) Register(name string, fn GoFunction) {
	s.globals.Set(value.String(name), value.FunctionValue(value.NewHostClosure(name, fn)))
}

// Load deserializes a binary chunk and pushes the resulting top-level
// closure onto the stack, ready to Call. name identifies the chunk in
// error messages. Grounded on
// original_source/src/state/lua_state.rs's load.
func (s *State) Load(data []byte, name string) error {
	proto, err := bytecode.Undump(data, name)
	if err != nil {
		return err
	}
	closure := value.NewScriptClosure(proto)
	s.frame().Push(value.FunctionValue(closure))
	return nil
}
