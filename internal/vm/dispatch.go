package vm

import (
	"strings"

	"ruavm/internal/bytecode"
	"ruavm/internal/errors"
	"ruavm/internal/value"
)

// extraArgBase is MAXARG_C+1 (sizeC==8), the multiplier EXTRAARG applies
// to extend a NEWTABLE/SETLIST size hint. Grounded on
// original_source/src/vm/instr_table.rs's new_table/set_list.
const extraArgBase = 1 << 8

// step fetches nothing itself (the caller already did, via
// Frame.Fetch) and executes one instruction against the current
// frame, returning done=true once a RETURN-family opcode has run.
// Each case is grounded on the matching original_source/src/vm/instr_*.rs
// handler, translated from its push/replace stack dance into direct
// register reads/writes against Frame, since Frame already *is* the
// register window (no separate value stack to shuttle through).
func (s *State) step(instr bytecode.Instruction) (bool, error) {
	f := s.frame()
	switch instr.OpCode() {

	case bytecode.OpMove:
		a, b := instr.A(), instr.B()
		return false, f.Set(a+1, f.Get(b+1))

	case bytecode.OpLoadI:
		a, sbx := instr.A(), instr.SBx()
		return false, f.Set(a+1, value.Integer(int64(sbx)))

	case bytecode.OpLoadF:
		a, sbx := instr.A(), instr.SBx()
		return false, f.Set(a+1, value.Float(float64(sbx)))

	case bytecode.OpLoadK:
		a, bx := instr.A(), instr.Bx()
		return false, f.Set(a+1, f.Const(bx))

	case bytecode.OpLoadKX:
		a := instr.A()
		extra := f.Fetch()
		return false, f.Set(a+1, f.Const(extra.Ax()))

	case bytecode.OpLoadFalse:
		a := instr.A()
		return false, f.Set(a+1, value.Boolean(false))

	case bytecode.OpLFalseSkip:
		a := instr.A()
		if err := f.Set(a+1, value.Boolean(false)); err != nil {
			return false, err
		}
		f.pc++
		return false, nil

	case bytecode.OpLoadTrue:
		a := instr.A()
		return false, f.Set(a+1, value.Boolean(true))

	case bytecode.OpLoadNil:
		a, b := instr.A(), instr.B()
		for i := 0; i <= b; i++ {
			if err := f.Set(a+1+i, value.Nil); err != nil {
				return false, err
			}
		}
		return false, nil

	case bytecode.OpGetUpval:
		a, b := instr.A(), instr.B()
		return false, f.Set(a+1, s.upvalue(f, b))

	case bytecode.OpSetUpval:
		a, b := instr.A(), instr.B()
		if b < len(f.closure.Upvalues) {
			*f.closure.Upvalues[b] = f.Get(a + 1)
		}
		return false, nil

	case bytecode.OpGetTabUp:
		// Only the synthetic _ENV upvalue is supported, so B is ignored
		// and the lookup always targets globals. Grounded on
		// instr_upval.rs's get_tab_up.
		a, c := instr.A(), instr.C()
		return false, f.Set(a+1, s.globals.Get(f.Const(c)))

	case bytecode.OpSetTabUp:
		b, c, k := instr.B(), instr.C(), instr.K()
		s.globals.Set(f.Const(b), s.rk(f, c, k))
		return false, nil

	case bytecode.OpGetTable:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.regTableGet(f, a, f.Get(b+1), f.Get(c+1))

	case bytecode.OpGetI:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.regTableGet(f, a, f.Get(b+1), value.Integer(int64(c)))

	case bytecode.OpGetField:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.regTableGet(f, a, f.Get(b+1), f.Const(c))

	case bytecode.OpSetTable:
		a, b, c, k := instr.A(), instr.B(), instr.C(), instr.K()
		return false, s.setTableImpl(f.Get(a+1), f.Get(b+1), s.rk(f, c, k))

	case bytecode.OpSetI:
		a, b, c, k := instr.A(), instr.B(), instr.C(), instr.K()
		return false, s.setTableImpl(f.Get(a+1), value.Integer(int64(b)), s.rk(f, c, k))

	case bytecode.OpSetField:
		a, b, c, k := instr.A(), instr.B(), instr.C(), instr.K()
		return false, s.setTableImpl(f.Get(a+1), f.Const(b), s.rk(f, c, k))

	case bytecode.OpNewTable:
		a, b, c, k := instr.A(), instr.B(), instr.C(), instr.K()
		if b > 0 {
			b = 1 << (b - 1)
		}
		if k != 0 {
			extra := f.Fetch()
			c += extra.Ax() * extraArgBase
		}
		return false, f.Set(a+1, value.TableValue(value.NewTable(b, c)))

	case bytecode.OpSelf:
		a, b, c, k := instr.A(), instr.B(), instr.C(), instr.K()
		recv := f.Get(b + 1)
		if err := f.Set(a+2, recv); err != nil {
			return false, err
		}
		return false, s.regTableGet(f, a, recv, s.rk(f, c, k))

	case bytecode.OpAddI:
		a, b, sc := instr.A(), instr.B(), instr.SC()
		return false, s.arith1(f, a, f.Get(b+1), value.Integer(int64(sc)), value.OpAdd)
	case bytecode.OpAddK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpAdd)
	case bytecode.OpSubK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpSub)
	case bytecode.OpMulK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpMul)
	case bytecode.OpModK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpMod)
	case bytecode.OpPowK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpPow)
	case bytecode.OpDivK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpDiv)
	case bytecode.OpIDivK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpIDiv)
	case bytecode.OpBAndK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpBAnd)
	case bytecode.OpBOrK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpBOr)
	case bytecode.OpBXorK:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Const(c), value.OpBXor)

	case bytecode.OpShrI:
		a, b, sc := instr.A(), instr.B(), instr.SC()
		return false, s.arith1(f, a, f.Get(b+1), value.Integer(int64(sc)), value.OpShr)
	case bytecode.OpShlI:
		a, b, sc := instr.A(), instr.B(), instr.SC()
		return false, s.arith1(f, a, f.Get(b+1), value.Integer(int64(sc)), value.OpShl)

	case bytecode.OpAdd:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpAdd)
	case bytecode.OpSub:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpSub)
	case bytecode.OpMul:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpMul)
	case bytecode.OpMod:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpMod)
	case bytecode.OpPow:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpPow)
	case bytecode.OpDiv:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpDiv)
	case bytecode.OpIDiv:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpIDiv)
	case bytecode.OpBAnd:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpBAnd)
	case bytecode.OpBOr:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpBOr)
	case bytecode.OpBXor:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpBXor)
	case bytecode.OpShl:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpShl)
	case bytecode.OpShr:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.arith1(f, a, f.Get(b+1), f.Get(c+1), value.OpShr)

	case bytecode.OpMMBin, bytecode.OpMMBinI, bytecode.OpMMBinK:
		// No metamethods: the preceding arithmetic opcode already
		// raised an ArithError on invalid operands, so there's nothing
		// left for the fallback to do.
		return false, nil

	case bytecode.OpUnm:
		a, b := instr.A(), instr.B()
		return false, s.arith1(f, a, f.Get(b+1), value.Nil, value.OpUnm)
	case bytecode.OpBNot:
		a, b := instr.A(), instr.B()
		return false, s.arith1(f, a, f.Get(b+1), value.Nil, value.OpBNot)
	case bytecode.OpNot:
		a, b := instr.A(), instr.B()
		return false, f.Set(a+1, value.Boolean(!f.Get(b+1).ToBoolean()))
	case bytecode.OpLen:
		a, b := instr.A(), instr.B()
		v := f.Get(b + 1)
		switch v.Tag {
		case value.TagString:
			return false, f.Set(a+1, value.Integer(int64(len(v.AsString()))))
		case value.TagTable:
			return false, f.Set(a+1, value.Integer(v.AsTable().Len()))
		default:
			return false, s.locate(errors.New(errors.TypeError, "attempt to get length of a %s value", typeNameOf(v)))
		}
	case bytecode.OpConcat:
		a, b := instr.A(), instr.B()
		var sb strings.Builder
		for i := 0; i < b; i++ {
			v := f.Get(a + 1 + i)
			str, ok := v.ToString()
			if !ok {
				return false, s.locate(errors.New(errors.TypeError, "attempt to concatenate a %s value", typeNameOf(v)))
			}
			sb.WriteString(str)
		}
		return false, f.Set(a+1, value.String(sb.String()))

	case bytecode.OpClose, bytecode.OpTBC:
		// No to-be-closed variables to finalize.
		return false, nil

	case bytecode.OpJmp:
		f.pc += instr.SJ()
		return false, nil

	case bytecode.OpEq, bytecode.OpLt, bytecode.OpLe:
		a, b, k := instr.A(), instr.B(), instr.K()
		var op value.CompareOp
		switch instr.OpCode() {
		case bytecode.OpEq:
			op = value.CompareEQ
		case bytecode.OpLt:
			op = value.CompareLT
		default:
			op = value.CompareLE
		}
		result, err := value.Compare(f.Get(a+1), f.Get(b+1), op)
		if err != nil {
			return false, s.locate(err)
		}
		if boolToInt(result) != k {
			f.pc++
		}
		return false, nil

	case bytecode.OpEqK:
		a, b, k := instr.A(), instr.B(), instr.K()
		if boolToInt(value.Equals(f.Get(a+1), f.Const(b))) != k {
			f.pc++
		}
		return false, nil

	case bytecode.OpEqI, bytecode.OpLtI, bytecode.OpLeI, bytecode.OpGtI, bytecode.OpGeI:
		a, sb, k := instr.A(), instr.SB(), instr.K()
		va := f.Get(a + 1)
		imm := value.Integer(int64(sb))
		var result bool
		var err error
		switch instr.OpCode() {
		case bytecode.OpEqI:
			result = value.Equals(va, imm)
		case bytecode.OpLtI:
			result, err = value.Compare(va, imm, value.CompareLT)
		case bytecode.OpLeI:
			result, err = value.Compare(va, imm, value.CompareLE)
		case bytecode.OpGtI:
			result, err = value.Compare(imm, va, value.CompareLT)
		case bytecode.OpGeI:
			result, err = value.Compare(imm, va, value.CompareLE)
		}
		if err != nil {
			return false, s.locate(err)
		}
		if boolToInt(result) != k {
			f.pc++
		}
		return false, nil

	case bytecode.OpTest:
		a, k := instr.A(), instr.K()
		cond := !f.Get(a + 1).ToBoolean()
		if boolToInt(cond) == k {
			f.pc++
		}
		return false, nil

	case bytecode.OpTestSet:
		a, b, k := instr.A(), instr.B(), instr.K()
		vb := f.Get(b + 1)
		cond := !vb.ToBoolean()
		if boolToInt(cond) == k {
			f.pc++
			return false, nil
		}
		return false, f.Set(a+1, vb)

	case bytecode.OpCall:
		a, b, c := instr.A(), instr.B(), instr.C()
		return false, s.execCall(a, b, c)

	case bytecode.OpTailCall:
		a, b := instr.A(), instr.B()
		if err := s.execCall(a, b, 0); err != nil {
			return false, err
		}
		return true, s.finishReturn(f, a)

	case bytecode.OpReturn:
		a, b := instr.A(), instr.B()
		nregs := int(f.closure.Proto.MaxStackSize)
		switch {
		case b == 1:
			if err := f.SetTop(nregs); err != nil {
				return false, err
			}
		case b > 1:
			vals := make([]value.Value, b-1)
			for i := range vals {
				vals[i] = f.Get(a + 1 + i)
			}
			if err := f.SetTop(nregs); err != nil {
				return false, err
			}
			for _, v := range vals {
				f.Push(v)
			}
		default:
			return true, s.finishReturn(f, a)
		}
		return true, nil

	case bytecode.OpReturn0:
		nregs := int(f.closure.Proto.MaxStackSize)
		return true, f.SetTop(nregs)

	case bytecode.OpReturn1:
		a := instr.A()
		v := f.Get(a + 1)
		nregs := int(f.closure.Proto.MaxStackSize)
		if err := f.SetTop(nregs); err != nil {
			return false, err
		}
		f.Push(v)
		return true, nil

	case bytecode.OpForLoop:
		a, bx := instr.A(), instr.Bx()
		if s.forLoop(f, a) {
			f.pc -= bx
		}
		return false, nil

	case bytecode.OpForPrep:
		a, bx := instr.A(), instr.Bx()
		skip, err := s.forPrep(f, a)
		if err != nil {
			return false, err
		}
		if skip {
			f.pc += bx + 1
		}
		return false, nil

	case bytecode.OpTForPrep, bytecode.OpTForCall, bytecode.OpTForLoop:
		// No generic-for/iterator support.
		return false, nil

	case bytecode.OpSetList:
		a, b, c, k := instr.A(), instr.B(), instr.C(), instr.K()
		if k != 0 {
			extra := f.Fetch()
			c += extra.Ax() * extraArgBase
		}
		tbl := f.Get(a + 1)
		if tbl.Tag != value.TagTable {
			return false, s.locate(errors.New(errors.TableError, "attempt to index a %s value", typeNameOf(tbl)))
		}
		n := b
		if n == 0 {
			n = f.Top() - (a + 1)
		}
		t := tbl.AsTable()
		for i := 1; i <= n; i++ {
			t.Set(value.Integer(int64(c+i)), f.Get(a+1+i))
		}
		return false, nil

	case bytecode.OpClosure:
		a, bx := instr.A(), instr.Bx()
		proto := f.closure.Proto.Protos[bx]
		cl := value.NewScriptClosure(proto)
		if len(cl.Upvalues) > 0 {
			// Only the synthetic _ENV upvalue is supported.
			*cl.Upvalues[0] = value.TableValue(s.globals)
		}
		return false, f.Set(a+1, value.FunctionValue(cl))

	case bytecode.OpVararg:
		a, c := instr.A(), instr.C()
		switch {
		case c == 1:
			return false, nil
		case c == 0:
			if err := f.SetTop(a); err != nil {
				return false, err
			}
			for _, v := range f.varargs {
				f.Push(v)
			}
			return false, nil
		default:
			n := c - 1
			for i := 0; i < n; i++ {
				var v value.Value
				if i < len(f.varargs) {
					v = f.varargs[i]
				}
				if err := f.Set(a+1+i, v); err != nil {
					return false, err
				}
			}
			return false, nil
		}

	case bytecode.OpVarargPrep:
		// Argument/vararg splitting already happened in
		// callScriptClosure at call time.
		return false, nil

	case bytecode.OpExtraArg:
		// Only ever consumed inline by NEWTABLE/LOADKX/SETLIST's own
		// Fetch(); reached directly only on malformed bytecode.
		return false, nil
	}

	return false, s.locate(errors.New(errors.LoadError, "unimplemented opcode %s", instr.OpCode().Name()))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rk resolves operand idx as a register (k==0) or a constant (k!=0),
// the way SETTABLE/SETI/SETFIELD/SETTABUP/SELF's RK(C) operand works.
func (s *State) rk(f *Frame, idx, k int) value.Value {
	if k != 0 {
		return f.Const(idx)
	}
	return f.Get(idx + 1)
}

func (s *State) upvalue(f *Frame, idx int) value.Value {
	if f.closure == nil || idx >= len(f.closure.Upvalues) {
		return value.Nil
	}
	return *f.closure.Upvalues[idx]
}

func (s *State) arith1(f *Frame, a int, x, y value.Value, op value.ArithOp) error {
	result, err := value.Arith(x, y, op)
	if err != nil {
		return s.locate(err)
	}
	return f.Set(a+1, result)
}

func (s *State) regTableGet(f *Frame, a int, tbl, key value.Value) error {
	if tbl.Tag != value.TagTable {
		return s.locate(errors.New(errors.TableError, "attempt to index a %s value", typeNameOf(tbl)))
	}
	return f.Set(a+1, tbl.AsTable().Get(key))
}

// finishReturn relocates the values from register a up to the current
// top so they start exactly at MaxStackSize (the boundary
// callScriptClosure reads results from), the way
// original_source/src/vm/instr_call.rs's fix_stack repositions a
// multret return/tailcall's results before handing control back.
func (s *State) finishReturn(f *Frame, a int) error {
	nregs := int(f.closure.Proto.MaxStackSize)
	n := f.Top() - a
	if n < 0 {
		n = 0
	}
	vals := f.PopN(n)
	if err := f.SetTop(nregs); err != nil {
		return err
	}
	for _, v := range vals {
		f.Push(v)
	}
	return nil
}

// execCall implements the A B C operand half of OP_CALL/OP_TAILCALL:
// gather the callee and its arguments, invoke Call, and land the
// results back in registers starting at A. Grounded on
// original_source/src/vm/instr_call.rs's call/push_func_and_args/
// pop_results, restructured around Frame directly holding the
// register window instead of a separate value stack.
func (s *State) execCall(a, b, c int) error {
	f := s.frame()
	nresults := c - 1

	if b == 0 {
		// Args already run from A+1 to the current top (left there by
		// a preceding multret call or VARARG).
		nargs := f.Top() - (a + 1)
		return s.Call(nargs, nresults)
	}

	base := f.Top()
	for i := 0; i < b; i++ {
		f.Push(f.Get(a + 1 + i))
	}
	if err := s.Call(b-1, nresults); err != nil {
		return err
	}

	k := nresults
	if k < 0 {
		k = f.Top() - base
	}
	results := f.PopN(k)
	for i, v := range results {
		if err := f.Set(a+1+i, v); err != nil {
			return err
		}
	}
	if nresults < 0 {
		return f.SetTop(a + k)
	}
	return nil
}

// forPrep validates and normalizes a numeric for loop's control values,
// reporting skip=true when the loop body should not run at all.
// Grounded on original_source/src/vm/instr_for.rs's for_prep.
func (s *State) forPrep(f *Frame, a int) (bool, error) {
	init := f.Get(a + 1)
	limit := f.Get(a + 2)
	step := f.Get(a + 3)

	if init.Tag == value.TagInteger && step.Tag == value.TagInteger {
		if limitI, ok := limit.ToInteger(); ok {
			initI := init.AsInteger()
			stepI := step.AsInteger()
			if stepI == 0 {
				return false, s.locate(errors.New(errors.ArithError, "'for' step is zero"))
			}
			var count int64
			if stepI > 0 {
				if limitI < initI {
					return true, nil
				}
				count = (limitI - initI) / stepI
			} else {
				if limitI > initI {
					return true, nil
				}
				count = (initI - limitI) / (-stepI)
			}
			if err := f.Set(a+2, value.Integer(count)); err != nil {
				return false, err
			}
			return false, f.Set(a+4, value.Integer(initI))
		}
	}

	initF, ok1 := init.ToNumber()
	limitF, ok2 := limit.ToNumber()
	stepF, ok3 := step.ToNumber()
	if !ok1 {
		return false, s.locate(errors.New(errors.ArithError, "'for' initial value must be a number"))
	}
	if !ok2 {
		return false, s.locate(errors.New(errors.ArithError, "'for' limit must be a number"))
	}
	if !ok3 {
		return false, s.locate(errors.New(errors.ArithError, "'for' step must be a number"))
	}
	if stepF == 0 {
		return false, s.locate(errors.New(errors.ArithError, "'for' step is zero"))
	}
	if (stepF > 0 && limitF < initF) || (stepF < 0 && initF < limitF) {
		return true, nil
	}
	if err := f.Set(a+1, value.Float(initF)); err != nil {
		return false, err
	}
	if err := f.Set(a+2, value.Float(limitF)); err != nil {
		return false, err
	}
	if err := f.Set(a+3, value.Float(stepF)); err != nil {
		return false, err
	}
	return false, f.Set(a+4, value.Float(initF))
}

// forLoop advances a numeric for loop's control values, reporting
// whether the loop should run again. The integer branch is ported
// faithfully from instr_for.rs's for_loop; the float branch replaces
// that function's float path, which unconditionally jumps back with
// no termination check at all (a bug, not a design this VM should
// inherit) — this implements the textbook Lua 5.4 check instead:
// advance first, then continue only while still within [init, limit]
// in the direction step moves.
func (s *State) forLoop(f *Frame, a int) bool {
	control := f.Get(a + 1)
	if control.Tag == value.TagInteger {
		count, _ := f.Get(a + 2).ToInteger()
		if count <= 0 {
			return false
		}
		step, _ := f.Get(a + 3).ToInteger()
		idx := control.AsInteger() + step
		f.Set(a+2, value.Integer(count-1))
		f.Set(a+1, value.Integer(idx))
		f.Set(a+4, value.Integer(idx))
		return true
	}

	idx, _ := control.ToNumber()
	limit, _ := f.Get(a + 2).ToNumber()
	step, _ := f.Get(a + 3).ToNumber()
	idx += step
	if (step > 0 && idx <= limit) || (step <= 0 && limit <= idx) {
		f.Set(a+1, value.Float(idx))
		f.Set(a+4, value.Float(idx))
		return true
	}
	return false
}
