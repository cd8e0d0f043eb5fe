package value

import (
	"math"

	"ruavm/internal/errors"
)

// ArithOp identifies an arithmetic or bitwise operator, matching the
// LUA_OP* constants in original_source/src/api/consts.rs.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpMod
	OpPow
	OpDiv
	OpIDiv
	OpBAnd
	OpBOr
	OpBXor
	OpShl
	OpShr
	OpUnm
	OpBNot
)

var arithNames = map[ArithOp]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpMod: "mod", OpPow: "pow",
	OpDiv: "div", OpIDiv: "idiv", OpBAnd: "band", OpBOr: "bor", OpBXor: "bxor",
	OpShl: "shl", OpShr: "shr", OpUnm: "unm", OpBNot: "bnot",
}

// bitwiseOnly reports whether op only has an integer form; bitwise ops
// reject floats that don't coerce cleanly to an integer.
func bitwiseOnly(op ArithOp) bool {
	switch op {
	case OpBAnd, OpBOr, OpBXor, OpShl, OpShr, OpBNot:
		return true
	}
	return false
}

// alwaysFloat reports whether op always produces a Float result even
// when both operands are Integer, per §4.A (POW and DIV).
func alwaysFloat(op ArithOp) bool {
	return op == OpPow || op == OpDiv
}

// Arith implements §4.A's arithmetic dispatch: integer/float selection
// per operator, grounded on original_source/src/state/arith_ops.rs's
// OPS dispatch table.
func Arith(a, b Value, op ArithOp) (Value, error) {
	if bitwiseOnly(op) {
		ai, aok := a.ToInteger()
		bi, bok := b.ToInteger()
		if op == OpBNot {
			bok = true
			bi = 0
		}
		if !aok || !bok {
			return Nil, errors.New(errors.ArithError, "attempt to perform bitwise operation on a non-integer value")
		}
		return Integer(intBitwise(ai, bi, op)), nil
	}

	if alwaysFloat(op) {
		af, aok := a.ToNumber()
		bf, bok := b.ToNumber()
		if !aok || !bok {
			return Nil, arithTypeError(a, b, aok)
		}
		return Float(floatArith(af, bf, op)), nil
	}

	if op == OpUnm {
		switch a.Tag {
		case TagInteger:
			return Integer(-a.i), nil
		case TagFloat:
			return Float(-a.f), nil
		}
		if f, ok := a.ToNumber(); ok {
			return Float(-f), nil
		}
		return Nil, errors.New(errors.ArithError, "attempt to perform arithmetic on a %s value", typeName(a))
	}

	if a.Tag == TagInteger && b.Tag == TagInteger {
		return intArithWithOverflowCheck(a.i, b.i, op)
	}

	af, aok := a.ToNumber()
	bf, bok := b.ToNumber()
	if !aok || !bok {
		return Nil, arithTypeError(a, b, aok)
	}
	return Float(floatArith(af, bf, op)), nil
}

func arithTypeError(a, b Value, aok bool) error {
	bad := a
	if aok {
		bad = b
	}
	return errors.New(errors.ArithError, "attempt to perform arithmetic on a %s value", typeName(bad))
}

func typeName(v Value) string {
	switch v.Tag {
	case TagNil:
		return "nil"
	case TagBoolean:
		return "boolean"
	case TagInteger, TagFloat:
		return "number"
	case TagString:
		return "string"
	case TagTable:
		return "table"
	case TagFunction:
		return "function"
	}
	return "no value"
}

func intArithWithOverflowCheck(a, b int64, op ArithOp) (Value, error) {
	switch op {
	case OpAdd:
		return Integer(a + b), nil
	case OpSub:
		return Integer(a - b), nil
	case OpMul:
		return Integer(a * b), nil
	case OpMod:
		if b == 0 {
			return Nil, errors.New(errors.ArithError, "attempt to perform 'n%%0'")
		}
		return Integer(iMod(a, b)), nil
	case OpIDiv:
		if b == 0 {
			return Nil, errors.New(errors.ArithError, "attempt to perform 'n//0'")
		}
		return Integer(iFloorDiv(a, b)), nil
	}
	return Nil, errors.New(errors.ArithError, "unsupported integer arithmetic op %s", arithNames[op])
}

func floatArith(a, b float64, op ArithOp) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpPow:
		return math.Pow(a, b)
	case OpMod:
		return fMod(a, b)
	case OpIDiv:
		return math.Floor(a / b)
	}
	return math.NaN()
}

func intBitwise(a, b int64, op ArithOp) int64 {
	switch op {
	case OpBAnd:
		return a & b
	case OpBOr:
		return a | b
	case OpBXor:
		return a ^ b
	case OpBNot:
		return ^a
	case OpShl:
		return shiftLeft(a, b)
	case OpShr:
		return shiftLeft(a, -b)
	}
	return 0
}

// iFloorDiv implements floor division: the quotient rounds toward
// negative infinity, not toward zero. Grounded on math.rs's i_floor_div.
func iFloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// iMod implements floored modulo: the result's sign follows the
// divisor. Grounded on math.rs's i_mod.
func iMod(a, b int64) int64 {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// fMod implements Lua's floating modulo, including the rule that when
// the divisor is infinite the result preserves the dividend unless the
// signs already disagree (math.rs's f_mod).
func fMod(a, b float64) float64 {
	if math.IsInf(b, 0) {
		if (a >= 0) == (b > 0) {
			return a
		}
		return b
	}
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// shiftLeft implements Lua's bitwise shift: a negative count shifts in
// the other direction, and any count with |n| >= 64 yields 0.
// Grounded on math.rs's shift_left/shift_right.
func shiftLeft(a, n int64) int64 {
	switch {
	case n <= -64 || n >= 64:
		return 0
	case n >= 0:
		return int64(uint64(a) << uint(n))
	default:
		return int64(uint64(a) >> uint(-n))
	}
}
