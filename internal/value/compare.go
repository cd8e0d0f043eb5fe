package value

import "ruavm/internal/errors"

// CompareOp identifies a relational operator, matching LUA_OP* in
// original_source/src/api/consts.rs. GT/GE are implemented as swapped
// LT/LE at the call site, matching cmp_ops.rs.
type CompareOp int

const (
	CompareEQ CompareOp = iota
	CompareLT
	CompareLE
)

// Compare implements §4.A's comparison rules, grounded on
// original_source/src/state/cmp_ops.rs.
func Compare(a, b Value, op CompareOp) (bool, error) {
	switch op {
	case CompareEQ:
		return Equals(a, b), nil
	case CompareLT:
		return lessThan(a, b)
	case CompareLE:
		return lessEqual(a, b)
	}
	return false, errors.New(errors.CompareError, "unknown comparison operator")
}

func lessThan(a, b Value) (bool, error) {
	if a.Tag == TagString && b.Tag == TagString {
		return a.s < b.s, nil
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if aok && bok {
		if a.Tag == TagInteger && b.Tag == TagInteger {
			return a.i < b.i, nil
		}
		return af < bf, nil
	}
	return false, compareTypeError(a, b)
}

func lessEqual(a, b Value) (bool, error) {
	if a.Tag == TagString && b.Tag == TagString {
		return a.s <= b.s, nil
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if aok && bok {
		if a.Tag == TagInteger && b.Tag == TagInteger {
			return a.i <= b.i, nil
		}
		return af <= bf, nil
	}
	return false, compareTypeError(a, b)
}

func numericValue(v Value) (float64, bool) {
	switch v.Tag {
	case TagInteger:
		return float64(v.i), true
	case TagFloat:
		return v.f, true
	}
	return 0, false
}

func compareTypeError(a, b Value) error {
	if a.Tag == b.Tag {
		return errors.New(errors.CompareError, "attempt to compare two %s values", typeName(a))
	}
	return errors.New(errors.CompareError, "attempt to compare %s with %s", typeName(a), typeName(b))
}
