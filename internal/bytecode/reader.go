package bytecode

import (
	"math"

	"ruavm/internal/errors"
)

// Header field values a loadable chunk must match exactly, per §4.B.
// Grounded on original_source/src/binary/chunk.rs's constants.
var (
	luaSignature = [4]byte{0x1b, 0x4c, 0x75, 0x61}
	luacData     = [6]byte{0x19, 0x93, 0x0d, 0x0a, 0x1a, 0x0a}
)

const (
	luacVersion       byte  = 0x54
	luacFormat        byte  = 0
	instructionSize   byte  = 4
	luaIntegerSize    byte  = 8
	luaNumberSize     byte  = 8
	luacInt           int64 = 0x5678
	luacNum           float64 = 370.5
)

// Value tag bytes used by the constant pool, computed the way
// object.rs's make_variant(type, variant) packs them.
const (
	vNil    = 0
	vFalse  = 1
	vTrue   = 0x01 | (1 << 4)
	vNumInt = 0x03
	vNumFlt = 0x03 | (1 << 4)
	vShrStr = 0x04
	vLngStr = 0x04 | (1 << 4)
)

// reader walks a binary chunk's byte stream left to right, matching
// original_source/src/binary/reader.rs's Reader.
type reader struct {
	data []byte
	pos  int
	src  string // chunk name, for error location only
}

// Undump parses a Lua 5.4 binary chunk (the output of `luac`) into its
// top-level function Prototype. name identifies the chunk in error
// messages (e.g. the file path passed to Load). Grounded on
// original_source/src/binary/{reader,mod}.rs's undump/check_header/
// read_proto.
func Undump(data []byte, name string) (*Prototype, error) {
	r := &reader{data: data, src: name}
	if err := r.checkHeader(); err != nil {
		return nil, err
	}
	// The top-level function has one upvalue slot (_ENV), consumed here
	// the way lua_State::load does before handing back the prototype.
	if _, err := r.readByte(); err != nil {
		return nil, err
	}
	return r.readProto("")
}

func (r *reader) fail(format string, args ...any) error {
	return errors.At(errors.CorruptChunk, r.src, 0, format, args...)
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, r.fail("unexpected end of chunk")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, r.fail("unexpected end of chunk")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *reader) readU64() (uint64, error) {
	lo, err := r.readU32()
	if err != nil {
		return 0, err
	}
	hi, err := r.readU32()
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (r *reader) readInteger() (int64, error) {
	u, err := r.readU64()
	return int64(u), err
}

func (r *reader) readNumber() (float64, error) {
	u, err := r.readU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

// readSize reads the 7-bit variable-length size encoding: each byte
// contributes 7 bits, most-significant bit set marks the final byte.
// Grounded on reader.rs's read_size.
func (r *reader) readSize() (int, error) {
	x := 0
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if x >= (1<<(63-7))-1 {
			return 0, r.fail("size overflow")
		}
		x = (x << 7) | int(b&0x7f)
		if b&0x80 != 0 {
			break
		}
	}
	return x, nil
}

// readString0 reads a length-prefixed string; the stored length is
// len(bytes)+1, and 0 encodes "absent" (nil), returned as ok=false.
func (r *reader) readString0() (string, bool, error) {
	size, err := r.readSize()
	if err != nil {
		return "", false, err
	}
	if size == 0 {
		return "", false, nil
	}
	b, err := r.readBytes(size - 1)
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (r *reader) readString() (string, error) {
	s, _, err := r.readString0()
	return s, err
}

func (r *reader) checkHeader() error {
	sig, err := r.readBytes(4)
	if err != nil {
		return err
	}
	if string(sig) != string(luaSignature[:]) {
		return errors.New(errors.HeaderMismatch, "not a precompiled chunk")
	}
	version, err := r.readByte()
	if err != nil {
		return err
	}
	if version != luacVersion {
		return errors.New(errors.HeaderMismatch, "version mismatch")
	}
	format, err := r.readByte()
	if err != nil {
		return err
	}
	if format != luacFormat {
		return errors.New(errors.HeaderMismatch, "format mismatch")
	}
	data, err := r.readBytes(6)
	if err != nil {
		return err
	}
	if string(data) != string(luacData[:]) {
		return errors.New(errors.HeaderMismatch, "corrupted header data")
	}
	isize, err := r.readByte()
	if err != nil {
		return err
	}
	if isize != instructionSize {
		return errors.New(errors.HeaderMismatch, "instruction size mismatch")
	}
	intSize, err := r.readByte()
	if err != nil {
		return err
	}
	if intSize != luaIntegerSize {
		return errors.New(errors.HeaderMismatch, "integer size mismatch")
	}
	numSize, err := r.readByte()
	if err != nil {
		return err
	}
	if numSize != luaNumberSize {
		return errors.New(errors.HeaderMismatch, "float size mismatch")
	}
	canaryInt, err := r.readInteger()
	if err != nil {
		return err
	}
	if canaryInt != luacInt {
		return errors.New(errors.HeaderMismatch, "endianness mismatch")
	}
	canaryNum, err := r.readNumber()
	if err != nil {
		return err
	}
	if canaryNum != luacNum {
		return errors.New(errors.HeaderMismatch, "float format mismatch")
	}
	return nil
}

// readProto recursively deserializes a function prototype, inheriting
// parentSource when this prototype's own source name is absent.
// Grounded on reader.rs's read_proto0.
func (r *reader) readProto(parentSource string) (*Prototype, error) {
	source, ok, err := r.readString0()
	if err != nil {
		return nil, err
	}
	if !ok {
		source = parentSource
	}
	p := &Prototype{Source: source}

	if p.LineDefined, err = r.readUintSize(); err != nil {
		return nil, err
	}
	if p.LastLineDefined, err = r.readUintSize(); err != nil {
		return nil, err
	}
	if numParams, err := r.readByte(); err != nil {
		return nil, err
	} else {
		p.NumParams = numParams
	}
	if isVararg, err := r.readByte(); err != nil {
		return nil, err
	} else {
		p.IsVararg = isVararg != 0
	}
	if maxStack, err := r.readByte(); err != nil {
		return nil, err
	} else {
		p.MaxStackSize = maxStack
	}

	n, err := r.readSize()
	if err != nil {
		return nil, err
	}
	p.Code = make([]Instruction, n)
	for i := range p.Code {
		w, err := r.readU32()
		if err != nil {
			return nil, err
		}
		p.Code[i] = Instruction(w)
	}

	n, err = r.readSize()
	if err != nil {
		return nil, err
	}
	p.Constants = make([]Constant, n)
	for i := range p.Constants {
		if p.Constants[i], err = r.readConstant(); err != nil {
			return nil, err
		}
	}

	n, err = r.readSize()
	if err != nil {
		return nil, err
	}
	p.Upvalues = make([]Upvalue, n)
	for i := range p.Upvalues {
		if p.Upvalues[i], err = r.readUpvalue(); err != nil {
			return nil, err
		}
	}

	n, err = r.readSize()
	if err != nil {
		return nil, err
	}
	p.Protos = make([]*Prototype, n)
	for i := range p.Protos {
		if p.Protos[i], err = r.readProto(source); err != nil {
			return nil, err
		}
	}

	n, err = r.readSize()
	if err != nil {
		return nil, err
	}
	p.LineInfo = make([]int8, n)
	for i := range p.LineInfo {
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		p.LineInfo[i] = int8(b)
	}

	n, err = r.readSize()
	if err != nil {
		return nil, err
	}
	p.AbsLineInfo = make([]AbsLineInfo, n)
	for i := range p.AbsLineInfo {
		pc, err := r.readSize()
		if err != nil {
			return nil, err
		}
		line, err := r.readSize()
		if err != nil {
			return nil, err
		}
		p.AbsLineInfo[i] = AbsLineInfo{PC: int32(pc), Line: int32(line)}
	}

	n, err = r.readSize()
	if err != nil {
		return nil, err
	}
	p.LocVars = make([]LocVar, n)
	for i := range p.LocVars {
		name, err := r.readString()
		if err != nil {
			return nil, err
		}
		startPC, err := r.readUintSize()
		if err != nil {
			return nil, err
		}
		endPC, err := r.readUintSize()
		if err != nil {
			return nil, err
		}
		p.LocVars[i] = LocVar{Name: name, StartPC: startPC, EndPC: endPC}
	}

	n, err = r.readSize()
	if err != nil {
		return nil, err
	}
	p.UpvalueNames = make([]string, n)
	for i := range p.UpvalueNames {
		if p.UpvalueNames[i], err = r.readString(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (r *reader) readUintSize() (uint32, error) {
	n, err := r.readSize()
	return uint32(n), err
}

func (r *reader) readConstant() (Constant, error) {
	tag, err := r.readByte()
	if err != nil {
		return Constant{}, err
	}
	switch tag {
	case vNil:
		return Constant{Tag: ConstNil}, nil
	case vFalse:
		return Constant{Tag: ConstBoolean, Boolean: false}, nil
	case vTrue:
		return Constant{Tag: ConstBoolean, Boolean: true}, nil
	case vNumInt:
		n, err := r.readInteger()
		if err != nil {
			return Constant{}, err
		}
		return Constant{Tag: ConstInteger, Integer: n}, nil
	case vNumFlt:
		f, err := r.readNumber()
		if err != nil {
			return Constant{}, err
		}
		return Constant{Tag: ConstFloat, Float: f}, nil
	case vShrStr, vLngStr:
		s, err := r.readString()
		if err != nil {
			return Constant{}, err
		}
		return Constant{Tag: ConstString, Str: s}, nil
	}
	return Constant{}, r.fail("unexpected constant tag %d", tag)
}

func (r *reader) readUpvalue() (Upvalue, error) {
	inStack, err := r.readByte()
	if err != nil {
		return Upvalue{}, err
	}
	idx, err := r.readByte()
	if err != nil {
		return Upvalue{}, err
	}
	kind, err := r.readByte()
	if err != nil {
		return Upvalue{}, err
	}
	return Upvalue{InStack: inStack != 0, Idx: idx, Kind: kind}, nil
}
