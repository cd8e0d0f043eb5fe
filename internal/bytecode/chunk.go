package bytecode

// Constant is one entry of a Prototype's constant pool. Only the tags
// the binary chunk format defines are valid: nil, boolean, integer,
// float, and (short or long) string. Grounded on
// original_source/src/binary/chunk.rs's Constant enum.
type Constant struct {
	Tag     ConstantTag
	Boolean bool
	Integer int64
	Float   float64
	Str     string
}

// ConstantTag selects which field of Constant is meaningful.
type ConstantTag uint8

const (
	ConstNil ConstantTag = iota
	ConstBoolean
	ConstInteger
	ConstFloat
	ConstString
)

// Upvalue describes how a closure captures one upvalue slot: either
// from the enclosing function's register window (InStack) or from
// the enclosing closure's own upvalue list.
type Upvalue struct {
	InStack bool
	Idx     uint8
	Kind    uint8
}

// LocVar is one entry of a prototype's local-variable debug table.
type LocVar struct {
	Name    string
	StartPC uint32
	EndPC   uint32
}

// AbsLineInfo anchors an absolute source line at a given instruction
// index, used to reconstruct per-instruction line numbers from the
// packed relative LineInfo deltas.
type AbsLineInfo struct {
	PC   int32
	Line int32
}

// Prototype is a deserialized function body: its instruction stream,
// constant pool, nested function prototypes, and debug metadata.
// Grounded on original_source/src/binary/chunk.rs's Prototype struct.
type Prototype struct {
	Source          string
	LineDefined     uint32
	LastLineDefined uint32
	NumParams       uint8
	IsVararg        bool
	MaxStackSize    uint8

	Code      []Instruction
	Constants []Constant
	Upvalues  []Upvalue
	Protos    []*Prototype

	LineInfo     []int8
	AbsLineInfo  []AbsLineInfo
	LocVars      []LocVar
	UpvalueNames []string
}

// Line returns the best-known source line for instruction pc, applying
// the nearest preceding AbsLineInfo anchor plus the signed per-instruction
// deltas in LineInfo. Returns 0 if no line information was recorded.
func (p *Prototype) Line(pc int) int {
	if len(p.AbsLineInfo) == 0 && len(p.LineInfo) == 0 {
		return 0
	}
	base := int32(0)
	basePC := 0
	for _, a := range p.AbsLineInfo {
		if int(a.PC) <= pc {
			base = a.Line
			basePC = int(a.PC)
		} else {
			break
		}
	}
	line := base
	for i := basePC; i < pc && i < len(p.LineInfo); i++ {
		line += int32(p.LineInfo[i])
	}
	return int(line)
}
