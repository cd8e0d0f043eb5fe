package bytecode

// Instruction is a single 32-bit bytecode word.
//
//	         3 3 2 2 2 2 2 2 2 2 2 2 1 1 1 1 1 1 1 1 1 1 0 0 0 0 0 0 0 0 0 0
//	         1 0 9 8 7 6 5 4 3 2 1 0 9 8 7 6 5 4 3 2 1 0 9 8 7 6 5 4 3 2 1 0
//	iABC  |       C(8)     |      B(8)     |k|     A(8)      |   Op(7)      |
//	iABx  |             Bx(17)               |     A(8)      |   Op(7)      |
//	iAsBx |            sBx (signed)(17)      |     A(8)      |   Op(7)      |
//	iAx   |                       Ax(25)                     |   Op(7)      |
//	isJ   |                       sJ (signed)(25)            |   Op(7)      |
type Instruction uint32

const (
	sizeA  = 8
	sizeB  = 8
	sizeC  = 8
	sizeK  = 1
	sizeBx = sizeB + sizeC + sizeK
	sizeAx = sizeBx + sizeA
	sizeSJ = sizeBx + sizeA
	sizeOp = 7

	posOp = 0
	posA  = posOp + sizeOp
	posK  = posA + sizeA
	posB  = posK + sizeK
	posC  = posB + sizeB
	posBx = posK
	posAx = posA
	posSJ = posA

	maxArgA  = (1 << sizeA) - 1
	maxArgB  = (1 << sizeB) - 1
	maxArgC  = (1 << sizeC) - 1
	maxArgK  = (1 << sizeK) - 1
	maxArgBx = (1 << sizeBx) - 1
	maxArgAx = (1 << sizeAx) - 1

	offsetSB  = maxArgB >> 1
	offsetSC  = maxArgC >> 1
	offsetSBx = maxArgBx >> 1
	offsetSJ  = ((1 << sizeSJ) - 1) >> 1
)

func (i Instruction) OpCode() OpCode { return OpCode(i & 0x7F) }

func (i Instruction) A() int { return int(i>>posA) & maxArgA }
func (i Instruction) B() int { return int(i>>posB) & maxArgB }
func (i Instruction) C() int { return int(i>>posC) & maxArgC }
func (i Instruction) K() int { return int(i>>posK) & maxArgK }

func (i Instruction) Ax() int { return int(i >> posAx) }
func (i Instruction) Bx() int { return int(i >> posBx) }

func (i Instruction) SB() int  { return i.B() - offsetSB }
func (i Instruction) SC() int  { return i.C() - offsetSC }
func (i Instruction) SBx() int { return i.Bx() - offsetSBx }

func (i Instruction) SJ() int {
	return (int(i>>posSJ) & maxArgAx) - offsetSJ
}

// Encode packs an opcode plus iABC operands into an Instruction.
func Encode(op OpCode, a, b, c, k int) Instruction {
	return Instruction(uint32(op)&0x7F |
		uint32(a&maxArgA)<<posA |
		uint32(k&maxArgK)<<posK |
		uint32(b&maxArgB)<<posB |
		uint32(c&maxArgC)<<posC)
}

// EncodeABx packs an opcode plus an iABx operand into an Instruction.
func EncodeABx(op OpCode, a, bx int) Instruction {
	return Instruction(uint32(op)&0x7F |
		uint32(a&maxArgA)<<posA |
		uint32(bx&maxArgBx)<<posBx)
}

// EncodeAsBx packs an opcode plus a signed iAsBx operand into an Instruction.
func EncodeAsBx(op OpCode, a, sbx int) Instruction {
	return EncodeABx(op, a, sbx+offsetSBx)
}

// EncodeSJ packs an opcode plus a signed isJ operand into an Instruction.
func EncodeSJ(op OpCode, sj int) Instruction {
	return Instruction(uint32(op)&0x7F | uint32((sj+offsetSJ)&maxArgAx)<<posSJ)
}
