package bytecode

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// chunkBuilder assembles a minimal, valid Lua 5.4 binary chunk byte by
// byte, mirroring the wire format Undump parses (§4.B). Only used by
// tests; values are kept within the single-byte range of the 7-bit
// size encoding (n < 128) for simplicity.
type chunkBuilder struct {
	bytes.Buffer
}

func (b *chunkBuilder) size(n int) {
	b.WriteByte(byte(n) | 0x80)
}

func (b *chunkBuilder) str(s string) {
	b.size(len(s) + 1)
	b.WriteString(s)
}

func (b *chunkBuilder) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func (b *chunkBuilder) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func validHeader() *chunkBuilder {
	b := &chunkBuilder{}
	b.Write(luaSignature[:])
	b.WriteByte(luacVersion)
	b.WriteByte(luacFormat)
	b.Write(luacData[:])
	b.WriteByte(instructionSize)
	b.WriteByte(luaIntegerSize)
	b.WriteByte(luaNumberSize)
	b.u64(uint64(luacInt))
	b.u64(math.Float64bits(luacNum))
	return b
}

// emptyProto appends a minimal function prototype: no code, no
// constants, no nested anything.
func (b *chunkBuilder) emptyProto(source string) {
	b.str(source)
	b.size(0) // line defined
	b.size(0) // last line defined
	b.WriteByte(0) // num params
	b.WriteByte(0) // is vararg
	b.WriteByte(2) // max stack size
	b.size(0)      // code
	b.size(0)      // constants
	b.size(0)      // upvalues
	b.size(0)      // protos
	b.size(0)      // line info
	b.size(0)      // abs line info
	b.size(0)      // loc vars
	b.size(0)      // upvalue names
}

func TestUndumpValidEmptyChunk(t *testing.T) {
	b := validHeader()
	b.WriteByte(1) // top-level upvalue count byte (consumed, unused)
	b.emptyProto("test.lua")

	proto, err := Undump(b.Bytes(), "test.lua")
	if err != nil {
		t.Fatalf("Undump: %v", err)
	}
	if proto.Source != "test.lua" {
		t.Errorf("Source = %q, want %q", proto.Source, "test.lua")
	}
	if proto.MaxStackSize != 2 {
		t.Errorf("MaxStackSize = %d, want 2", proto.MaxStackSize)
	}
	if len(proto.Code) != 0 || len(proto.Constants) != 0 {
		t.Errorf("expected no code/constants, got %d/%d", len(proto.Code), len(proto.Constants))
	}
}

func TestUndumpCodeAndConstants(t *testing.T) {
	b := validHeader()
	b.WriteByte(1)
	b.str("main.lua")
	b.size(0)
	b.size(0)
	b.WriteByte(0)
	b.WriteByte(0)
	b.WriteByte(3)
	b.size(1)
	b.u32(uint32(EncodeAsBx(OpLoadI, 0, 5)))
	b.size(1)
	b.WriteByte(vNumInt)
	b.u64(uint64(42))
	b.size(0)
	b.size(0)
	b.size(0)
	b.size(0)
	b.size(0)
	b.size(0)

	proto, err := Undump(b.Bytes(), "main.lua")
	if err != nil {
		t.Fatalf("Undump: %v", err)
	}
	if len(proto.Code) != 1 || proto.Code[0].OpCode() != OpLoadI {
		t.Fatalf("Code = %#v, want one LOADI", proto.Code)
	}
	if got := proto.Code[0].SBx(); got != 5 {
		t.Errorf("SBx = %d, want 5", got)
	}
	if len(proto.Constants) != 1 || proto.Constants[0].Tag != ConstInteger || proto.Constants[0].Integer != 42 {
		t.Fatalf("Constants = %#v, want [Integer(42)]", proto.Constants)
	}
}

func TestUndumpHeaderMismatches(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(b *chunkBuilder)
	}{
		{"bad signature", func(b *chunkBuilder) { b.Bytes()[0] = 'X' }},
		{"bad version", func(b *chunkBuilder) { b.Bytes()[4] = 0x53 }},
		{"bad format", func(b *chunkBuilder) { b.Bytes()[5] = 1 }},
		{"truncated", func(b *chunkBuilder) { b.Truncate(10) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validHeader()
			b.WriteByte(1)
			b.emptyProto("x")
			tt.mangle(b)
			if _, err := Undump(b.Bytes(), "x"); err == nil {
				t.Error("expected a header/corruption error, got nil")
			}
		})
	}
}

func TestUndumpChildInheritsParentSource(t *testing.T) {
	b := validHeader()
	b.WriteByte(1)
	// top-level proto with one nested, sourceless child
	b.str("parent.lua")
	b.size(0)
	b.size(0)
	b.WriteByte(0)
	b.WriteByte(0)
	b.WriteByte(2)
	b.size(0) // code
	b.size(0) // constants
	b.size(0) // upvalues
	b.size(1) // 1 nested proto
	b.size(0) // child: source absent
	b.size(0)
	b.size(0)
	b.WriteByte(0)
	b.WriteByte(0)
	b.WriteByte(1)
	b.size(0) // child: code
	b.size(0) // child: constants
	b.size(0) // child: upvalues
	b.size(0) // child: protos
	b.size(0) // child: line info
	b.size(0) // child: abs line info
	b.size(0) // child: loc vars
	b.size(0) // child: upvalue names
	b.size(0) // parent: line info
	b.size(0) // parent: abs line info
	b.size(0) // parent: loc vars
	b.size(0) // parent: upvalue names

	proto, err := Undump(b.Bytes(), "parent.lua")
	if err != nil {
		t.Fatalf("Undump: %v", err)
	}
	if len(proto.Protos) != 1 {
		t.Fatalf("expected 1 nested proto, got %d", len(proto.Protos))
	}
	if proto.Protos[0].Source != "parent.lua" {
		t.Errorf("child Source = %q, want inherited %q", proto.Protos[0].Source, "parent.lua")
	}
}
