// Package wasm holds the binary-format vocabulary shared by the parsing,
// instrumentation, validation and rewriting passes. It intentionally models
// only what those passes touch: sections whose contents never change are
// carried as opaque byte ranges.
package wasm

// Magic is the 4 byte preamble (literally "\0asm") of the binary format.
var Magic = []byte{0x00, 0x61, 0x73, 0x6D}

// Version is format version. WebAssembly 1.0 is the only release version.
var Version = []byte{0x01, 0x00, 0x00, 0x00}

// Index is the typical zero-based index into a WebAssembly index space.
type Index = uint32

// SectionID identifies the sections of a Module in the binary format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	SectionIDCustom SectionID = iota // 0
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData

	// SectionIDDataCount exists in WebAssembly 1.0 only when the bulk memory
	// encoding is in use.
	SectionIDDataCount
)

// Section IDs from the (now retired) module-linking draft. These only parse
// when the module-linking feature is enabled.
const (
	SectionIDModule   SectionID = 14
	SectionIDInstance SectionID = 15
	SectionIDAlias    SectionID = 16
)

// ValueType describes a numeric parameter, result or global type.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ExternalKind classifies imports, exports and aliases.
type ExternalKind = byte

const (
	ExternalKindFunc   ExternalKind = 0x00
	ExternalKindTable  ExternalKind = 0x01
	ExternalKindMemory ExternalKind = 0x02
	ExternalKindGlobal ExternalKind = 0x03

	// Module-linking draft kinds.
	ExternalKindModule   ExternalKind = 0x05
	ExternalKindInstance ExternalKind = 0x06
)

// ElemTypeFuncref is the only element type in WebAssembly 1.0.
const ElemTypeFuncref = 0x70

// Opcode is a prefix or instruction byte of a function body or constant
// expression.
type Opcode = byte

const (
	OpcodeUnreachable  Opcode = 0x00
	OpcodeNop          Opcode = 0x01
	OpcodeBlock        Opcode = 0x02
	OpcodeLoop         Opcode = 0x03
	OpcodeIf           Opcode = 0x04
	OpcodeElse         Opcode = 0x05
	OpcodeEnd          Opcode = 0x0b
	OpcodeBr           Opcode = 0x0c
	OpcodeBrIf         Opcode = 0x0d
	OpcodeBrTable      Opcode = 0x0e
	OpcodeReturn       Opcode = 0x0f
	OpcodeCall         Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11

	OpcodeDrop        Opcode = 0x1a
	OpcodeSelect      Opcode = 0x1b
	OpcodeTypedSelect Opcode = 0x1c

	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24
	OpcodeTableGet  Opcode = 0x25
	OpcodeTableSet  Opcode = 0x26

	// 0x28 .. 0x3e are the memory load and store instructions, all of which
	// carry an alignment and an offset immediate.
	OpcodeI32Load    Opcode = 0x28
	OpcodeI64Store32 Opcode = 0x3e

	OpcodeMemorySize Opcode = 0x3f
	OpcodeMemoryGrow Opcode = 0x40

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	// 0x45 .. 0xc4 are the plain numeric instructions, none of which carry
	// an immediate. 0xc0 .. 0xc4 are the sign-extension ops.
	OpcodeI32Eqz       Opcode = 0x45
	OpcodeI64Extend32S Opcode = 0xc4

	OpcodeRefNull  Opcode = 0xd0
	OpcodeRefIsNull Opcode = 0xd1
	OpcodeRefFunc  Opcode = 0xd2

	// OpcodeMiscPrefix is the prefix of the saturating truncation and
	// bulk-memory instruction group.
	OpcodeMiscPrefix Opcode = 0xfc

	// OpcodeVecPrefix is the prefix of all vector instructions.
	OpcodeVecPrefix Opcode = 0xfd
)

// Sub-opcodes following OpcodeMiscPrefix.
const (
	OpcodeMiscI32TruncSatF32S Opcode = iota // 0x00
	OpcodeMiscI32TruncSatF32U
	OpcodeMiscI32TruncSatF64S
	OpcodeMiscI32TruncSatF64U
	OpcodeMiscI64TruncSatF32S
	OpcodeMiscI64TruncSatF32U
	OpcodeMiscI64TruncSatF64S
	OpcodeMiscI64TruncSatF64U
	OpcodeMiscMemoryInit // 0x08
	OpcodeMiscDataDrop
	OpcodeMiscMemoryCopy
	OpcodeMiscMemoryFill
	OpcodeMiscTableInit // 0x0c
	OpcodeMiscElemDrop
	OpcodeMiscTableCopy
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	MemoryPageSize = uint32(65536)
	// MemoryLimitPages is maximum number of pages defined (2^16).
	MemoryLimitPages = uint32(65536)
)

// Import is the result of decoding one import section entry. Only the names
// and the kind are retained: the import descriptors of permitted (function)
// imports never change, and state-bearing kinds are rejected outright.
type Import struct {
	Module string
	Name   string
	Kind   ExternalKind
}

// Memory describes the limits of one defined linear memory.
type Memory struct {
	Min uint32
	Max *uint32 // nil when no maximum was encoded
}

// Table describes the limits of one defined table.
type Table struct {
	Min uint32
	Max *uint32
}

// GlobalType is the type and mutability of a global.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ConstantExpression is a global initializer or data segment offset: a single
// instruction, its immediate still encoded, terminated by OpcodeEnd.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Global is one defined global together with its original initializer, which
// the rewriter re-emits verbatim for immutable globals.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// Export is one export section entry.
type Export struct {
	Kind ExternalKind
	// Name is what the host looks this export up by.
	Name  string
	Index Index
}

// DataSegment is one data section entry as seen by the restriction pass. The
// rewriter never reads these: output data segments are regenerated from the
// snapshot.
type DataSegment struct {
	MemoryIndex      Index
	Passive          bool
	OffsetExpression *ConstantExpression
	Init             []byte
}

// Instance is one instantiation entry of the module-linking draft's instance
// section.
type Instance struct {
	// Module indexes the defining module in the parent's module index space.
	Module Index
}
