package binary

import (
	"github.com/wasilibs/go-wizer/internal/leb128"
	"github.com/wasilibs/go-wizer/internal/wasm"
)

// EncodeSection frames contents as a section: the id, the size of its
// contents in bytes, then the contents.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func EncodeSection(id wasm.SectionID, contents []byte) []byte {
	ret := append([]byte{id}, leb128.EncodeUint32(uint32(len(contents)))...)
	return append(ret, contents...)
}

// EncodeString appends the size of a name in bytes ahead of its UTF-8 bytes.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#names%E2%91%A0
func EncodeString(v string) []byte {
	return append(leb128.EncodeUint32(uint32(len(v))), v...)
}

// EncodeLimits encodes a minimum and optional maximum as a limits type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func EncodeLimits(min uint32, max *uint32) []byte {
	if max == nil {
		return append([]byte{0x00}, leb128.EncodeUint32(min)...)
	}
	ret := append([]byte{0x01}, leb128.EncodeUint32(min)...)
	return append(ret, leb128.EncodeUint32(*max)...)
}

// EncodeExport encodes one export section entry.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#export-section%E2%91%A0
func EncodeExport(e *wasm.Export) []byte {
	ret := EncodeString(e.Name)
	ret = append(ret, e.Kind)
	return append(ret, leb128.EncodeUint32(e.Index)...)
}

// EncodeConstantExpression encodes the opcode, the pre-encoded immediate and
// the end instruction.
func EncodeConstantExpression(expr *wasm.ConstantExpression) []byte {
	ret := append([]byte{expr.Opcode}, expr.Data...)
	return append(ret, wasm.OpcodeEnd)
}

// EncodeGlobal encodes one global section entry: its type, mutability and
// initializer.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-section%E2%91%A0
func EncodeGlobal(g *wasm.Global) []byte {
	var mutable byte
	if g.Type.Mutable {
		mutable = 1
	}
	ret := []byte{g.Type.ValType, mutable}
	return append(ret, EncodeConstantExpression(g.Init)...)
}

// EncodeMemory encodes one memory section entry.
func EncodeMemory(m *wasm.Memory) []byte {
	return EncodeLimits(m.Min, m.Max)
}

// EncodeVector frames count entries already concatenated in contents.
func EncodeVector(count uint32, contents []byte) []byte {
	return append(leb128.EncodeUint32(count), contents...)
}

// sectionRanks is the specified order of non-custom sections. The data count
// section precedes the code section despite its higher id, and the
// module-linking draft slots its sections after the function section.
var sectionRanks = map[wasm.SectionID]int{
	wasm.SectionIDType:      1,
	wasm.SectionIDImport:    2,
	wasm.SectionIDFunction:  3,
	wasm.SectionIDModule:    4,
	wasm.SectionIDInstance:  5,
	wasm.SectionIDAlias:     6,
	wasm.SectionIDTable:     7,
	wasm.SectionIDMemory:    8,
	wasm.SectionIDGlobal:    9,
	wasm.SectionIDExport:    10,
	wasm.SectionIDStart:     11,
	wasm.SectionIDElement:   12,
	wasm.SectionIDDataCount: 13,
	wasm.SectionIDCode:      14,
	wasm.SectionIDData:      15,
}

// SectionRank returns the canonical position of a non-custom section,
// used to find the insertion point for a section the input lacked. Custom
// sections have no rank: they may appear anywhere.
func SectionRank(id wasm.SectionID) int {
	return sectionRanks[id]
}
