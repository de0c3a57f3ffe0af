package binary

import (
	"bytes"
	"fmt"

	"github.com/wasilibs/go-wizer/internal/leb128"
	"github.com/wasilibs/go-wizer/internal/wasm"
)

// WalkBody walks every instruction of one function body, local declarations
// included, invoking visit with each opcode before its immediates are
// skipped. For wasm.OpcodeMiscPrefix the sub-opcode is passed as misc,
// otherwise misc is zero.
//
// Only the instructions of the supported profile (numeric WebAssembly 1.0
// plus sign-extension, saturating truncation and the bulk memory
// instructions) can be skipped; anything else fails with
// wasm.ErrUnsupportedInstruction. The walker is how the
// restriction pass finds state-mutating bulk instructions without a full
// decoder.
func WalkBody(body []byte, visit func(op, misc wasm.Opcode) error) error {
	r := newReader(body)

	// Local declarations precede the instruction sequence.
	declCount, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < declCount; i++ {
		if _, err = r.uint32(); err != nil { // run length
			return err
		}
		if _, err = r.byte(); err != nil { // value type
			return err
		}
	}

	for r.len() > 0 {
		op, err := r.byte()
		if err != nil {
			return err
		}

		var misc wasm.Opcode
		if op == wasm.OpcodeMiscPrefix {
			sub, err := r.uint32()
			if err != nil {
				return err
			}
			misc = wasm.Opcode(sub)
		}

		if err = visit(op, misc); err != nil {
			return err
		}
		if err = skipImmediates(r, op, misc); err != nil {
			return fmt.Errorf("opcode %#x: %w", op, err)
		}
	}
	return nil
}

func skipImmediates(r *reader, op, misc wasm.Opcode) error {
	switch {
	case op == wasm.OpcodeBlock, op == wasm.OpcodeLoop, op == wasm.OpcodeIf:
		// Block types are encoded as a 33-bit signed integer.
		br := bytes.NewReader(r.buf[r.pos:])
		_, n, err := leb128.DecodeInt33AsInt64(br)
		if err != nil {
			return err
		}
		return r.skip(int(n))
	case op == wasm.OpcodeBr, op == wasm.OpcodeBrIf, op == wasm.OpcodeCall,
		op == wasm.OpcodeLocalGet, op == wasm.OpcodeLocalSet, op == wasm.OpcodeLocalTee,
		op == wasm.OpcodeGlobalGet, op == wasm.OpcodeGlobalSet:
		_, err := r.uint32()
		return err
	case op == wasm.OpcodeBrTable:
		count, err := r.uint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i <= count; i++ { // targets plus the default
			if _, err = r.uint32(); err != nil {
				return err
			}
		}
		return nil
	case op == wasm.OpcodeCallIndirect:
		if _, err := r.uint32(); err != nil { // type index
			return err
		}
		_, err := r.uint32() // table index
		return err
	case op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32:
		if _, err := r.uint32(); err != nil { // alignment
			return err
		}
		_, err := r.uint32() // offset
		return err
	case op == wasm.OpcodeMemorySize, op == wasm.OpcodeMemoryGrow:
		_, err := r.uint32() // memory index
		return err
	case op == wasm.OpcodeI32Const:
		_, err := r.int32()
		return err
	case op == wasm.OpcodeI64Const:
		_, err := r.int64()
		return err
	case op == wasm.OpcodeF32Const:
		return r.skip(4)
	case op == wasm.OpcodeF64Const:
		return r.skip(8)
	case op == wasm.OpcodeMiscPrefix:
		return skipMiscImmediates(r, misc)
	case op == wasm.OpcodeUnreachable, op == wasm.OpcodeNop, op == wasm.OpcodeElse,
		op == wasm.OpcodeEnd, op == wasm.OpcodeReturn, op == wasm.OpcodeDrop,
		op == wasm.OpcodeSelect:
		return nil
	case op >= wasm.OpcodeI32Eqz && op <= wasm.OpcodeI64Extend32S:
		return nil
	default:
		// Reference types, vector instructions and anything newer are
		// outside the supported profile.
		return fmt.Errorf("%w: opcode %#x", wasm.ErrUnsupportedInstruction, op)
	}
}

func skipMiscImmediates(r *reader, misc wasm.Opcode) error {
	switch misc {
	case wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeMiscI32TruncSatF32U,
		wasm.OpcodeMiscI32TruncSatF64S, wasm.OpcodeMiscI32TruncSatF64U,
		wasm.OpcodeMiscI64TruncSatF32S, wasm.OpcodeMiscI64TruncSatF32U,
		wasm.OpcodeMiscI64TruncSatF64S, wasm.OpcodeMiscI64TruncSatF64U:
		return nil
	case wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscElemDrop, wasm.OpcodeMiscMemoryFill:
		_, err := r.uint32()
		return err
	case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscMemoryCopy,
		wasm.OpcodeMiscTableInit, wasm.OpcodeMiscTableCopy:
		if _, err := r.uint32(); err != nil {
			return err
		}
		_, err := r.uint32()
		return err
	default:
		return fmt.Errorf("%w: misc opcode %#x", wasm.ErrUnsupportedInstruction, misc)
	}
}
