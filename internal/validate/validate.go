// Package validate is the restriction pass that runs after engine
// validation. The engine accepts the bulk memory encoding because the data
// section is ambiguous without it; this pass is what actually rejects state
// the snapshotter cannot capture: passive segments, the table-mutating bulk
// instructions, and imports of tables, memories or globals.
package validate

import (
	"fmt"

	"github.com/wasilibs/go-wizer/internal/wasm"
	"github.com/wasilibs/go-wizer/internal/wasm/binary"
)

// Module rejects any use of unsupported features in the parsed module and,
// recursively, in its nested modules.
func Module(info *wasm.ModuleInfo) error {
	for _, imp := range info.Imports {
		switch imp.Kind {
		case wasm.ExternalKindTable, wasm.ExternalKindMemory, wasm.ExternalKindGlobal:
			return fmt.Errorf("%w: %q.%q (tables, memories and globals must be defined, not imported)",
				wasm.ErrUnsupportedImport, imp.Module, imp.Name)
		}
	}

	if data := info.SectionData(wasm.SectionIDData); data != nil {
		segments, err := binary.DecodeDataSection(data)
		if err != nil {
			return fmt.Errorf("%w: %v", wasm.ErrMalformedInput, err)
		}
		for i, s := range segments {
			if s.Passive {
				return fmt.Errorf("%w: passive data segment %d", wasm.ErrUnsupportedDataKind, i)
			}
		}
	}

	if code := info.SectionData(wasm.SectionIDCode); code != nil {
		if err := binary.WalkCodeSection(code, checkInstruction); err != nil {
			return err
		}
	}

	for i, child := range info.Children {
		if err := Module(child); err != nil {
			return fmt.Errorf("nested module %d: %w", i, err)
		}
	}
	return nil
}

func checkInstruction(op, misc wasm.Opcode) error {
	switch op {
	case wasm.OpcodeMiscPrefix:
		switch misc {
		case wasm.OpcodeMiscTableCopy:
			return fmt.Errorf("%w: `table.copy`", wasm.ErrUnsupportedInstruction)
		case wasm.OpcodeMiscTableInit:
			return fmt.Errorf("%w: `table.init`", wasm.ErrUnsupportedInstruction)
		case wasm.OpcodeMiscElemDrop:
			return fmt.Errorf("%w: `elem.drop`", wasm.ErrUnsupportedInstruction)
		case wasm.OpcodeMiscDataDrop:
			return fmt.Errorf("%w: `data.drop`", wasm.ErrUnsupportedInstruction)
		}
	case wasm.OpcodeTableGet, wasm.OpcodeTableSet:
		// Part of reference types, which the engine configuration disables;
		// engine validation rejects these before we ever see them.
		return fmt.Errorf("%w: table instruction %#x", wasm.ErrUnsupportedInstruction, op)
	}
	return nil
}
