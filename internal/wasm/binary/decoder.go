// Package binary reads and writes the parts of the WebAssembly binary format
// the pre-initializer touches. Decoding is a single streaming pass that
// builds a wasm.ModuleInfo side table; sections the later passes never
// change are recorded as byte ranges only.
package binary

import (
	"bytes"
	"fmt"

	"github.com/wasilibs/go-wizer/internal/leb128"
	"github.com/wasilibs/go-wizer/internal/wasm"
)

// DecodeModuleInfo walks binary once and returns its side table. The input
// has already passed engine validation, so any failure here wraps
// wasm.ErrMalformedInput.
//
// When moduleLinking is true, nested module sections are decoded
// recursively and instance/alias sections are tracked.
func DecodeModuleInfo(binary []byte, moduleLinking bool) (*wasm.ModuleInfo, error) {
	info, err := decodeModuleInfo(binary, moduleLinking)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wasm.ErrMalformedInput, err)
	}
	return info, nil
}

func decodeModuleInfo(raw []byte, moduleLinking bool) (*wasm.ModuleInfo, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("binary too short: %d bytes", len(raw))
	}
	if !bytes.Equal(raw[0:4], wasm.Magic) {
		return nil, fmt.Errorf("invalid magic number")
	}
	if !bytes.Equal(raw[4:8], wasm.Version) {
		return nil, fmt.Errorf("invalid version header")
	}

	info := &wasm.ModuleInfo{Raw: raw}
	pos := 8
	for pos < len(raw) {
		id := raw[pos]
		size, n, err := leb128.LoadUint32(raw[pos+1:])
		if err != nil {
			return nil, fmt.Errorf("section id %d: read size: %v", id, err)
		}
		payloadStart := pos + 1 + int(n)
		payloadEnd := payloadStart + int(size)
		if payloadEnd > len(raw) {
			return nil, fmt.Errorf("section id %d: size %d exceeds binary", id, size)
		}
		info.Sections = append(info.Sections, wasm.SectionInfo{
			ID:      id,
			Whole:   wasm.Range{Start: pos, End: payloadEnd},
			Payload: wasm.Range{Start: payloadStart, End: payloadEnd},
		})

		payload := raw[payloadStart:payloadEnd]
		switch id {
		case wasm.SectionIDImport:
			err = decodeImportSection(info, payload, moduleLinking)
		case wasm.SectionIDFunction:
			info.FuncCount, _, err = leb128.LoadUint32(payload)
		case wasm.SectionIDTable:
			err = decodeTableSection(info, payload)
		case wasm.SectionIDMemory:
			err = decodeMemorySection(info, payload)
		case wasm.SectionIDGlobal:
			err = decodeGlobalSection(info, payload)
		case wasm.SectionIDExport:
			err = decodeExportSection(info, payload)
		case wasm.SectionIDStart:
			var funcIdx wasm.Index
			funcIdx, _, err = leb128.LoadUint32(payload)
			info.StartFunc = &funcIdx
		case wasm.SectionIDModule, wasm.SectionIDInstance, wasm.SectionIDAlias:
			if !moduleLinking {
				return nil, fmt.Errorf("section id %d requires module linking", id)
			}
			switch id {
			case wasm.SectionIDModule:
				err = decodeModuleSection(info, payload)
			case wasm.SectionIDInstance:
				err = decodeInstanceSection(info, payload)
			case wasm.SectionIDAlias:
				err = decodeAliasSection(info, payload)
			}
		default:
			// Type, element, code, data, data count and custom sections are
			// carried as ranges; their interiors are decoded on demand by
			// the passes that need them.
		}
		if err != nil {
			return nil, fmt.Errorf("section id %d: %v", id, err)
		}
		pos = payloadEnd
	}
	return info, nil
}

func decodeImportSection(info *wasm.ModuleInfo, payload []byte, moduleLinking bool) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		module, err := r.name()
		if err != nil {
			return fmt.Errorf("import %d: %v", i, err)
		}
		name, err := r.name()
		if err != nil {
			return fmt.Errorf("import %d: %v", i, err)
		}
		kind, err := r.byte()
		if err != nil {
			return fmt.Errorf("import %d: %v", i, err)
		}
		switch kind {
		case wasm.ExternalKindFunc:
			if _, err = r.uint32(); err != nil {
				return err
			}
			info.ImportedFuncs++
		case wasm.ExternalKindTable:
			if _, err = r.byte(); err != nil { // element type
				return err
			}
			if _, _, err = r.limits(); err != nil {
				return err
			}
			info.ImportedTables++
		case wasm.ExternalKindMemory:
			if _, _, err = r.limits(); err != nil {
				return err
			}
			info.ImportedMemories++
		case wasm.ExternalKindGlobal:
			if err = r.skip(2); err != nil { // value type, mutability
				return err
			}
			info.ImportedGlobals++
		case wasm.ExternalKindModule, wasm.ExternalKindInstance:
			if !moduleLinking {
				return fmt.Errorf("import %d: kind %#x requires module linking", i, kind)
			}
			if _, err = r.uint32(); err != nil { // type index
				return err
			}
		default:
			return fmt.Errorf("import %d: invalid kind %#x", i, kind)
		}
		info.Imports = append(info.Imports, &wasm.Import{Module: module, Name: name, Kind: kind})
	}
	return nil
}

func decodeTableSection(info *wasm.ModuleInfo, payload []byte) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		elemType, err := r.byte()
		if err != nil {
			return err
		}
		if elemType != wasm.ElemTypeFuncref {
			return fmt.Errorf("table %d: invalid element type %#x", i, elemType)
		}
		min, max, err := r.limits()
		if err != nil {
			return err
		}
		info.Tables = append(info.Tables, &wasm.Table{Min: min, Max: max})
	}
	return nil
}

func decodeMemorySection(info *wasm.ModuleInfo, payload []byte) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		min, max, err := r.limits()
		if err != nil {
			return fmt.Errorf("memory %d: %v", i, err)
		}
		info.Memories = append(info.Memories, &wasm.Memory{Min: min, Max: max})
	}
	return nil
}

func decodeGlobalSection(info *wasm.ModuleInfo, payload []byte) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		valType, err := r.byte()
		if err != nil {
			return err
		}
		mut, err := r.byte()
		if err != nil {
			return err
		}
		if mut > 1 {
			return fmt.Errorf("global %d: invalid mutability %#x", i, mut)
		}
		init, err := r.constantExpression()
		if err != nil {
			return fmt.Errorf("global %d: %v", i, err)
		}
		info.Globals = append(info.Globals, &wasm.Global{
			Type: &wasm.GlobalType{ValType: valType, Mutable: mut == 1},
			Init: init,
		})
	}
	return nil
}

func decodeExportSection(info *wasm.ModuleInfo, payload []byte) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := r.name()
		if err != nil {
			return fmt.Errorf("export %d: %v", i, err)
		}
		kind, err := r.byte()
		if err != nil {
			return err
		}
		index, err := r.uint32()
		if err != nil {
			return err
		}
		info.Exports = append(info.Exports, &wasm.Export{Kind: kind, Name: name, Index: index})
	}
	return nil
}

func decodeModuleSection(info *wasm.ModuleInfo, payload []byte) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		size, err := r.uint32()
		if err != nil {
			return fmt.Errorf("nested module %d: %v", i, err)
		}
		nested, err := r.bytes(int(size))
		if err != nil {
			return fmt.Errorf("nested module %d: %v", i, err)
		}
		child, err := decodeModuleInfo(nested, true)
		if err != nil {
			return fmt.Errorf("nested module %d: %v", i, err)
		}
		info.Children = append(info.Children, child)
	}
	return nil
}

func decodeInstanceSection(info *wasm.ModuleInfo, payload []byte) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tag, err := r.byte()
		if err != nil {
			return err
		}
		if tag != 0x00 { // instantiate
			return fmt.Errorf("instance %d: invalid tag %#x", i, tag)
		}
		moduleIdx, err := r.uint32()
		if err != nil {
			return err
		}
		argCount, err := r.uint32()
		if err != nil {
			return err
		}
		for a := uint32(0); a < argCount; a++ {
			if _, err = r.name(); err != nil {
				return err
			}
			if _, err = r.byte(); err != nil { // kind
				return err
			}
			if _, err = r.uint32(); err != nil { // index
				return err
			}
		}
		info.Instances = append(info.Instances, &wasm.Instance{Module: moduleIdx})
	}
	return nil
}

func decodeAliasSection(info *wasm.ModuleInfo, payload []byte) error {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tag, err := r.byte()
		if err != nil {
			return err
		}
		switch tag {
		case 0x00: // alias of an instance export
			if _, err = r.uint32(); err != nil { // instance index
				return err
			}
			kind, err := r.byte()
			if err != nil {
				return err
			}
			if _, err = r.name(); err != nil {
				return err
			}
			switch kind {
			case wasm.ExternalKindMemory:
				info.AliasedMemories++
			case wasm.ExternalKindGlobal:
				info.AliasedGlobals++
			}
		case 0x01: // alias of an outer module's entity
			if _, err = r.uint32(); err != nil { // depth
				return err
			}
			if _, err = r.byte(); err != nil { // kind
				return err
			}
			if _, err = r.uint32(); err != nil { // index
				return err
			}
		default:
			return fmt.Errorf("alias %d: invalid tag %#x", i, tag)
		}
	}
	return nil
}
