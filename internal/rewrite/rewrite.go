// Package rewrite emits the pre-initialized module: the original binary with
// data segments, memory sizes and mutable global initializers replaced by
// the snapshot, synthetic and initializer exports removed, and renames
// applied. Sections that carry no captured state stream through
// byte-for-byte in their original order.
package rewrite

import (
	"math"
	"strings"

	"github.com/wasilibs/go-wizer/internal/instrument"
	"github.com/wasilibs/go-wizer/internal/leb128"
	"github.com/wasilibs/go-wizer/internal/wasm"
	"github.com/wasilibs/go-wizer/internal/wasm/binary"
)

// Config is what the rewriter needs beyond the module and its snapshot.
type Config struct {
	// InitFunc is the initialization export to remove.
	InitFunc string
	// Renames maps a source export name to the name it is re-emitted under.
	Renames map[string]string
	// RenameDsts is the set of destination names, whose pre-existing
	// exports are displaced.
	RenameDsts map[string]struct{}
	// DropInitialize removes the "_initialize" adapter export, which the
	// driver already invoked.
	DropInitialize bool
}

// minSegmentGap is the shortest run of zero bytes worth ending a data
// segment over: an active segment costs roughly this many bytes of framing,
// so splitting on a smaller gap grows the output.
const minSegmentGap = 8

// Module emits the output binary for info given its captured state.
func Module(info *wasm.ModuleInfo, snap *wasm.Snapshot, cfg *Config) []byte {
	segments := dataSegments(snap)

	out := make([]byte, 0, len(info.Raw))
	out = append(out, wasm.Magic...)
	out = append(out, wasm.Version...)

	dataDone := false
	for _, s := range info.Sections {
		raw := info.Raw[s.Whole.Start:s.Whole.End]
		switch s.ID {
		case wasm.SectionIDMemory:
			out = append(out, encodeMemorySection(info, snap)...)
		case wasm.SectionIDGlobal:
			out = append(out, encodeGlobalSection(info, snap)...)
		case wasm.SectionIDExport:
			out = append(out, encodeExportSection(info, cfg)...)
		case wasm.SectionIDStart:
			if initIdx, ok := initFuncIndex(info, cfg.InitFunc); ok && *info.StartFunc == initIdx {
				continue // the start function is the initializer; drop it
			}
			out = append(out, raw...)
		case wasm.SectionIDDataCount:
			out = append(out, binary.EncodeSection(wasm.SectionIDDataCount,
				leb128.EncodeUint32(uint32(len(segments))))...)
		case wasm.SectionIDData:
			out = append(out, encodeDataSection(segments)...)
			dataDone = true
		case wasm.SectionIDModule:
			out = append(out, encodeModuleSection(info, snap)...)
		default:
			out = append(out, raw...)
		}
	}
	if !dataDone && len(segments) > 0 {
		// The input had no data section. Custom sections are the only thing
		// that can follow the data section, and they are position
		// independent, so appending keeps the canonical order.
		out = append(out, encodeDataSection(segments)...)
	}
	return out
}

// segment is one contiguous run of bytes to restore into a memory.
type segment struct {
	memory wasm.Index
	offset uint32
	data   []byte
}

// dataSegments diffs every memory image against zero, one active segment
// per non-zero run, except that runs separated by fewer than minSegmentGap
// zero bytes share one segment, which then also writes the zero bytes
// between them. Trailing zero pages are represented by the declared initial
// size alone.
func dataSegments(snap *wasm.Snapshot) []*segment {
	var ret []*segment
	for i, m := range snap.Memories {
		data := m.Data
		for start := 0; start < len(data); {
			// Find the start of the next non-zero run.
			for start < len(data) && data[start] == 0 {
				start++
			}
			if start == len(data) {
				break
			}
			// Extend the run past gaps too small to be worth a new segment.
			end := start + 1
			for end < len(data) {
				if data[end] != 0 {
					end++
					continue
				}
				zeros := 0
				gapEnd := end
				for gapEnd < len(data) && data[gapEnd] == 0 && zeros < minSegmentGap {
					gapEnd++
					zeros++
				}
				if zeros == minSegmentGap || gapEnd == len(data) {
					break
				}
				end = gapEnd
			}
			ret = append(ret, &segment{
				memory: wasm.Index(i),
				offset: uint32(start),
				data:   data[start:end],
			})
			start = end
		}
	}
	return ret
}

func encodeDataSection(segments []*segment) []byte {
	var contents []byte
	for _, s := range segments {
		offset := &wasm.ConstantExpression{
			Opcode: wasm.OpcodeI32Const,
			Data:   leb128.EncodeInt32(int32(s.offset)),
		}
		if s.memory == 0 {
			contents = append(contents, 0x00)
		} else {
			contents = append(contents, 0x02)
			contents = append(contents, leb128.EncodeUint32(s.memory)...)
		}
		contents = append(contents, binary.EncodeConstantExpression(offset)...)
		contents = append(contents, leb128.EncodeUint32(uint32(len(s.data)))...)
		contents = append(contents, s.data...)
	}
	return binary.EncodeSection(wasm.SectionIDData,
		binary.EncodeVector(uint32(len(segments)), contents))
}

func encodeMemorySection(info *wasm.ModuleInfo, snap *wasm.Snapshot) []byte {
	var contents []byte
	for i, m := range info.Memories {
		min := m.Min
		if i < len(snap.Memories) {
			min = snap.Memories[i].MinPages
		}
		contents = append(contents, binary.EncodeMemory(&wasm.Memory{Min: min, Max: m.Max})...)
	}
	return binary.EncodeSection(wasm.SectionIDMemory,
		binary.EncodeVector(uint32(len(info.Memories)), contents))
}

func encodeGlobalSection(info *wasm.ModuleInfo, snap *wasm.Snapshot) []byte {
	var contents []byte
	for i, g := range info.Globals {
		init := g.Init
		if i < len(snap.Globals) && snap.Globals[i] != nil {
			init = constForValue(snap.Globals[i])
		}
		contents = append(contents, binary.EncodeGlobal(&wasm.Global{Type: g.Type, Init: init})...)
	}
	return binary.EncodeSection(wasm.SectionIDGlobal,
		binary.EncodeVector(uint32(len(info.Globals)), contents))
}

// constForValue builds the constant initializer producing a captured value.
func constForValue(v *wasm.GlobalValue) *wasm.ConstantExpression {
	switch v.Type {
	case wasm.ValueTypeI32:
		return &wasm.ConstantExpression{
			Opcode: wasm.OpcodeI32Const,
			Data:   leb128.EncodeInt32(int32(uint32(v.Bits))),
		}
	case wasm.ValueTypeI64:
		return &wasm.ConstantExpression{
			Opcode: wasm.OpcodeI64Const,
			Data:   leb128.EncodeInt64(int64(v.Bits)),
		}
	case wasm.ValueTypeF32:
		bits := uint32(v.Bits)
		return &wasm.ConstantExpression{
			Opcode: wasm.OpcodeF32Const,
			Data:   []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)},
		}
	default: // wasm.ValueTypeF64
		bits := v.Bits
		return &wasm.ConstantExpression{
			Opcode: wasm.OpcodeF64Const,
			Data: []byte{
				byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24),
				byte(bits >> 32), byte(bits >> 40), byte(bits >> 48), byte(bits >> 56),
			},
		}
	}
}

// encodeExportSection drops synthetic and initializer exports, then applies
// renames. Removal happens first, so renaming onto the initializer's former
// name succeeds.
func encodeExportSection(info *wasm.ModuleInfo, cfg *Config) []byte {
	var contents []byte
	var count uint32
	for _, e := range info.Exports {
		if strings.HasPrefix(e.Name, instrument.ExportPrefix) {
			continue
		}
		if e.Name == cfg.InitFunc {
			continue
		}
		if cfg.DropInitialize && e.Name == "_initialize" {
			continue
		}
		name := e.Name
		if dst, ok := cfg.Renames[name]; ok {
			name = dst
		} else if _, displaced := cfg.RenameDsts[name]; displaced {
			continue
		}
		contents = append(contents, binary.EncodeExport(&wasm.Export{
			Kind:  e.Kind,
			Name:  name,
			Index: e.Index,
		})...)
		count++
	}
	return binary.EncodeSection(wasm.SectionIDExport, binary.EncodeVector(count, contents))
}

func encodeModuleSection(info *wasm.ModuleInfo, snap *wasm.Snapshot) []byte {
	// Instance index -> nested snapshot, translated to the defining module.
	byModule := map[wasm.Index]*wasm.Snapshot{}
	for instIdx, s := range snap.Instances {
		if int(instIdx) < len(info.Instances) {
			byModule[info.Instances[instIdx].Module] = s
		}
	}

	var contents []byte
	for i, child := range info.Children {
		var b []byte
		if childSnap, ok := byModule[wasm.Index(i)]; ok {
			b = Module(child, childSnap, &Config{
				Renames:    map[string]string{},
				RenameDsts: map[string]struct{}{},
			})
		} else {
			// Never instantiated during initialization: nothing captured,
			// nothing to rewrite.
			b = child.Raw
		}
		contents = append(contents, leb128.EncodeUint32(uint32(len(b)))...)
		contents = append(contents, b...)
	}
	return binary.EncodeSection(wasm.SectionIDModule,
		binary.EncodeVector(uint32(len(info.Children)), contents))
}

func initFuncIndex(info *wasm.ModuleInfo, initFunc string) (wasm.Index, bool) {
	if initFunc == "" {
		return math.MaxUint32, false
	}
	for _, e := range info.Exports {
		if e.Name == initFunc && e.Kind == wasm.ExternalKindFunc {
			return e.Index, true
		}
	}
	return math.MaxUint32, false
}
