// Package instrument augments a parsed module with the exports the
// snapshotter later reads state back through. The engine only exposes
// exported items, so exporting each defined memory and mutable global is the
// least invasive way to observe final state: no function, type, table,
// memory or global is added, and every pre-existing index keeps its meaning.
package instrument

import (
	"bytes"
	"fmt"

	"github.com/wasilibs/go-wizer/internal/leb128"
	"github.com/wasilibs/go-wizer/internal/wasm"
	"github.com/wasilibs/go-wizer/internal/wasm/binary"
)

// ExportPrefix starts every synthetic export name. Modules using the prefix
// for their own exports are out of contract.
const ExportPrefix = "__wizer_"

// Module returns the instrumented binary and attaches the resulting plan to
// info (and, recursively, to its children). Sections other than the export
// section (and the module and alias sections, when children were
// instrumented) are emitted byte-identical to the input.
func Module(info *wasm.ModuleInfo) ([]byte, error) {
	plan := &wasm.InstrumentationPlan{}
	info.Plan = plan

	// Synthetic exports for this module's own state.
	var added []*wasm.Export
	for i := range info.Memories {
		idx := info.MemoryIndex(i)
		if name, ok := info.ExportNameFor(wasm.ExternalKindMemory, idx); ok {
			plan.MemoryExports = append(plan.MemoryExports, name)
			continue
		}
		name := fmt.Sprintf("%smemory_%d", ExportPrefix, idx)
		plan.MemoryExports = append(plan.MemoryExports, name)
		added = append(added, &wasm.Export{Kind: wasm.ExternalKindMemory, Name: name, Index: idx})
	}
	for i, g := range info.Globals {
		if !g.Type.Mutable || !isNumeric(g.Type.ValType) {
			plan.GlobalExports = append(plan.GlobalExports, "")
			continue
		}
		idx := info.GlobalIndex(i)
		name := fmt.Sprintf("%sglobal_%d", ExportPrefix, idx)
		plan.GlobalExports = append(plan.GlobalExports, name)
		added = append(added, &wasm.Export{Kind: wasm.ExternalKindGlobal, Name: name, Index: idx})
	}

	// Instrument nested modules and bubble their synthetic exports out
	// through alias entries, so the engine can read nested state at the
	// outermost boundary.
	childBinaries := make([][]byte, len(info.Children))
	for i, child := range info.Children {
		b, err := Module(child)
		if err != nil {
			return nil, fmt.Errorf("nested module %d: %w", i, err)
		}
		childBinaries[i] = b
	}
	instantiated := map[wasm.Index]bool{}
	for i, inst := range info.Instances {
		if int(inst.Module) >= len(info.Children) {
			// Instantiation of an imported or aliased module: its state is
			// not this module tree's to capture.
			continue
		}
		if instantiated[inst.Module] {
			return nil, fmt.Errorf("%w: nested module %d instantiated more than once",
				wasm.ErrUnsupportedModuleLinking, inst.Module)
		}
		instantiated[inst.Module] = true
		plan.Instances = append(plan.Instances, &wasm.InstancePlan{
			Instance: wasm.Index(i),
			Module:   inst.Module,
		})
	}

	var aliases []byte
	var aliasCount uint32
	memorySpace := info.AliasedMemories + uint32(len(info.Memories))
	globalSpace := info.AliasedGlobals + uint32(len(info.Globals))
	for _, ip := range plan.Instances {
		child := info.Children[ip.Module]
		for _, e := range readbackExports(child) {
			aliases = append(aliases, 0x00)
			aliases = append(aliases, leb128.EncodeUint32(ip.Instance)...)
			aliases = append(aliases, e.kind)
			aliases = append(aliases, binary.EncodeString(e.name)...)
			aliasCount++

			var idx wasm.Index
			switch e.kind {
			case wasm.ExternalKindMemory:
				idx, memorySpace = memorySpace, memorySpace+1
			case wasm.ExternalKindGlobal:
				idx, globalSpace = globalSpace, globalSpace+1
			}
			added = append(added, &wasm.Export{
				Kind:  e.kind,
				Name:  fmt.Sprintf("%sinstance_%d_%s", ExportPrefix, ip.Instance, e.name),
				Index: idx,
			})
		}
	}

	childrenChanged := false
	for i, b := range childBinaries {
		if !bytes.Equal(b, info.Children[i].Raw) {
			childrenChanged = true
		}
	}
	if len(added) == 0 && !childrenChanged {
		return info.Raw, nil
	}

	// Re-emit the binary. Only the export section changes (plus the alias
	// section when exports were bubbled); everything else streams through
	// unchanged.
	out := make([]byte, 0, len(info.Raw)+len(aliases)+64)
	out = append(out, wasm.Magic...)
	out = append(out, wasm.Version...)

	// A section may appear at most once: bubbled alias entries merge into a
	// pre-existing alias section, and only a module without one gets a new
	// alias section synthesized ahead of its export section.
	aliasesDone := aliasCount == 0
	emitAdded := func(out []byte) []byte {
		if !aliasesDone && info.Section(wasm.SectionIDAlias) == nil {
			out = append(out, encodeAliasSection(info, aliases, aliasCount)...)
			aliasesDone = true
		}
		return append(out, encodeExportSection(info, added)...)
	}

	exportsDone := false
	for _, s := range info.Sections {
		raw := info.Raw[s.Whole.Start:s.Whole.End]
		switch {
		case s.ID == wasm.SectionIDAlias && !aliasesDone:
			out = append(out, encodeAliasSection(info, aliases, aliasCount)...)
			aliasesDone = true
		case s.ID == wasm.SectionIDExport:
			out = emitAdded(out)
			exportsDone = true
		case s.ID == wasm.SectionIDModule && childrenChanged:
			out = append(out, encodeModuleSection(childBinaries)...)
		case !exportsDone && s.ID != wasm.SectionIDCustom &&
			binary.SectionRank(s.ID) > binary.SectionRank(wasm.SectionIDExport):
			// The module had no export section: insert one at its canonical
			// position.
			out = emitAdded(out)
			exportsDone = true
			out = append(out, raw...)
		default:
			out = append(out, raw...)
		}
	}
	if !exportsDone {
		out = emitAdded(out)
	}
	return out, nil
}

// encodeAliasSection re-frames the original alias entries byte-for-byte and
// appends the bubbled ones after them, so every pre-existing alias keeps its
// index.
func encodeAliasSection(info *wasm.ModuleInfo, added []byte, addedCount uint32) []byte {
	var contents []byte
	var count uint32
	if s := info.Section(wasm.SectionIDAlias); s != nil {
		payload := info.Raw[s.Payload.Start:s.Payload.End]
		existing, n, _ := leb128.LoadUint32(payload)
		count = existing
		contents = append(contents, payload[n:]...)
	}
	contents = append(contents, added...)
	return binary.EncodeSection(wasm.SectionIDAlias, binary.EncodeVector(count+addedCount, contents))
}

// encodeExportSection re-frames the original export entries byte-for-byte
// and appends the synthetic ones.
func encodeExportSection(info *wasm.ModuleInfo, added []*wasm.Export) []byte {
	var contents []byte
	count := uint32(len(info.Exports) + len(added))
	if s := info.Section(wasm.SectionIDExport); s != nil {
		payload := info.Raw[s.Payload.Start:s.Payload.End]
		_, n, _ := leb128.LoadUint32(payload)
		contents = append(contents, payload[n:]...)
	}
	for _, e := range added {
		contents = append(contents, binary.EncodeExport(e)...)
	}
	return binary.EncodeSection(wasm.SectionIDExport, binary.EncodeVector(count, contents))
}

func encodeModuleSection(children [][]byte) []byte {
	var contents []byte
	for _, b := range children {
		contents = append(contents, leb128.EncodeUint32(uint32(len(b)))...)
		contents = append(contents, b...)
	}
	return binary.EncodeSection(wasm.SectionIDModule,
		binary.EncodeVector(uint32(len(children)), contents))
}

type readback struct {
	name string
	kind wasm.ExternalKind
}

// readbackExports lists the exports the snapshotter reads at the child's
// boundary, the child's own bubbled entries included.
func readbackExports(child *wasm.ModuleInfo) (ret []readback) {
	p := child.Plan
	for _, n := range p.MemoryExports {
		ret = append(ret, readback{name: n, kind: wasm.ExternalKindMemory})
	}
	for _, n := range p.GlobalExports {
		if n != "" {
			ret = append(ret, readback{name: n, kind: wasm.ExternalKindGlobal})
		}
	}
	for _, ip := range p.Instances {
		for _, e := range readbackExports(child.Children[ip.Module]) {
			ret = append(ret, readback{
				name: fmt.Sprintf("%sinstance_%d_%s", ExportPrefix, ip.Instance, e.name),
				kind: e.kind,
			})
		}
	}
	return
}

func isNumeric(vt wasm.ValueType) bool {
	switch vt {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return true
	}
	return false
}
