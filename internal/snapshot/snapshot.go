// Package snapshot reads the final state of a post-initialization instance
// back out through the exports the instrumentation pass added. It is the
// only pass that touches a live engine, and the value it produces holds no
// reference to it.
package snapshot

import (
	"fmt"
	"math"

	"github.com/bytecodealliance/wasmtime-go"

	"github.com/wasilibs/go-wizer/internal/instrument"
	"github.com/wasilibs/go-wizer/internal/wasm"
)

// Capture snapshots every defined memory and mutable global of the
// instrumented module behind instance, recursing through bubbled exports
// when nested instances exist.
func Capture(store *wasmtime.Store, instance *wasmtime.Instance, info *wasm.ModuleInfo) (*wasm.Snapshot, error) {
	return capture(store, instance, info, "")
}

func capture(store *wasmtime.Store, instance *wasmtime.Instance, info *wasm.ModuleInfo, prefix string) (*wasm.Snapshot, error) {
	plan := info.Plan
	snap := &wasm.Snapshot{Instances: map[wasm.Index]*wasm.Snapshot{}}

	for i, name := range plan.MemoryExports {
		mem, err := memoryExport(store, instance, prefix+name)
		if err != nil {
			return nil, fmt.Errorf("memory %d: %w", info.MemoryIndex(i), err)
		}
		// UnsafeData aliases the store's memory; the snapshot must outlive
		// the store, so copy.
		view := mem.UnsafeData(store)
		data := make([]byte, len(view))
		copy(data, view)
		snap.Memories = append(snap.Memories, &wasm.MemorySnapshot{
			MinPages: uint32(len(data) / int(wasm.MemoryPageSize)),
			Data:     data,
		})
	}

	for i, g := range info.Globals {
		name := plan.GlobalExports[i]
		if name == "" {
			snap.Globals = append(snap.Globals, nil)
			continue
		}
		value, err := globalExport(store, instance, prefix+name, g.Type.ValType)
		if err != nil {
			return nil, fmt.Errorf("global %d: %w", info.GlobalIndex(i), err)
		}
		snap.Globals = append(snap.Globals, value)
	}

	for _, ip := range plan.Instances {
		child := info.Children[ip.Module]
		childPrefix := fmt.Sprintf("%s%sinstance_%d_", prefix, instrument.ExportPrefix, ip.Instance)
		childSnap, err := capture(store, instance, child, childPrefix)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", ip.Instance, err)
		}
		snap.Instances[ip.Instance] = childSnap
	}
	return snap, nil
}

func memoryExport(store *wasmtime.Store, instance *wasmtime.Instance, name string) (*wasmtime.Memory, error) {
	ext := instance.GetExport(store, name)
	if ext == nil {
		return nil, fmt.Errorf("instrumented export %q is missing", name)
	}
	mem := ext.Memory()
	if mem == nil {
		return nil, fmt.Errorf("instrumented export %q is not a memory", name)
	}
	return mem, nil
}

func globalExport(store *wasmtime.Store, instance *wasmtime.Instance, name string, vt wasm.ValueType) (*wasm.GlobalValue, error) {
	ext := instance.GetExport(store, name)
	if ext == nil {
		return nil, fmt.Errorf("instrumented export %q is missing", name)
	}
	g := ext.Global()
	if g == nil {
		return nil, fmt.Errorf("instrumented export %q is not a global", name)
	}
	val := g.Get(store)
	switch vt {
	case wasm.ValueTypeI32:
		return &wasm.GlobalValue{Type: vt, Bits: uint64(uint32(val.I32()))}, nil
	case wasm.ValueTypeI64:
		return &wasm.GlobalValue{Type: vt, Bits: uint64(val.I64())}, nil
	case wasm.ValueTypeF32:
		return &wasm.GlobalValue{Type: vt, Bits: uint64(math.Float32bits(val.F32()))}, nil
	case wasm.ValueTypeF64:
		return &wasm.GlobalValue{Type: vt, Bits: math.Float64bits(val.F64())}, nil
	default:
		return nil, fmt.Errorf("global %q has non-numeric type %#x", name, vt)
	}
}
