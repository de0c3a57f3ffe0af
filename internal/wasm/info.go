package wasm

// Range is a half-open byte range into the module binary.
type Range struct {
	Start, End int
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int { return r.End - r.Start }

// SectionInfo locates one top-level section of the original binary.
type SectionInfo struct {
	ID SectionID
	// Whole covers the section id byte, the size prefix and the payload.
	Whole Range
	// Payload covers the section contents after the size prefix.
	Payload Range
}

// ModuleInfo is the side table built by a single streaming pass over a
// module binary (and, recursively, any nested modules). It records the
// declared counts of every index space, the decoded entries of the sections
// the later passes rewrite, and the byte ranges of everything else. It is
// immutable after parsing apart from the attached instrumentation Plan.
type ModuleInfo struct {
	// Raw is this module's binary, header included. For a nested module it
	// aliases the size-prefixed entry inside the parent's module section.
	Raw []byte

	// Sections are the top-level sections in binary order.
	Sections []SectionInfo

	Imports []*Import
	// Imported entry counts per index space, decoded from the import
	// section. Only functions survive the restriction pass; the rest are
	// tracked so the pass can name what it rejects.
	ImportedFuncs    uint32
	ImportedTables   uint32
	ImportedMemories uint32
	ImportedGlobals  uint32

	// FuncCount is the number of defined functions.
	FuncCount uint32

	Tables   []*Table
	Memories []*Memory
	Globals  []*Global
	Exports  []*Export

	// StartFunc is the start section's function index, nil when absent.
	StartFunc *Index

	// AliasedMemories and AliasedGlobals count instance-alias entries that
	// precede the memory/global sections and therefore shift the indices of
	// defined entries (module linking only). The state behind an alias is
	// owned by the child instance and is never captured at this level.
	AliasedMemories uint32
	AliasedGlobals  uint32

	Instances []*Instance
	Children  []*ModuleInfo

	// Plan is attached by the instrumentation pass.
	Plan *InstrumentationPlan
}

// Section returns the first section with the given id, or nil.
func (m *ModuleInfo) Section(id SectionID) *SectionInfo {
	for i := range m.Sections {
		if m.Sections[i].ID == id {
			return &m.Sections[i]
		}
	}
	return nil
}

// SectionData returns the payload bytes of the given section, or nil when
// the section is absent.
func (m *ModuleInfo) SectionData(id SectionID) []byte {
	s := m.Section(id)
	if s == nil {
		return nil
	}
	return m.Raw[s.Payload.Start:s.Payload.End]
}

// MemoryIndex returns the absolute index of the i-th defined memory,
// accounting for alias entries in front of it.
func (m *ModuleInfo) MemoryIndex(i int) Index {
	return m.AliasedMemories + uint32(i)
}

// GlobalIndex returns the absolute index of the i-th defined global.
func (m *ModuleInfo) GlobalIndex(i int) Index {
	return m.AliasedGlobals + uint32(i)
}

// ExportNameFor returns the name of an existing export of the given kind and
// index, and whether one exists.
func (m *ModuleInfo) ExportNameFor(kind ExternalKind, index Index) (string, bool) {
	for _, e := range m.Exports {
		if e.Kind == kind && e.Index == index {
			return e.Name, true
		}
	}
	return "", false
}

// InstrumentationPlan records, per state-bearing entity, the export name the
// snapshotter reads it back through. All synthetic names share the reserved
// "__wizer_" prefix, which user exports may not use.
type InstrumentationPlan struct {
	// MemoryExports has one name per defined memory: either a pre-existing
	// export of that memory or a synthetic "__wizer_memory_<i>".
	MemoryExports []string
	// GlobalExports parallels ModuleInfo.Globals. The entry is empty for
	// globals whose value is not captured (immutable ones).
	GlobalExports []string
	// Instances describes nested instances whose synthetic exports were
	// bubbled out through this module (module linking only).
	Instances []*InstancePlan
}

// InstancePlan ties one instance of a nested module to that module's own
// plan. The bubbled export name at this module's boundary for a child export
// "n" is "__wizer_instance_<Instance>_" + n.
type InstancePlan struct {
	Instance Index
	Module   Index
}

// Snapshot is the language-neutral description of post-initialization state:
// the final image of each defined memory and the final value of each mutable
// global, recursively for nested instances. It holds no engine references.
type Snapshot struct {
	// Memories parallels ModuleInfo.Memories.
	Memories []*MemorySnapshot
	// Globals parallels ModuleInfo.Globals; entries for immutable globals
	// are nil.
	Globals []*GlobalValue
	// Instances maps an instance index to the nested snapshot (module
	// linking only).
	Instances map[Index]*Snapshot
	// CalledInitialize records that a reactor-style "_initialize" export was
	// present and invoked before the initializer.
	CalledInitialize bool
}

// MemorySnapshot is the final state of one linear memory.
type MemorySnapshot struct {
	// MinPages is the final size in pages, which becomes the output
	// module's declared initial size.
	MinPages uint32
	// Data is the full final contents, MinPages*MemoryPageSize long.
	Data []byte
}

// GlobalValue is the final scalar value of one mutable global.
type GlobalValue struct {
	Type ValueType
	// Bits holds the raw value: zero-extended for i32, IEEE 754 bits for
	// f32/f64.
	Bits uint64
}
