package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasilibs/go-wizer/internal/leb128"
	wasm "github.com/wasilibs/go-wizer/internal/wasm"
	"github.com/wasilibs/go-wizer/internal/wasm/binary"
)

func module(sections ...[]byte) []byte {
	ret := append([]byte{}, wasm.Magic...)
	ret = append(ret, wasm.Version...)
	for _, s := range sections {
		ret = append(ret, s...)
	}
	return ret
}

func decode(t *testing.T, bin []byte) *wasm.ModuleInfo {
	info, err := binary.DecodeModuleInfo(bin, false)
	require.NoError(t, err)
	return info
}

func exportEntry(name string, kind wasm.ExternalKind, index byte) []byte {
	ret := binary.EncodeString(name)
	return append(ret, kind, index)
}

func exportSection(entries ...[]byte) []byte {
	contents := []byte{byte(len(entries))}
	for _, e := range entries {
		contents = append(contents, e...)
	}
	return binary.EncodeSection(wasm.SectionIDExport, contents)
}

func plainConfig() *Config {
	return &Config{
		InitFunc:   "wizer.initialize",
		Renames:    map[string]string{},
		RenameDsts: map[string]struct{}{},
	}
}

// oneMemorySnapshot builds a one page snapshot with the given bytes written
// at offset.
func oneMemorySnapshot(offset int, data []byte) *wasm.Snapshot {
	image := make([]byte, wasm.MemoryPageSize)
	copy(image[offset:], data)
	return &wasm.Snapshot{
		Memories: []*wasm.MemorySnapshot{{MinPages: 1, Data: image}},
	}
}

func TestModule_bakesMemoryAndGlobalState(t *testing.T) {
	input := module(
		binary.EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x00, 0x01}),
		binary.EncodeSection(wasm.SectionIDGlobal, []byte{
			0x01, wasm.ValueTypeI32, 0x01, wasm.OpcodeI32Const, 0x00, wasm.OpcodeEnd,
		}),
		exportSection(
			exportEntry("mem", wasm.ExternalKindMemory, 0),
			exportEntry("g", wasm.ExternalKindGlobal, 0),
			exportEntry("wizer.initialize", wasm.ExternalKindFunc, 0),
		),
	)
	info := decode(t, input)

	snap := oneMemorySnapshot(16, []byte{1, 2, 3, 4})
	snap.Globals = []*wasm.GlobalValue{{Type: wasm.ValueTypeI32, Bits: 42}}

	out := Module(info, snap, plainConfig())
	result := decode(t, out)

	// The mutable global is initialized to its final value.
	require.Equal(t, []*wasm.Global{{
		Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true},
		Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(42)},
	}}, result.Globals)

	// The initializer export is gone; the state exports remain.
	require.Equal(t, []*wasm.Export{
		{Kind: wasm.ExternalKindMemory, Name: "mem", Index: 0},
		{Kind: wasm.ExternalKindGlobal, Name: "g", Index: 0},
	}, result.Exports)

	// One active data segment covering exactly the written bytes.
	segments, err := binary.DecodeDataSection(result.SectionData(wasm.SectionIDData))
	require.NoError(t, err)
	require.Equal(t, []*wasm.DataSegment{{
		OffsetExpression: &wasm.ConstantExpression{
			Opcode: wasm.OpcodeI32Const,
			Data:   leb128.EncodeInt32(16),
		},
		Init: []byte{1, 2, 3, 4},
	}}, segments)
}

func TestModule_grownMemory(t *testing.T) {
	input := module(
		binary.EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x00, 0x01}),
	)
	info := decode(t, input)

	image := make([]byte, 2*wasm.MemoryPageSize)
	image[wasm.MemoryPageSize] = 0xff
	snap := &wasm.Snapshot{
		Memories: []*wasm.MemorySnapshot{{MinPages: 2, Data: image}},
	}

	out := Module(info, snap, plainConfig())
	result := decode(t, out)

	require.Equal(t, []*wasm.Memory{{Min: 2}}, result.Memories)
	segments, err := binary.DecodeDataSection(result.SectionData(wasm.SectionIDData))
	require.NoError(t, err)
	require.Equal(t, 1, len(segments))
	require.Equal(t, &wasm.ConstantExpression{
		Opcode: wasm.OpcodeI32Const,
		Data:   leb128.EncodeInt32(int32(wasm.MemoryPageSize)),
	}, segments[0].OffsetExpression)
	require.Equal(t, []byte{0xff}, segments[0].Init)
}

func TestModule_preservesMemoryMaximum(t *testing.T) {
	input := module(
		binary.EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x01, 0x01, 0x10}),
	)
	info := decode(t, input)

	snap := oneMemorySnapshot(0, nil)
	out := Module(info, snap, plainConfig())
	result := decode(t, out)

	max := uint32(16)
	require.Equal(t, []*wasm.Memory{{Min: 1, Max: &max}}, result.Memories)
}

func TestDataSegments_splitsOnLargeGaps(t *testing.T) {
	image := make([]byte, wasm.MemoryPageSize)
	// Two runs separated by a gap below the split threshold merge.
	image[0] = 1
	image[5] = 2
	// A run past a long gap becomes its own segment.
	image[100] = 3

	segments := dataSegments(&wasm.Snapshot{
		Memories: []*wasm.MemorySnapshot{{MinPages: 1, Data: image}},
	})
	require.Equal(t, 2, len(segments))
	require.Equal(t, uint32(0), segments[0].offset)
	require.Equal(t, []byte{1, 0, 0, 0, 0, 2}, segments[0].data)
	require.Equal(t, uint32(100), segments[1].offset)
	require.Equal(t, []byte{3}, segments[1].data)
}

func TestDataSegments_secondMemory(t *testing.T) {
	first := make([]byte, wasm.MemoryPageSize)
	second := make([]byte, wasm.MemoryPageSize)
	second[8] = 9

	segments := dataSegments(&wasm.Snapshot{
		Memories: []*wasm.MemorySnapshot{
			{MinPages: 1, Data: first},
			{MinPages: 1, Data: second},
		},
	})
	require.Equal(t, 1, len(segments))
	require.Equal(t, wasm.Index(1), segments[0].memory)

	decoded, err := binary.DecodeDataSection(
		encodeDataSection(segments)[2:]) // strip the section id and size
	require.NoError(t, err)
	require.Equal(t, wasm.Index(1), decoded[0].MemoryIndex)
}

func TestModule_renames(t *testing.T) {
	input := module(
		exportSection(
			exportEntry("run", wasm.ExternalKindFunc, 0),
			exportEntry("_start", wasm.ExternalKindFunc, 1),
			exportEntry("wizer.initialize", wasm.ExternalKindFunc, 2),
		),
	)
	info := decode(t, input)

	cfg := plainConfig()
	cfg.Renames = map[string]string{"_start": "run"}
	cfg.RenameDsts = map[string]struct{}{"run": {}}

	out := Module(info, &wasm.Snapshot{}, cfg)
	result := decode(t, out)

	// "_start" was re-emitted as "run", displacing the original "run".
	require.Equal(t, []*wasm.Export{
		{Kind: wasm.ExternalKindFunc, Name: "run", Index: 1},
	}, result.Exports)
}

func TestModule_renameOntoInitializerSlot(t *testing.T) {
	input := module(
		exportSection(
			exportEntry("wizer.initialize", wasm.ExternalKindFunc, 0),
			exportEntry("boot", wasm.ExternalKindFunc, 1),
		),
	)
	info := decode(t, input)

	// The initializer's export is removed before renames apply, so renaming
	// onto its former name succeeds.
	cfg := plainConfig()
	cfg.Renames = map[string]string{"boot": "wizer.initialize"}
	cfg.RenameDsts = map[string]struct{}{"wizer.initialize": {}}

	out := Module(info, &wasm.Snapshot{}, cfg)
	result := decode(t, out)

	require.Equal(t, []*wasm.Export{
		{Kind: wasm.ExternalKindFunc, Name: "wizer.initialize", Index: 1},
	}, result.Exports)
}

func TestModule_dropsInvokedInitialize(t *testing.T) {
	input := module(
		exportSection(
			exportEntry("_initialize", wasm.ExternalKindFunc, 0),
			exportEntry("wizer.initialize", wasm.ExternalKindFunc, 1),
			exportEntry("api", wasm.ExternalKindFunc, 2),
		),
	)
	info := decode(t, input)

	cfg := plainConfig()
	cfg.DropInitialize = true
	result := decode(t, Module(info, &wasm.Snapshot{}, cfg))
	require.Equal(t, []*wasm.Export{
		{Kind: wasm.ExternalKindFunc, Name: "api", Index: 2},
	}, result.Exports)

	// When "_initialize" was never invoked it remains exported.
	cfg.DropInitialize = false
	result = decode(t, Module(info, &wasm.Snapshot{}, cfg))
	require.Equal(t, []*wasm.Export{
		{Kind: wasm.ExternalKindFunc, Name: "_initialize", Index: 0},
		{Kind: wasm.ExternalKindFunc, Name: "api", Index: 2},
	}, result.Exports)
}

func TestModule_startSection(t *testing.T) {
	startSection := binary.EncodeSection(wasm.SectionIDStart, []byte{0x00})

	t.Run("dropped when it is the initializer", func(t *testing.T) {
		input := module(
			exportSection(exportEntry("wizer.initialize", wasm.ExternalKindFunc, 0)),
			startSection,
		)
		info := decode(t, input)
		result := decode(t, Module(info, &wasm.Snapshot{}, plainConfig()))
		require.Nil(t, result.StartFunc)
	})

	t.Run("preserved when distinct", func(t *testing.T) {
		input := module(
			exportSection(exportEntry("wizer.initialize", wasm.ExternalKindFunc, 1)),
			startSection,
		)
		info := decode(t, input)
		result := decode(t, Module(info, &wasm.Snapshot{}, plainConfig()))
		require.NotNil(t, result.StartFunc)
		require.Equal(t, wasm.Index(0), *result.StartFunc)
	})
}

func TestModule_updatesDataCount(t *testing.T) {
	input := module(
		binary.EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x00, 0x01}),
		binary.EncodeSection(wasm.SectionIDDataCount, []byte{0x03}),
		binary.EncodeSection(wasm.SectionIDData, []byte{
			0x03,
			0x00, wasm.OpcodeI32Const, 0x00, wasm.OpcodeEnd, 0x01, 0x01,
			0x00, wasm.OpcodeI32Const, 0x10, wasm.OpcodeEnd, 0x01, 0x02,
			0x00, wasm.OpcodeI32Const, 0x20, wasm.OpcodeEnd, 0x01, 0x03,
		}),
	)
	info := decode(t, input)

	snap := oneMemorySnapshot(0, []byte{0xaa})
	result := decode(t, Module(info, snap, plainConfig()))

	require.Equal(t, []byte{0x01}, result.SectionData(wasm.SectionIDDataCount))
	segments, err := binary.DecodeDataSection(result.SectionData(wasm.SectionIDData))
	require.NoError(t, err)
	require.Equal(t, 1, len(segments))
}

func TestModule_appendsDataSectionWhenInputHadNone(t *testing.T) {
	input := module(
		binary.EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x00, 0x01}),
	)
	info := decode(t, input)

	result := decode(t, Module(info, oneMemorySnapshot(3, []byte{7}), plainConfig()))
	segments, err := binary.DecodeDataSection(result.SectionData(wasm.SectionIDData))
	require.NoError(t, err)
	require.Equal(t, []byte{7}, segments[0].Init)
}

func TestModule_passesUntouchedSectionsThrough(t *testing.T) {
	typeSection := binary.EncodeSection(wasm.SectionIDType, []byte{0x01, 0x60, 0x00, 0x00})
	codeSection := binary.EncodeSection(wasm.SectionIDCode, []byte{0x01, 0x02, 0x00, wasm.OpcodeEnd})
	customSection := binary.EncodeSection(wasm.SectionIDCustom, append([]byte{0x03}, "abc"...))
	funcSection := binary.EncodeSection(wasm.SectionIDFunction, []byte{0x01, 0x00})

	input := module(typeSection, funcSection, codeSection, customSection)
	info := decode(t, input)

	out := Module(info, &wasm.Snapshot{}, plainConfig())
	require.Equal(t, input, out)
}
