package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	wasm "github.com/wasilibs/go-wizer/internal/wasm"
)

// module concatenates sections after the magic and version header.
func module(sections ...[]byte) []byte {
	ret := append([]byte{}, wasm.Magic...)
	ret = append(ret, wasm.Version...)
	for _, s := range sections {
		ret = append(ret, s...)
	}
	return ret
}

func TestDecodeModuleInfo(t *testing.T) {
	input := module(
		// (type (func))
		EncodeSection(wasm.SectionIDType, []byte{0x01, 0x60, 0x00, 0x00}),
		// (import "env" "f" (func (type 0)))
		EncodeSection(wasm.SectionIDImport, []byte{
			0x01,
			0x03, 'e', 'n', 'v', 0x01, 'f',
			wasm.ExternalKindFunc, 0x00,
		}),
		// (func (type 0))
		EncodeSection(wasm.SectionIDFunction, []byte{0x01, 0x00}),
		// (table 2 funcref)
		EncodeSection(wasm.SectionIDTable, []byte{0x01, wasm.ElemTypeFuncref, 0x00, 0x02}),
		// (memory 1 3)
		EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x01, 0x01, 0x03}),
		// (global i32 (i32.const 7)) (global (mut i64) (i64.const -1))
		EncodeSection(wasm.SectionIDGlobal, []byte{
			0x02,
			wasm.ValueTypeI32, 0x00, wasm.OpcodeI32Const, 0x07, wasm.OpcodeEnd,
			wasm.ValueTypeI64, 0x01, wasm.OpcodeI64Const, 0x7f, wasm.OpcodeEnd,
		}),
		// (export "run" (func 1)) (export "mem" (memory 0))
		EncodeSection(wasm.SectionIDExport, []byte{
			0x02,
			0x03, 'r', 'u', 'n', wasm.ExternalKindFunc, 0x01,
			0x03, 'm', 'e', 'm', wasm.ExternalKindMemory, 0x00,
		}),
		// (start 1)
		EncodeSection(wasm.SectionIDStart, []byte{0x01}),
		// (func) with an empty body
		EncodeSection(wasm.SectionIDCode, []byte{0x01, 0x02, 0x00, wasm.OpcodeEnd}),
		// (data (i32.const 0) "\01")
		EncodeSection(wasm.SectionIDData, []byte{
			0x01, 0x00, wasm.OpcodeI32Const, 0x00, wasm.OpcodeEnd, 0x01, 0x01,
		}),
		// a trailing custom section
		EncodeSection(wasm.SectionIDCustom, append([]byte{0x04}, "name"...)),
	)

	info, err := DecodeModuleInfo(input, false)
	require.NoError(t, err)

	require.Equal(t, uint32(1), info.ImportedFuncs)
	require.Equal(t, []*wasm.Import{{Module: "env", Name: "f", Kind: wasm.ExternalKindFunc}}, info.Imports)
	require.Equal(t, uint32(1), info.FuncCount)
	require.Equal(t, 1, len(info.Tables))
	require.Equal(t, uint32(2), info.Tables[0].Min)

	require.Equal(t, 1, len(info.Memories))
	require.Equal(t, uint32(1), info.Memories[0].Min)
	require.NotNil(t, info.Memories[0].Max)
	require.Equal(t, uint32(3), *info.Memories[0].Max)

	require.Equal(t, 2, len(info.Globals))
	require.False(t, info.Globals[0].Type.Mutable)
	require.Equal(t, wasm.ValueTypeI32, info.Globals[0].Type.ValType)
	require.True(t, info.Globals[1].Type.Mutable)
	require.Equal(t, &wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const, Data: []byte{0x7f}},
		info.Globals[1].Init)

	require.Equal(t, []*wasm.Export{
		{Kind: wasm.ExternalKindFunc, Name: "run", Index: 1},
		{Kind: wasm.ExternalKindMemory, Name: "mem", Index: 0},
	}, info.Exports)

	require.NotNil(t, info.StartFunc)
	require.Equal(t, wasm.Index(1), *info.StartFunc)

	// Every byte of the input is covered by a recorded section, in order.
	ids := make([]wasm.SectionID, 0, len(info.Sections))
	pos := 8
	for _, s := range info.Sections {
		require.Equal(t, pos, s.Whole.Start)
		pos = s.Whole.End
		ids = append(ids, s.ID)
	}
	require.Equal(t, len(input), pos)
	require.Equal(t, []wasm.SectionID{
		wasm.SectionIDType, wasm.SectionIDImport, wasm.SectionIDFunction,
		wasm.SectionIDTable, wasm.SectionIDMemory, wasm.SectionIDGlobal,
		wasm.SectionIDExport, wasm.SectionIDStart, wasm.SectionIDCode,
		wasm.SectionIDData, wasm.SectionIDCustom,
	}, ids)
}

func TestDecodeModuleInfo_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{
			name:  "empty",
			input: []byte{},
		},
		{
			name:  "invalid magic",
			input: []byte{0x00, 0x61, 0x73, 0x00, 0x01, 0x00, 0x00, 0x00},
		},
		{
			name:  "invalid version",
			input: []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00},
		},
		{
			name:  "section size exceeds binary",
			input: module([]byte{wasm.SectionIDType, 0x7f, 0x00}),
		},
		{
			name:  "module linking section without the feature",
			input: module(EncodeSection(wasm.SectionIDModule, []byte{0x00})),
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeModuleInfo(tc.input, false)
			require.ErrorIs(t, err, wasm.ErrMalformedInput)
		})
	}
}

func TestDecodeModuleInfo_ModuleLinking(t *testing.T) {
	nested := module(
		EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x00, 0x01}),
	)

	moduleSection := []byte{0x01} // one nested module
	moduleSection = append(moduleSection, byte(len(nested)))
	moduleSection = append(moduleSection, nested...)

	input := module(
		EncodeSection(wasm.SectionIDModule, moduleSection),
		// (instance (instantiate 0))
		EncodeSection(wasm.SectionIDInstance, []byte{0x01, 0x00, 0x00, 0x00}),
		// alias memory export "m" of instance 0
		EncodeSection(wasm.SectionIDAlias, []byte{
			0x01, 0x00, 0x00, wasm.ExternalKindMemory, 0x01, 'm',
		}),
	)

	info, err := DecodeModuleInfo(input, true)
	require.NoError(t, err)
	require.Equal(t, 1, len(info.Children))
	require.Equal(t, 1, len(info.Children[0].Memories))
	require.Equal(t, []*wasm.Instance{{Module: 0}}, info.Instances)
	require.Equal(t, uint32(1), info.AliasedMemories)
}
