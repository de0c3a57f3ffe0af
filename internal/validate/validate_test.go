package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

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

func TestModule(t *testing.T) {
	codeSection := func(body ...byte) []byte {
		contents := []byte{0x01, byte(len(body))}
		return binary.EncodeSection(wasm.SectionIDCode, append(contents, body...))
	}

	tests := []struct {
		name   string
		input  []byte
		expErr error
	}{
		{
			name: "plain module",
			input: module(
				binary.EncodeSection(wasm.SectionIDMemory, []byte{0x01, 0x00, 0x01}),
				codeSection(0x00, wasm.OpcodeI32Const, 0x00, wasm.OpcodeDrop, wasm.OpcodeEnd),
				binary.EncodeSection(wasm.SectionIDData, []byte{
					0x01, 0x00, wasm.OpcodeI32Const, 0x00, wasm.OpcodeEnd, 0x01, 0xff,
				}),
			),
		},
		{
			name: "function imports are permitted",
			input: module(
				binary.EncodeSection(wasm.SectionIDImport, []byte{
					0x01, 0x03, 'e', 'n', 'v', 0x01, 'f', wasm.ExternalKindFunc, 0x00,
				}),
			),
		},
		{
			name: "imported memory",
			input: module(
				binary.EncodeSection(wasm.SectionIDImport, []byte{
					0x01, 0x03, 'e', 'n', 'v', 0x01, 'm', wasm.ExternalKindMemory, 0x00, 0x01,
				}),
			),
			expErr: wasm.ErrUnsupportedImport,
		},
		{
			name: "imported global",
			input: module(
				binary.EncodeSection(wasm.SectionIDImport, []byte{
					0x01, 0x03, 'e', 'n', 'v', 0x01, 'g', wasm.ExternalKindGlobal, wasm.ValueTypeI32, 0x00,
				}),
			),
			expErr: wasm.ErrUnsupportedImport,
		},
		{
			name: "imported table",
			input: module(
				binary.EncodeSection(wasm.SectionIDImport, []byte{
					0x01, 0x03, 'e', 'n', 'v', 0x01, 't', wasm.ExternalKindTable, wasm.ElemTypeFuncref, 0x00, 0x01,
				}),
			),
			expErr: wasm.ErrUnsupportedImport,
		},
		{
			name: "passive data segment",
			input: module(
				binary.EncodeSection(wasm.SectionIDData, []byte{0x01, 0x01, 0x02, 0x0a, 0x0b}),
			),
			expErr: wasm.ErrUnsupportedDataKind,
		},
		{
			name: "table.copy",
			input: module(
				codeSection(0x00, wasm.OpcodeMiscPrefix, wasm.OpcodeMiscTableCopy, 0x00, 0x00, wasm.OpcodeEnd),
			),
			expErr: wasm.ErrUnsupportedInstruction,
		},
		{
			name: "table.init",
			input: module(
				codeSection(0x00, wasm.OpcodeMiscPrefix, wasm.OpcodeMiscTableInit, 0x00, 0x00, wasm.OpcodeEnd),
			),
			expErr: wasm.ErrUnsupportedInstruction,
		},
		{
			name: "elem.drop",
			input: module(
				codeSection(0x00, wasm.OpcodeMiscPrefix, wasm.OpcodeMiscElemDrop, 0x00, wasm.OpcodeEnd),
			),
			expErr: wasm.ErrUnsupportedInstruction,
		},
		{
			name: "data.drop",
			input: module(
				codeSection(0x00, wasm.OpcodeMiscPrefix, wasm.OpcodeMiscDataDrop, 0x00, wasm.OpcodeEnd),
			),
			expErr: wasm.ErrUnsupportedInstruction,
		},
		{
			name: "saturating truncation is permitted",
			input: module(
				codeSection(0x00, wasm.OpcodeMiscPrefix, wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeEnd),
			),
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			err := Module(decode(t, tc.input))
			if tc.expErr != nil {
				require.ErrorIs(t, err, tc.expErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestModule_recursesIntoNestedModules(t *testing.T) {
	nested := module(
		binary.EncodeSection(wasm.SectionIDData, []byte{0x01, 0x01, 0x01, 0xaa}),
	)
	moduleSection := []byte{0x01, byte(len(nested))}
	moduleSection = append(moduleSection, nested...)

	info, err := binary.DecodeModuleInfo(module(
		binary.EncodeSection(wasm.SectionIDModule, moduleSection),
	), true)
	require.NoError(t, err)

	require.ErrorIs(t, Module(info), wasm.ErrUnsupportedDataKind)
}
