package wizer

import internalwasm "github.com/wasilibs/go-wizer/internal/wasm"

// The failure kinds a run can return, for use with errors.Is. A run returns
// either the rewritten module or exactly one error wrapping one of these;
// nothing is retried internally.
var (
	// ErrInvalidInput means the input bytes failed engine validation under
	// the active feature set.
	ErrInvalidInput = internalwasm.ErrInvalidInput

	// ErrUnsupportedInstruction means the input uses `table.copy`,
	// `table.init`, `elem.drop`, `data.drop` or another instruction outside
	// the supported profile.
	ErrUnsupportedInstruction = internalwasm.ErrUnsupportedInstruction

	// ErrUnsupportedDataKind means the input contains a passive data
	// segment.
	ErrUnsupportedDataKind = internalwasm.ErrUnsupportedDataKind

	// ErrUnsupportedImport means the input imports a table, memory or
	// global.
	ErrUnsupportedImport = internalwasm.ErrUnsupportedImport

	// ErrUnsupportedModuleLinking means a module-linking construct outside
	// the supported shape.
	ErrUnsupportedModuleLinking = internalwasm.ErrUnsupportedModuleLinking

	// ErrBadInitFunc means the configured initialization export is missing,
	// is not a function, or is not of type [] -> [].
	ErrBadInitFunc = internalwasm.ErrBadInitFunc

	// ErrInstantiationFailed means the engine rejected the instrumented
	// module.
	ErrInstantiationFailed = internalwasm.ErrInstantiationFailed

	// ErrInitCalledImport means initialization called an imported function
	// that was not bound to the WASI layer.
	ErrInitCalledImport = internalwasm.ErrInitCalledImport

	// ErrInitializationTrapped means initialization trapped for any other
	// reason.
	ErrInitializationTrapped = internalwasm.ErrInitializationTrapped

	// ErrDuplicateRename means a name occurs twice on the same side of the
	// rename table.
	ErrDuplicateRename = internalwasm.ErrDuplicateRename

	// ErrMalformedRename means a rename is not of the form "dst=src".
	ErrMalformedRename = internalwasm.ErrMalformedRename

	// ErrMalformedInput means the parser saw structure the engine validator
	// should have rejected; a caller bug.
	ErrMalformedInput = internalwasm.ErrMalformedInput
)
