package wasm

import "errors"

// Failure kinds of a pre-initialization run. They live here, at the bottom
// of the package graph, so that every pass can wrap them; the root package
// re-exports them as its public API.
var (
	// ErrInvalidInput means the input bytes failed engine validation under
	// the active feature set.
	ErrInvalidInput = errors.New("invalid input module")

	// ErrUnsupportedInstruction means the restriction pass saw a blocked
	// instruction.
	ErrUnsupportedInstruction = errors.New("unsupported instruction")

	// ErrUnsupportedDataKind means a passive data segment is present.
	ErrUnsupportedDataKind = errors.New("unsupported data segment kind")

	// ErrUnsupportedImport means the module imports a table, memory or
	// global. Snapshotting state the module does not own is not supported.
	ErrUnsupportedImport = errors.New("unsupported import")

	// ErrUnsupportedModuleLinking means a module-linking construct outside
	// the supported shape, such as a nested module instantiated twice.
	ErrUnsupportedModuleLinking = errors.New("unsupported use of module linking")

	// ErrBadInitFunc means the initialization export is missing, is not a
	// function, or does not have type [] -> [].
	ErrBadInitFunc = errors.New("bad initialization function")

	// ErrInstantiationFailed means the engine rejected the instrumented
	// module at compile or instantiation time.
	ErrInstantiationFailed = errors.New("failed to instantiate module")

	// ErrInitCalledImport means initialization invoked an import that was
	// not bound to the capability layer.
	ErrInitCalledImport = errors.New("initialization function called an imported function")

	// ErrInitializationTrapped means the initializer (or the "_initialize"
	// adapter) trapped for any other reason.
	ErrInitializationTrapped = errors.New("initialization function trapped")

	// ErrDuplicateRename means a source or destination occurs twice in the
	// rename table.
	ErrDuplicateRename = errors.New("duplicate function rename")

	// ErrMalformedRename means a rename specification is not of the form
	// "dst=src".
	ErrMalformedRename = errors.New("malformed function rename")

	// ErrMalformedInput means a parser invariant was violated. Inputs are
	// externally validated first, so this indicates a caller bug.
	ErrMalformedInput = errors.New("malformed input module")
)
