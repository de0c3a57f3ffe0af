package wizer

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"
)

// dummyImportTrap marks the traps raised by dummy imports, so the driver
// can tell "initialization called a disallowed import" apart from any other
// trap.
const dummyImportTrap = "cannot call imported functions during initialization"

// wasiModules are the import module names the WASI definitions cover when
// WASI is allowed.
var wasiModules = map[string]bool{
	"wasi_snapshot_preview1": true,
	"wasi_unstable":          true,
}

// defineDummyImports binds every function import the linker does not
// already satisfy to a host function that traps when called. Instantiation
// must succeed for modules with arbitrary imports, but actually calling one
// during initialization is a hard failure: whatever an import would have
// done cannot be captured in the snapshot.
func defineDummyImports(store *wasmtime.Store, module *wasmtime.Module, linker *wasmtime.Linker, allowWASI bool) error {
	defined := map[string]bool{}
	for _, imp := range module.Type().Imports() {
		if imp.Name() == nil {
			return fmt.Errorf("%w: import from %q has no field name", ErrUnsupportedImport, imp.Module())
		}
		moduleName, fieldName := imp.Module(), *imp.Name()
		if allowWASI && wasiModules[moduleName] {
			continue
		}
		key := moduleName + "\x00" + fieldName
		if defined[key] {
			continue
		}
		defined[key] = true

		funcType := imp.Type().FuncType()
		if funcType == nil {
			// Tables, memories and globals were rejected by the restriction
			// pass already.
			return fmt.Errorf("%w: %q.%q is not a function import", ErrUnsupportedImport, moduleName, fieldName)
		}

		message := fmt.Sprintf("%s: %q.%q", dummyImportTrap, moduleName, fieldName)
		f := wasmtime.NewFunc(store, funcType,
			func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
				return nil, wasmtime.NewTrap(message)
			})
		if err := linker.Define(moduleName, fieldName, f); err != nil {
			return fmt.Errorf("%w: defining dummy import %q.%q: %v",
				ErrInstantiationFailed, moduleName, fieldName, err)
		}
	}
	return nil
}
