// Package wizer pre-initializes WebAssembly modules: it instantiates a
// module, executes its initialization function inside wasmtime, and
// serializes the initialized state out into a new module that hits the
// ground running without re-doing that work.
//
// Three passes do the heavy lifting. Instrumentation adds exports so that
// the final values of mutable globals and the true size of each memory are
// observable from outside the engine. Snapshotting reads that state back
// after initialization returns. Rewriting emits a new binary whose data
// segments, memory sizes and global initializers carry the captured state
// and whose export section drops the synthetic and initializer exports and
// applies renames, leaving every other section byte-identical (apart from a
// start section naming the initializer, which is dropped).
//
// Caveats, matching the upstream tool:
//
//   - The initialization function may not call imported functions unless
//     WASI is explicitly allowed; doing so traps.
//   - The module may not import globals, tables, or memories.
//   - Reference types and the table-mutating bulk memory instructions are
//     not supported: funcrefs have no identity in the spec, which makes
//     snapshotting mutated tables impossible.
package wizer

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/sirupsen/logrus"

	"github.com/wasilibs/go-wizer/internal/buildoptions"
	"github.com/wasilibs/go-wizer/internal/instrument"
	"github.com/wasilibs/go-wizer/internal/rewrite"
	"github.com/wasilibs/go-wizer/internal/snapshot"
	"github.com/wasilibs/go-wizer/internal/validate"
	"github.com/wasilibs/go-wizer/internal/wasm/binary"
)

const (
	defaultInitFunc          = "wizer.initialize"
	defaultInheritStdio      = true
	defaultInheritEnv        = false
	defaultWasmMultiMemory   = true
	defaultWasmMultiValue    = true
	defaultWasmModuleLinking = false
)

// Wizer configures one pre-initialization run, with the default
// configuration as New. Each With method returns a copy, so a configured
// Wizer is safe to share and reuse across goroutines; each Run is fully
// independent.
type Wizer struct {
	initFunc          string
	funcRenames       []string
	allowWASI         bool
	inheritStdio      bool
	inheritEnv        bool
	dirs              []string
	wasmMultiMemory   bool
	wasmMultiValue    bool
	wasmModuleLinking bool
	log               *logrus.Logger
}

// New returns the default configuration: the initializer is
// "wizer.initialize", WASI is disallowed, and the multi-memory and
// multi-value proposals are enabled.
func New() *Wizer {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Wizer{
		initFunc:          defaultInitFunc,
		inheritStdio:      defaultInheritStdio,
		inheritEnv:        defaultInheritEnv,
		wasmMultiMemory:   defaultWasmMultiMemory,
		wasmMultiValue:    defaultWasmMultiValue,
		wasmModuleLinking: defaultWasmModuleLinking,
		log:               log,
	}
}

func (w *Wizer) clone() *Wizer {
	ret := *w
	ret.funcRenames = append([]string{}, w.funcRenames...)
	ret.dirs = append([]string{}, w.dirs...)
	return &ret
}

// WithInitFunc sets the export name of the initialization function, which
// must have type [] -> []. Defaults to "wizer.initialize".
func (w *Wizer) WithInitFunc(initFunc string) *Wizer {
	ret := w.clone()
	ret.initFunc = initFunc
	return ret
}

// WithFuncRename renames the function exported as oldName to newName in the
// output module, displacing any previous newName export. Renames apply to
// the outermost module only, after the initializer's export is removed.
func (w *Wizer) WithFuncRename(newName, oldName string) *Wizer {
	ret := w.clone()
	ret.funcRenames = append(ret.funcRenames, fmt.Sprintf("%s=%s", newName, oldName))
	return ret
}

// WithFuncRenameSpec adds a raw "dst=src" rename specification, validated
// when Run parses the rename table.
func (w *Wizer) WithFuncRenameSpec(spec string) *Wizer {
	ret := w.clone()
	ret.funcRenames = append(ret.funcRenames, spec)
	return ret
}

// WithAllowWASI allows WASI imports to be called during initialization.
//
// This can introduce diverging semantics, because the initialization can
// observe nondeterminism that might have gone a different way at runtime
// than it did at initialization time. If the module uses WASI's get_random
// during initialization as a security mitigation (anything akin to ASLR or
// a hash-map nonce) and never re-randomizes at runtime, that randomization
// becomes per-module rather than per-instance.
//
// Defaults to false.
func (w *Wizer) WithAllowWASI(allow bool) *Wizer {
	ret := w.clone()
	ret.allowWASI = allow
	return ret
}

// WithInheritStdio controls whether stdin, stdout and stderr are forwarded
// to the WASI context during initialization. Defaults to true.
func (w *Wizer) WithInheritStdio(inherit bool) *Wizer {
	ret := w.clone()
	ret.inheritStdio = inherit
	return ret
}

// WithInheritEnv controls whether environment variables are forwarded to
// the WASI context during initialization. Defaults to false.
func (w *Wizer) WithInheritEnv(inherit bool) *Wizer {
	ret := w.clone()
	ret.inheritEnv = inherit
	return ret
}

// WithDir preopens a file system directory for the WASI context. None are
// available by default.
func (w *Wizer) WithDir(dir string) *Wizer {
	ret := w.clone()
	ret.dirs = append(ret.dirs, dir)
	return ret
}

// WithWasmMultiMemory enables or disables the multi-memory proposal.
// Defaults to true.
func (w *Wizer) WithWasmMultiMemory(enabled bool) *Wizer {
	ret := w.clone()
	ret.wasmMultiMemory = enabled
	return ret
}

// WithWasmMultiValue enables or disables the multi-value proposal.
// Defaults to true.
func (w *Wizer) WithWasmMultiValue(enabled bool) *Wizer {
	ret := w.clone()
	ret.wasmMultiValue = enabled
	return ret
}

// WithWasmModuleLinking enables or disables the module-linking proposal.
// Defaults to false.
func (w *Wizer) WithWasmModuleLinking(enabled bool) *Wizer {
	ret := w.clone()
	ret.wasmModuleLinking = enabled
	return ret
}

// WithLogger sets the logger progress is reported to at debug level.
// Defaults to a logger that discards everything.
func (w *Wizer) WithLogger(log *logrus.Logger) *Wizer {
	ret := w.clone()
	ret.log = log
	return ret
}

// Run initializes the given module, snapshots it, and returns the
// serialized snapshot as a new, pre-initialized module. The input must be a
// standard binary module; the output is one too, self-contained and valid
// under the same feature configuration.
func (w *Wizer) Run(wasm []byte) ([]byte, error) {
	renames, err := parseFuncRenames(w.funcRenames)
	if err != nil {
		return nil, err
	}

	// Validation accepts the bulk memory encoding while execution rejects
	// it: without bulk memory a data segment prefix is ambiguous between
	// "passive segment" and "active segment targeting memory 1", so the
	// format can only be parsed with it enabled. The restriction pass is
	// what actually enforces the bulk memory ban.
	validationEngine := wasmtime.NewEngineWithConfig(w.wasmtimeConfig(true))
	engine := wasmtime.NewEngineWithConfig(w.wasmtimeConfig(false))

	// Make sure we're given valid Wasm from the get go.
	w.log.Debug("validating the input module")
	if err := wasmtime.ModuleValidate(validationEngine, wasm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	w.log.Debug("parsing the input module")
	info, err := binary.DecodeModuleInfo(wasm, w.wasmModuleLinking)
	if err != nil {
		return nil, err
	}

	// Engine validation accepts the bulk memory encoding; reject the bulk
	// state mutations we cannot snapshot.
	if err := validate.Module(info); err != nil {
		return nil, err
	}

	w.log.Debug("instrumenting the input module")
	instrumented, err := instrument.Module(info)
	if err != nil {
		return nil, err
	}
	if buildoptions.Debug {
		if err := wasmtime.ModuleValidate(validationEngine, instrumented); err != nil {
			panic(fmt.Errorf("instrumented module is not valid: %v", err))
		}
	}

	module, err := wasmtime.NewModule(engine, instrumented)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstantiationFailed, err)
	}
	if err := w.validateInitFunc(module); err != nil {
		return nil, err
	}

	store := wasmtime.NewStore(engine)
	instance, calledInitialize, err := w.initialize(store, module)
	if err != nil {
		return nil, err
	}

	w.log.Debug("snapshotting the initialized state")
	snap, err := snapshot.Capture(store, instance, info)
	if err != nil {
		return nil, err
	}
	snap.CalledInitialize = calledInitialize

	w.log.Debug("rewriting the module with pre-initialized state")
	out := rewrite.Module(info, snap, &rewrite.Config{
		InitFunc:       w.initFunc,
		Renames:        renames.srcToDst,
		RenameDsts:     renames.dsts,
		DropInitialize: calledInitialize,
	})
	if buildoptions.Debug {
		if err := wasmtime.ModuleValidate(validationEngine, out); err != nil {
			panic(fmt.Errorf("rewritten module is not valid: %v", err))
		}
	}
	return out, nil
}

// wasmtimeConfig returns the engine configuration for the permitted feature
// set. bulkMemory is true only for the validation engine; see Run.
func (w *Wizer) wasmtimeConfig(bulkMemory bool) *wasmtime.Config {
	config := wasmtime.NewConfig()

	// Proposals we support.
	config.SetWasmMultiMemory(w.wasmMultiMemory)
	config.SetWasmMultiValue(w.wasmMultiValue)
	config.SetWasmModuleLinking(w.wasmModuleLinking)

	// Proposals we should add support for.
	config.SetWasmReferenceTypes(false)
	config.SetWasmSIMD(false)
	config.SetWasmThreads(false)
	config.SetWasmBulkMemory(bulkMemory)

	return config
}

// validateInitFunc checks that the module exports an initialization
// function of the correct type before anything is instantiated.
func (w *Wizer) validateInitFunc(module *wasmtime.Module) error {
	w.log.Debug("validating the exported initialization function")
	for _, export := range module.Type().Exports() {
		if export.Name() != w.initFunc {
			continue
		}
		funcType := export.Type().FuncType()
		if funcType == nil {
			return fmt.Errorf("%w: the module's %q export is not a function", ErrBadInitFunc, w.initFunc)
		}
		if len(funcType.Params()) != 0 || len(funcType.Results()) != 0 {
			return fmt.Errorf("%w: the module's %q function export does not have type [] -> []",
				ErrBadInitFunc, w.initFunc)
		}
		return nil
	}
	return fmt.Errorf("%w: the module does not have a %q export", ErrBadInitFunc, w.initFunc)
}

// initialize instantiates the module and calls its initialization function,
// preceded by the reactor adapter "_initialize" when one is exported.
func (w *Wizer) initialize(store *wasmtime.Store, module *wasmtime.Module) (*wasmtime.Instance, bool, error) {
	linker := wasmtime.NewLinker(store.Engine)

	if w.allowWASI {
		if err := linker.DefineWasi(); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInstantiationFailed, err)
		}
		wasiConfig, err := w.wasiConfig()
		if err != nil {
			return nil, false, err
		}
		store.SetWasi(wasiConfig)
	}

	if err := defineDummyImports(store, module, linker, w.allowWASI); err != nil {
		return nil, false, err
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInstantiationFailed, err)
	}

	calledInitialize := false
	if f := instance.GetFunc(store, "_initialize"); f != nil {
		funcType := f.Type(store)
		if len(funcType.Params()) == 0 && len(funcType.Results()) == 0 {
			w.log.Debug("calling the reactor initialization function")
			calledInitialize = true
			if _, err := f.Call(store); err != nil {
				return nil, false, classifyTrap(err)
			}
		}
	}

	w.log.Debug("calling the initialization function")
	initFunc := instance.GetFunc(store, w.initFunc)
	if initFunc == nil {
		// Checked by validateInitFunc.
		return nil, false, fmt.Errorf("%w: the module does not have a %q export", ErrBadInitFunc, w.initFunc)
	}
	if _, err := initFunc.Call(store); err != nil {
		return nil, false, classifyTrap(err)
	}
	return instance, calledInitialize, nil
}

// classifyTrap distinguishes the trap our dummy imports raise from any
// other initialization failure.
func classifyTrap(err error) error {
	var trap *wasmtime.Trap
	if errors.As(err, &trap) && strings.Contains(trap.Message(), dummyImportTrap) {
		return fmt.Errorf("%w: %v", ErrInitCalledImport, trap.Message())
	}
	return fmt.Errorf("%w: %v", ErrInitializationTrapped, err)
}
