// Command wizer pre-initializes a WebAssembly module: it runs the module's
// initialization function and writes out a new module with the resulting
// state already baked in.
//
// Usage:
//
//	wizer --allow-wasi -o app.pre.wasm app.wasm
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/wasilibs/go-wizer"
)

func main() {
	if err := newRootCmd(afero.NewOsFs()).Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	initFunc          string
	funcRenames       []string
	allowWASI         bool
	inheritStdio      bool
	inheritEnv        bool
	dirs              []string
	wasmMultiMemory   bool
	wasmMultiValue    bool
	wasmModuleLinking bool
	output            string
	verbose           bool
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "wizer [flags] input.wasm",
		Short: "The WebAssembly pre-initializer",
		Long: `Don't wait for your Wasm module to initialize itself, pre-initialize it!
Wizer instantiates your WebAssembly module, executes its initialization
function, and then serializes the instance's initialized state out into a
new WebAssembly module.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(fs, f, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&f.initFunc, "init-func", "f", "wizer.initialize",
		"the export name of the function that initializes the module")
	cmd.Flags().StringArrayVarP(&f.funcRenames, "rename-func", "r", nil,
		"rename a function export dst=src, overwriting any previous dst export")
	cmd.Flags().BoolVar(&f.allowWASI, "allow-wasi", false,
		"allow WASI imports to be called during initialization")
	cmd.Flags().BoolVar(&f.inheritStdio, "inherit-stdio", true,
		"inherit stdio streams in the WASI context")
	cmd.Flags().BoolVar(&f.inheritEnv, "inherit-env", false,
		"inherit environment variables in the WASI context")
	cmd.Flags().StringArrayVar(&f.dirs, "dir", nil,
		"preopen a directory for the WASI context")
	cmd.Flags().BoolVar(&f.wasmMultiMemory, "wasm-multi-memory", true,
		"enable the multi-memory proposal")
	cmd.Flags().BoolVar(&f.wasmMultiValue, "wasm-multi-value", true,
		"enable the multi-value proposal")
	cmd.Flags().BoolVar(&f.wasmModuleLinking, "wasm-module-linking", false,
		"enable the module-linking proposal")
	cmd.Flags().StringVarP(&f.output, "output", "o", "-",
		`where to write the pre-initialized module, "-" for stdout`)
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false,
		"log progress to stderr")

	return cmd
}

func run(fs afero.Fs, f *flags, input string, stdout io.Writer) error {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if f.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	w := wizer.New().
		WithInitFunc(f.initFunc).
		WithAllowWASI(f.allowWASI).
		WithInheritStdio(f.inheritStdio).
		WithInheritEnv(f.inheritEnv).
		WithWasmMultiMemory(f.wasmMultiMemory).
		WithWasmMultiValue(f.wasmMultiValue).
		WithWasmModuleLinking(f.wasmModuleLinking).
		WithLogger(log)
	for _, rename := range f.funcRenames {
		w = w.WithFuncRenameSpec(rename)
	}
	for _, dir := range f.dirs {
		w = w.WithDir(dir)
	}

	in, err := readInput(fs, input)
	if err != nil {
		return fmt.Errorf("failed to read input Wasm module: %w", err)
	}

	out, err := w.Run(in)
	if err != nil {
		return err
	}

	if f.output == "-" {
		_, err = stdout.Write(out)
	} else {
		err = afero.WriteFile(fs, f.output, out, 0o644)
	}
	if err != nil {
		return fmt.Errorf("failed to write output Wasm module: %w", err)
	}
	return nil
}

func readInput(fs afero.Fs, input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(os.Stdin)
	}
	return afero.ReadFile(fs, input)
}
