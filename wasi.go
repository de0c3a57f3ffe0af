package wizer

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"
)

// wasiConfig builds the WASI context used during initialization when WASI
// calls are allowed.
func (w *Wizer) wasiConfig() (*wasmtime.WasiConfig, error) {
	config := wasmtime.NewWasiConfig()
	if w.inheritStdio {
		config.InheritStdin()
		config.InheritStdout()
		config.InheritStderr()
	}
	if w.inheritEnv {
		config.InheritEnv()
	}
	for _, dir := range w.dirs {
		w.log.Debugf("preopening directory: %s", dir)
		if err := config.PreopenDir(dir, dir); err != nil {
			return nil, fmt.Errorf("failed to preopen directory %s: %w", dir, err)
		}
	}
	return config, nil
}
