//go:build !wizer_debug

package buildoptions

// Debug true enables the self-checks that re-validate intermediate binaries
// and panic on mismatch. Build with the "wizer_debug" tag to turn them on;
// they are optimized out of release binaries.
const Debug = false
