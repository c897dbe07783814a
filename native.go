//go:build darwin || linux

// Shared library loading for the purego codec bindings.

package studio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// nativeLib describes one codec shim library.
type nativeLib struct {
	base    string   // e.g. "libmedia_vpx"
	envVars []string // Full path overrides, checked first
}

func (l nativeLib) fileName() string {
	if runtime.GOOS == "darwin" {
		return l.base + ".dylib"
	}
	return l.base + ".so"
}

// searchPaths lists candidate locations in priority order.
func (l nativeLib) searchPaths() []string {
	name := l.fileName()
	var paths []string

	for _, env := range l.envVars {
		if p := os.Getenv(env); p != "" {
			paths = append(paths, p)
		}
	}
	if dir := os.Getenv("STUDIO_LIB_PATH"); dir != "" {
		paths = append(paths, filepath.Join(dir, name))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, name),
			filepath.Join(exeDir, "..", "lib", name),
		)
	}

	if root := findModuleRoot(); root != "" {
		paths = append(paths,
			filepath.Join(root, "build", name),
			filepath.Join(root, "build", "ffi", name),
		)
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, name, "/usr/local/lib/"+name, "/opt/homebrew/lib/"+name)
	case "linux":
		paths = append(paths, name, "/usr/local/lib/"+name, "/usr/lib/"+name)
	}
	return paths
}

// open loads the first library found on the search path.
func (l nativeLib) open() (uintptr, error) {
	var lastErr error
	for _, path := range l.searchPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return 0, fmt.Errorf("load %s: %w", l.base, lastErr)
	}
	return 0, errors.New(l.base + " not found in any standard location")
}

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for *(*byte)(unsafe.Add(p, length)) != 0 {
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up from the working directory to the directory
// containing go.mod.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// copyPlane copies h rows of w bytes from native memory.
func copyPlane(dst []byte, dstStride int, src uintptr, srcStride, w, h int) {
	for row := 0; row < h; row++ {
		line := unsafe.Slice((*byte)(unsafe.Pointer(src+uintptr(row*srcStride))), w)
		copy(dst[row*dstStride:row*dstStride+w], line)
	}
}
