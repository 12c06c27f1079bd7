package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// libraryEnv overrides the configured onnxruntime shared library.
const libraryEnv = "ONNXRUNTIME_LIB"

// libraryName returns the onnxruntime shared library file name for the OS.
func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// resolveLibrary finds the onnxruntime shared library. An explicit path
// wins, then ONNXRUNTIME_LIB, then a lib/ directory next to the working
// directory or the executable.
func resolveLibrary(configured string) (string, error) {
	if configured != "" {
		return checkLibrary(configured)
	}
	if env := os.Getenv(libraryEnv); env != "" {
		return checkLibrary(env)
	}

	candidates := []string{filepath.Join("lib", libraryName())}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "lib", libraryName()))
	}
	for _, path := range candidates {
		if lib, err := checkLibrary(path); err == nil {
			return lib, nil
		}
	}

	// Let the dynamic loader search its default paths.
	return libraryName(), nil
}

func checkLibrary(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("onnxruntime library not found: %s", path)
	}
	return abs, nil
}
