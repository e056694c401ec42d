package platform

import "runtime"

// SupportsVLLM returns true if vLLM is supported on the current platform.
func SupportsVLLM() bool {
	return runtime.GOOS == "linux"
}

// SupportsMLX returns true if MLX is supported on the current platform. MLX
// only runs on Apple silicon.
func SupportsMLX() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}
