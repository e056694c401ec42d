package llamacpp

import (
	"context"
	"path/filepath"
)

// engineVariant selects the engine build variant for this platform. CUDA
// wins over OpenCL when both are usable.
func engineVariant(ctx context.Context, l *llamaCpp) string {
	nvGPUInfoBin := filepath.Join(l.enginePath, "bin", "com.openllm.nv-gpu-info.exe")
	canUseCUDA11, err := hasCUDA11CapableGPU(ctx, nvGPUInfoBin)
	if err != nil {
		l.log.Warnf("failed to check CUDA 11 capability: %v", err)
	}
	if canUseCUDA11 {
		return "cuda"
	}
	canUseOpenCL, err := hasOpenCL()
	if err != nil {
		l.log.Warnf("failed to check OpenCL capability: %v", err)
	}
	if canUseOpenCL {
		return "opencl"
	}
	return "cpu"
}
