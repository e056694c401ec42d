package llamacpp

import (
	"context"
)

// engineVariant selects the engine build variant for this platform.
func engineVariant(ctx context.Context, l *llamaCpp) string {
	nvGPU, err := hasNVIDIAGPU()
	if err != nil {
		l.log.Warnf("failed to probe for NVIDIA GPUs, falling back to CPU variant: %v", err)
		return "cpu"
	}
	if nvGPU {
		return "cuda"
	}
	return "cpu"
}
