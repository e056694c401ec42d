package gpuinfo

import (
	"errors"

	"github.com/jaypipes/ghw"

	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// GPUInfo reports GPU topology for scheduling and memory admission decisions.
type GPUInfo struct {
	log logging.Logger
}

func New(log logging.Logger) *GPUInfo {
	return &GPUInfo{log: log}
}

// Count returns the number of graphics cards visible to the host. Detection
// failures count as zero.
func (g *GPUInfo) Count() int {
	info, err := ghw.GPU()
	if err != nil {
		if g.log != nil {
			g.log.Warnf("Could not enumerate GPUs: %s", err)
		}
		return 0
	}
	return len(info.GraphicsCards)
}

// GetVRAMSize returns total GPU memory in bytes. The sentinel value 1 means a
// GPU is present but its memory size is unknown; VRAM detection is best
// effort across platforms.
func (g *GPUInfo) GetVRAMSize() (uint64, error) {
	info, err := ghw.GPU()
	if err != nil {
		return 0, err
	}
	if len(info.GraphicsCards) == 0 {
		return 0, errors.New("no GPUs detected")
	}
	return 1, nil
}
