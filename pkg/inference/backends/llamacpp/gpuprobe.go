package llamacpp

import (
	"strings"

	"github.com/jaypipes/ghw"
)

// hasNVIDIAGPU reports whether the host has at least one NVIDIA graphics
// card.
func hasNVIDIAGPU() (bool, error) {
	gpus, err := ghw.GPU()
	if err != nil {
		return false, err
	}
	for _, gpu := range gpus.GraphicsCards {
		if strings.ToLower(gpu.DeviceInfo.Vendor.Name) == "nvidia" {
			return true, nil
		}
	}
	return false, nil
}
