package memory

import (
	"errors"

	"github.com/elastic/go-sysinfo"

	"github.com/Vortextech01/OpenLLM/pkg/gpuinfo"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// SystemMemoryInfo answers whether the host can fit a model's working set.
type SystemMemoryInfo interface {
	HaveSufficientMemory(inference.RequiredMemory) (bool, error)
	GetTotalMemory() inference.RequiredMemory
}

type systemMemoryInfo struct {
	log         logging.Logger
	totalMemory inference.RequiredMemory
}

// NewSystemMemoryInfo probes host RAM and VRAM once at startup. Unknown
// quantities are recorded as the sentinel value 1.
func NewSystemMemoryInfo(log logging.Logger, gpuInfo *gpuinfo.GPUInfo) (SystemMemoryInfo, error) {
	vramSize, err := gpuInfo.GetVRAMSize()
	if err != nil {
		vramSize = 1
		log.Warnf("Could not read VRAM size: %s", err)
	} else {
		log.Infof("Host has %d MB VRAM", vramSize/1024/1024)
	}

	ramSize := uint64(1)
	if hostInfo, err := sysinfo.Host(); err != nil {
		log.Warnf("Could not read host info: %s", err)
	} else if ram, err := hostInfo.Memory(); err != nil {
		log.Warnf("Could not read host RAM size: %s", err)
	} else {
		ramSize = ram.Total
		log.Infof("Host has %d MB RAM", ramSize/1024/1024)
	}

	return &systemMemoryInfo{
		log:         log,
		totalMemory: inference.RequiredMemory{RAM: ramSize, VRAM: vramSize},
	}, nil
}

func (s *systemMemoryInfo) HaveSufficientMemory(req inference.RequiredMemory) (bool, error) {
	// Sentinel value of 1 indicates unknown RAM/VRAM. An overflow on a known
	// axis is a definite no; only then do unknown axes make the answer
	// unknowable.
	if req.RAM > 1 && s.totalMemory.RAM > 1 && req.RAM > s.totalMemory.RAM {
		return false, nil
	}
	if req.VRAM > 1 && s.totalMemory.VRAM > 1 && req.VRAM > s.totalMemory.VRAM {
		return false, nil
	}
	if req.RAM > 1 && s.totalMemory.RAM == 1 {
		return false, errors.New("system RAM unknown")
	}
	if req.VRAM > 1 && s.totalMemory.VRAM == 1 {
		return false, errors.New("system VRAM unknown")
	}
	return true, nil
}

func (s *systemMemoryInfo) GetTotalMemory() inference.RequiredMemory {
	return s.totalMemory
}
