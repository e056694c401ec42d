package runner

import (
	"runtime"

	"github.com/elastic/go-sysinfo"

	"github.com/Vortextech01/OpenLLM/pkg/gpuinfo"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// Resources describe the host capacity a strategy sizes workers against.
type Resources struct {
	CPUs int
	GPUs int
	RAM  uint64
}

// DetectResources probes the host. Probing is best effort: a failed probe
// leaves the corresponding field at zero and logs a warning.
func DetectResources(log logging.Logger) Resources {
	res := Resources{
		CPUs: runtime.NumCPU(),
		GPUs: gpuinfo.New(log).Count(),
	}
	hostInfo, err := sysinfo.Host()
	if err != nil {
		log.Warnf("Could not read host info: %s", err)
		return res
	}
	ram, err := hostInfo.Memory()
	if err != nil {
		log.Warnf("Could not read host RAM size: %s", err)
		return res
	}
	res.RAM = ram.Total
	return res
}

// Strategy decides how many workers serve a runner on a given host.
type Strategy interface {
	Name() string
	Workers(res Resources) int
}

// DefaultStrategy sizes one worker per visible GPU and falls back to a
// single worker on hosts without any.
var DefaultStrategy Strategy = defaultStrategy{}

type defaultStrategy struct{}

func (defaultStrategy) Name() string { return "default" }

func (defaultStrategy) Workers(res Resources) int {
	if res.GPUs > 0 {
		return res.GPUs
	}
	return 1
}
