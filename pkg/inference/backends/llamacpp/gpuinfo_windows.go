package llamacpp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// CUDA 11 requires NVIDIA driver 452.39 or newer.
const (
	minCUDADriverMajor = 452
	minCUDADriverMinor = 39
)

// hasCUDA11CapableGPU reports whether an NVIDIA GPU with a CUDA 11 capable
// driver is present. The driver version is read through the bundled
// nv-gpu-info helper binary.
func hasCUDA11CapableGPU(ctx context.Context, nvGPUInfoBin string) (bool, error) {
	nvGPU, err := hasNVIDIAGPU()
	if !nvGPU || err != nil {
		return false, err
	}
	out, err := exec.CommandContext(ctx, nvGPUInfoBin).CombinedOutput()
	if err != nil {
		return false, err
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		version, found := strings.CutPrefix(scanner.Text(), "driver version:")
		if !found {
			continue
		}
		major, minor, err := parseDriverVersion(strings.TrimSpace(version))
		if err != nil {
			return false, err
		}
		return major > minCUDADriverMajor ||
			(major == minCUDADriverMajor && minor >= minCUDADriverMinor), nil
	}
	return false, nil
}

// parseDriverVersion splits nv-gpu-info's five digit driver version, e.g.
// "45239" for driver 452.39.
func parseDriverVersion(version string) (major, minor int, err error) {
	if len(version) != 5 {
		return 0, 0, fmt.Errorf("unexpected NVIDIA driver version format: %s", version)
	}
	major, err = strconv.Atoi(version[:3])
	if err == nil {
		minor, err = strconv.Atoi(version[3:5])
	}
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected NVIDIA driver version format: %s", version)
	}
	return major, minor, nil
}

// hasOpenCL reports whether an OpenCL runtime is installed. Deeper platform
// and device checks would need the OpenCL API scaffolded in Go; presence of
// the DLL is enough, since a config override can disable GPU variants when
// they misbehave.
func hasOpenCL() (bool, error) {
	opencl, err := syscall.LoadLibrary("OpenCL.dll")
	if err != nil {
		if errors.Is(err, syscall.ERROR_MOD_NOT_FOUND) {
			return false, nil
		}
		return false, fmt.Errorf("loading OpenCL DLL: %w", err)
	}
	syscall.FreeLibrary(opencl)
	return true, nil
}
